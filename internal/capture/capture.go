// Package capture is the thin boundary around the packet capture library
// spec.md §1 names as an external collaborator: it owns the live pcap
// handle and the goroutines that read off it, decode each packet, and
// feed the results into C6's flow tracker and C7's rolling pcap buffer.
// It does not reimplement packet capture itself — that's `gopacket/pcap`
// wrapping libpcap.
package capture

import (
	"context"
	"time"

	"github.com/google/gopacket/pcap"

	"github.com/jittertrap/jittertrap/internal/flowtrack"
	"github.com/jittertrap/jittertrap/internal/logging"
	"github.com/jittertrap/jittertrap/internal/pcapbuffer"
	"github.com/jittertrap/jittertrap/internal/workerpool"
)

var log = logging.L("capture")

// Config parameterizes a live capture session.
type Config struct {
	Iface      string
	SnapLen    int32
	Promisc    bool
	ReadTimeout time.Duration
	Workers    int
	QueueSize  int
}

// Capture owns one interface's pcap handle plus the worker pool that
// decodes packets off it.
type Capture struct {
	iface   string
	handle  *pcap.Handle
	pool    *workerpool.Pool
	tracker *flowtrack.Tracker
	pcapBuf *pcapbuffer.Buffer
}

// Open starts live capture on cfg.Iface. Decoded packets are handed to
// tracker; raw bytes are also appended to pcapBuf (if non-nil) before
// being dispatched for decode, so the rolling buffer's packet order
// matches wire order exactly regardless of decode/tracking concurrency.
func Open(cfg Config, tracker *flowtrack.Tracker, pcapBuf *pcapbuffer.Buffer) (*Capture, error) {
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = 65535
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 100 * time.Millisecond
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	handle, err := pcap.OpenLive(cfg.Iface, cfg.SnapLen, cfg.Promisc, cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}

	return &Capture{
		iface:   cfg.Iface,
		handle:  handle,
		pool:    workerpool.New(cfg.Workers, cfg.QueueSize),
		tracker: tracker,
		pcapBuf: pcapBuf,
	}, nil
}

// Run reads packets until stop is closed or the handle errors out. The
// pcap buffer insert happens inline (preserving wire order); decode and
// flow tracking are dispatched to the worker pool so a burst of packets
// doesn't serialize behind TCP/RTP state-machine work.
func (c *Capture) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		data, ci, err := c.handle.ReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			return err
		}

		ts := ci.Timestamp
		if c.pcapBuf != nil {
			c.pcapBuf.Insert(ts, data)
		}

		if !c.pool.Submit(func() {
			decoded, ok := flowtrack.Decode(data, ts)
			if !ok {
				return
			}
			c.tracker.Process(decoded)
		}) {
			log.Warn("capture: decode queue full, dropping packet", "iface", c.iface)
		}
	}
}

// Close shuts down the worker pool (draining in-flight decodes) and
// closes the pcap handle.
func (c *Capture) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.pool.Shutdown(ctx)
	c.handle.Close()
}
