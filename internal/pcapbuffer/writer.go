package pcapbuffer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// WriteResult mirrors spec.md §4.7's write_file() return value.
type WriteResult struct {
	FilePath    string
	FileSize    int64
	PacketCount int
	DurationSec float64
}

// WriteFile emits a pcap file under dir containing every retained slot
// whose timestamp falls in [t0-pre_trigger_sec, t0+post_trigger_sec], per
// spec.md §4.7. Must be called once PostTriggerComplete reports true; the
// buffer returns to Enabled afterward. The filename carries a monotonic
// suffix so concurrent triggers never collide.
func (b *Buffer) WriteFile(dir string) (WriteResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != PostTriggerCollecting {
		return WriteResult{}, fmt.Errorf("pcapbuffer: write_file called outside post-trigger-collecting (state=%s)", b.state)
	}

	// Whether this call succeeds or fails, the trigger is over: always
	// return to Enabled so a write failure doesn't permanently wedge
	// Trigger into rejecting every future request.
	defer func() { b.state = Enabled }()

	lo := b.triggerT0.Add(-time.Duration(b.cfg.PreTriggerSec) * time.Second)
	hi := b.triggerT0.Add(time.Duration(b.cfg.PostTriggerSec) * time.Second)

	b.triggerSeq++
	name := fmt.Sprintf("trigger-%d-%d.pcap", b.triggerT0.UnixNano(), b.triggerSeq)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return WriteResult{}, fmt.Errorf("pcapbuffer: create %s: %w", path, err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(b.cfg.Snaplen, b.cfg.DatalinkType); err != nil {
		return WriteResult{}, fmt.Errorf("pcapbuffer: write file header: %w", err)
	}

	var count int
	var first, last time.Time
	for e := b.slots.Front(); e != nil; e = e.Next() {
		slot := e.Value.(*Slot)
		if slot.Timestamp.Before(lo) || slot.Timestamp.After(hi) {
			continue
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     slot.Timestamp,
			CaptureLength: len(slot.Data),
			Length:        len(slot.Data),
		}
		if err := w.WritePacket(ci, slot.Data); err != nil {
			return WriteResult{}, fmt.Errorf("pcapbuffer: write packet: %w", err)
		}
		if count == 0 {
			first = slot.Timestamp
		}
		last = slot.Timestamp
		count++
	}

	info, err := f.Stat()
	if err != nil {
		return WriteResult{}, fmt.Errorf("pcapbuffer: stat %s: %w", path, err)
	}

	duration := 0.0
	if count > 0 {
		duration = last.Sub(first).Seconds()
	}
	return WriteResult{
		FilePath:    path,
		FileSize:    info.Size(),
		PacketCount: count,
		DurationSec: duration,
	}, nil
}
