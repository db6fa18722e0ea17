// Package pcapbuffer implements the rolling pcap buffer (C7): a
// memory/time-bounded deque of recent packets, a trigger/pre-trigger/
// post-trigger capture protocol, and pcap-file emission via gopacket's
// pcapgo writer.
package pcapbuffer

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
)

// State is the buffer's lifecycle state, per spec.md §4.7.
type State int

const (
	Disabled State = iota
	Enabled
	Triggered
	PostTriggerCollecting
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabled:
		return "enabled"
	case Triggered:
		return "triggered"
	case PostTriggerCollecting:
		return "post-trigger-collecting"
	default:
		return "unknown"
	}
}

// Config parameterizes a Buffer, per spec.md §4.7.
type Config struct {
	MaxMemoryBytes int64
	DurationSec    int
	PreTriggerSec  int
	PostTriggerSec int
	DatalinkType   layers.LinkType
	Snaplen        uint32
}

// Slot is one captured packet retained in the ring, per spec.md §3's
// PcapSlot.
type Slot struct {
	Timestamp time.Time
	Data      []byte
}

// Stats mirrors spec.md §4.7's reported buffer statistics.
type Stats struct {
	TotalPackets    uint64
	TotalBytes      uint64
	DroppedPackets  uint64
	CurrentMemory   int64
	OldestTimestamp time.Time
}

// Buffer is the rolling packet deque, per spec.md §4.7. The capture
// goroutine (Insert), the dispatch goroutine (Trigger, Enable/Disable, a
// replacement pcap_config swap), and the trigger-completion goroutine
// (PostTriggerComplete, WriteFile) all touch the same Buffer concurrently,
// so every field access goes through mu.
type Buffer struct {
	mu    sync.Mutex
	cfg   Config
	state State

	slots *list.List // of *Slot, oldest at Front

	stats Stats

	triggerT0  time.Time
	triggerSeq uint64
}

// New creates a disabled Buffer with the given configuration.
func New(cfg Config) *Buffer {
	return &Buffer{cfg: cfg, state: Disabled, slots: list.New()}
}

// Reconfigure resets the buffer to a fresh, disabled state under the new
// configuration, in place. Used by pcap_config to reinitialize an existing
// Buffer without replacing the *Buffer pointer shared with the capture and
// trigger-completion goroutines (a wholesale `*b = *New(cfg)` would copy
// over the mutex guarding b itself, which is both undefined and unsafe
// while another goroutine might hold it).
func (b *Buffer) Reconfigure(cfg Config) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg = cfg
	b.state = Disabled
	b.slots.Init()
	b.stats = Stats{}
	b.triggerT0 = time.Time{}
	b.triggerSeq = 0
}

// Enable transitions the buffer into the enabled (capturing) state.
func (b *Buffer) Enable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Enabled
}

// Disable stops capture and clears the buffer.
func (b *Buffer) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Disabled
	b.slots.Init()
	b.stats = Stats{}
}

// State reports the buffer's current lifecycle state.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Insert appends one packet if the buffer is enabled (in any of
// Enabled/Triggered/PostTriggerCollecting), then evicts from the front
// while over either the memory or duration bound. Insertion never blocks
// capture, per spec.md §4.7.
func (b *Buffer) Insert(ts time.Time, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Disabled {
		return
	}

	slot := &Slot{Timestamp: ts, Data: data}
	b.slots.PushBack(slot)
	b.stats.TotalPackets++
	b.stats.TotalBytes += uint64(len(data))
	b.stats.CurrentMemory += int64(len(data))

	cutoff := ts.Add(-time.Duration(b.cfg.DurationSec) * time.Second)
	for {
		front := b.slots.Front()
		if front == nil {
			break
		}
		oldest := front.Value.(*Slot)
		if b.stats.CurrentMemory <= b.cfg.MaxMemoryBytes && !oldest.Timestamp.Before(cutoff) {
			break
		}
		b.slots.Remove(front)
		b.stats.CurrentMemory -= int64(len(oldest.Data))
		b.stats.DroppedPackets++
	}

	if front := b.slots.Front(); front != nil {
		b.stats.OldestTimestamp = front.Value.(*Slot).Timestamp
	}

	// The caller (the server loop) observes PostTriggerComplete and calls
	// WriteFile; Insert itself never performs I/O so it stays non-blocking
	// for the capture path.
}

// Stats returns a snapshot of the buffer's current statistics.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Trigger records trigger time t0 and transitions to post-trigger
// collection, per spec.md §4.7. No-op (returns false) if not enabled.
func (b *Buffer) Trigger(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Enabled {
		return false
	}
	b.triggerT0 = now
	b.state = PostTriggerCollecting
	return true
}

// PostTriggerComplete reports whether the post-trigger window has elapsed.
func (b *Buffer) PostTriggerComplete(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != PostTriggerCollecting {
		return false
	}
	return !now.Before(b.triggerT0.Add(time.Duration(b.cfg.PostTriggerSec) * time.Second))
}
