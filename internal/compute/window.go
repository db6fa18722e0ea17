// Package compute implements the compute thread (C5): it drains raw
// SampleFrames from the sampler's ring buffer (C2), maintains a rolling
// window of recent Samples, and publishes pre-aggregated StatsMessages at
// several decimation intervals into the tiered bus (C8).
package compute

import "github.com/jittertrap/jittertrap/internal/sampler"

// windowCapacity is the maximum number of retained Samples, per spec.md
// §4.5 ("capped at 1000 entries").
const windowCapacity = 1000

// window is a fixed-capacity ring retaining the most recent Samples.
// spec.md describes a doubly-linked list with head-eviction/tail-push; a
// ring of the same capacity gives identical retention semantics with O(1)
// push and O(1) access to the most-recent-N run, without the pointer
// bookkeeping a linked list would add for no behavioural benefit here.
type window struct {
	slots []sampler.Sample
	head  int // index of oldest retained sample
	size  int

	totalReceived uint64
}

func newWindow() *window {
	return &window{slots: make([]sampler.Sample, windowCapacity)}
}

// push appends one Sample at the tail, evicting the oldest if full.
func (w *window) push(s sampler.Sample) {
	idx := (w.head + w.size) % windowCapacity
	w.slots[idx] = s
	if w.size < windowCapacity {
		w.size++
	} else {
		w.head = (w.head + 1) % windowCapacity
	}
	w.totalReceived++
}

// recentN returns the n most recent Samples in oldest-to-newest order.
// Panics if n > size; callers must check size first (spec.md §4.5: "if ...
// the list holds ≥D samples").
func (w *window) recentN(n int) []sampler.Sample {
	if n > w.size {
		panic("compute: requested more samples than the window holds")
	}
	out := make([]sampler.Sample, n)
	start := (w.head + w.size - n + windowCapacity) % windowCapacity
	for i := 0; i < n; i++ {
		out[i] = w.slots[(start+i)%windowCapacity]
	}
	return out
}
