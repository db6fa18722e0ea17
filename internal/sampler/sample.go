// Package sampler implements the fixed-cadence interface-counter sampler
// (C4): it reads RX/TX byte and packet counters from a chosen interface at
// a fixed microsecond cadence, timestamps each reading against an absolute
// deadline, and hands off full SampleFrames to the compute thread (C5) via
// the C2 ring buffer.
package sampler

import "time"

// Sample is one observation at a sample instant, per spec.md §3.
type Sample struct {
	Timestamp time.Time

	RxBytes, TxBytes     uint64
	RxPackets, TxPackets uint64

	RxBytesDelta, TxBytesDelta     uint64
	RxPacketsDelta, TxPacketsDelta uint64

	// WhooshErrorNs is the number of nanoseconds by which this sampling
	// operation missed its absolute deadline (spec.md glossary).
	WhooshErrorNs int64
}

// SampleFrame is the unit handed between C4 and C5: an interface name, the
// sample period in microseconds, and N consecutive Samples where
// N = 1_000_000 / sample_period_us / messages_per_second, per spec.md §3.
type SampleFrame struct {
	Iface         string
	SamplePeriodUs int
	Samples        []Sample
}
