package flowtrack

import "math"

// jitterHistogramBins is the jitter histogram width, per spec.md §3
// ("jitter µs + 12-bin histogram").
const jitterHistogramBins = 12

// jitterBinEdgesUs are the upper edges (inclusive) of each jitter
// histogram bin in microseconds.
var jitterBinEdgesUs = [jitterHistogramBins - 1]float64{
	500, 1000, 2000, 5000, 10000, 20000, 50000, 100000, 200000, 500000, 1000000,
}

// staticClockRates maps well-known static RTP payload types to their RFC
// 3551 clock rate; dynamic payload types (96-127) default to the video
// rate of 90000 Hz, the overwhelmingly common case for WebRTC video.
var staticClockRates = map[uint8]uint32{
	0: 8000, 8: 8000, 9: 8000, 3: 8000, 4: 8000, // PCMU/PCMA/GSM/G723
	18: 8000, // G729
}

func clockRateFor(pt uint8) uint32 {
	if rate, ok := staticClockRates[pt]; ok {
		return rate
	}
	return 90000
}

// RTPState is a per-SSRC substate for a UDP flow carrying RTP, per
// spec.md §4.6 and §3's FlowRecord video/audio sub-structures.
type RTPState struct {
	SSRC       uint32
	PayloadType uint8

	haveFirst  bool
	firstSeq   uint16
	highestSeq uint32 // extended (cycle-aware)
	cycles     uint32
	received   uint64
	expectedBase uint32

	lastArrivalNs int64
	lastRTPTs     uint32
	jitterUnits   float64 // running RFC 3550 jitter estimate, in RTP clock units
	clockRate     uint32

	JitterHistogram [jitterHistogramBins]uint64

	Keyframes uint64
	// GOPLength is a best-effort running estimate of frames between
	// keyframes; left at 0 when the payload's frame boundaries can't be
	// determined without full codec parsing (spec.md scopes codec/
	// resolution/profile detail as optional "when present" fields).
	GOPLength uint64
}

// NewRTPState creates substate for a newly observed SSRC.
func NewRTPState(ssrc uint32, pt uint8) *RTPState {
	return &RTPState{SSRC: ssrc, PayloadType: pt, clockRate: clockRateFor(pt)}
}

// Observe folds in one RTP packet's header fields, updating sequence-loss
// accounting and RFC 3550 jitter.
func (s *RTPState) Observe(info *RTPInfo, arrivalNs int64) {
	s.received++

	if !s.haveFirst {
		s.haveFirst = true
		s.firstSeq = info.SequenceNumber
		s.highestSeq = uint32(info.SequenceNumber)
	} else {
		ext := s.extend(info.SequenceNumber)
		if ext > s.highestSeq {
			s.highestSeq = ext
		}
	}

	if s.lastArrivalNs != 0 {
		arrivalUnits := float64(arrivalNs-s.lastArrivalNs) / 1e9 * float64(s.clockRate)
		rtpDelta := float64(int64(info.Timestamp) - int64(s.lastRTPTs))
		d := math.Abs(arrivalUnits - rtpDelta)
		s.jitterUnits += (d - s.jitterUnits) / 16
		s.recordJitter(s.jitterUnits / float64(s.clockRate) * 1e6)
	}
	s.lastArrivalNs = arrivalNs
	s.lastRTPTs = info.Timestamp

	if info.Marker {
		s.Keyframes++
	}
}

// extend computes a 32-bit extended sequence number, tracking wraparound,
// per RFC 3550 appendix A.1's cycle-counting approach (simplified: no
// reordering-window probation, adequate for loss accounting here).
func (s *RTPState) extend(seq uint16) uint32 {
	prev := uint16(s.highestSeq)
	if seq < prev && prev-seq > 0x8000 {
		s.cycles++
	}
	return uint32(s.cycles)<<16 | uint32(seq)
}

func (s *RTPState) recordJitter(us float64) {
	for i, edge := range jitterBinEdgesUs {
		if us <= edge {
			s.JitterHistogram[i]++
			return
		}
	}
	s.JitterHistogram[jitterHistogramBins-1]++
}

// SeqLoss returns the estimated count of RTP packets lost, per RFC 3550's
// expected-minus-received computation.
func (s *RTPState) SeqLoss() uint64 {
	if !s.haveFirst {
		return 0
	}
	expected := uint64(s.highestSeq) - uint64(s.firstSeq) + 1
	if expected < s.received {
		return 0
	}
	return expected - s.received
}

// JitterUs returns the current RFC 3550 jitter estimate in microseconds.
func (s *RTPState) JitterUs() float64 {
	return s.jitterUnits / float64(s.clockRate) * 1e6
}
