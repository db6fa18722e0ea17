package flowtrack

import "testing"

func TestRTPStateSeqLossNoneWhenContiguous(t *testing.T) {
	s := NewRTPState(0xdeadbeef, 96)
	base := int64(0)
	for i := uint16(0); i < 10; i++ {
		s.Observe(&RTPInfo{SSRC: s.SSRC, SequenceNumber: i, Timestamp: uint32(i) * 3000}, base+int64(i)*20_000_000)
	}
	if s.SeqLoss() != 0 {
		t.Fatalf("expected no loss for contiguous sequence, got %d", s.SeqLoss())
	}
}

func TestRTPStateSeqLossDetectsGap(t *testing.T) {
	s := NewRTPState(0xdeadbeef, 96)
	seqs := []uint16{0, 1, 2, 5, 6}
	for i, seq := range seqs {
		s.Observe(&RTPInfo{SSRC: s.SSRC, SequenceNumber: seq, Timestamp: uint32(i) * 3000}, int64(i)*20_000_000)
	}
	if got := s.SeqLoss(); got != 2 {
		t.Fatalf("expected 2 lost packets (seq 3,4), got %d", got)
	}
}

func TestRTPStateJitterAccumulatesFromArrivalVariance(t *testing.T) {
	s := NewRTPState(0x1, 96) // 90kHz clock
	// Perfectly regular arrivals and RTP timestamps: jitter stays ~0.
	var ns int64
	for i := uint16(0); i < 20; i++ {
		s.Observe(&RTPInfo{SSRC: s.SSRC, SequenceNumber: i, Timestamp: uint32(i) * 3000}, ns)
		ns += 33_333_333 // ~30fps
	}
	if s.JitterUs() > 100 {
		t.Fatalf("expected near-zero jitter for regular arrivals, got %v us", s.JitterUs())
	}
}
