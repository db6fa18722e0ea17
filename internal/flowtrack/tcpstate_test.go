package flowtrack

import "testing"

func TestTCPStateRetransmitDetection(t *testing.T) {
	s := NewTCPState()
	s.Observe(&TCPInfo{SeqNum: 100, PayloadLen: 50}, true, 1)
	s.Observe(&TCPInfo{SeqNum: 100, PayloadLen: 50}, true, 2)

	if s.Retransmits != 1 {
		t.Fatalf("expected 1 retransmit, got %d", s.Retransmits)
	}
}

func TestTCPStateDupAckDetection(t *testing.T) {
	s := NewTCPState()
	s.Observe(&TCPInfo{AckNum: 500, ACK: true}, false, 1)
	s.Observe(&TCPInfo{AckNum: 500, ACK: true}, false, 2)

	if s.DupAcks != 1 {
		t.Fatalf("expected 1 dup ack, got %d", s.DupAcks)
	}
}

func TestTCPStateZeroWindowAndECE(t *testing.T) {
	s := NewTCPState()
	s.Observe(&TCPInfo{Window: 0}, true, 1)
	s.Observe(&TCPInfo{ECE: true, Window: 1024}, false, 2)

	if s.ZeroWindows != 1 {
		t.Fatalf("expected 1 zero window, got %d", s.ZeroWindows)
	}
	if s.ECECount != 1 {
		t.Fatalf("expected 1 ECE, got %d", s.ECECount)
	}
}

func TestTCPStateRTTEstimateFromTimestamps(t *testing.T) {
	s := NewTCPState()
	s.Observe(&TCPInfo{HasTimestamps: true, TSVal: 42}, true, 1_000_000)
	s.Observe(&TCPInfo{HasTimestamps: true, TSEcr: 42, ACK: true}, false, 6_000_000)

	if s.RTTEstimateUs != 5000 {
		t.Fatalf("expected RTT estimate of 5000us, got %d", s.RTTEstimateUs)
	}
	if s.HealthScore() != 100 {
		t.Fatalf("expected a single fast RTT sample to score 100, got %v", s.HealthScore())
	}
}

func TestTCPStateHandshakeFlags(t *testing.T) {
	s := NewTCPState()
	s.Observe(&TCPInfo{SYN: true}, true, 1)
	s.Observe(&TCPInfo{SYN: true, ACK: true}, false, 2)

	if !s.SawSYN || !s.SawSYNACK {
		t.Fatalf("expected handshake flags set, got %+v", s)
	}
	if tcpState(s) != "established" {
		t.Fatalf("expected established state, got %s", tcpState(s))
	}
}
