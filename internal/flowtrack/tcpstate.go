package flowtrack

// rttHistogramBins is the health-score histogram width, per spec.md §3
// ("RTT-health 14 bins").
const rttHistogramBins = 14

// rttBinEdgesMs are the upper edges (inclusive) of each RTT histogram bin,
// in milliseconds; the 14th bin catches everything above the 13th edge.
// Roughly log-spaced to give useful resolution from sub-millisecond LAN
// RTTs up to multi-second pathological cases.
var rttBinEdgesMs = [rttHistogramBins - 1]float64{
	1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000, 10000,
}

// TCPState tracks one canonical flow's TCP substate, per spec.md §4.6.
type TCPState struct {
	SawSYN, SawSYNACK, SawFIN, SawRST bool
	WindowScale                       uint8
	Rwnd                              uint16

	RTTEstimateUs int64

	Retransmits uint64
	DupAcks     uint64
	ZeroWindows uint64
	ECECount    uint64

	RTTHistogram [rttHistogramBins]uint64

	lastSeqFwd    uint32
	haveLastSeqFwd bool
	lastAckRev    uint32
	haveLastAckRev bool

	pendingTS map[uint32]int64 // TSval -> nanosecond send time, forward direction
}

// NewTCPState creates an empty TCP substate.
func NewTCPState() *TCPState {
	return &TCPState{pendingTS: make(map[uint32]int64)}
}

// Observe updates the state machine with one TCP segment. isForward
// indicates the segment travelled in the flow's canonical forward
// direction (see CanonicalKey). nowNs is the packet's capture time in
// nanoseconds, used for timestamp-option RTT estimation.
func (s *TCPState) Observe(info *TCPInfo, isForward bool, nowNs int64) {
	if info.SYN && !info.ACK {
		s.SawSYN = true
	}
	if info.SYN && info.ACK {
		s.SawSYNACK = true
	}
	if info.FIN {
		s.SawFIN = true
	}
	if info.RST {
		s.SawRST = true
	}
	if info.ECE {
		s.ECECount++
	}
	if info.WindowScale > 0 {
		s.WindowScale = info.WindowScale
	}
	if info.Window == 0 {
		s.ZeroWindows++
	} else {
		s.Rwnd = info.Window << s.WindowScale
	}

	if isForward {
		if s.haveLastSeqFwd && info.PayloadLen > 0 && info.SeqNum == s.lastSeqFwd {
			s.Retransmits++
		}
		if info.PayloadLen > 0 {
			s.lastSeqFwd = info.SeqNum
			s.haveLastSeqFwd = true
		}
		if info.HasTimestamps {
			s.pendingTS[info.TSVal] = nowNs
		}
	} else {
		if s.haveLastAckRev && info.AckNum == s.lastAckRev && info.PayloadLen == 0 {
			s.DupAcks++
		}
		s.lastAckRev = info.AckNum
		s.haveLastAckRev = true

		if info.HasTimestamps {
			if sentNs, found := s.pendingTS[info.TSEcr]; found {
				rttNs := nowNs - sentNs
				if rttNs > 0 {
					s.RTTEstimateUs = rttNs / 1000
					s.recordRTT(float64(rttNs) / 1e6)
				}
				delete(s.pendingTS, info.TSEcr)
			}
		}
	}
}

func (s *TCPState) recordRTT(ms float64) {
	for i, edge := range rttBinEdgesMs {
		if ms <= edge {
			s.RTTHistogram[i]++
			return
		}
	}
	s.RTTHistogram[rttHistogramBins-1]++
}

// HealthScore summarizes the RTT histogram into a single 0-100 score:
// the fraction of samples in the first half of the bins (low/stable RTT),
// scaled to a percentage. Used as a quick sort key for top-talkers
// display; the full histogram is still emitted for clients that want it.
func (s *TCPState) HealthScore() float64 {
	var total, good uint64
	for i, count := range s.RTTHistogram {
		total += count
		if i < rttHistogramBins/2 {
			good += count
		}
	}
	if total == 0 {
		return 100
	}
	return 100 * float64(good) / float64(total)
}
