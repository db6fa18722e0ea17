package flowtrack

// MaxFlows is the top-N cutoff for TopTalkersMessage entries, per spec.md
// §4.6 ("N = MAX_FLOWS = 20").
const MaxFlows = 20

// TopTalkersMessage is the periodic wire message emitted by the tracker,
// per spec.md §4.6 and §3.
type TopTalkersMessage struct {
	IntervalNs int64       `json:"interval_ns"`
	TFlows     int         `json:"tflows"`
	Flows      []FlowEntry `json:"flows"`
}

// FlowEntry is one flow's wire representation. Histogram fields are
// omitted (nil) when their sample count is zero, per spec.md §4.6
// ("Histograms are emitted only when their sample count for a flow is > 0").
type FlowEntry struct {
	Ethertype uint16 `json:"ethertype"`
	Protocol  uint8  `json:"protocol"`
	LowAddr   string `json:"low_addr"`
	LowPort   uint16 `json:"low_port"`
	HighAddr  string `json:"high_addr"`
	HighPort  uint16 `json:"high_port"`

	Bytes   uint64 `json:"bytes"`
	Packets uint64 `json:"packets"`

	FrameSizeHistogram []uint64 `json:"frame_size_histogram,omitempty"`
	PPSHistogram       []uint64 `json:"pps_histogram,omitempty"`

	TCP *TCPEntry `json:"tcp,omitempty"`
	RTP []RTPEntry `json:"rtp,omitempty"`
}

// TCPEntry is the wire view of a flow's TCP substate.
type TCPEntry struct {
	State                             string  `json:"state"`
	RTTEstimateUs                     int64   `json:"rtt_estimate_us"`
	Retransmits                       uint64  `json:"retransmits"`
	DupAcks                           uint64  `json:"dup_acks"`
	ZeroWindows                       uint64  `json:"zero_windows"`
	ECECount                          uint64  `json:"ece_count"`
	WindowScale                       uint8   `json:"window_scale"`
	Rwnd                              uint16  `json:"rwnd"`
	HealthScore                       float64 `json:"health_score"`
	RTTHistogram                      []uint64 `json:"rtt_histogram,omitempty"`
}

// RTPEntry is the wire view of one SSRC's RTP substate.
type RTPEntry struct {
	SSRC            uint32   `json:"ssrc"`
	PayloadType     uint8    `json:"payload_type"`
	JitterUs        float64  `json:"jitter_us"`
	SeqLoss         uint64   `json:"seq_loss"`
	Keyframes       uint64   `json:"keyframes"`
	GOPLength       uint64   `json:"gop_length"`
	JitterHistogram []uint64 `json:"jitter_histogram,omitempty"`
}

func tcpState(t *TCPState) string {
	switch {
	case t.SawRST:
		return "reset"
	case t.SawFIN:
		return "closing"
	case t.SawSYN && t.SawSYNACK:
		return "established"
	case t.SawSYN:
		return "syn-sent"
	default:
		return "unknown"
	}
}

func nonZero(h []uint64) []uint64 {
	for _, v := range h {
		if v > 0 {
			return h
		}
	}
	return nil
}

func toEntry(r *Record) FlowEntry {
	e := FlowEntry{
		Ethertype:          r.Key.Ethertype,
		Protocol:           r.Key.Protocol,
		LowAddr:            r.Key.LowIP.String(),
		LowPort:            r.Key.LowPort,
		HighAddr:           r.Key.HighIP.String(),
		HighPort:           r.Key.HighPort,
		Bytes:              r.Bytes,
		Packets:            r.Packets,
		FrameSizeHistogram: nonZero(r.FrameSizeHistogram[:]),
		PPSHistogram:       nonZero(r.PPSHistogram[:]),
	}
	if r.TCP != nil {
		e.TCP = &TCPEntry{
			State:         tcpState(r.TCP),
			RTTEstimateUs: r.TCP.RTTEstimateUs,
			Retransmits:   r.TCP.Retransmits,
			DupAcks:       r.TCP.DupAcks,
			ZeroWindows:   r.TCP.ZeroWindows,
			ECECount:      r.TCP.ECECount,
			WindowScale:   r.TCP.WindowScale,
			Rwnd:          r.TCP.Rwnd,
			HealthScore:   r.TCP.HealthScore(),
			RTTHistogram:  nonZero(r.TCP.RTTHistogram[:]),
		}
	}
	for _, rtp := range r.RTP {
		e.RTP = append(e.RTP, RTPEntry{
			SSRC:            rtp.SSRC,
			PayloadType:     rtp.PayloadType,
			JitterUs:        rtp.JitterUs(),
			SeqLoss:         rtp.SeqLoss(),
			Keyframes:       rtp.Keyframes,
			GOPLength:       rtp.GOPLength,
			JitterHistogram: nonZero(rtp.JitterHistogram[:]),
		})
	}
	return e
}
