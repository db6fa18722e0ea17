package flowtrack

// frameSizeBinEdges are the upper edges (inclusive) of each frame-size
// histogram bin in bytes, per spec.md §3 ("frame-size 20 bins"). Chosen to
// resolve the common Ethernet MTU landscape: small control packets,
// typical TCP segments, and jumbo frames.
var frameSizeBinEdges = [19]int{
	64, 128, 192, 256, 384, 512, 640, 768, 896, 1024,
	1100, 1200, 1300, 1400, 1460, 1500, 2000, 4000, 9000,
}

// ppsBinEdges are the upper edges (inclusive) of each instantaneous
// packets-per-second histogram bin, per spec.md §3 ("PPS 12 bins"),
// derived from the reciprocal of each packet's inter-arrival gap.
var ppsBinEdges = [11]float64{
	1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 50000, 100000,
}

// Record is one canonical flow's accumulated state, per spec.md §3's
// FlowRecord.
type Record struct {
	Key     Key
	Bytes   uint64
	Packets uint64

	FrameSizeHistogram [20]uint64
	PPSHistogram       [12]uint64

	TCP *TCPState
	RTP map[uint32]*RTPState

	lastPacketNs int64
}

func newRecord(key Key) *Record {
	return &Record{Key: key}
}

// observe folds in one decoded packet travelling in direction isForward.
func (r *Record) observe(d Decoded, isForward bool, nowNs int64) {
	r.Bytes += uint64(d.Length)
	r.Packets++
	r.recordFrameSize(d.Length)

	if r.lastPacketNs != 0 {
		gapSec := float64(nowNs-r.lastPacketNs) / 1e9
		if gapSec > 0 {
			r.recordPPS(1 / gapSec)
		}
	}
	r.lastPacketNs = nowNs

	if d.TCP != nil {
		if r.TCP == nil {
			r.TCP = NewTCPState()
		}
		r.TCP.Observe(d.TCP, isForward, nowNs)
	}
	if d.RTP != nil {
		if r.RTP == nil {
			r.RTP = make(map[uint32]*RTPState)
		}
		state, ok := r.RTP[d.RTP.SSRC]
		if !ok {
			state = NewRTPState(d.RTP.SSRC, d.RTP.PayloadType)
			r.RTP[d.RTP.SSRC] = state
		}
		state.Observe(d.RTP, nowNs)
	}
}

func (r *Record) recordFrameSize(length int) {
	for i, edge := range frameSizeBinEdges {
		if length <= edge {
			r.FrameSizeHistogram[i]++
			return
		}
	}
	r.FrameSizeHistogram[len(r.FrameSizeHistogram)-1]++
}

func (r *Record) recordPPS(pps float64) {
	for i, edge := range ppsBinEdges {
		if pps <= edge {
			r.PPSHistogram[i]++
			return
		}
	}
	r.PPSHistogram[len(r.PPSHistogram)-1]++
}
