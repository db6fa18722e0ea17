package compute

import (
	"math"

	"github.com/jittertrap/jittertrap/internal/sampler"
)

// FixedPointScale is the wire-contract scaling factor applied to every mean
// field in a StatsMessage, per spec.md §4.5 ("Means are scaled ×1000 so
// downstream consumers can treat them as fixed-point"). This is an
// explicit Open Question resolution: kept as-is rather than reformed into
// a floating-point or microsecond-unit field (see DESIGN.md).
const FixedPointScale = 1000

// StatsMessage is the aggregate published for one decimation window,
// per spec.md §3.
type StatsMessage struct {
	Iface      string `json:"iface"`
	IntervalNs int64  `json:"interval_ns"`
	TimestampNs int64 `json:"timestamp_ns"`

	RxBytesMeanFixed uint64 `json:"rx_bytes_mean_fixed"`
	TxBytesMeanFixed uint64 `json:"tx_bytes_mean_fixed"`
	RxPacketsMeanFixed uint64 `json:"rx_packets_mean_fixed"`
	TxPacketsMeanFixed uint64 `json:"tx_packets_mean_fixed"`

	RxBytesMinRaw   uint64 `json:"rx_bytes_min"`
	RxBytesMaxRaw   uint64 `json:"rx_bytes_max"`
	TxBytesMinRaw   uint64 `json:"tx_bytes_min"`
	TxBytesMaxRaw   uint64 `json:"tx_bytes_max"`
	RxPacketsMinRaw uint64 `json:"rx_packets_min"`
	RxPacketsMaxRaw uint64 `json:"rx_packets_max"`
	TxPacketsMinRaw uint64 `json:"tx_packets_min"`
	TxPacketsMaxRaw uint64 `json:"tx_packets_max"`

	WhooshMaxNs     int64  `json:"whoosh_max_ns"`
	WhooshMeanFixed int64  `json:"whoosh_mean_fixed"`
	WhooshStdFixed  int64  `json:"whoosh_std_fixed"`

	// RxGap/TxGap describe run-lengths of consecutive zero-packet samples
	// (idle gaps), in samples; Mean is ×1000 fixed-point.
	RxGapMin       uint32 `json:"rx_gap_min"`
	RxGapMax       uint32 `json:"rx_gap_max"`
	RxGapMeanFixed uint64 `json:"rx_gap_mean_fixed"`
	TxGapMin       uint32 `json:"tx_gap_min"`
	TxGapMax       uint32 `json:"tx_gap_max"`
	TxGapMeanFixed uint64 `json:"tx_gap_mean_fixed"`
}

// aggregate computes a StatsMessage for decimation d over samples (the
// caller passes the window's d most recent samples), per spec.md §4.5's
// per-window aggregate list.
func aggregate(iface string, d int, samples []sampler.Sample) StatsMessage {
	n := uint64(len(samples))
	msg := StatsMessage{
		Iface:      iface,
		IntervalNs: int64(d) * 1_000_000,
	}
	if n == 0 {
		return msg
	}
	msg.TimestampNs = samples[n-1].Timestamp.UnixNano()

	var rxBSum, txBSum, rxPSum, txPSum uint64
	var whooshSum, whooshSumSq int64
	msg.RxBytesMinRaw, msg.TxBytesMinRaw = math.MaxUint64, math.MaxUint64
	msg.RxPacketsMinRaw, msg.TxPacketsMinRaw = math.MaxUint64, math.MaxUint64

	rxGapMin, rxGapMax, rxGapRuns, rxGapTotal := uint32(math.MaxUint32), uint32(0), uint64(0), uint64(0)
	txGapMin, txGapMax, txGapRuns, txGapTotal := uint32(math.MaxUint32), uint32(0), uint64(0), uint64(0)
	var rxRun, txRun uint32

	for _, s := range samples {
		rxBSum += s.RxBytesDelta
		txBSum += s.TxBytesDelta
		rxPSum += s.RxPacketsDelta
		txPSum += s.TxPacketsDelta

		if s.RxBytesDelta < msg.RxBytesMinRaw {
			msg.RxBytesMinRaw = s.RxBytesDelta
		}
		if s.RxBytesDelta > msg.RxBytesMaxRaw {
			msg.RxBytesMaxRaw = s.RxBytesDelta
		}
		if s.TxBytesDelta < msg.TxBytesMinRaw {
			msg.TxBytesMinRaw = s.TxBytesDelta
		}
		if s.TxBytesDelta > msg.TxBytesMaxRaw {
			msg.TxBytesMaxRaw = s.TxBytesDelta
		}
		if s.RxPacketsDelta < msg.RxPacketsMinRaw {
			msg.RxPacketsMinRaw = s.RxPacketsDelta
		}
		if s.RxPacketsDelta > msg.RxPacketsMaxRaw {
			msg.RxPacketsMaxRaw = s.RxPacketsDelta
		}
		if s.TxPacketsDelta < msg.TxPacketsMinRaw {
			msg.TxPacketsMinRaw = s.TxPacketsDelta
		}
		if s.TxPacketsDelta > msg.TxPacketsMaxRaw {
			msg.TxPacketsMaxRaw = s.TxPacketsDelta
		}

		whooshSum += s.WhooshErrorNs
		whooshSumSq += s.WhooshErrorNs * s.WhooshErrorNs
		if s.WhooshErrorNs > msg.WhooshMaxNs {
			msg.WhooshMaxNs = s.WhooshErrorNs
		}

		if s.RxPacketsDelta == 0 {
			rxRun++
		} else if rxRun > 0 {
			rxGapRuns++
			rxGapTotal += uint64(rxRun)
			if rxRun < rxGapMin {
				rxGapMin = rxRun
			}
			if rxRun > rxGapMax {
				rxGapMax = rxRun
			}
			rxRun = 0
		}
		if s.TxPacketsDelta == 0 {
			txRun++
		} else if txRun > 0 {
			txGapRuns++
			txGapTotal += uint64(txRun)
			if txRun < txGapMin {
				txGapMin = txRun
			}
			if txRun > txGapMax {
				txGapMax = txRun
			}
			txRun = 0
		}
	}
	if rxRun > 0 {
		rxGapRuns++
		rxGapTotal += uint64(rxRun)
		if rxRun < rxGapMin {
			rxGapMin = rxRun
		}
		if rxRun > rxGapMax {
			rxGapMax = rxRun
		}
	}
	if txRun > 0 {
		txGapRuns++
		txGapTotal += uint64(txRun)
		if txRun < txGapMin {
			txGapMin = txRun
		}
		if txRun > txGapMax {
			txGapMax = txRun
		}
	}

	msg.RxBytesMeanFixed = rxBSum * FixedPointScale / n
	msg.TxBytesMeanFixed = txBSum * FixedPointScale / n
	msg.RxPacketsMeanFixed = rxPSum * FixedPointScale / n
	msg.TxPacketsMeanFixed = txPSum * FixedPointScale / n

	msg.WhooshMeanFixed = whooshSum * FixedPointScale / int64(n)
	// std via sqrt(sum_of_squares/D), per spec.md §4.5.
	variance := float64(whooshSumSq) / float64(n)
	msg.WhooshStdFixed = int64(math.Sqrt(variance) * FixedPointScale)

	if rxGapRuns == 0 {
		rxGapMin = 0
	} else {
		msg.RxGapMeanFixed = rxGapTotal * FixedPointScale / rxGapRuns
	}
	if txGapRuns == 0 {
		txGapMin = 0
	} else {
		msg.TxGapMeanFixed = txGapTotal * FixedPointScale / txGapRuns
	}
	msg.RxGapMin, msg.RxGapMax = rxGapMin, rxGapMax
	msg.TxGapMin, msg.TxGapMax = txGapMin, txGapMax

	return msg
}
