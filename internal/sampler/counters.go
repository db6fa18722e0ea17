package sampler

import (
	"fmt"

	gnet "github.com/shirou/gopsutil/v3/net"
)

// Counters reads the current cumulative RX/TX byte and packet counters for
// a named interface. Implementations must be safe to call at the sampler's
// configured cadence (spec.md's warning about sampler-introduced overhead).
type Counters interface {
	Read(iface string) (rxBytes, txBytes, rxPackets, txPackets uint64, err error)
}

// GopsutilCounters reads per-NIC counters via gopsutil/v3/net.IOCounters,
// grounded on the teacher's MetricsCollector.Collect network section, which
// reads the same call with pernic=false for the aggregate-interface case.
// Here pernic=true is required since the sampler targets one named
// interface chosen by the operator (spec.md §4.4, DEV_SELECT).
type GopsutilCounters struct{}

func (GopsutilCounters) Read(iface string) (rxBytes, txBytes, rxPackets, txPackets uint64, err error) {
	stats, err := gnet.IOCounters(true)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	for _, s := range stats {
		if s.Name == iface {
			return s.BytesRecv, s.BytesSent, s.PacketsRecv, s.PacketsSent, nil
		}
	}
	return 0, 0, 0, 0, fmt.Errorf("sampler: interface %q not found", iface)
}
