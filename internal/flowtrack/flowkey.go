// Package flowtrack implements the flow tracker (C6): packet decode,
// canonical bidirectional flow keying, TCP/RTP substate tracking, and
// periodic top-talkers emission.
package flowtrack

import "net/netip"

// Key is the canonical bidirectional flow key described in spec.md §4.6:
// low/high endpoints chosen by `min((ip,port),(ip,port))`, with ports only
// compared when IPs are equal, plus the ethertype so IPv4 and IPv6 flows
// never collide.
type Key struct {
	Ethertype  uint16
	Protocol   uint8
	LowIP      netip.Addr
	LowPort    uint16
	HighIP     netip.Addr
	HighPort   uint16
}

// endpoint is one side of a packet, used only to compute the canonical key.
type endpoint struct {
	ip   netip.Addr
	port uint16
}

func less(a, b endpoint) bool {
	if cmp := a.ip.Compare(b.ip); cmp != 0 {
		return cmp < 0
	}
	return a.port < b.port
}

// CanonicalKey builds a Key and reports whether srcIP/srcPort was chosen as
// the low endpoint (is_forward), per spec.md §4.6's keying rule.
func CanonicalKey(ethertype uint16, protocol uint8, srcIP netip.Addr, srcPort uint16, dstIP netip.Addr, dstPort uint16) (key Key, isForward bool) {
	src := endpoint{srcIP, srcPort}
	dst := endpoint{dstIP, dstPort}

	if less(src, dst) {
		return Key{
			Ethertype: ethertype,
			Protocol:  protocol,
			LowIP:     src.ip, LowPort: src.port,
			HighIP: dst.ip, HighPort: dst.port,
		}, true
	}
	return Key{
		Ethertype: ethertype,
		Protocol:  protocol,
		LowIP:     dst.ip, LowPort: dst.port,
		HighIP: src.ip, HighPort: src.port,
	}, false
}
