package flowtrack

import (
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pion/rtp"
)

// Decoded is the subset of a packet's fields the tracker needs, extracted
// once per packet so downstream per-flow state machines don't re-parse
// layers. ARP and LLDP packets decode to ok=false and are ignored, per
// spec.md §4.6.
type Decoded struct {
	Timestamp time.Time
	Length    int

	Ethertype uint16
	Protocol  uint8 // IP protocol number (layers.IPProtocol)

	SrcIP, DstIP     netip.Addr
	SrcPort, DstPort uint16

	TCP *TCPInfo
	RTP *RTPInfo

	// RTPPacket is the fully unmarshaled RTP packet when RTP != nil, kept
	// alongside the flattened RTPInfo so a WebRTC viewer bridge can
	// republish it without re-parsing the payload.
	RTPPacket *rtp.Packet
}

// TCPInfo carries the TCP-specific header fields a flow's state machine
// needs: flags, sequence/ack numbers, window, and timestamp option values
// (for RTT estimation), per spec.md §4.6.
type TCPInfo struct {
	SYN, ACK, FIN, RST, ECE bool
	SeqNum, AckNum          uint32
	Window                  uint16
	WindowScale             uint8
	TSVal, TSEcr            uint32
	HasTimestamps           bool
	PayloadLen              int
}

// RTPInfo carries the RTP header fields needed for jitter/loss tracking of
// a UDP flow recognized as RTP-shaped, per spec.md §4.6.
type RTPInfo struct {
	SSRC           uint32
	SequenceNumber uint16
	Timestamp      uint32
	PayloadType    uint8
	Marker         bool
}

// Decode parses raw packet bytes captured at ts. Returns ok=false for
// non-IP traffic (ARP, LLDP) or anything that fails to decode enough to be
// useful, per spec.md §4.6 ("ARP and LLDP are ignored").
func Decode(data []byte, ts time.Time) (d Decoded, ok bool) {
	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	d.Timestamp = ts
	d.Length = len(data)

	var ethertype layers.EthernetType
	if eth, isEth := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); isEth {
		ethertype = eth.EthernetType
		if ethertype == layers.EthernetTypeDot1Q {
			if dot1q, isQ := packet.Layer(layers.LayerTypeDot1Q).(*layers.Dot1Q); isQ {
				ethertype = dot1q.Type
			}
		}
	}

	switch ethertype {
	case layers.EthernetTypeIPv4:
		d.Ethertype = uint16(layers.EthernetTypeIPv4)
	case layers.EthernetTypeIPv6:
		d.Ethertype = uint16(layers.EthernetTypeIPv6)
	default:
		return d, false
	}

	if ip4, is4 := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); is4 {
		d.SrcIP, _ = netip.AddrFromSlice(ip4.SrcIP.To4())
		d.DstIP, _ = netip.AddrFromSlice(ip4.DstIP.To4())
		d.Protocol = uint8(ip4.Protocol)
	} else if ip6, is6 := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); is6 {
		d.SrcIP, _ = netip.AddrFromSlice(ip6.SrcIP.To16())
		d.DstIP, _ = netip.AddrFromSlice(ip6.DstIP.To16())
		d.Protocol = uint8(ip6.NextHeader)
	} else {
		return d, false
	}

	switch layers.IPProtocol(d.Protocol) {
	case layers.IPProtocolTCP:
		tcp, isTCP := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !isTCP {
			return d, false
		}
		d.SrcPort = uint16(tcp.SrcPort)
		d.DstPort = uint16(tcp.DstPort)
		d.TCP = decodeTCPOptions(tcp)

	case layers.IPProtocolUDP:
		udp, isUDP := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !isUDP {
			return d, false
		}
		d.SrcPort = uint16(udp.SrcPort)
		d.DstPort = uint16(udp.DstPort)
		if info, pkt, ok := decodeRTP(udp.Payload); ok {
			d.RTP = &info
			d.RTPPacket = pkt
		}

	case layers.IPProtocolICMPv4, layers.IPProtocolICMPv6, layers.IPProtocolIGMP, layers.IPProtocolESP:
		// Ports are meaningless for these; the canonical key uses
		// (IP, 0) pairs, ports compared only when IPs are equal per
		// spec.md §4.6 (equal here since port is always 0).

	default:
		return d, false
	}

	return d, true
}

func decodeTCPOptions(tcp *layers.TCP) *TCPInfo {
	info := &TCPInfo{
		SYN: tcp.SYN, ACK: tcp.ACK, FIN: tcp.FIN, RST: tcp.RST, ECE: tcp.ECE,
		SeqNum: tcp.Seq, AckNum: tcp.Ack, Window: tcp.Window,
		PayloadLen: len(tcp.Payload),
	}
	for _, opt := range tcp.Options {
		switch opt.OptionType {
		case layers.TCPOptionKindTimestamps:
			if len(opt.OptionData) == 8 {
				info.TSVal = be32(opt.OptionData[0:4])
				info.TSEcr = be32(opt.OptionData[4:8])
				info.HasTimestamps = true
			}
		case layers.TCPOptionKindWindowScale:
			if len(opt.OptionData) == 1 {
				info.WindowScale = opt.OptionData[0]
			}
		}
	}
	return info
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// decodeRTP uses pion/rtp to parse the UDP payload as an RTP packet,
// rejecting anything that doesn't unmarshal as version-2 RTP — the
// cheapest discriminator for "RTP-shaped" traffic per spec.md §4.6 ("UDP
// flows ... with RTP-shaped headers").
func decodeRTP(payload []byte) (RTPInfo, *rtp.Packet, bool) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(payload); err != nil {
		return RTPInfo{}, nil, false
	}
	if pkt.Version != 2 {
		return RTPInfo{}, nil, false
	}
	return RTPInfo{
		SSRC:           pkt.SSRC,
		SequenceNumber: pkt.SequenceNumber,
		Timestamp:      pkt.Timestamp,
		PayloadType:    pkt.PayloadType,
		Marker:         pkt.Marker,
	}, pkt, true
}
