package flowtrack

import (
	"net/netip"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/jittertrap/jittertrap/internal/bus"
)

func TestTrackerAccumulatesBytesAndPacketsPerFlow(t *testing.T) {
	b := bus.New(8, 4)
	tr := New(b)

	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")
	now := time.Now()

	for i := 0; i < 5; i++ {
		tr.Process(Decoded{
			Timestamp: now.Add(time.Duration(i) * time.Millisecond),
			Length:    100,
			Ethertype: 0x0800,
			Protocol:  6,
			SrcIP:     src, SrcPort: 1000,
			DstIP: dst, DstPort: 2000,
		})
	}

	total, top := tr.TopTalkers()
	if total != 1 {
		t.Fatalf("expected 1 distinct flow, got %d", total)
	}
	if len(top) != 1 || top[0].Bytes != 500 || top[0].Packets != 5 {
		t.Fatalf("expected 500 bytes/5 packets, got %+v", top[0])
	}
}

func TestTrackerTopTalkersSortedDescendingByBytes(t *testing.T) {
	b := bus.New(8, 4)
	tr := New(b)
	now := time.Now()

	small := netip.MustParseAddr("10.0.0.3")
	big := netip.MustParseAddr("10.0.0.4")
	peer := netip.MustParseAddr("10.0.0.9")

	tr.Process(Decoded{Timestamp: now, Length: 40, Ethertype: 0x0800, Protocol: 6, SrcIP: small, SrcPort: 1, DstIP: peer, DstPort: 2})
	tr.Process(Decoded{Timestamp: now, Length: 4000, Ethertype: 0x0800, Protocol: 6, SrcIP: big, SrcPort: 1, DstIP: peer, DstPort: 3})

	_, top := tr.TopTalkers()
	if len(top) != 2 {
		t.Fatalf("expected 2 flows, got %d", len(top))
	}
	if top[0].Bytes < top[1].Bytes {
		t.Fatalf("expected descending order by bytes, got %d then %d", top[0].Bytes, top[1].Bytes)
	}
}

func TestTrackerCapsTopTalkersAtMaxFlows(t *testing.T) {
	b := bus.New(8, 4)
	tr := New(b)
	now := time.Now()
	peer := netip.MustParseAddr("10.0.0.254")

	for i := 0; i < MaxFlows+5; i++ {
		src, _ := netip.AddrFromSlice([]byte{10, 1, byte(i >> 8), byte(i)})
		tr.Process(Decoded{Timestamp: now, Length: 10, Ethertype: 0x0800, Protocol: 17, SrcIP: src, SrcPort: 1, DstIP: peer, DstPort: 2})
	}

	total, top := tr.TopTalkers()
	if total != MaxFlows+5 {
		t.Fatalf("expected tflows=%d, got %d", MaxFlows+5, total)
	}
	if len(top) != MaxFlows {
		t.Fatalf("expected capped at %d entries, got %d", MaxFlows, len(top))
	}
}

func TestTrackerInvokesOnRTPForRTPShapedPacket(t *testing.T) {
	b := bus.New(8, 4)
	tr := New(b)

	var gotKey Key
	var gotPkt *rtp.Packet
	calls := 0
	tr.OnRTP(func(key Key, pkt *rtp.Packet) {
		calls++
		gotKey = key
		gotPkt = pkt
	})

	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")
	now := time.Now()

	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, SSRC: 42, SequenceNumber: 7}}
	tr.Process(Decoded{
		Timestamp: now, Length: 200, Ethertype: 0x0800, Protocol: 17,
		SrcIP: src, SrcPort: 5000, DstIP: dst, DstPort: 6000,
		RTP:       &RTPInfo{SSRC: 42, SequenceNumber: 7},
		RTPPacket: pkt,
	})

	if calls != 1 {
		t.Fatalf("expected OnRTP called once, got %d", calls)
	}
	if gotPkt != pkt {
		t.Fatalf("expected the same packet pointer to be forwarded")
	}
	wantKey, _ := CanonicalKey(0x0800, 17, src, 5000, dst, 6000)
	if gotKey != wantKey {
		t.Fatalf("expected key %+v, got %+v", wantKey, gotKey)
	}
}

func TestTrackerSkipsOnRTPWhenNoRTPPacket(t *testing.T) {
	b := bus.New(8, 4)
	tr := New(b)

	calls := 0
	tr.OnRTP(func(Key, *rtp.Packet) { calls++ })

	tr.Process(Decoded{
		Timestamp: time.Now(), Length: 100, Ethertype: 0x0800, Protocol: 6,
		SrcIP: netip.MustParseAddr("10.0.0.1"), SrcPort: 1000,
		DstIP: netip.MustParseAddr("10.0.0.2"), DstPort: 2000,
	})

	if calls != 0 {
		t.Fatalf("expected OnRTP not called for non-RTP packet, got %d calls", calls)
	}
}
