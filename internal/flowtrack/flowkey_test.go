package flowtrack

import (
	"net/netip"
	"testing"
)

func TestCanonicalKeySymmetric(t *testing.T) {
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")

	k1, fwd1 := CanonicalKey(0x0800, 6, a, 1000, b, 2000)
	k2, fwd2 := CanonicalKey(0x0800, 6, b, 2000, a, 1000)

	if k1 != k2 {
		t.Fatalf("expected same canonical key regardless of packet direction, got %+v vs %+v", k1, k2)
	}
	if fwd1 == fwd2 {
		t.Fatalf("expected is_forward to differ between the two directions")
	}
}

func TestCanonicalKeyDistinguishesEthertype(t *testing.T) {
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")

	k1, _ := CanonicalKey(0x0800, 6, a, 1000, b, 2000)
	k2, _ := CanonicalKey(0x86DD, 6, a, 1000, b, 2000)

	if k1 == k2 {
		t.Fatalf("expected different ethertypes to never collide")
	}
}

func TestCanonicalKeyPortsComparedOnlyWhenIPsEqual(t *testing.T) {
	lo := netip.MustParseAddr("10.0.0.1")
	hi := netip.MustParseAddr("10.0.0.2")

	// Higher port on the lower IP must still win as the low endpoint.
	k, fwd := CanonicalKey(0x0800, 6, lo, 9999, hi, 1)
	if k.LowIP != lo || k.LowPort != 9999 {
		t.Fatalf("expected low endpoint to be chosen by IP first, got %+v", k)
	}
	if !fwd {
		t.Fatalf("expected src to be the forward direction when src IP is lower")
	}
}
