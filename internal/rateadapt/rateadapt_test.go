package rateadapt

import (
	"testing"
	"time"

	"github.com/jittertrap/jittertrap/internal/bus"
)

type fakeSub struct {
	counters map[bus.Tier][2]uint64 // [dropped, delivered]
	subscribed map[bus.Tier]bool
	subscribeOK bool
}

func newFakeSub() *fakeSub {
	return &fakeSub{counters: map[bus.Tier][2]uint64{}, subscribed: map[bus.Tier]bool{}, subscribeOK: true}
}

func (f *fakeSub) DrainCounters(t bus.Tier) (uint64, uint64, bool) {
	c, ok := f.counters[t]
	if !ok {
		return 0, 0, false
	}
	delete(f.counters, t)
	return c[0], c[1], true
}

func (f *fakeSub) Unsubscribe(t bus.Tier)     { f.subscribed[t] = false }
func (f *fakeSub) Subscribe(t bus.Tier) bool  {
	if f.subscribeOK {
		f.subscribed[t] = true
	}
	return f.subscribeOK
}

// TestTierDegradeOnHighDropRate mirrors spec.md scenario S5.
func TestTierDegradeOnHighDropRate(t *testing.T) {
	a := New(time.Unix(0, 0))
	sub := newFakeSub()
	sub.counters[bus.Tier3] = [2]uint64{150, 50} // 75% drop, well over 10%
	sub.counters[bus.Tier4] = [2]uint64{0, 0}
	sub.counters[bus.Tier5] = [2]uint64{0, 0}

	newTier, changed := a.Tick(time.Unix(0, 0).Add(TierWindow+time.Second), sub)
	if !changed {
		t.Fatalf("expected a tier change on high drop rate")
	}
	if newTier != bus.Tier4 {
		t.Fatalf("expected downgrade to tier4, got %v", newTier)
	}
	if sub.subscribed[bus.Tier3] {
		t.Fatalf("expected tier3 to be unsubscribed")
	}
}

func TestTierUpgradeOnLowDropRate(t *testing.T) {
	a := New(time.Unix(0, 0))
	a.minTier = bus.Tier3
	sub := newFakeSub()
	sub.counters[bus.Tier3] = [2]uint64{0, 1000}
	sub.counters[bus.Tier4] = [2]uint64{0, 0}
	sub.counters[bus.Tier5] = [2]uint64{0, 0}

	newTier, changed := a.Tick(time.Unix(0, 0).Add(TierWindow+time.Second), sub)
	if !changed {
		t.Fatalf("expected a tier change on low drop rate")
	}
	if newTier != bus.Tier2 {
		t.Fatalf("expected upgrade to tier2, got %v", newTier)
	}
	if !sub.subscribed[bus.Tier2] {
		t.Fatalf("expected tier2 to be subscribed")
	}
}

func TestNoChangeBeforeWindowElapses(t *testing.T) {
	a := New(time.Unix(0, 0))
	sub := newFakeSub()
	sub.counters[bus.Tier3] = [2]uint64{1000, 1}

	_, changed := a.Tick(time.Unix(0, 0).Add(time.Second), sub)
	if changed {
		t.Fatalf("expected no change before TierWindow elapses")
	}
}

func TestNoDowngradeBelowTier5(t *testing.T) {
	a := New(time.Unix(0, 0))
	a.minTier = bus.Tier5
	sub := newFakeSub()
	sub.counters[bus.Tier5] = [2]uint64{1000, 1}

	newTier, changed := a.Tick(time.Unix(0, 0).Add(TierWindow+time.Second), sub)
	if changed || newTier != bus.Tier5 {
		t.Fatalf("expected tier5 to stay pinned as the floor, got %v changed=%v", newTier, changed)
	}
}
