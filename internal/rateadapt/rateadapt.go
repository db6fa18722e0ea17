// Package rateadapt implements the per-session rate adaptor (C10): it
// watches drop-vs-delivered feedback from a session's subscribed tier
// queues (C3, via C8) and upgrades/downgrades tier membership to track
// what the session's transport can actually sustain.
package rateadapt

import (
	"time"

	"github.com/jittertrap/jittertrap/internal/bus"
)

// TierWindow is the accounting interval, per spec.md §4.10
// ("TIER_WINDOW_SECONDS=5").
const TierWindow = 5 * time.Second

// HighWatermark triggers a tier downgrade (unsubscribe from the current fastest tier)
// when the drop percentage exceeds it, per spec.md §4.10.
const HighWatermark = 0.10

// LowWatermark triggers a tier upgrade (subscribe to a faster tier) when
// the drop percentage falls below it, per spec.md §4.10.
const LowWatermark = 0.02

// initialMinTier is the starting tier membership for a new session,
// per spec.md §4.10 ("current_min_tier (initially 3)").
const initialMinTier = bus.Tier3

// Subscriber abstracts the operations Adaptor needs against a session's
// live tier subscriptions, so this package doesn't need to know about
// session/transport plumbing.
type Subscriber interface {
	// DrainCounters reads and clears the pending drop/delivered counts
	// for the consumer subscribed to tier t.
	DrainCounters(t bus.Tier) (dropped, delivered uint64, ok bool)
	// Unsubscribe drops this session's subscription to tier t.
	Unsubscribe(t bus.Tier)
	// Subscribe attempts to add a subscription to tier t, reporting
	// success (it may fail on ConsumerLimit).
	Subscribe(t bus.Tier) bool
}

// Adaptor tracks one session's drop-rate window and current minimum tier.
type Adaptor struct {
	minTier       bus.Tier
	windowStart   time.Time
	dropsWindow   uint64
	deliveredWindow uint64
}

// New creates an Adaptor at the initial minimum tier.
func New(now time.Time) *Adaptor {
	return &Adaptor{minTier: initialMinTier, windowStart: now}
}

// MinTier reports the session's current minimum (fastest) subscribed tier.
func (a *Adaptor) MinTier() bus.Tier { return a.minTier }

// Tick accumulates drop/delivered counters for every tier the session is
// currently subscribed to (minTier..Tier5) and, once TierWindow has
// elapsed, evaluates the watermarks and adjusts tier membership, per
// spec.md §4.10. Returns the new min tier and true if a change occurred
// (the caller must then push a `resolution` message).
func (a *Adaptor) Tick(now time.Time, sub Subscriber) (newMinTier bus.Tier, changed bool) {
	for t := a.minTier; t <= bus.Tier5; t++ {
		dropped, delivered, ok := sub.DrainCounters(t)
		if !ok {
			continue
		}
		a.dropsWindow += dropped
		a.deliveredWindow += delivered
	}

	if now.Sub(a.windowStart) < TierWindow {
		return a.minTier, false
	}

	total := a.dropsWindow + a.deliveredWindow
	var p float64
	if total > 0 {
		p = float64(a.dropsWindow) / float64(total)
	}

	switch {
	case p > HighWatermark && a.minTier < bus.Tier5:
		sub.Unsubscribe(a.minTier)
		a.minTier++
		changed = true
	case p < LowWatermark && a.minTier > bus.Tier1:
		if sub.Subscribe(a.minTier - 1) {
			a.minTier--
			changed = true
		}
	}

	a.dropsWindow = 0
	a.deliveredWindow = 0
	a.windowStart = now

	return a.minTier, changed
}
