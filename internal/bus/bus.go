// Package bus implements the tiered WebSocket message bus (C8): five
// parallel bounded queues, one per latency tier, with interval-to-tier
// routing modeled as an explicit enum per the spec.md §9 redesign flag
// ("this coupling should be an explicit enum at the type level rather than
// an implicit integer comparison").
package bus

import (
	"github.com/jittertrap/jittertrap/internal/queue"
)

// Tier is a latency class of telemetry, each served by an independent
// message queue (spec.md glossary).
type Tier int

const (
	// TierInvalid is the zero value; never routed to.
	TierInvalid Tier = iota
	Tier1
	Tier2
	Tier3
	Tier4
	// Tier5 is the guaranteed-minimum tier: carries everything slower than
	// tier 4 plus configuration messages (interval_ns == 0). It must never
	// be unsubscribed.
	Tier5
)

const tierCount = 5

func (t Tier) String() string {
	switch t {
	case Tier1:
		return "tier1"
	case Tier2:
		return "tier2"
	case Tier3:
		return "tier3"
	case Tier4:
		return "tier4"
	case Tier5:
		return "tier5"
	default:
		return "tier-invalid"
	}
}

// tierBoundariesNs holds the inclusive upper bound (in nanoseconds) for
// tiers 1 through 4, indexed by tier-1; anything above Tier4's bound, or
// interval_ns == 0 (configuration messages), routes to Tier5.
var tierBoundariesNs = [4]int64{
	Tier1 - 1: 5 * int64(1e6),
	Tier2 - 1: 10 * int64(1e6),
	Tier3 - 1: 20 * int64(1e6),
	Tier4 - 1: 50 * int64(1e6),
}

// TierForInterval maps a StatsMessage/TopTalkersMessage interval_ns (or 0
// for configuration messages) to the tier it must be published into,
// per spec.md §4.8.
func TierForInterval(intervalNs int64) Tier {
	if intervalNs == 0 {
		return Tier5
	}
	for tier := Tier1; tier <= Tier4; tier++ {
		if intervalNs <= tierBoundariesNs[tier-1] {
			return tier
		}
	}
	return Tier5
}

const (
	defaultCapacity     = 64
	defaultMaxConsumers = 256
)

// Bus owns the five tier queues. Each carries pre-serialized outbound
// payload bytes (the wire framing decision — text vs. deflated binary — is
// made by the server layer per session, not here).
type Bus struct {
	tiers [tierCount]*queue.RingQueue[[]byte]
}

// New creates a Bus with all five tiers allocated eagerly. (spec.md's
// "allocated lazily on first subscribe" lifecycle note applies to the
// original's per-queue singletons; here all five are cheap fixed-size
// slices so eager allocation is simpler and avoids a subscribe-time
// allocation race, with no behavioural difference visible to consumers.)
func New(capacity, maxConsumers int) *Bus {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if maxConsumers <= 0 {
		maxConsumers = defaultMaxConsumers
	}
	b := &Bus{}
	for t := Tier1; t <= Tier5; t++ {
		b.tiers[t-1] = queue.New[[]byte](t.String(), capacity, maxConsumers)
	}
	return b
}

// Queue returns the underlying queue instance for a tier.
func (b *Bus) Queue(t Tier) *queue.RingQueue[[]byte] {
	if t < Tier1 || t > Tier5 {
		panic("bus: invalid tier")
	}
	return b.tiers[t-1]
}

// Publish routes payload into the tier matching intervalNs.
func (b *Bus) Publish(intervalNs int64, payload []byte) queue.Result {
	return b.PublishTier(TierForInterval(intervalNs), payload)
}

// PublishTier writes payload directly into a known tier.
func (b *Bus) PublishTier(t Tier, payload []byte) queue.Result {
	return b.Queue(t).Produce(func(slot *[]byte) error {
		*slot = payload
		return nil
	})
}
