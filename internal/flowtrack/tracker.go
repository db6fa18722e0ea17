package flowtrack

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/jittertrap/jittertrap/internal/bus"
	"github.com/jittertrap/jittertrap/internal/logging"
)

// shortIntervals is the default set of per-interval table rotation
// periods, per spec.md §4.6 ("one per short interval (e.g., 5 ms, 100 ms,
// 1 s)").
var shortIntervals = []time.Duration{5 * time.Millisecond, 100 * time.Millisecond, time.Second}

// longWindowExpiry is how long a flow may go unobserved before it is
// reaped from the long-window reference table, per spec.md §3's lifecycle
// note ("the long-window reference table expires entries older than a
// sliding window").
const longWindowExpiry = 30 * time.Second

// emitPeriod is how often a TopTalkersMessage is published, per spec.md
// §4.6 ("on a periodic schedule").
const emitPeriod = time.Second

type intervalTable struct {
	period     time.Duration
	current    map[Key]*Record
	lastRotate time.Time
}

// Tracker is the flow tracker (C6).
type Tracker struct {
	mu        sync.Mutex
	intervals []*intervalTable
	long      map[Key]*Record
	lastSeen  map[Key]time.Time

	bus *bus.Bus
	log interface {
		Error(string, ...any)
	}

	// onRTP, if set, is called for every RTP-shaped packet outside the
	// tracker's own lock — the A7 WebRTC bridge's republish hook.
	onRTP func(key Key, pkt *rtp.Packet)
}

// OnRTP registers fn as the sink for decoded RTP packets, keyed by
// canonical flow key. fn is invoked synchronously from Process, on
// whichever goroutine calls it (possibly several at once), so it must not
// block.
func (t *Tracker) OnRTP(fn func(key Key, pkt *rtp.Packet)) {
	t.mu.Lock()
	t.onRTP = fn
	t.mu.Unlock()
}

// New creates a Tracker publishing TopTalkersMessages into b.
func New(b *bus.Bus) *Tracker {
	t := &Tracker{
		long:     make(map[Key]*Record),
		lastSeen: make(map[Key]time.Time),
		bus:      b,
		log:      logging.L("flowtrack"),
	}
	now := time.Now()
	for _, period := range shortIntervals {
		t.intervals = append(t.intervals, &intervalTable{
			period:     period,
			current:    make(map[Key]*Record),
			lastRotate: now,
		})
	}
	return t
}

// Process folds one decoded packet into every interval table and the
// long-window reference table.
func (t *Tracker) Process(d Decoded) {
	if d.Ethertype == 0 {
		return
	}
	key, isForward := CanonicalKey(d.Ethertype, d.Protocol, d.SrcIP, d.SrcPort, d.DstIP, d.DstPort)
	nowNs := d.Timestamp.UnixNano()

	t.mu.Lock()
	t.rotateLocked(d.Timestamp)

	for _, it := range t.intervals {
		rec, ok := it.current[key]
		if !ok {
			rec = newRecord(key)
			it.current[key] = rec
		}
		rec.observe(d, isForward, nowNs)
	}

	rec, ok := t.long[key]
	if !ok {
		rec = newRecord(key)
		t.long[key] = rec
	}
	rec.observe(d, isForward, nowNs)
	t.lastSeen[key] = d.Timestamp
	onRTP := t.onRTP
	t.mu.Unlock()

	if onRTP != nil && d.RTPPacket != nil {
		onRTP(key, d.RTPPacket)
	}
}

// rotateLocked replaces any interval table whose period has elapsed with an
// empty one (the finished interval's records are discarded, not kept as a
// frozen copy), and reaps long-window entries older than longWindowExpiry.
// Caller must hold t.mu.
func (t *Tracker) rotateLocked(now time.Time) {
	for _, it := range t.intervals {
		if now.Sub(it.lastRotate) >= it.period {
			it.current = make(map[Key]*Record)
			it.lastRotate = now
		}
	}
	for key, last := range t.lastSeen {
		if now.Sub(last) > longWindowExpiry {
			delete(t.lastSeen, key)
			delete(t.long, key)
		}
	}
}

// TopTalkers returns up to MaxFlows Records from the long-window table,
// sorted by descending bytes, along with the total distinct flow count.
func (t *Tracker) TopTalkers() (total int, top []*Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	all := make([]*Record, 0, len(t.long))
	for _, rec := range t.long {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Bytes > all[j].Bytes })

	n := len(all)
	if n > MaxFlows {
		all = all[:MaxFlows]
	}
	return n, all
}

// Run periodically publishes a TopTalkersMessage until stop is closed.
func (t *Tracker) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(emitPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.emit()
		}
	}
}

func (t *Tracker) emit() {
	total, top := t.TopTalkers()
	msg := TopTalkersMessage{
		IntervalNs: int64(emitPeriod),
		TFlows:     total,
		Flows:      make([]FlowEntry, 0, len(top)),
	}
	for _, rec := range top {
		msg.Flows = append(msg.Flows, toEntry(rec))
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		t.log.Error("flowtrack: marshal TopTalkersMessage failed", "error", err)
		return
	}
	t.bus.Publish(msg.IntervalNs, payload)
}
