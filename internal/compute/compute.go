package compute

import (
	"encoding/json"
	"time"

	"github.com/jittertrap/jittertrap/internal/bus"
	"github.com/jittertrap/jittertrap/internal/logging"
	"github.com/jittertrap/jittertrap/internal/ring"
	"github.com/jittertrap/jittertrap/internal/sampler"
)

// tickPeriod is the compute thread's run cadence, per spec.md §4.5.
const tickPeriod = time.Millisecond

// decimations is the default decimation set in milliseconds; spec.md §3
// requires at least these eight windows.
var decimations = []int{5, 10, 20, 50, 100, 200, 500, 1000}

// Engine drains raw SampleFrames from C2, maintains the rolling window,
// and publishes StatsMessages into the tiered bus (C8).
type Engine struct {
	in  *ring.Buffer[sampler.SampleFrame]
	bus *bus.Bus
	win *window
	log interface {
		Error(string, ...any)
	}
}

// New creates a compute Engine reading frames from in and publishing
// into b.
func New(in *ring.Buffer[sampler.SampleFrame], b *bus.Bus) *Engine {
	return &Engine{in: in, bus: b, win: newWindow(), log: logging.L("compute")}
}

// Run loops at tickPeriod until stop is closed, per spec.md §4.5.
func (e *Engine) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick drains all pending frames, appends their samples to the window, and
// publishes any decimation windows that just closed.
func (e *Engine) tick() {
	for {
		frame, ok := e.in.ConsumeNext()
		if !ok {
			return
		}
		iface := frame.Iface
		for _, s := range frame.Samples {
			e.win.push(s)
			e.publishDue(iface)
		}
	}
}

func (e *Engine) publishDue(iface string) {
	total := e.win.totalReceived
	for _, d := range decimations {
		if int(total)%d != 0 {
			continue
		}
		if e.win.size < d {
			continue
		}
		msg := aggregate(iface, d, e.win.recentN(d))
		payload, err := json.Marshal(msg)
		if err != nil {
			e.log.Error("compute: marshal StatsMessage failed", "error", err)
			continue
		}
		e.bus.Publish(msg.IntervalNs, payload)
	}
}
