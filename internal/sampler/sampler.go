package sampler

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/jittertrap/jittertrap/internal/clock"
	"github.com/jittertrap/jittertrap/internal/logging"
	"github.com/jittertrap/jittertrap/internal/ring"
)

// discardCountdownSamples is the number of readings discarded (as zero
// deltas) immediately after an interface switch, per spec.md §4.4: "protects
// against stale counters seen immediately after re-binding".
const discardCountdownSamples = 50

// realtimePriority is the scheduling priority requested for the sampler's
// pinned task, per spec.md §4.4 step 1 ("real-time scheduling priority 2").
const realtimePriority = 2

// Config configures the sampler's cadence and frame size.
type Config struct {
	// SamplePeriodUs is the microsecond interval between individual Sample
	// readings.
	SamplePeriodUs int

	// MessagesPerSecond controls how many SampleFrames are handed to C5
	// per second; the frame size (samples per frame) is derived so that
	// 1_000_000 / SamplePeriodUs / MessagesPerSecond is exact.
	MessagesPerSecond int

	// CPU, if non-negative, is the CPU index the sampler attempts to pin
	// its goroutine's OS thread to. Negative disables pinning.
	CPU int

	// Iface is the initially selected interface. May be empty; Select
	// must be called before Run starts producing meaningful samples.
	Iface string
}

// FrameSize returns the number of Samples per SampleFrame implied by cfg.
func (c Config) FrameSize() int {
	samplesPerSecond := 1_000_000 / c.SamplePeriodUs
	n := samplesPerSecond / c.MessagesPerSecond
	if n < 1 {
		n = 1
	}
	return n
}

// Sampler is the fixed-cadence interface-counter sampler (C4). It owns no
// network state beyond a Counters reader; all timing and bookkeeping is
// local.
type Sampler struct {
	cfg     Config
	counters Counters
	out     *ring.Buffer[SampleFrame]
	log     interface{ Warn(string, ...any) }

	ifaceMu sync.Mutex
	iface   string

	baseline  Sample
	haveBase  bool
	countdown int

	frame     SampleFrame
	sampleIdx int

	onSample func(whooshNs int64)
}

// OnSample registers a callback invoked after every tick with the
// sample's whoosh error, for metrics instrumentation (A4). Optional.
func (s *Sampler) OnSample(fn func(whooshNs int64)) { s.onSample = fn }

// New creates a Sampler publishing full frames into out.
func New(cfg Config, counters Counters, out *ring.Buffer[SampleFrame]) *Sampler {
	if cfg.SamplePeriodUs <= 0 {
		cfg.SamplePeriodUs = 1000
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 10
	}
	s := &Sampler{
		cfg:       cfg,
		counters:  counters,
		out:       out,
		log:       logging.L("sampler"),
		iface:     cfg.Iface,
		countdown: discardCountdownSamples,
	}
	s.resetFrame()
	return s
}

func (s *Sampler) resetFrame() {
	s.frame = SampleFrame{
		Iface:          s.currentIface(),
		SamplePeriodUs: s.cfg.SamplePeriodUs,
		Samples:        make([]Sample, s.cfg.FrameSize()),
	}
	s.sampleIdx = 0
}

func (s *Sampler) currentIface() string {
	s.ifaceMu.Lock()
	defer s.ifaceMu.Unlock()
	return s.iface
}

// Select atomically switches the monitored interface, per spec.md §4.4
// step 4: "acquire interface mutex, free previous name, install new one,
// reset baseline counters, set discard-countdown = 50".
func (s *Sampler) Select(iface string) {
	s.ifaceMu.Lock()
	s.iface = iface
	s.ifaceMu.Unlock()

	s.haveBase = false
	s.countdown = discardCountdownSamples
}

// Run pins the calling goroutine's OS thread, attempts CPU affinity and
// real-time priority (degrading gracefully per spec.md §9), and then loops
// until stop is closed.
func (s *Sampler) Run(stop <-chan struct{}) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if s.cfg.CPU >= 0 {
		if err := pinToCPU(s.cfg.CPU); err != nil {
			s.log.Warn("sampler: CPU affinity unavailable, continuing unpinned", "error", err)
		}
	}
	if err := raisePriority(realtimePriority); err != nil {
		s.log.Warn("sampler: real-time priority unavailable, continuing at default priority", "error", err)
	}

	period := time.Duration(s.cfg.SamplePeriodUs) * time.Microsecond
	deadline := clock.Now().Add(period)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		clock.SleepUntil(deadline)
		s.tick(deadline)
		deadline = clock.Add(deadline, period)
	}
}

// tick performs one sample reading against the given deadline. Exported
// indirectly via Run; kept separate so tests can drive individual ticks
// without sleeping.
func (s *Sampler) tick(deadline time.Time) {
	now := clock.Now()
	whoosh := clock.Absdiff(now, deadline)

	iface := s.currentIface()
	rxB, txB, rxP, txP, err := s.counters.Read(iface)
	if err != nil {
		s.log.Warn("sampler: counter read failed", "iface", iface, "error", err)
		return
	}

	sample := Sample{
		Timestamp:     now,
		RxBytes:       rxB,
		TxBytes:       txB,
		RxPackets:     rxP,
		TxPackets:     txP,
		WhooshErrorNs: int64(whoosh),
	}

	switch {
	case s.countdown > 0:
		// Discard window: report zero deltas, consume the countdown. The
		// tick that exhausts the countdown also establishes the baseline,
		// so the very next tick lands in the default branch with a real
		// delta instead of repeating the !haveBase branch for one more
		// zero-delta sample.
		s.countdown--
		if s.countdown == 0 {
			s.haveBase = true
		}
	case !s.haveBase:
		s.haveBase = true
	case rxB < s.baseline.RxBytes || txB < s.baseline.TxBytes ||
		rxP < s.baseline.RxPackets || txP < s.baseline.TxPackets:
		// Counters regressed (interface reset/reconnect outside of an
		// explicit Select): rebaseline silently, report zero deltas for
		// this sample only.
	default:
		sample.RxBytesDelta = rxB - s.baseline.RxBytes
		sample.TxBytesDelta = txB - s.baseline.TxBytes
		sample.RxPacketsDelta = rxP - s.baseline.RxPackets
		sample.TxPacketsDelta = txP - s.baseline.TxPackets
	}
	s.baseline = sample

	s.frame.Samples[s.sampleIdx] = sample
	s.sampleIdx++

	if s.onSample != nil {
		s.onSample(sample.WhooshErrorNs)
	}

	if s.sampleIdx == len(s.frame.Samples) {
		s.publish()
		s.resetFrame()
	}
}

func (s *Sampler) publish() {
	slot, err := s.out.ProduceNext()
	if err != nil {
		// C2's single-producer ring is sized so this should never happen
		// under C5's drain rate; surface loudly if it does.
		s.log.Warn("sampler: ring buffer produce failed", "error", err)
		return
	}
	*slot = s.frame
}

// String satisfies fmt.Stringer for diagnostic logging of a sampler's
// current target.
func (s *Sampler) String() string {
	return fmt.Sprintf("sampler(iface=%s, period=%dus)", s.currentIface(), s.cfg.SamplePeriodUs)
}
