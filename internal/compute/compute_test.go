package compute

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jittertrap/jittertrap/internal/bus"
	"github.com/jittertrap/jittertrap/internal/ring"
	"github.com/jittertrap/jittertrap/internal/sampler"
)

func mkSample(rxB, txB, rxP, txP uint64, whooshNs int64) sampler.Sample {
	return sampler.Sample{
		Timestamp:      time.Now(),
		RxBytesDelta:   rxB,
		TxBytesDelta:   txB,
		RxPacketsDelta: rxP,
		TxPacketsDelta: txP,
		WhooshErrorNs:  whooshNs,
	}
}

func TestAggregateMeansAndFixedPointScale(t *testing.T) {
	samples := []sampler.Sample{
		mkSample(10, 20, 1, 2, 100),
		mkSample(30, 40, 3, 4, 300),
	}
	msg := aggregate("eth0", 2, samples)

	if msg.RxBytesMeanFixed != 20*FixedPointScale {
		t.Fatalf("RxBytesMeanFixed = %d, want %d", msg.RxBytesMeanFixed, 20*FixedPointScale)
	}
	if msg.TxBytesMeanFixed != 30*FixedPointScale {
		t.Fatalf("TxBytesMeanFixed = %d, want %d", msg.TxBytesMeanFixed, 30*FixedPointScale)
	}
	if msg.WhooshMeanFixed != 200*FixedPointScale {
		t.Fatalf("WhooshMeanFixed = %d, want %d", msg.WhooshMeanFixed, 200*FixedPointScale)
	}
	if msg.WhooshMaxNs != 300 {
		t.Fatalf("WhooshMaxNs = %d, want 300", msg.WhooshMaxNs)
	}
	if msg.IntervalNs != 2*1_000_000 {
		t.Fatalf("IntervalNs = %d, want %d", msg.IntervalNs, 2*1_000_000)
	}
}

func TestAggregatePacketGapRunLengths(t *testing.T) {
	// rx packets: 1,0,0,1,0 -> a gap run of length 2 and a trailing run of length 1
	samples := []sampler.Sample{
		mkSample(0, 0, 1, 1, 0),
		mkSample(0, 0, 0, 1, 0),
		mkSample(0, 0, 0, 1, 0),
		mkSample(0, 0, 1, 1, 0),
		mkSample(0, 0, 0, 1, 0),
	}
	msg := aggregate("eth0", 5, samples)
	if msg.RxGapMin != 1 || msg.RxGapMax != 2 {
		t.Fatalf("expected runs of length 2 and 1, got min=%d max=%d", msg.RxGapMin, msg.RxGapMax)
	}
	// tx never zero, so no gap runs at all.
	if msg.TxGapMin != 0 || msg.TxGapMax != 0 {
		t.Fatalf("expected no tx gap runs, got min=%d max=%d", msg.TxGapMin, msg.TxGapMax)
	}
}

// TestWindowRetainsMostRecentAndEvicts exercises the capped-1000 ring.
func TestWindowRetainsMostRecentAndEvicts(t *testing.T) {
	w := newWindow()
	for i := 0; i < windowCapacity+10; i++ {
		w.push(mkSample(uint64(i), 0, 0, 0, 0))
	}
	if w.size != windowCapacity {
		t.Fatalf("expected size capped at %d, got %d", windowCapacity, w.size)
	}
	recent := w.recentN(1)
	if recent[0].RxBytesDelta != uint64(windowCapacity+9) {
		t.Fatalf("expected most recent sample to be last pushed, got %d", recent[0].RxBytesDelta)
	}
}

// TestEngineDecimationFiringSchedule verifies StatsMessages are published
// exactly at the decimation boundaries once enough samples have
// accumulated, per spec.md §4.5 step 2.
func TestEngineDecimationFiringSchedule(t *testing.T) {
	in := ring.New[sampler.SampleFrame]()
	b := bus.New(64, 8)
	// Subscribe to every tier so Publish never returns NoConsumers.
	ids := make([]int, 0, 5)
	for tier := bus.Tier1; tier <= bus.Tier5; tier++ {
		id, _ := b.Queue(tier).Subscribe()
		ids = append(ids, id)
	}

	e := New(in, b)

	slot, err := in.ProduceNext()
	if err != nil {
		t.Fatalf("ProduceNext: %v", err)
	}
	samples := make([]sampler.Sample, 5)
	for i := range samples {
		samples[i] = mkSample(1, 1, 1, 1, 0)
	}
	*slot = sampler.SampleFrame{Iface: "eth0", SamplePeriodUs: 1000, Samples: samples}

	e.tick()

	// Decimation D=5 must have fired exactly once (5 samples received).
	res := b.Queue(bus.Tier1).Consume(ids[bus.Tier1-1], func(payload *[]byte) error {
		var msg StatsMessage
		return json.Unmarshal(*payload, &msg)
	})
	if res.String() != "OK" {
		t.Fatalf("expected a StatsMessage on tier1 after 5 samples, got %v", res)
	}
}
