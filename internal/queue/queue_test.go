package queue

import (
	"sync"
	"testing"
	"time"
)

func TestProduceNoConsumersReturnsSentinel(t *testing.T) {
	q := New[int]("empty", 8, 4)
	res := q.Produce(func(slot *int) error { *slot = 1; return nil })
	if res != NoConsumers {
		t.Fatalf("expected NoConsumers, got %v", res)
	}
}

func TestSubscribeRespectsConsumerLimit(t *testing.T) {
	q := New[int]("limited", 8, 2)
	if _, res := q.Subscribe(); res != OK {
		t.Fatalf("first subscribe: %v", res)
	}
	if _, res := q.Subscribe(); res != OK {
		t.Fatalf("second subscribe: %v", res)
	}
	if _, res := q.Subscribe(); res != ConsumerLimit {
		t.Fatalf("expected ConsumerLimit, got %v", res)
	}
}

// TestFastConsumerSeesFIFOOrder is property 2 (FIFO per consumer) for a
// consumer that never falls behind.
func TestFastConsumerSeesFIFOOrder(t *testing.T) {
	q := New[int]("fifo", 64, 2)
	id, _ := q.Subscribe()

	const n = 1000
	for i := 1; i <= n; i++ {
		v := i
		if res := q.Produce(func(slot *int) error { *slot = v; return nil }); res != OK {
			t.Fatalf("produce %d: %v", i, res)
		}

		var got int
		res := q.Consume(id, func(slot *int) error { got = *slot; return nil })
		if res != OK {
			t.Fatalf("consume %d: %v", i, res)
		}
		if got != i {
			t.Fatalf("expected %d, got %d", i, got)
		}
	}

	if res := q.Consume(id, func(*int) error { return nil }); res != Empty {
		t.Fatalf("expected Empty after drain, got %v", res)
	}
}

// TestDropResetAfterCatchUp is property 4.
func TestDropResetAfterCatchUp(t *testing.T) {
	q := New[int]("dropreset", 4, 1)
	id, _ := q.Subscribe()

	// Overfill relative to capacity so the consumer falls behind and
	// drops accumulate, then let it fully drain.
	for i := 0; i < 20; i++ {
		q.Produce(func(slot *int) error { *slot = i; return nil })
	}

	for {
		if res := q.Consume(id, func(*int) error { return nil }); res == Empty {
			break
		}
	}

	dropped, _, _ := q.Counters(id)
	if dropped != 0 {
		t.Fatalf("expected dropped reset to 0 after catch-up, got %d", dropped)
	}
}

// TestS1QueueDropAccounting mirrors spec.md scenario S1: one producer, two
// consumers — a slow one (bounded sleeps) and a fast one — verifying
// A.delivered+A.dropped never exceeds total (A's cumulative drop count
// resets whenever it catches up, so equality is not checked) and
// B.delivered == total, B.dropped == 0.
// Scaled down from 1,000,000 to keep the unit test fast; the accounting
// invariant does not depend on N.
func TestS1QueueDropAccounting(t *testing.T) {
	const total = 20000
	q := New[int]("s1", 64, 2)
	slow, _ := q.Subscribe()
	fast, _ := q.Subscribe()

	var wg sync.WaitGroup
	wg.Add(2)

	stopSlow := make(chan struct{})
	go func() {
		defer wg.Done()
		for {
			res := q.Consume(slow, func(*int) error { return nil })
			if res == Empty {
				select {
				case <-stopSlow:
					return
				default:
					time.Sleep(50 * time.Microsecond)
					continue
				}
			}
			time.Sleep(time.Microsecond)
		}
	}()

	go func() {
		defer wg.Done()
		for {
			res := q.Consume(fast, func(*int) error { return nil })
			if res == Empty {
				select {
				case <-stopSlow:
					return
				default:
					continue
				}
			}
		}
	}()

	for i := 0; i < total; i++ {
		for q.Produce(func(slot *int) error { *slot = i; return nil }) != OK {
		}
	}

	// Let both consumers fully drain before stopping them.
	time.Sleep(20 * time.Millisecond)
	close(stopSlow)
	wg.Wait()

	slowDropped, slowDelivered, _ := q.Counters(slow)
	fastDropped, fastDelivered, _ := q.Counters(fast)

	if slowDropped+slowDelivered > uint64(total) {
		t.Fatalf("slow consumer accounting exceeds total: dropped=%d delivered=%d total=%d", slowDropped, slowDelivered, total)
	}
	if fastDropped != 0 {
		t.Fatalf("fast consumer should never drop, got %d", fastDropped)
	}
	if fastDelivered != uint64(total) {
		t.Fatalf("fast consumer should deliver all %d, got %d", total, fastDelivered)
	}
}

func TestDrainCountersResetsPendingOnly(t *testing.T) {
	q := New[int]("pending", 4, 1)
	id, _ := q.Subscribe()

	for i := 0; i < 10; i++ {
		q.Produce(func(slot *int) error { *slot = i; return nil })
	}
	for {
		if res := q.Consume(id, func(*int) error { return nil }); res == Empty {
			break
		}
	}

	dropped, delivered, ok := q.DrainCounters(id)
	if !ok {
		t.Fatalf("expected ok")
	}
	if dropped+delivered == 0 {
		t.Fatalf("expected some pending activity to drain")
	}

	dropped2, delivered2, _ := q.DrainCounters(id)
	if dropped2 != 0 || delivered2 != 0 {
		t.Fatalf("expected pending counters cleared after drain, got (%d,%d)", dropped2, delivered2)
	}
}
