package ring

import "testing"

func TestProduceConsumeRoundTrip(t *testing.T) {
	b := New[int]()

	for i := 1; i <= 3; i++ {
		slot, err := b.ProduceNext()
		if err != nil {
			t.Fatalf("produce %d: %v", i, err)
		}
		*slot = i

		v, ok := b.ConsumeNext()
		if !ok {
			t.Fatalf("consume %d: expected ok", i)
		}
		if v != i {
			t.Fatalf("expected %d, got %d", i, v)
		}
	}
}

func TestConsumeEmptyReturnsFalse(t *testing.T) {
	b := New[int]()
	if _, ok := b.ConsumeNext(); ok {
		t.Fatalf("expected empty ring to report not-ok")
	}
}

func TestProducerNeverOverwritesUnreadSlot(t *testing.T) {
	b := New[int]()

	// Fill every slot the ring can hold with one slot of separation
	// required: produce twice, then a third produce must fail until a
	// consume happens.
	if _, err := b.ProduceNext(); err != nil {
		t.Fatalf("first produce: %v", err)
	}
	if _, err := b.ProduceNext(); err != nil {
		t.Fatalf("second produce: %v", err)
	}
	if _, err := b.ProduceNext(); err != ErrConsumerBehind {
		t.Fatalf("expected ErrConsumerBehind, got %v", err)
	}

	if _, ok := b.ConsumeNext(); !ok {
		t.Fatalf("expected a readable slot")
	}

	if _, err := b.ProduceNext(); err != nil {
		t.Fatalf("produce after consume should succeed: %v", err)
	}
}
