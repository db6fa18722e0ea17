// Package queue implements the generic bounded multi-producer/multi-consumer
// message queue described in spec.md §4.3: a fixed-capacity ring of slots,
// one producer cursor, and one read cursor per subscribed consumer.
//
// The "generic over slot type" and "namespaced macro queue generation"
// redesign flags in spec.md §9 are addressed directly by Go generics:
// RingQueue[T] is instantiated once per slot type (raw counter frames,
// aggregated stats, top-talker snapshots, serialized WebSocket frames)
// instead of being macro-expanded per type/capacity pair.
package queue

import (
	"errors"
	"sync"
)

// Result mirrors the negative-error-code convention of spec.md §4.3: every
// non-OK outcome is a sentinel value, not a panic, except for programmer
// errors (bad consumer id, use after Destroy) which abort per spec.md's
// failure semantics.
type Result int

const (
	OK Result = iota
	Empty
	NoConsumers
	CBErr
	ConsumerLimit
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case Empty:
		return "EMPTY"
	case NoConsumers:
		return "NO_CONSUMERS"
	case CBErr:
		return "CB_ERR"
	case ConsumerLimit:
		return "CONSUMER_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// ErrCBFailed is returned by a produce/consume callback to signal CBErr.
var ErrCBFailed = errors.New("queue: callback reported failure")

// consumerState holds one subscriber's read cursor and drop/delivery
// bookkeeping, per spec.md §3's Session lifecycle description.
type consumerState struct {
	cursor int

	// cumulative counters; dropped resets to zero once the consumer
	// catches up to the producer with outstanding drops (the "drop-reset"
	// property, spec.md §8 property 4).
	dropped   uint64
	delivered uint64

	// pending-since-query counters, drained by DrainCounters (used by the
	// per-session rate adaptor, C10, spec.md §4.10).
	pendingDropped   uint64
	pendingDelivered uint64
}

// RingQueue is a fixed-capacity SPMC (really MPMC on the producer side —
// any number of goroutines may call Produce, serialized by the mutex)
// bounded queue with a configurable consumer limit.
type RingQueue[T any] struct {
	name string

	mu           sync.Mutex
	slots        []T
	capacity     int
	producer     int
	consumers    map[int]*consumerState
	nextID       int
	maxConsumers int
	destroyed    bool
}

// New creates a named queue instance with the given slot capacity and
// maximum simultaneous consumers.
func New[T any](name string, capacity, maxConsumers int) *RingQueue[T] {
	if capacity < 2 {
		capacity = 2
	}
	if maxConsumers < 1 {
		maxConsumers = 1
	}
	return &RingQueue[T]{
		name:         name,
		slots:        make([]T, capacity),
		capacity:     capacity,
		consumers:    make(map[int]*consumerState),
		maxConsumers: maxConsumers,
	}
}

// Name returns the queue's diagnostic name.
func (q *RingQueue[T]) Name() string { return q.name }

// Destroy releases all consumers. Further use of the queue is a programmer
// error.
func (q *RingQueue[T]) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consumers = nil
	q.destroyed = true
}

// Subscribe registers a new consumer starting at the current producer
// cursor (it only observes messages produced after it subscribes) and
// returns its id. Returns ConsumerLimit if the instance is already at
// capacity.
func (q *RingQueue[T]) Subscribe() (int, Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.assertLive()

	if len(q.consumers) >= q.maxConsumers {
		return -1, ConsumerLimit
	}

	id := q.nextID
	q.nextID++
	q.consumers[id] = &consumerState{cursor: q.producer}
	return id, OK
}

// Unsubscribe removes a consumer. Unsubscribing an unknown id is a no-op
// (idempotent, since sessions may unsubscribe during teardown races).
func (q *RingQueue[T]) Unsubscribe(id int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consumers != nil {
		delete(q.consumers, id)
	}
}

// ConsumerCount reports the number of currently live consumers.
func (q *RingQueue[T]) ConsumerCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.consumers)
}

// Produce writes into the next slot via write, applying the
// drop-slow-consumer policy to any consumer whose cursor currently points
// at that slot, then commits the producer cursor forward. It never blocks.
//
// Returns NoConsumers without touching any state if there are zero live
// consumers (signal to upstream producers to pause, per spec.md §4.3).
// Returns CBErr without committing the producer cursor if write fails.
func (q *RingQueue[T]) Produce(write func(*T) error) Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.assertLive()

	if len(q.consumers) == 0 {
		return NoConsumers
	}

	next := (q.producer + 1) % q.capacity
	for _, cs := range q.consumers {
		if cs.cursor == next {
			cs.cursor = (cs.cursor + 1) % q.capacity
			cs.dropped++
			cs.pendingDropped++
		}
	}

	if err := write(&q.slots[next]); err != nil {
		return CBErr
	}

	q.producer = next
	return OK
}

// Consume reads the next slot for consumer id via read, advancing its
// cursor on success. Returns Empty if the consumer's cursor has already
// caught up to the producer.
func (q *RingQueue[T]) Consume(id int, read func(*T) error) Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.assertLive()

	cs, ok := q.consumers[id]
	if !ok {
		panic("queue: consume on unknown consumer id")
	}

	if cs.cursor == q.producer {
		return Empty
	}

	nextCursor := (cs.cursor + 1) % q.capacity
	if err := read(&q.slots[nextCursor]); err != nil {
		return CBErr
	}

	cs.cursor = nextCursor
	cs.delivered++
	cs.pendingDelivered++

	// Drop-reset: a consumer that has caught all the way up sheds its
	// cumulative drop count, so a transient slow-down isn't held against
	// it forever.
	if cs.cursor == q.producer && cs.dropped > 0 {
		cs.dropped = 0
	}

	return OK
}

// Counters reports a consumer's cumulative dropped/delivered totals.
func (q *RingQueue[T]) Counters(id int) (dropped, delivered uint64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cs, ok := q.consumers[id]
	if !ok {
		return 0, 0, false
	}
	return cs.dropped, cs.delivered, true
}

// DrainCounters reads and clears a consumer's pending-since-query
// dropped/delivered counts. Used by the per-session rate adaptor (C10) to
// compute a drop percentage over its sliding window without disturbing the
// cumulative counters the drop-reset property governs.
func (q *RingQueue[T]) DrainCounters(id int) (dropped, delivered uint64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cs, found := q.consumers[id]
	if !found {
		return 0, 0, false
	}
	dropped, delivered = cs.pendingDropped, cs.pendingDelivered
	cs.pendingDropped, cs.pendingDelivered = 0, 0
	return dropped, delivered, true
}

func (q *RingQueue[T]) assertLive() {
	if q.destroyed {
		panic("queue: use after Destroy")
	}
}
