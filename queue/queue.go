// Package queue implements the bounded message queue between the decoder
// listeners and the persistence/fan-out consumers. The queue is a fixed
// ring that drops the oldest entry on overflow, and it owns the
// per-decoder message counters that feed the time-series writer.
package queue

import (
	"log"
	"sync"
	"time"

	"github.com/acarshub/acarshub/message"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 15

// EventKind tags entries on the queue's event channel.
type EventKind int

const (
	// EventMessage is emitted for every successful push.
	EventMessage = EventKind(iota)
	// EventOverflow is emitted when a push displaced the oldest entry.
	EventOverflow
)

// Event is delivered to the queue's consumers for every push and overflow.
type Event struct {
	Kind      EventKind
	Type      string
	Msg       *message.Message
	Timestamp time.Time
}

// Item is one queued message.
type Item struct {
	Type      string
	Msg       *message.Message
	Timestamp time.Time
}

// CounterPair is a per-decoder counter: a minute slice that the
// time-series writer resets, and a monotonic total.
type CounterPair struct {
	LastMinute int64
	Total      int64
}

// Stats is a copy of the queue counters. Mutating it has no effect on the
// queue.
type Stats struct {
	// Types is keyed by canonical decoder type.
	Types    map[string]CounterPair
	Errors   CounterPair
	Total    int64
	Overflow int64
}

// Queue is the bounded FIFO. All methods are safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	buf      []Item
	head     int
	count    int
	types    map[string]*CounterPair
	errors   CounterPair
	total    int64
	overflow int64
	events   chan Event
	dead     bool
}

// New creates a queue with the given capacity (DefaultCapacity if cap <= 0).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		buf:    make([]Item, capacity),
		types:  make(map[string]*CounterPair, len(message.Types)),
		events: make(chan Event, 64),
	}
	for _, t := range message.Types {
		q.types[t] = &CounterPair{}
	}
	return q
}

// Events returns the queue's event channel. Events are dropped, with a
// log line, if the consumer falls behind the channel buffer.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Push appends a message, displacing the oldest entry when full. Counters
// are updated for the canonical form of typ; unknown types count only
// toward the total.
func (q *Queue) Push(typ string, msg *message.Message) {
	now := time.Now()

	q.mu.Lock()
	if q.dead {
		q.mu.Unlock()
		return
	}
	overflowed := false
	if q.count == len(q.buf) {
		// Drop the oldest entry.
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		q.overflow++
		overflowed = true
	}
	q.buf[(q.head+q.count)%len(q.buf)] = Item{Type: typ, Msg: msg, Timestamp: now}
	q.count++

	q.incrementLocked(typ, msg.Error)

	// Emit while holding the lock so Destroy cannot close the channel
	// between the dead check and the send.
	if overflowed {
		q.emit(Event{Kind: EventOverflow, Type: typ, Timestamp: now})
	}
	q.emit(Event{Kind: EventMessage, Type: typ, Msg: msg, Timestamp: now})
	q.mu.Unlock()
}

func (q *Queue) emit(ev Event) {
	select {
	case q.events <- ev:
	default:
		log.Println("Queue event dropped; consumer is not keeping up")
	}
}

// IncrementCounter updates the per-decoder counters without queueing a
// message. It accepts any spelling of the decoder type.
func (q *Queue) IncrementCounter(typ string, errs int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.incrementLocked(typ, errs)
}

func (q *Queue) incrementLocked(typ string, errs int) {
	q.total++
	if pair, ok := q.types[message.CanonicalType(typ)]; ok {
		pair.LastMinute++
		pair.Total++
	}
	if errs > 0 {
		q.errors.LastMinute += int64(errs)
		q.errors.Total += int64(errs)
	}
}

// Pop removes and returns the oldest entry.
func (q *Queue) Pop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return Item{}, false
	}
	item := q.buf[q.head]
	q.buf[q.head] = Item{}
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return item, true
}

// PopAll removes and returns every queued entry, oldest first.
func (q *Queue) PopAll() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, q.count)
	for q.count > 0 {
		out = append(out, q.buf[q.head])
		q.buf[q.head] = Item{}
		q.head = (q.head + 1) % len(q.buf)
		q.count--
	}
	return out
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// IsEmpty reports whether the queue holds no entries.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}

// GetStats returns a copy of all counters.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{
		Types:    make(map[string]CounterPair, len(q.types)),
		Errors:   q.errors,
		Total:    q.total,
		Overflow: q.overflow,
	}
	for t, pair := range q.types {
		s.Types[t] = *pair
	}
	return s
}

// ResetMinuteStats zeros the minute slice of every counter. Totals are
// untouched; the time-series writer calls this after each minute row is
// written.
func (q *Queue) ResetMinuteStats() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, pair := range q.types {
		pair.LastMinute = 0
	}
	q.errors.LastMinute = 0
}

// ClearStats zeros every counter, including totals and the overflow count.
func (q *Queue) ClearStats() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, pair := range q.types {
		*pair = CounterPair{}
	}
	q.errors = CounterPair{}
	q.total = 0
	q.overflow = 0
}

// Destroy empties the buffer and stops event delivery. Stats are
// preserved and may still be read.
func (q *Queue) Destroy() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.dead {
		return
	}
	q.dead = true
	for i := range q.buf {
		q.buf[i] = Item{}
	}
	q.head = 0
	q.count = 0
	close(q.events)
}
