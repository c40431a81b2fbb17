package raft

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// messageSink receives messages the queue redelivers after their delay.
type messageSink interface {
	HandleMessage(msg *Message)
}

// SendToSelf decouples "schedule an event N milliseconds from now" from
// "act on it". Each published message owns its own timer, so delivery order
// follows elapsed-delay order rather than publish order: a 5ms message
// published after a 10ms one is still delivered first.
//
// Delivery is a direct call into the sink's HandleMessage; the queue does not
// retry or buffer beyond the single pending timer per message.
type SendToSelf struct {
	mu       sync.Mutex
	sink     messageSink
	timers   map[uuid.UUID]*time.Timer
	disposed bool
}

// NewSendToSelf creates a queue bound to the given sink.
func NewSendToSelf(sink messageSink) *SendToSelf {
	return &SendToSelf{
		sink:   sink,
		timers: make(map[uuid.UUID]*time.Timer),
	}
}

// Publish schedules exactly one delivery of msg after delay elapses. Multiple
// in-flight schedules are independent.
func (q *SendToSelf) Publish(msg *Message, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return
	}

	q.timers[msg.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		if q.disposed {
			q.mu.Unlock()
			return
		}
		delete(q.timers, msg.ID)
		q.mu.Unlock()

		// The sink serializes handling; the queue must not hold its own lock
		// across the call or a handler publishing a new message would
		// deadlock.
		q.sink.HandleMessage(msg)
	})
}

// Cancel stops the pending delivery of the message with the given ID. It
// reports whether a pending timer was found. Cancellation is best-effort: a
// timer that already fired has its callback running and cannot be recalled.
func (q *SendToSelf) Cancel(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	timer, ok := q.timers[id]
	if !ok {
		return false
	}
	delete(q.timers, id)
	return timer.Stop()
}

// Dispose releases all outstanding timers. No further deliveries occur after
// disposal; in-flight deliveries racing disposal are tolerated.
func (q *SendToSelf) Dispose() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return
	}
	q.disposed = true
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
}
