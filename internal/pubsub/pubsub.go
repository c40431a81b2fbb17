package pubsub

import (
	"log"
	"sync"
	"sync/atomic"
)

// EventType identifies the kind of event a subscriber listens for. Consumers
// define their own constants on top of this base type.
type EventType int

// Event is a typed event. Each instantiation of T is a distinct concrete type,
// so payloads are checked at compile time on both ends of the bus.
type Event[T any] struct {
	Type    EventType
	Payload T
}

func NewEvent[T any](eventType EventType, payload T) *Event[T] {
	return &Event[T]{Type: eventType, Payload: payload}
}

// SubscriberID identifies a single subscription and is required to unsubscribe.
type SubscriberID uint64

var nextSubscriberID atomic.Uint64

// SubscriptionOptions configures delivery behavior for one subscriber.
type SubscriptionOptions struct {
	// Blocking subscribers stall the bus until their channel accepts the
	// event. Non-blocking subscribers have events dropped when their channel
	// is full.
	Blocking bool
}

// subscriber stores type-erased closures over the subscriber's typed channel.
// The registry map must be homogeneous, so the concrete Event[T] type lives
// only inside the captured environment of these functions.
type subscriber struct {
	send    func(eventType EventType, payload any) bool
	close   func()
	opts    SubscriptionOptions
	dropped atomic.Uint64
}

// Bus is a thread-safe publish-subscribe broker. Publishing never blocks the
// caller: events go through a buffered channel drained by a single broadcast
// goroutine.
type Bus struct {
	mu sync.RWMutex
	wg sync.WaitGroup

	registry map[EventType]map[SubscriberID]*subscriber

	publishCh    chan envelope
	shuttingDown atomic.Bool
}

type envelope struct {
	eventType EventType
	payload   any
}

func NewBus() *Bus {
	b := &Bus{
		registry:  make(map[EventType]map[SubscriberID]*subscriber),
		publishCh: make(chan envelope, 100),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Subscribe registers ch to receive events of the given type. The caller owns
// the channel and chooses its buffering; the bus closes it on Unsubscribe.
//
// This is a free function because Go methods cannot introduce their own type
// parameters.
func Subscribe[T any](b *Bus, eventType EventType, ch chan *Event[T], opts SubscriptionOptions) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := SubscriberID(nextSubscriberID.Add(1))
	sub := &subscriber{
		opts: opts,
		send: func(evType EventType, payload any) bool {
			typed, ok := payload.(T)
			if !ok {
				log.Printf("[PUBSUB] payload type mismatch for event %v: want %T, got %T", evType, *new(T), payload)
				return false
			}
			event := &Event[T]{Type: evType, Payload: typed}
			if opts.Blocking {
				ch <- event
				return true
			}
			select {
			case ch <- event:
				return true
			default:
				return false
			}
		},
		close: func() { close(ch) },
	}

	if _, ok := b.registry[eventType]; !ok {
		b.registry[eventType] = make(map[SubscriberID]*subscriber)
	}
	b.registry[eventType][id] = sub
	return id
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(eventType EventType, id SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.registry[eventType]
	if !ok {
		return
	}
	sub, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(b.registry, eventType)
	}
	sub.close()
}

// Publish broadcasts an event to all subscribers of its type. Events published
// during shutdown are dropped.
//
// The read lock guarantees the publish channel cannot be closed underneath the
// send: Shutdown needs the write lock to close it, and the write lock cannot
// be acquired while any read lock is held.
func Publish[T any](b *Bus, event *Event[T]) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.shuttingDown.Load() {
		return
	}
	b.publishCh <- envelope{eventType: event.Type, payload: event.Payload}
}

// Shutdown stops accepting publishes, drains buffered events, and waits for
// the broadcast goroutine to exit. Safe to call more than once.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.shuttingDown.Load() {
		b.mu.Unlock()
		b.wg.Wait()
		return
	}
	b.shuttingDown.Store(true)
	close(b.publishCh)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) run() {
	defer b.wg.Done()

	for msg := range b.publishCh {
		b.mu.RLock()
		for id, sub := range b.registry[msg.eventType] {
			if !sub.send(msg.eventType, msg.payload) && !sub.opts.Blocking {
				sub.dropped.Add(1)
				log.Printf("[PUBSUB] dropped event %v for subscriber %d (channel full)", msg.eventType, id)
			}
		}
		b.mu.RUnlock()
	}
}
