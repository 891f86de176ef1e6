package events

import (
	"sync"

	"github.com/cuemby/adcm/pkg/types"
	"github.com/rs/zerolog"
)

const (
	queueSize      = 256
	subscriberSize = 64
)

// Subscriber receives committed events matching its filter
type Subscriber chan *types.Event

// Filter selects the events a subscriber receives; nil means all
type Filter func(ev *types.Event) bool

// Kinds returns a filter accepting the given event kinds
func Kinds(kinds ...types.EventType) Filter {
	return func(ev *types.Event) bool {
		for _, k := range kinds {
			if ev.Event == k {
				return true
			}
		}
		return false
	}
}

// Broker fans committed events out to in-process subscribers. It is fed by
// a store commit hook, see Attach. Events reach subscribers in commit order.
type Broker struct {
	mu      sync.RWMutex
	subs    map[Subscriber]Filter
	queue   chan *types.Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	started sync.Once
	stopped sync.Once
	logger  zerolog.Logger
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[Subscriber]Filter),
		queue:  make(chan *types.Event, queueSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger().With().Str("sub", "broker").Logger(),
	}
}

// Start begins distribution. Calling it again has no effect.
func (b *Broker) Start() {
	b.started.Do(func() { go b.run() })
}

// Stop ends distribution and closes every subscription. A broker that was
// never started stops immediately.
func (b *Broker) Stop() {
	b.stopped.Do(func() {
		close(b.stopCh)
		b.started.Do(func() { close(b.doneCh) })
		<-b.doneCh

		b.mu.Lock()
		defer b.mu.Unlock()
		for sub := range b.subs {
			delete(b.subs, sub)
			close(sub)
		}
	})
}

// Subscribe registers a subscriber for the events filter accepts
func (b *Broker) Subscribe(filter Filter) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, subscriberSize)
	b.subs[sub] = filter
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub)
	}
}

// Publish queues events for distribution. It never blocks a committing
// transaction: when the queue is full the event is skipped for in-process
// subscribers, the outbox still delivers it to the status server.
func (b *Broker) Publish(events ...*types.Event) {
	for _, ev := range events {
		select {
		case b.queue <- ev:
		case <-b.stopCh:
			return
		default:
			b.logger.Warn().Str("event", ev.String()).Msg("broker queue full, event skipped")
		}
	}
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) deliver(ev *types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, filter := range b.subs {
		if filter != nil && !filter(ev) {
			continue
		}
		select {
		case sub <- ev:
		default:
			// slow subscriber
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
