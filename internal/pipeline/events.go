package pipeline

import (
	"sync"
	"time"
)

// EventKind identifies a progress notification
type EventKind string

const (
	EventStarted           EventKind = "started"
	EventRecognized        EventKind = "recognized"
	EventTranslated        EventKind = "translated"
	EventDeliveryAttempted EventKind = "delivery_attempted"
	EventSucceeded         EventKind = "succeeded"
	EventFailed            EventKind = "failed"
	EventCancelled         EventKind = "cancelled"
)

// IsTerminal reports whether the event closes its transaction
func (k EventKind) IsTerminal() bool {
	return k == EventSucceeded || k == EventFailed || k == EventCancelled
}

// Failure describes why a transaction failed
type Failure struct {
	Kind   ErrorKind `json:"kind"`
	Status string    `json:"status,omitempty"`
	Detail string    `json:"detail"`
}

// Event is an immutable progress notification for one transaction
type Event struct {
	TransactionID TransactionID `json:"transaction_id"`
	Kind          EventKind     `json:"kind"`
	// Payload is the recognized text, translated text, target endpoint or
	// delivery status depending on Kind.
	Payload   string    `json:"payload,omitempty"`
	Failure   *Failure  `json:"failure,omitempty"`
	Delivered bool      `json:"delivered,omitempty"` // Succeeded only
	Timestamp time.Time `json:"timestamp"`
}

// DefaultEventBuffer holds several transactions' worth of events
const DefaultEventBuffer = 64

// ErrSubscriberLagged is reported by a subscription that was detached
// because its buffer filled up.
var ErrSubscriberLagged = &Error{Kind: "SubscriberLagged", Detail: "event buffer overflow"}

// Subscription receives events published after it was created
type Subscription struct {
	ch     chan Event
	broker *broker

	mu  sync.Mutex
	err error
}

// Events yields events in emission order. The channel is closed when the
// subscription is closed or detached.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Err returns ErrSubscriberLagged if the subscription was detached for
// falling behind, nil otherwise.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the subscription; safe to call more than once
func (s *Subscription) Close() {
	s.broker.remove(s, nil)
}

// broker fans events out to subscribers without ever blocking the publisher
type broker struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

func newBroker(buffer int) *broker {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &broker{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

func (b *broker) subscribe() *Subscription {
	s := &Subscription{ch: make(chan Event, b.buffer), broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// publish delivers ev to every subscriber. A full subscriber is detached
// rather than allowed to stall the pipeline or skip a single event.
func (b *broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			b.detachLocked(s, ErrSubscriberLagged)
		}
	}
}

func (b *broker) remove(s *Subscription, reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detachLocked(s, reason)
}

func (b *broker) detachLocked(s *Subscription, reason error) {
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	s.mu.Lock()
	s.err = reason
	s.mu.Unlock()
	close(s.ch)
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		b.detachLocked(s, nil)
	}
	b.closed = true
}
