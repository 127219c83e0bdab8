package events

import (
	"context"
	"sync"
	"time"

	"github.com/piratebomber/cirkel.io/backend/go-services/pkg/logger"
	"github.com/rs/xid"
)

const (
	// publishTimeout bounds how long a publish waits on a slow subscriber.
	publishTimeout = 100 * time.Millisecond

	defaultBufferSize = 64
)

// Subscription receives the events of one document for one subscriber.
type Subscription struct {
	id         string
	documentID string
	subscriber string

	mu     sync.Mutex
	closed bool
	events chan Event
}

func newSubscription(documentID, subscriber string, bufSize int) *Subscription {
	return &Subscription{
		id:         xid.New().String(),
		documentID: documentID,
		subscriber: subscriber,
		events:     make(chan Event, bufSize),
	}
}

// ID returns the id of this subscription.
func (s *Subscription) ID() string { return s.id }

// Subscriber returns the user the subscription belongs to.
func (s *Subscription) Subscriber() string { return s.subscriber }

// Events returns the channel events are delivered on. It is closed when the
// subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *Subscription) publish(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case s.events <- e:
		return true
	case <-timer.C:
		return false
	}
}

// Broker is an in-process Notifier that fans events out to per-document
// subscriptions.
type Broker struct {
	mu      sync.RWMutex
	subs    map[string]map[string]*Subscription
	bufSize int
}

// NewBroker returns an empty Broker. A non-positive bufSize uses the default.
func NewBroker(bufSize int) *Broker {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	return &Broker{subs: map[string]map[string]*Subscription{}, bufSize: bufSize}
}

// Subscribe registers subscriber for the events of documentID.
func (b *Broker) Subscribe(documentID, subscriber string) *Subscription {
	sub := newSubscription(documentID, subscriber, b.bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[documentID]; !ok {
		b.subs[documentID] = map[string]*Subscription{}
	}
	b.subs[documentID][sub.id] = sub
	return sub
}

// Unsubscribe removes and closes sub.
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if docSubs, ok := b.subs[sub.documentID]; ok {
		delete(docSubs, sub.id)
		if len(docSubs) == 0 {
			delete(b.subs, sub.documentID)
		}
	}
	b.mu.Unlock()

	sub.close()
}

// Subscribers returns the number of live subscriptions on documentID.
func (b *Broker) Subscribers(documentID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[documentID])
}

// CloseDocument closes every subscription on documentID.
func (b *Broker) CloseDocument(documentID string) {
	b.mu.Lock()
	docSubs := b.subs[documentID]
	delete(b.subs, documentID)
	b.mu.Unlock()

	for _, sub := range docSubs {
		sub.close()
	}
}

// Publish delivers e to every subscription of its document.
func (b *Broker) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs[e.DocumentID]))
	for _, sub := range b.subs[e.DocumentID] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if !sub.publish(e) {
			logger.Warnf("events: dropped %s for subscription %s on %s", e.Type, sub.id, e.DocumentID)
		}
	}
	return nil
}
