package sandbox

import (
	"sync"

	"github.com/burrowhq/burrow/pkg/types"
)

// Subscriber is a bounded channel of stored log rows for one viewer. Rows
// carry their store-assigned id so viewers can dedupe against a replay. The
// broker closes the channel when the viewer falls too far behind; the hub
// translates that into a 1009 close.
type Subscriber chan *types.SandboxLog

const subscriberBuffer = 256

// Broker fans one collector's log stream out to the sandbox's viewers. The
// collector is the single runtime tail and the single store writer; viewers
// only ever see the broker side.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[Subscriber]bool
}

// NewBroker creates a new log broker
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]map[Subscriber]bool),
	}
}

// Subscribe registers a viewer for a sandbox's live log events
func (b *Broker) Subscribe(sandboxID string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sandboxID]
	if !ok {
		subs = make(map[Subscriber]bool)
		b.topics[sandboxID] = subs
	}
	sub := make(Subscriber, subscriberBuffer)
	subs[sub] = true
	return sub
}

// Unsubscribe removes a viewer. Safe to call after the broker already closed
// the channel on overflow.
func (b *Broker) Unsubscribe(sandboxID string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sandboxID]
	if !ok {
		return
	}
	if subs[sub] {
		delete(subs, sub)
		close(sub)
	}
	if len(subs) == 0 {
		delete(b.topics, sandboxID)
	}
}

// Publish delivers a stored row to every viewer of the sandbox. A viewer
// whose buffer is full is dropped: its channel is closed and removed so one
// slow client never stalls the collector or other viewers.
func (b *Broker) Publish(sandboxID string, entry *types.SandboxLog) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sandboxID]
	if !ok {
		return
	}
	for sub := range subs {
		select {
		case sub <- entry:
		default:
			delete(subs, sub)
			close(sub)
		}
	}
	if len(subs) == 0 {
		delete(b.topics, sandboxID)
	}
}

// CloseTopic drops every viewer of a sandbox, closing their channels.
func (b *Broker) CloseTopic(sandboxID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.topics[sandboxID] {
		close(sub)
	}
	delete(b.topics, sandboxID)
}
