package services

import (
	"sync"

	"github.com/uptimewatcher/backend/internal/logger"
	"github.com/uptimewatcher/backend/internal/models"
)

// EventBroker fans status updates out to subscribers. Slow subscribers lose
// events rather than blocking the publisher.
type EventBroker struct {
	mu     sync.RWMutex
	subs   map[int]chan models.StatusUpdate
	nextID int
	buffer int
	closed bool
}

func NewEventBroker(buffer int) *EventBroker {
	if buffer <= 0 {
		buffer = 32
	}
	return &EventBroker{subs: make(map[int]chan models.StatusUpdate), buffer: buffer}
}

// Subscribe returns a channel of updates and a cancel func that closes it.
// After Close the returned channel is already closed.
func (b *EventBroker) Subscribe() (<-chan models.StatusUpdate, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan models.StatusUpdate, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Close ends every subscription. Later publishes are dropped.
func (b *EventBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *EventBroker) Publish(update models.StatusUpdate) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- update:
		default:
			logger.Component("events").WithField("subscriber", id).Warn("dropping status update for slow subscriber")
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *EventBroker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
