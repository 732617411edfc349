// Package notification fans values out to any number of subscribers.
package notification

import (
	"sync"

	"github.com/google/uuid"
)

// Notice is one broadcast value stamped with its sequence number.
type Notice[T any] struct {
	SequenceNo uint64
	Value      T
}

// subscription represents a subscriber's mailbox. It holds at most one
// pending notice: a slow reader only ever sees the latest value.
type subscription[T any] struct {
	id string
	ch chan Notice[T]
}

// Manager manages subscriptions and broadcasting. Broadcast never blocks on
// a subscriber.
type Manager[T any] struct {
	mu            sync.Mutex
	subscriptions map[string]*subscription[T]
	sequenceNo    uint64
	closed        bool
}

// NewManager creates a new notification manager.
func NewManager[T any]() *Manager[T] {
	return &Manager[T]{
		subscriptions: make(map[string]*subscription[T]),
	}
}

// Subscribe adds a new subscription and returns its id and channel. The
// channel is closed by Unsubscribe or Close. Subscribing to a closed manager
// yields an already closed channel.
func (m *Manager[T]) Subscribe() (string, <-chan Notice[T]) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan Notice[T], 1)
	if m.closed {
		close(ch)
		return id, ch
	}
	m.subscriptions[id] = &subscription[T]{id: id, ch: ch}
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (m *Manager[T]) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sub, ok := m.subscriptions[subscriptionID]; ok {
		delete(m.subscriptions, subscriptionID)
		close(sub.ch)
	}
}

// Broadcast sends v to all subscribers, replacing any notice they have not
// consumed yet. It returns the sequence number assigned to v.
func (m *Manager[T]) Broadcast(v T) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return m.sequenceNo
	}
	m.sequenceNo++
	n := Notice[T]{SequenceNo: m.sequenceNo, Value: v}
	for _, sub := range m.subscriptions {
		// Sends happen under mu, so nobody else fills the slot in between.
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- n
	}
	return n.SequenceNo
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager[T]) SubscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscriptions)
}

// Close closes every subscription. Later broadcasts are dropped.
func (m *Manager[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for id, sub := range m.subscriptions {
		close(sub.ch)
		delete(m.subscriptions, id)
	}
}
