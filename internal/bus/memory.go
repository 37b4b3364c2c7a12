package bus

import (
	"context"
	"log"
	"sync"
)

// Memory is an in-process Bus for tests and redis-less runs. Fan-out is
// per topic; a full subscriber buffer drops that delivery rather than
// blocking the publisher.
type Memory struct {
	mu     sync.Mutex
	subs   map[string][]chan Message
	closed bool
}

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]chan Message)}
}

// Publish delivers the message to every current subscriber of the topic.
func (m *Memory) Publish(_ context.Context, topic string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	for _, ch := range m.subs[topic] {
		select {
		case ch <- msg:
		default:
			log.Printf("WARNING: bus: dropping %s message on %q: subscriber full", msg.Type, topic)
		}
	}
	return nil
}

// Subscribe registers a new subscriber for the topic.
func (m *Memory) Subscribe(_ context.Context, topic string) (<-chan Message, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, ErrClosed
	}

	ch := make(chan Message, subscriberBuffer)
	m.subs[topic] = append(m.subs[topic], ch)

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[topic]
		for i, sub := range subs {
			if sub == ch {
				m.subs[topic] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel, nil
}

// Close shuts the bus down and closes every subscriber channel. Idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	m.subs = nil
	return nil
}
