// Package memory contains an in-process publisher used in development mode
// and by tests that assert on the lifecycle event stream.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// PublishedMessage captures one publish call. Event is the "event" field of
// the payload ("domain.completed", "domain.failed", "search.completed"), or
// empty when the payload carries none.
type PublishedMessage struct {
	ID      string
	Topic   string
	Event   string
	Payload any
}

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, PublishedMessage{
		ID:      id,
		Topic:   topic,
		Event:   eventName(payload),
		Payload: payload,
	})
	return id, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns just the event names, in publish order.
func (p *Publisher) Events() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m.Event)
	}
	return out
}

// Reset clears recorded messages.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}

func eventName(payload any) string {
	m, ok := payload.(map[string]any)
	if !ok {
		return ""
	}
	event, _ := m["event"].(string)
	return event
}
