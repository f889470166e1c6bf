// Package memory records published announcements in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
	ID      string
}

// Publisher stores published payloads for inspection. FailWith makes every
// subsequent Publish return an error, which is how tests simulate a broker outage.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	perTopic map[string]int
	failure  error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{perTopic: make(map[string]int)}
}

// Publish records the payload and returns an id of the form <topic>-<n>.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure != nil {
		return "", fmt.Errorf("publish %s: %w", topic, p.failure)
	}
	p.perTopic[topic]++
	id := fmt.Sprintf("%s-%d", topic, p.perTopic[topic])
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload, ID: id})
	return id, nil
}

// FailWith sets the error returned by Publish. nil restores normal behavior.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.failure = err
	p.mu.Unlock()
}

// Messages returns the recorded publishes in order.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PublishedMessage(nil), p.messages...)
}

// ByTopic returns the payloads published to topic in order.
func (p *Publisher) ByTopic(topic string) []any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []any
	for _, msg := range p.messages {
		if msg.Topic == topic {
			out = append(out, msg.Payload)
		}
	}
	return out
}
