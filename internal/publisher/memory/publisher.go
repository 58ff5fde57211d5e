// Package memory provides the in-process event publisher used by tests and
// by single-node runs that have no outbound bus configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Publisher records article events instead of shipping them to a broker. It
// mirrors the wire behavior of the real buses by JSON-encoding payloads, so
// an event that cannot marshal fails here the same way it would in
// production.
type Publisher struct {
	mu     sync.RWMutex
	events []Recorded
}

// Recorded is one published event as it would appear on the bus.
type Recorded struct {
	Topic string
	Data  []byte
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes the payload and appends it to the in-memory log, returning
// a sequence-based pseudo message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Recorded{Topic: topic, Data: data})
	return fmt.Sprintf("mem-%d", len(p.events)), nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []Recorded {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Recorded, len(p.events))
	copy(out, p.events)
	return out
}

// TopicEvents returns the recorded payloads for one topic in publish order.
func (p *Publisher) TopicEvents(topic string) [][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out [][]byte
	for _, rec := range p.events {
		if rec.Topic == topic {
			out = append(out, append([]byte(nil), rec.Data...))
		}
	}
	return out
}
