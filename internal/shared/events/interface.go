package events

import (
	"context"
	"sync"
)

// Publisher is the write side of the event bus used by domain services.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// EventBus is a Publisher with lifecycle management.
type EventBus interface {
	Publisher
	Close()
	Health() error
}

// MemoryBus keeps published events in memory.
type MemoryBus struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (m *MemoryBus) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (m *MemoryBus) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the type of every published event in order.
func (m *MemoryBus) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func (m *MemoryBus) Close() {}

func (m *MemoryBus) Health() error { return nil }

var (
	_ EventBus = (*Bus)(nil)
	_ EventBus = (*MemoryBus)(nil)
)
