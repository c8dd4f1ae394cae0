// Package publish announces issued designators to downstream consumers.
//
// Events are sent after the allocation committed. A failed publish never
// undoes or repeats an allocation; callers log it and move on.
package publish

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/numbering/internal/record"
	"github.com/roach88/numbering/numbering"
)

// Event describes one issued designator.
type Event struct {
	Prefix     string
	ID         int64
	Designator string
	IssuedAt   time.Time
	Attempts   int
}

// FromAllocation builds the event for al.
func FromAllocation(al numbering.Allocation) Event {
	return Event{
		Prefix:     al.Prefix,
		ID:         al.ID,
		Designator: al.Designator,
		IssuedAt:   al.IssuedAt,
		Attempts:   al.Attempts,
	}
}

// Marshal encodes the event as canonical JSON.
func (e Event) Marshal() ([]byte, error) {
	return record.MarshalCanonical(map[string]any{
		"prefix":     e.Prefix,
		"id":         e.ID,
		"designator": e.Designator,
		"issued_at":  e.IssuedAt.UTC().Format(time.RFC3339Nano),
		"attempts":   int64(e.Attempts),
	})
}

// Publisher sends issuance events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
func (Nop) Close() error                            { return nil }

// Memory keeps events in order. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Publish appends events.
func (m *Memory) Publish(_ context.Context, events ...Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
