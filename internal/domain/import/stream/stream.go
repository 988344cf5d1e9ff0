// Package stream is the in-memory progress channel for running imports:
// per-import fan-out to any number of subscribers, in emission order, with
// no replay of events published before a subscriber connected. Clients are
// expected to read the session's persisted status on connect and to fall
// back to polling if the stream drops.
package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType tags a progress event.
type EventType string

const (
	EventImportStarted          EventType = "import_started"
	EventImportProgress         EventType = "import_progress"
	EventImportCompleted        EventType = "import_completed"
	EventImportFailed           EventType = "import_failed"
	EventSubscriptionsStarted   EventType = "subscriptions_started"
	EventSubscriptionsCompleted EventType = "subscriptions_completed"
)

// Event is one import lifecycle or progress notification. Only the fields
// relevant to the event type are set.
type Event struct {
	Type      EventType `json:"type"`
	ImportID  uuid.UUID `json:"import_id"`
	Timestamp time.Time `json:"timestamp"`

	TotalRows     int     `json:"total_rows,omitempty"`
	ProcessedRows int     `json:"processed_rows,omitempty"`
	Percentage    float64 `json:"percentage,omitempty"`

	ImportedCount         int    `json:"imported_count,omitempty"`
	SkippedCount          int    `json:"skipped_count,omitempty"`
	CategorizationSummary string `json:"categorization_summary,omitempty"`

	MatchedCount  int `json:"matched_count,omitempty"`
	DetectedCount int `json:"detected_count,omitempty"`

	Error string `json:"error,omitempty"`
}

// IsTerminal reports whether no further events will follow on this stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventImportFailed || e.Type == EventSubscriptionsCompleted
}

const subscriberBuffer = 64

type subscriber struct {
	ch chan Event
}

// Broker fans events out to subscribers keyed by import id. Publishing
// never blocks: a subscriber that cannot keep up has events dropped on the
// floor, consistent with at-most-once delivery.
type Broker struct {
	mu   sync.RWMutex
	subs map[uuid.UUID][]*subscriber
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uuid.UUID][]*subscriber)}
}

// Publish delivers the event to all current subscribers of its import id.
// Zero subscribers is fine; the executor does not care who is listening.
func (b *Broker) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[event.ImportID] {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Subscribe registers a listener for one import id. The returned cancel
// func detaches the listener and closes its channel; it is safe to call
// more than once.
func (b *Broker) Subscribe(importID uuid.UUID) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	b.subs[importID] = append(b.subs[importID], sub)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			subs := b.subs[importID]
			for i, s := range subs {
				if s == sub {
					b.subs[importID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(b.subs[importID]) == 0 {
				delete(b.subs, importID)
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// SubscriberCount reports the current number of listeners for an import.
func (b *Broker) SubscriberCount(importID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[importID])
}
