package stream

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishSubscribe(t *testing.T) {
	b := NewBroker()
	importID := uuid.New()

	ch, cancel := b.Subscribe(importID)
	defer cancel()

	b.Publish(Event{Type: EventImportStarted, ImportID: importID, TotalRows: 10})
	b.Publish(Event{Type: EventImportProgress, ImportID: importID, ProcessedRows: 5, TotalRows: 10, Percentage: 50})

	first := <-ch
	assert.Equal(t, EventImportStarted, first.Type)
	assert.False(t, first.Timestamp.IsZero())

	second := <-ch
	assert.Equal(t, EventImportProgress, second.Type)
	assert.Equal(t, 5, second.ProcessedRows)
}

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker()
	importID := uuid.New()

	ch1, cancel1 := b.Subscribe(importID)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(importID)
	defer cancel2()

	b.Publish(Event{Type: EventImportCompleted, ImportID: importID, ImportedCount: 3})

	assert.Equal(t, EventImportCompleted, (<-ch1).Type)
	assert.Equal(t, EventImportCompleted, (<-ch2).Type)
}

func TestBroker_ScopedByImportID(t *testing.T) {
	b := NewBroker()
	mine, theirs := uuid.New(), uuid.New()

	ch, cancel := b.Subscribe(mine)
	defer cancel()

	b.Publish(Event{Type: EventImportStarted, ImportID: theirs})

	select {
	case e := <-ch:
		t.Fatalf("received event for foreign import: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_NoReplay(t *testing.T) {
	b := NewBroker()
	importID := uuid.New()

	b.Publish(Event{Type: EventImportStarted, ImportID: importID})

	ch, cancel := b.Subscribe(importID)
	defer cancel()

	select {
	case e := <-ch:
		t.Fatalf("replayed event published before subscribe: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_ToleratesZeroSubscribers(t *testing.T) {
	b := NewBroker()
	assert.NotPanics(t, func() {
		b.Publish(Event{Type: EventImportFailed, ImportID: uuid.New(), Error: "boom"})
	})
}

func TestBroker_CancelDetaches(t *testing.T) {
	b := NewBroker()
	importID := uuid.New()

	ch, cancel := b.Subscribe(importID)
	require.Equal(t, 1, b.SubscriberCount(importID))

	cancel()
	assert.Equal(t, 0, b.SubscriberCount(importID))

	_, open := <-ch
	assert.False(t, open, "channel closes on cancel")

	assert.NotPanics(t, cancel, "cancel is idempotent")
}

func TestBroker_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroker()
	importID := uuid.New()

	_, cancel := b.Subscribe(importID)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(Event{Type: EventImportProgress, ImportID: importID, ProcessedRows: i})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestEvent_IsTerminal(t *testing.T) {
	assert.True(t, Event{Type: EventImportFailed}.IsTerminal())
	assert.True(t, Event{Type: EventSubscriptionsCompleted}.IsTerminal())
	assert.False(t, Event{Type: EventImportCompleted}.IsTerminal(), "subscription detection still follows")
	assert.False(t, Event{Type: EventImportProgress}.IsTerminal())
}
