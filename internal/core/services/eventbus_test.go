package services

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/mbellgren/dispatchd/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestEventBus_PubSub(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	bus := NewEventBus(logger)

	ch, unsub := bus.Subscribe(domain.EventJobStatus)
	defer unsub()

	bus.Emit(domain.EventJobStatus, "job-123", map[string]any{"status": "RUNNING"})

	select {
	case received := <-ch:
		assert.Equal(t, domain.EventJobStatus, received.Topic)
		assert.Equal(t, "job-123", received.EntityID)
		assert.Equal(t, "RUNNING", received.Payload["status"])
		assert.False(t, received.Timestamp.IsZero())
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_TopicIsolation(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	bus := NewEventBus(logger)

	ch, unsub := bus.Subscribe(domain.EventWorkerLoad)
	defer unsub()

	bus.Emit(domain.EventJobProgress, "job-1", map[string]any{"progress": 50})

	select {
	case e := <-ch:
		t.Fatalf("received event for wrong topic: %v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventBus_SubscribeAll(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	bus := NewEventBus(logger)

	ch, unsub := bus.SubscribeAll()
	defer unsub()

	bus.Emit(domain.EventJobCreated, "job-1", nil)
	bus.Emit(domain.EventWorkerRegistered, "worker-1", nil)

	var topics []domain.EventTopic
	for i := 0; i < 2; i++ {
		select {
		case e := <-ch:
			topics = append(topics, e.Topic)
		case <-time.After(1 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.Equal(t, []domain.EventTopic{domain.EventJobCreated, domain.EventWorkerRegistered}, topics)
}

func TestEventBus_Unsubscribe(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	bus := NewEventBus(logger)

	ch, unsub := bus.Subscribe(domain.EventJobStatus)
	unsub()

	bus.Emit(domain.EventJobStatus, "job-1", nil)

	select {
	case e, ok := <-ch:
		if ok {
			t.Fatalf("received event after unsubscribe: %v", e)
		}
		// Closed channel: unsubscribe worked.
	case <-time.After(100 * time.Millisecond):
	}
}
