package events

import (
	"errors"
	"testing"

	"growlog/internal/models"
)

func TestEventBusPublishSubscribe(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventTaskChanged, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	if err := bus.PublishEntityChange(EventTaskChanged, models.KindTask, 7, models.ChangeUpdate); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if callCount != 1 {
		t.Fatalf("expected one delivery, got %d", callCount)
	}
	payload, err := DecodeEntityChange(received)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Kind != models.KindTask || payload.EntityID != 7 || payload.Operation != models.ChangeUpdate {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.ChangedAt.IsZero() {
		t.Fatalf("expected changed_at set")
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Publishing with no subscribers must not panic or block.
	if err := bus.PublishEntityChange(EventPlantChanged, models.KindPlant, 1, models.ChangeUpdate); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestEventBusMultipleHandlers(t *testing.T) {
	bus := NewEventBus()

	calls := 0
	bus.Subscribe(EventTaskDeleted, func(*Event) error { calls++; return nil })
	bus.Subscribe(EventTaskDeleted, func(*Event) error { calls++; return errors.New("handler error is swallowed") })
	bus.Subscribe(EventTaskChanged, func(*Event) error { calls += 100; return nil })

	bus.PublishEntityChange(EventTaskDeleted, models.KindTask, 3, models.ChangeDelete)

	if calls != 2 {
		t.Fatalf("expected 2 handler calls, got %d", calls)
	}
}

func TestNilBusPublishJSON(t *testing.T) {
	var bus *EventBus
	if err := bus.PublishJSON(EventTaskChanged, struct{}{}); err != nil {
		t.Fatalf("nil bus publish should be a no-op, got %v", err)
	}
}
