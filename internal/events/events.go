package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventTaskChanged     = "task_changed"
	EventTaskDeleted     = "task_deleted"
	EventReminderChanged = "reminder_changed"
	EventReminderDeleted = "reminder_deleted"
	EventPlantChanged    = "plant_changed"
	EventPlantDeleted    = "plant_deleted"
)

// EntityChangePayload is the minimal change notice consumers need to
// keep sync bookkeeping current.
type EntityChangePayload struct {
	Kind      string    `json:"kind"`
	EntityID  int64     `json:"entity_id"`
	Operation string    `json:"operation"`
	ChangedAt time.Time `json:"changed_at"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// PublishEntityChange is the convenience path the processor uses after
// every persisted mutation.
func (b *EventBus) PublishEntityChange(eventType, kind string, id int64, op string) error {
	return b.PublishJSON(eventType, EntityChangePayload{
		Kind:      kind,
		EntityID:  id,
		Operation: op,
		ChangedAt: time.Now(),
	})
}

// DecodeEntityChange unpacks an entity-change event payload.
func DecodeEntityChange(ev *Event) (EntityChangePayload, error) {
	var payload EntityChangePayload
	err := json.Unmarshal(ev.Payload, &payload)
	return payload, err
}
