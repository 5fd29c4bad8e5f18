package events

import (
	"errors"
	"sync"
	"time"

	"constructlink/internal/models"

	jsoniter "github.com/json-iterator/go"
)

const (
	EventBatchSubmitted = "batch_submit"
	EventBatchScheduled = "batch_schedule"
	EventBatchVerified  = "batch_verify"
	EventBatchApproved  = "batch_approve"
	EventBatchReleased  = "batch_release"
	EventBatchReturned  = "batch_return"
	EventBatchCanceled  = "batch_cancel"
	// EventBatchOverdue is raised by the overdue scan, never by a transition.
	EventBatchOverdue = "batch_overdue"
)

// TypeFor maps a workflow transition to its event type.
func TypeFor(t models.Transition) string {
	return "batch_" + string(t)
}

// AllBatchEvents lists every event type the workflow emits.
func AllBatchEvents() []string {
	out := make([]string, 0, len(models.AllTransitions())+1)
	for _, t := range models.AllTransitions() {
		out = append(out, TypeFor(t))
	}
	return append(out, EventBatchOverdue)
}

// BatchEventPayload is the batch snapshot handed to event consumers.
type BatchEventPayload struct {
	EventID      string            `json:"event_id"`
	BatchID      int64             `json:"batch_id"`
	Reference    string            `json:"reference"`
	BorrowerName string            `json:"borrower_name"`
	Transition   models.Transition `json:"transition,omitempty"`
	FromStatus   models.Status     `json:"from_status,omitempty"`
	ToStatus     models.Status     `json:"to_status"`
	ActorID      int64             `json:"actor_id,omitempty"`
	ActorName    string            `json:"actor_name,omitempty"`
	ActorRole    models.Role       `json:"actor_role,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	ItemCount    int               `json:"item_count"`
	DueAt        *time.Time        `json:"due_at,omitempty"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
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

// Publish runs every subscriber synchronously and joins their errors.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
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

	return b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
}
