package events

import (
	"errors"
	"testing"

	"constructlink/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	callCount := 0
	bus.Subscribe(EventBatchVerified, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON(EventBatchVerified, BatchEventPayload{
		BatchID:    7,
		Reference:  "BRW-1",
		Transition: models.TransitionVerify,
		ToStatus:   models.StatusPendingApproval,
	})
	require.NoError(t, err)
	require.Equal(t, 1, callCount)
	assert.Equal(t, EventBatchVerified, received.Type)
	assert.False(t, received.CreatedAt.IsZero())

	var decoded BatchEventPayload
	require.NoError(t, received.Decode(&decoded))
	assert.Equal(t, int64(7), decoded.BatchID)
	assert.Equal(t, models.StatusPendingApproval, decoded.ToStatus)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	require.NoError(t, bus.Publish(&Event{Type: "event"}))
	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
}

func TestEventBusHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	called := false

	bus.Subscribe("event", func(_ *Event) error { return boom })
	bus.Subscribe("event", func(_ *Event) error { called = true; return nil })

	err := bus.Publish(&Event{Type: "event"})
	assert.ErrorIs(t, err, boom)
	assert.True(t, called, "later handlers still run")
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	assert.NoError(t, bus.PublishJSON("nobody", map[string]int{"a": 1}))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON("nobody", nil))
}

func TestTypeFor(t *testing.T) {
	assert.Equal(t, EventBatchReturned, TypeFor(models.TransitionReturn))
	assert.Equal(t, EventBatchSubmitted, TypeFor(models.TransitionSubmit))
	assert.Contains(t, AllBatchEvents(), EventBatchOverdue)
	assert.Len(t, AllBatchEvents(), len(models.AllTransitions())+1)
}
