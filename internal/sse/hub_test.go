package sse

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastToAddress(t *testing.T) {
	hub := NewHub()
	a, unsubA := hub.Subscribe("a@x.com")
	defer unsubA()
	b, unsubB := hub.Subscribe("b@x.com")
	defer unsubB()

	event, err := NewEvent(EventChanged, map[string]string{"owner": "a@x.com"})
	require.NoError(t, err)
	hub.Broadcast([]string{"a@x.com", "a@x.com", ""}, event)

	got := <-a
	assert.Equal(t, event.ID, got.ID)
	assert.Len(t, a, 0, "duplicate addresses deliver once")
	assert.Len(t, b, 0)
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub()
	_, unsubscribe := hub.Subscribe("a@x.com")
	assert.Equal(t, 1, hub.Subscribers("a@x.com"))
	unsubscribe()
	unsubscribe()
	assert.Zero(t, hub.Subscribers("a@x.com"))
}

func TestHub_FullBufferDrops(t *testing.T) {
	hub := NewHub()
	ch, unsubscribe := hub.Subscribe("a@x.com")
	defer unsubscribe()
	for i := 0; i < 20; i++ {
		hub.Broadcast([]string{"a@x.com"}, Event{Name: EventChanged})
	}
	assert.Equal(t, cap(ch), len(ch))
}

func TestEvent_Format(t *testing.T) {
	event, err := NewEvent(EventCounts, map[string]int{"unread": 2})
	require.NoError(t, err)
	_, err = ulid.Parse(event.ID)
	require.NoError(t, err)

	assert.Equal(t,
		"id: "+event.ID+"\nevent: counts\ndata: {\"unread\":2}\n\n",
		string(event.Format()))
	assert.Equal(t, "event: ready\ndata: {}\n\n", string(Event{Name: EventReady}.Format()))
	assert.Equal(t, "data: a\ndata: b\n\n", string(Event{Data: []byte("a\nb")}.Format()))
}
