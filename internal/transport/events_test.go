package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name  string
		event EventName
		data  string
		check func(t *testing.T, ev Event)
	}{
		{
			name:  "order new",
			event: EventOrderNew,
			data:  `{"order_id":"o-1","buyer_id":"u-1","seller_id":"s-1","total":45000}`,
			check: func(t *testing.T, ev Event) {
				p, ok := ev.(OrderNew)
				assert.True(t, ok)
				assert.Equal(t, "o-1", p.OrderID)
				assert.Equal(t, float64(45000), p.Total)
			},
		},
		{
			name:  "order updated",
			event: EventOrderUpdated,
			data:  `{"order_id":"o-1","status":"ready","seller_confirmed":true,"actor_id":"s-1"}`,
			check: func(t *testing.T, ev Event) {
				p, ok := ev.(OrderUpdated)
				assert.True(t, ok)
				assert.Equal(t, "ready", p.Status)
				assert.True(t, p.SellerConfirmed)
				assert.False(t, p.BuyerConfirmed)
				assert.Equal(t, "s-1", p.ActorID)
			},
		},
		{
			name:  "order cancelled",
			event: EventOrderCancelled,
			data:  `{"order_id":"o-1","reason":"stok habis","actor_id":"s-1"}`,
			check: func(t *testing.T, ev Event) {
				p, ok := ev.(OrderCancelled)
				assert.True(t, ok)
				assert.Equal(t, "stok habis", p.Reason)
			},
		},
		{
			name:  "message received",
			event: EventMessageReceived,
			data:  `{"conversation_id":"o-1","message_id":"m-1","sender_id":"u-2","body":"halo"}`,
			check: func(t *testing.T, ev Event) {
				p, ok := ev.(MessageReceived)
				assert.True(t, ok)
				assert.Equal(t, "m-1", p.MessageID)
				assert.Equal(t, "halo", p.Body)
			},
		},
		{
			name:  "read receipt",
			event: EventMessageRead,
			data:  `{"conversation_id":"o-1","reader_id":"u-2"}`,
			check: func(t *testing.T, ev Event) {
				p, ok := ev.(MessageRead)
				assert.True(t, ok)
				assert.Equal(t, "u-2", p.ReaderID)
			},
		},
		{
			name:  "user online",
			event: EventUserOnline,
			data:  `{"user_id":"u-5"}`,
			check: func(t *testing.T, ev Event) {
				p, ok := ev.(UserOnline)
				assert.True(t, ok)
				assert.Equal(t, "u-5", p.UserID)
			},
		},
		{
			name:  "user offline",
			event: EventUserOffline,
			data:  `{"user_id":"u-5"}`,
			check: func(t *testing.T, ev Event) {
				p, ok := ev.(UserOffline)
				assert.True(t, ok)
				assert.Equal(t, "u-5", p.UserID)
			},
		},
		{
			name:  "initial online users",
			event: EventInitialOnline,
			data:  `{"user_ids":["u-1","u-3"]}`,
			check: func(t *testing.T, ev Event) {
				p, ok := ev.(InitialOnlineUsers)
				assert.True(t, ok)
				assert.Equal(t, []string{"u-1", "u-3"}, p.UserIDs)
			},
		},
		{
			name:  "typing",
			event: EventTyping,
			data:  `{"conversation_id":"o-1","user_id":"u-2","typing":true}`,
			check: func(t *testing.T, ev Event) {
				p, ok := ev.(Typing)
				assert.True(t, ok)
				assert.True(t, p.Active)
			},
		},
		{
			name:  "presence request",
			event: EventPresenceRequest,
			data:  ``,
			check: func(t *testing.T, ev Event) {
				_, ok := ev.(PresenceRequest)
				assert.True(t, ok)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := decodeEvent(tt.event, json.RawMessage(tt.data))
			assert.NoError(t, err)
			assert.Equal(t, tt.event, ev.Name())
			tt.check(t, ev)
		})
	}
}

func TestDecodeEventErrors(t *testing.T) {
	t.Run("Unknown event name", func(t *testing.T) {
		ev, err := decodeEvent("mystery_event", nil)
		assert.ErrorIs(t, err, ErrUnknownEvent)
		assert.Nil(t, ev)
	})

	t.Run("Malformed payload", func(t *testing.T) {
		ev, err := decodeEvent(EventTyping, json.RawMessage(`{"typing":"yes"}`))
		assert.Error(t, err)
		assert.Nil(t, ev)
	})

	t.Run("Empty payload decodes to zero value", func(t *testing.T) {
		ev, err := decodeEvent(EventUserOnline, nil)
		assert.NoError(t, err)
		assert.Equal(t, UserOnline{}, ev)
	})
}
