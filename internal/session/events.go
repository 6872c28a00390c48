package session

import (
	"context"
	"fmt"

	"pasarlive-client/internal/notify"
	"pasarlive-client/internal/order"
	"pasarlive-client/internal/transport"
)

const previewLimit = 80

// handleOrderEvent folds a remote lifecycle event into local order state
// and raises an alert for the other party's action.
func (s *Session) handleOrderEvent(ev transport.Event) {
	ctx := context.Background()
	s.orders.Apply(ctx, ev)

	switch e := ev.(type) {
	case transport.OrderNew:
		// A new order only alerts the seller it landed on.
		if !s.identity.IsSeller() {
			return
		}
		s.watchAsync(ctx, e.OrderID)
		s.dispatcher.Enqueue(notify.Alert{
			Kind:           notify.KindOrder,
			ConversationID: e.OrderID,
			Title:          "New order",
			Body:           fmt.Sprintf("Order %s placed", e.OrderID),
			Sound:          notify.SoundOrder,
		})

	case transport.OrderUpdated:
		if e.ActorID == s.identity.UserID {
			return
		}
		s.dispatcher.Enqueue(notify.Alert{
			Kind:           notify.KindOrder,
			ConversationID: e.OrderID,
			Title:          "Order update",
			Body:           statusLine(e),
			Sound:          notify.SoundOrder,
		})

	case transport.OrderCancelled:
		if e.ActorID == s.identity.UserID {
			return
		}
		s.dispatcher.Enqueue(notify.Alert{
			Kind:           notify.KindCancellation,
			ConversationID: e.OrderID,
			Title:          "Order cancelled",
			Body:           e.Reason,
			Sound:          notify.SoundAlert,
		})
	}
}

// handleMessageEvent raises the alert for an inbound message. The chat
// engine appends the message itself via its own subscription; the
// dispatcher suppresses the alert when the conversation is already open.
func (s *Session) handleMessageEvent(ev transport.Event) {
	msg, ok := ev.(transport.MessageReceived)
	if !ok || msg.SenderID == s.identity.UserID {
		return
	}

	body := msg.Body
	if len(body) > previewLimit {
		body = body[:previewLimit] + "…"
	}

	s.dispatcher.Enqueue(notify.Alert{
		Kind:           notify.KindMessage,
		ConversationID: msg.ConversationID,
		Title:          "New message",
		Body:           body,
		Sound:          notify.SoundMessage,
	})
}

func (s *Session) watchAsync(ctx context.Context, orderID string) {
	// Joining from an event handler must not block the reader goroutine.
	go func() {
		_ = s.WatchOrder(ctx, orderID)
	}()
}

func statusLine(e transport.OrderUpdated) string {
	// A one-sided confirmation keeps the status at ready; that nuance
	// matters more to the reader than the unchanged status string.
	if e.SellerConfirmed && !e.BuyerConfirmed {
		return "Seller marked the delivery done"
	}
	if e.BuyerConfirmed && !e.SellerConfirmed {
		return "Buyer confirmed receipt"
	}

	switch order.Status(e.Status) {
	case order.StatusConfirmed:
		return "Seller accepted the order"
	case order.StatusReady:
		return "Order is ready"
	case order.StatusCompleted:
		return "Order completed"
	default:
		return fmt.Sprintf("Order is now %s", e.Status)
	}
}
