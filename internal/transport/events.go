package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventName identifies the kind of a realtime event on the wire.
type EventName string

const (
	EventOrderNew        EventName = "order:new"
	EventOrderUpdated    EventName = "order:updated"
	EventOrderCancelled  EventName = "order:cancelled"
	EventMessageReceived EventName = "message_received"
	EventMessageRead     EventName = "message_read_receipt"
	EventUserOnline      EventName = "user:online"
	EventUserOffline     EventName = "user:offline"
	EventInitialOnline   EventName = "initial_online_users"
	EventTyping          EventName = "typing"
	EventPresenceRequest EventName = "presence:request"
)

// Room membership control frames. Never dispatched to subscribers.
const (
	eventJoin  = "join"
	eventLeave = "leave"
)

var ErrUnknownEvent = errors.New("unknown event name")

// Event is a realtime event. The set of implementations is closed: every
// inbound frame decodes into exactly one of the types below, so a handler
// switching on the concrete type covers every kind at compile time.
type Event interface {
	Name() EventName
	isEvent()
}

type OrderNew struct {
	OrderID  string  `json:"order_id"`
	BuyerID  string  `json:"buyer_id"`
	SellerID string  `json:"seller_id"`
	Total    float64 `json:"total"`
}

func (OrderNew) Name() EventName { return EventOrderNew }

type OrderUpdated struct {
	OrderID         string `json:"order_id"`
	Status          string `json:"status"`
	SellerConfirmed bool   `json:"seller_confirmed"`
	BuyerConfirmed  bool   `json:"buyer_confirmed"`
	DeliveryProof   string `json:"delivery_proof,omitempty"`
	ReceiptProof    string `json:"receipt_proof,omitempty"`
	ActorID         string `json:"actor_id"`
}

func (OrderUpdated) Name() EventName { return EventOrderUpdated }

type OrderCancelled struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

func (OrderCancelled) Name() EventName { return EventOrderCancelled }

type MessageReceived struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	Body           string    `json:"body"`
	Attachment     string    `json:"attachment,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (MessageReceived) Name() EventName { return EventMessageReceived }

type MessageRead struct {
	ConversationID string `json:"conversation_id"`
	ReaderID       string `json:"reader_id"`
}

func (MessageRead) Name() EventName { return EventMessageRead }

type UserOnline struct {
	UserID string `json:"user_id"`
}

func (UserOnline) Name() EventName { return EventUserOnline }

type UserOffline struct {
	UserID string `json:"user_id"`
}

func (UserOffline) Name() EventName { return EventUserOffline }

type InitialOnlineUsers struct {
	UserIDs []string `json:"user_ids"`
}

func (InitialOnlineUsers) Name() EventName { return EventInitialOnline }

type Typing struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Active         bool   `json:"typing"`
}

func (Typing) Name() EventName { return EventTyping }

// PresenceRequest asks the server to resend the online-users snapshot.
// Emitted after connect and after every reconnect.
type PresenceRequest struct{}

func (PresenceRequest) Name() EventName { return EventPresenceRequest }

func (OrderNew) isEvent()           {}
func (OrderUpdated) isEvent()       {}
func (OrderCancelled) isEvent()     {}
func (MessageReceived) isEvent()    {}
func (MessageRead) isEvent()        {}
func (UserOnline) isEvent()         {}
func (UserOffline) isEvent()        {}
func (InitialOnlineUsers) isEvent() {}
func (Typing) isEvent()             {}
func (PresenceRequest) isEvent()    {}

// envelope is the wire frame: an event name, an optional room scope and
// the event payload.
type envelope struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func decodeEvent(name EventName, data json.RawMessage) (Event, error) {
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	var (
		ev  Event
		err error
	)
	switch name {
	case EventOrderNew:
		var p OrderNew
		err = json.Unmarshal(data, &p)
		ev = p
	case EventOrderUpdated:
		var p OrderUpdated
		err = json.Unmarshal(data, &p)
		ev = p
	case EventOrderCancelled:
		var p OrderCancelled
		err = json.Unmarshal(data, &p)
		ev = p
	case EventMessageReceived:
		var p MessageReceived
		err = json.Unmarshal(data, &p)
		ev = p
	case EventMessageRead:
		var p MessageRead
		err = json.Unmarshal(data, &p)
		ev = p
	case EventUserOnline:
		var p UserOnline
		err = json.Unmarshal(data, &p)
		ev = p
	case EventUserOffline:
		var p UserOffline
		err = json.Unmarshal(data, &p)
		ev = p
	case EventInitialOnline:
		var p InitialOnlineUsers
		err = json.Unmarshal(data, &p)
		ev = p
	case EventTyping:
		var p Typing
		err = json.Unmarshal(data, &p)
		ev = p
	case EventPresenceRequest:
		ev = PresenceRequest{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", name, err)
	}
	return ev, nil
}
