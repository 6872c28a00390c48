package chat

import (
	"strings"
	"time"
)

// MessageState is the two-phase write tag: a message is visible either as
// an optimistic local insert or as the server-acknowledged record, never
// both for the same logical send.
type MessageState string

const (
	StatePending      MessageState = "pending"
	StateAcknowledged MessageState = "acknowledged"
)

const tempIDPrefix = "tmp-"

type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	Body           string       `json:"body"`
	Attachment     string       `json:"attachment,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	Read           bool         `json:"read"`
	State          MessageState `json:"-"`
}

// Pending reports whether this entry is still awaiting its server id.
func (m *Message) Pending() bool {
	return m.State == StatePending
}

// Temp reports whether the id is a client-synthesized temporary one.
func Temp(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Conversation is the thread derived 1:1 from an order. It is never
// created separately; the id is the order id.
type Conversation struct {
	ID          string    `json:"id"`
	Unread      int       `json:"unread"`
	LastMessage string    `json:"last_message,omitempty"`
	LastAt      time.Time `json:"last_at,omitempty"`
}
