package api

import (
	"context"
	"fmt"
	"net/url"

	"pasarlive-client/internal/chat"
)

// ListMessages returns one page in ascending chronological order. Offset
// counts from the oldest message; the page carries the has-more flag and
// the thread total for pagination.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit, offset int) (*chat.Page, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	q.Set("offset", fmt.Sprint(offset))

	var page chat.Page
	found, err := c.get(ctx, "/api/conversations/"+url.PathEscape(conversationID)+"/messages?"+q.Encode(), &page)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &NotFoundError{Resource: "conversation", ID: conversationID}
	}

	for _, m := range page.Messages {
		m.State = chat.StateAcknowledged
	}
	return &page, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, body, attachmentRef string) (*chat.Message, error) {
	payload := map[string]string{"body": body}
	if attachmentRef != "" {
		payload["attachment"] = attachmentRef
	}

	var msg chat.Message
	if err := c.post(ctx, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", payload, &msg); err != nil {
		return nil, err
	}
	msg.State = chat.StateAcknowledged
	return &msg, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.post(ctx, "/api/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
}

func (c *Client) ListConversations(ctx context.Context) ([]*chat.Conversation, error) {
	var convs []*chat.Conversation
	if _, err := c.get(ctx, "/api/conversations", &convs); err != nil {
		return nil, err
	}
	return convs, nil
}
