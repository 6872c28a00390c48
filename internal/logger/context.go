package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const sessionIDKey ctxKey = "session_id"
const conversationIDKey ctxKey = "conversation_id"

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

func SessionIDFrom(ctx context.Context) string {
	if v := ctx.Value(sessionIDKey); v != nil {
		return v.(string)
	}
	return ""
}

func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationIDKey, conversationID)
}

func ConversationIDFrom(ctx context.Context) string {
	if v := ctx.Value(conversationIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// FromCtx returns logger with session_id and conversation_id automatically added
func FromCtx(ctx context.Context) *zap.Logger {
	l := L()
	if sid := SessionIDFrom(ctx); sid != "" {
		l = l.With(zap.String("session_id", sid))
	}
	if cid := ConversationIDFrom(ctx); cid != "" {
		l = l.With(zap.String("conversation_id", cid))
	}
	return l
}
