package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pasarlive-client/internal/logger"
	"pasarlive-client/internal/transport"
)

const defaultTypingIdle = 3 * time.Second

// typingState tracks the outbound indicator for one conversation: one
// start per burst of keystrokes, one stop when the idle timer fires.
type typingState struct {
	active bool
	timer  *time.Timer
}

// KeyPressed debounces the typing indicator. The first keystroke of a
// burst emits start-typing; every keystroke re-arms the idle timer; the
// timer's expiry emits stop-typing. Never two starts without a stop in
// between.
func (e *Engine) KeyPressed(ctx context.Context, conversationID string) {
	e.mu.Lock()
	st := e.typing[conversationID]
	if st == nil {
		st = &typingState{}
		e.typing[conversationID] = st
	}
	starting := !st.active
	st.active = true
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(e.typingIdle, func() {
		e.FlushTyping(context.Background(), conversationID)
	})
	e.mu.Unlock()

	if starting {
		e.emitTyping(ctx, conversationID, true)
	}
}

// FlushTyping force-ends the indicator: called on the idle timer, on
// input blur, on send and on conversation close.
func (e *Engine) FlushTyping(ctx context.Context, conversationID string) {
	e.mu.Lock()
	st := e.typing[conversationID]
	if st == nil || !st.active {
		e.mu.Unlock()
		return
	}
	st.active = false
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	e.mu.Unlock()

	e.emitTyping(ctx, conversationID, false)
}

// FlushAllTyping ends every live indicator; used on session teardown.
func (e *Engine) FlushAllTyping(ctx context.Context) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.typing))
	for id, st := range e.typing {
		if st.active {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.FlushTyping(ctx, id)
	}
}

// emitTyping is best-effort: an indicator that fails to send produces no
// user-visible error and is never retried.
func (e *Engine) emitTyping(ctx context.Context, conversationID string, active bool) {
	ev := transport.Typing{ConversationID: conversationID, UserID: e.selfID, Active: active}
	if err := e.ch.Emit(ctx, conversationID, ev); err != nil {
		logger.FromCtx(ctx).Debug("typing signal failed",
			zap.String("layer", "chat"),
			zap.String("conversation_id", conversationID),
			zap.Bool("active", active),
			zap.Error(err),
		)
	}
}
