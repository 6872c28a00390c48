package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"pasarlive-client/internal/metrics"
)

// wsServer is a minimal websocket peer recording every frame it receives.
type wsServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  []*websocket.Conn
	frames []envelope
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.mu.Lock()
			s.frames = append(s.frames, env)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *wsServer) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *wsServer) frameAt(i int) envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[i]
}

// push sends an event frame to the most recent connection.
func (s *wsServer) push(t *testing.T, env envelope) {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	assert.NoError(t, conn.WriteJSON(env))
}

// dropConns closes every server-side connection to force a client reconnect.
func (s *wsServer) dropConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	data, err := json.Marshal(v)
	assert.NoError(t, err)
	return data
}

func TestConnect(t *testing.T) {
	s := newWSServer(t)
	c := New(Options{URL: s.url(), Token: "tok"})
	defer c.Close()

	ctx := context.Background()

	t.Run("Establishes connection", func(t *testing.T) {
		assert.NoError(t, c.Connect(ctx))
		assert.Equal(t, StateConnected, c.State())
		assert.Equal(t, 1, s.connCount())
	})

	t.Run("Idempotent while connected", func(t *testing.T) {
		assert.NoError(t, c.Connect(ctx))
		assert.Equal(t, 1, s.connCount())
	})
}

func TestSubscribeAndDispatch(t *testing.T) {
	s := newWSServer(t)
	counters := &metrics.SessionCounters{}
	c := New(Options{URL: s.url(), Token: "tok", Counters: counters})
	defer c.Close()

	ctx := context.Background()
	assert.NoError(t, c.Connect(ctx))

	received := make(chan Event, 4)
	unsub := c.Subscribe(EventMessageReceived, func(ev Event) {
		received <- ev
	})

	assert.NoError(t, c.Join(ctx, "order-1"))
	assert.Eventually(t, func() bool { return s.frameCount() >= 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, eventJoin, s.frameAt(0).Event)
	assert.Equal(t, "order-1", s.frameAt(0).Room)

	t.Run("Typed event delivered", func(t *testing.T) {
		s.push(t, envelope{
			Event: string(EventMessageReceived),
			Room:  "order-1",
			Data: mustRaw(t, MessageReceived{
				ConversationID: "order-1",
				MessageID:      "msg-9",
				SenderID:       "user-2",
				Body:           "sudah dikirim ya",
			}),
		})

		select {
		case ev := <-received:
			msg, ok := ev.(MessageReceived)
			assert.True(t, ok)
			assert.Equal(t, "order-1", msg.ConversationID)
			assert.Equal(t, "msg-9", msg.MessageID)
			assert.Equal(t, "sudah dikirim ya", msg.Body)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	})

	t.Run("Unknown event dropped", func(t *testing.T) {
		s.push(t, envelope{Event: "mystery_event"})
		s.push(t, envelope{
			Event: string(EventMessageReceived),
			Data:  mustRaw(t, MessageReceived{MessageID: "msg-10"}),
		})

		select {
		case ev := <-received:
			msg := ev.(MessageReceived)
			assert.Equal(t, "msg-10", msg.MessageID)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
		assert.Equal(t, uint64(1), counters.EventsDropped.Load())
	})

	t.Run("Unsubscribe stops delivery", func(t *testing.T) {
		unsub()
		s.push(t, envelope{
			Event: string(EventMessageReceived),
			Data:  mustRaw(t, MessageReceived{MessageID: "msg-11"}),
		})

		select {
		case <-received:
			t.Fatal("handler fired after unsubscribe")
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func TestEmit(t *testing.T) {
	t.Run("Fails when disconnected", func(t *testing.T) {
		c := New(Options{URL: "ws://127.0.0.1:0", Token: "tok"})
		defer c.Close()

		err := c.Emit(context.Background(), "order-1", Typing{ConversationID: "order-1", Active: true})
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("Writes envelope with room and payload", func(t *testing.T) {
		s := newWSServer(t)
		c := New(Options{URL: s.url(), Token: "tok"})
		defer c.Close()

		ctx := context.Background()
		assert.NoError(t, c.Connect(ctx))
		assert.NoError(t, c.Emit(ctx, "order-1", Typing{ConversationID: "order-1", UserID: "user-1", Active: true}))

		assert.Eventually(t, func() bool { return s.frameCount() >= 1 }, time.Second, 10*time.Millisecond)
		frame := s.frameAt(0)
		assert.Equal(t, string(EventTyping), frame.Event)
		assert.Equal(t, "order-1", frame.Room)

		var payload Typing
		assert.NoError(t, json.Unmarshal(frame.Data, &payload))
		assert.True(t, payload.Active)
		assert.Equal(t, "user-1", payload.UserID)
	})
}

func TestReconnect(t *testing.T) {
	s := newWSServer(t)
	counters := &metrics.SessionCounters{}
	c := New(Options{URL: s.url(), Token: "tok", Counters: counters})
	defer c.Close()

	ctx := context.Background()
	assert.NoError(t, c.Connect(ctx))
	assert.NoError(t, c.Join(ctx, "order-1"))
	assert.Eventually(t, func() bool { return s.frameCount() >= 1 }, time.Second, 10*time.Millisecond)

	hookFired := make(chan struct{}, 1)
	c.OnReconnect(func() {
		hookFired <- struct{}{}
	})

	s.dropConns()

	t.Run("Redials and rejoins rooms", func(t *testing.T) {
		assert.Eventually(t, func() bool { return s.connCount() >= 2 }, 5*time.Second, 20*time.Millisecond)
		assert.Eventually(t, func() bool {
			for i := 0; i < s.frameCount(); i++ {
				// A second join frame proves the rejoin went out on the new
				// connection.
				if i > 0 && s.frameAt(i).Event == eventJoin && s.frameAt(i).Room == "order-1" {
					return true
				}
			}
			return false
		}, 5*time.Second, 20*time.Millisecond)
		assert.Equal(t, StateConnected, c.State())
	})

	t.Run("Reconnect hook fires", func(t *testing.T) {
		select {
		case <-hookFired:
		case <-time.After(5 * time.Second):
			t.Fatal("reconnect hook not invoked")
		}
		assert.Equal(t, uint64(1), counters.Reconnects.Load())
	})
}

func TestClose(t *testing.T) {
	s := newWSServer(t)
	c := New(Options{URL: s.url(), Token: "tok"})

	ctx := context.Background()
	assert.NoError(t, c.Connect(ctx))
	assert.NoError(t, c.Close())

	t.Run("State is closed", func(t *testing.T) {
		assert.Equal(t, StateClosed, c.State())
	})

	t.Run("Connect after close fails", func(t *testing.T) {
		assert.ErrorIs(t, c.Connect(ctx), ErrClosed)
	})

	t.Run("No reconnect after close", func(t *testing.T) {
		time.Sleep(300 * time.Millisecond)
		assert.Equal(t, 1, s.connCount())
	})

	t.Run("Close is idempotent", func(t *testing.T) {
		assert.NoError(t, c.Close())
	})
}

func TestHandlerPanicIsolation(t *testing.T) {
	s := newWSServer(t)
	c := New(Options{URL: s.url(), Token: "tok"})
	defer c.Close()

	ctx := context.Background()
	assert.NoError(t, c.Connect(ctx))

	received := make(chan Event, 2)
	c.Subscribe(EventUserOnline, func(ev Event) {
		panic("boom")
	})
	c.Subscribe(EventUserOnline, func(ev Event) {
		received <- ev
	})

	s.push(t, envelope{Event: string(EventUserOnline), Data: mustRaw(t, UserOnline{UserID: "user-3"})})
	s.push(t, envelope{Event: string(EventUserOnline), Data: mustRaw(t, UserOnline{UserID: "user-4"})})

	for _, want := range []string{"user-3", "user-4"} {
		select {
		case ev := <-received:
			assert.Equal(t, want, ev.(UserOnline).UserID)
		case <-time.After(time.Second):
			t.Fatal("sibling handler starved after panic")
		}
	}
}
