package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"pasarlive-client/internal/logger"
	"pasarlive-client/internal/metrics"
)

type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = errors.New("transport is not connected")
	ErrClosed       = errors.New("transport is closed")
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 512 * 1024

	reconnectBase = 500 * time.Millisecond
	reconnectCap  = 15 * time.Second
)

type Options struct {
	URL      string
	Token    string
	Counters *metrics.SessionCounters
}

// Client is a room-scoped realtime event channel over a websocket.
// Inbound events are fanned out to subscribers by event name; room scoping
// of delivery is the server's responsibility. The client reconnects on its
// own after a dropped connection and rejoins every room it was in.
type Client struct {
	url      string
	token    string
	dialer   *websocket.Dialer
	counters *metrics.SessionCounters

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	connectMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	state  State
	rooms  map[string]struct{}
	closed bool

	writeMu sync.Mutex

	subMu     sync.Mutex
	subs      map[EventName]map[int]func(Event)
	nextSubID int
	hooks     map[int]func()
}

func New(opts Options) *Client {
	if opts.Counters == nil {
		opts.Counters = &metrics.SessionCounters{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:        opts.URL,
		token:      opts.Token,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		counters:   opts.Counters,
		lifeCtx:    ctx,
		lifeCancel: cancel,
		state:      StateDisconnected,
		rooms:      make(map[string]struct{}),
		subs:       make(map[EventName]map[int]func(Event)),
		hooks:      make(map[int]func()),
	}
}

// Connect establishes the channel. Calling it while already connected or
// while a reconnect is in flight is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected || c.state == StateReconnecting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}
	if !c.attach(conn) {
		return ErrClosed
	}

	logger.FromCtx(ctx).Info("transport connected", zap.String("layer", "transport"), zap.String("url", c.url))
	return nil
}

// Close tears the channel down permanently. No reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.lifeCancel()

	if conn != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Join scopes delivery to a room. Fire-and-forget: when the channel is
// down the room is recorded and joined on the next (re)connect.
func (c *Client) Join(ctx context.Context, room string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.rooms[room] = struct{}{}
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.writeEnvelope(envelope{Event: eventJoin, Room: room})
}

// Leave drops a room. Best-effort when the channel is down.
func (c *Client) Leave(ctx context.Context, room string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	delete(c.rooms, room)
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.writeEnvelope(envelope{Event: eventLeave, Room: room})
}

// Emit sends an event scoped to room. An empty room addresses the session
// channel itself (presence requests). Fails immediately when disconnected;
// there is no outbound queue across reconnects.
func (c *Client) Emit(ctx context.Context, room string, ev Event) error {
	c.mu.Lock()
	connected := c.state == StateConnected && c.conn != nil
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", ev.Name(), err)
	}
	return c.writeEnvelope(envelope{Event: string(ev.Name()), Room: room, Data: data})
}

// Subscribe registers a handler for one event name and returns its
// unsubscribe function. Handlers for the same connection run sequentially
// on the reader goroutine, so they must not block; a panicking handler is
// isolated and does not affect siblings.
func (c *Client) Subscribe(name EventName, handler func(Event)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.subs[name] == nil {
		c.subs[name] = make(map[int]func(Event))
	}
	id := c.nextSubID
	c.nextSubID++
	c.subs[name][id] = handler

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs[name], id)
	}
}

// OnReconnect registers a hook invoked after every successful reconnect,
// once rooms have been rejoined. Returns its unregister function.
func (c *Client) OnReconnect(hook func()) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.hooks[id] = hook

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.hooks, id)
	}
}

// ----------------- connection internals -----------------

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}

// attach installs a freshly dialed connection, starts its loops and
// rejoins recorded rooms. Returns false when the client was closed while
// the dial was in flight.
func (c *Client) attach(conn *websocket.Conn) bool {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.state = StateConnected
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	for _, room := range rooms {
		if err := c.writeEnvelope(envelope{Event: eventJoin, Room: room}); err != nil {
			logger.L().Warn("room rejoin failed", zap.String("layer", "transport"), zap.String("room", room), zap.Error(err))
		}
	}
	return true
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.lifeCtx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn == conn
			c.mu.Unlock()
			if !current {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.counters.EventsDropped.Inc()
		logger.L().Debug("malformed frame dropped", zap.String("layer", "transport"), zap.Error(err))
		return
	}

	ev, err := decodeEvent(EventName(env.Event), env.Data)
	if err != nil {
		c.counters.EventsDropped.Inc()
		logger.L().Debug("event dropped", zap.String("layer", "transport"), zap.String("event", env.Event), zap.Error(err))
		return
	}

	c.counters.EventsIn.Inc()
	c.dispatch(ev)
}

func (c *Client) dispatch(ev Event) {
	c.subMu.Lock()
	handlers := make([]func(Event), 0, len(c.subs[ev.Name()]))
	for _, h := range c.subs[ev.Name()] {
		handlers = append(handlers, h)
	}
	c.subMu.Unlock()

	for _, h := range handlers {
		c.invoke(h, ev)
	}
}

func (c *Client) invoke(h func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("event handler panic", zap.String("layer", "transport"), zap.String("event", string(ev.Name())), zap.Any("panic", r))
		}
	}()
	h(ev)
}

func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A stale reader from a connection already replaced.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	c.mu.Unlock()

	_ = conn.Close()
	logger.L().Warn("transport connection lost", zap.String("layer", "transport"), zap.Error(cause))

	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	backoff := retry.WithCappedDuration(reconnectCap, retry.NewFibonacci(reconnectBase))

	err := retry.Do(c.lifeCtx, backoff, func(ctx context.Context) error {
		conn, err := c.dial(ctx)
		if err != nil {
			logger.L().Debug("reconnect attempt failed", zap.String("layer", "transport"), zap.Error(err))
			return retry.RetryableError(err)
		}
		if !c.attach(conn) {
			return ErrClosed
		}
		return nil
	})
	if err != nil {
		// Closed or lifetime context cancelled.
		return
	}

	c.counters.Reconnects.Inc()
	logger.L().Info("transport reconnected", zap.String("layer", "transport"))

	c.subMu.Lock()
	hooks := make([]func(), 0, len(c.hooks))
	for _, h := range c.hooks {
		hooks = append(hooks, h)
	}
	c.subMu.Unlock()

	for _, h := range hooks {
		c.invokeHook(h)
	}
}

func (c *Client) invokeHook(h func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("reconnect hook panic", zap.String("layer", "transport"), zap.Any("panic", r))
		}
	}()
	h()
}

func (c *Client) writeEnvelope(env envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("transport write: %w", err)
	}
	return nil
}
