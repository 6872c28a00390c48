package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"pasarlive-client/internal/auth"
	"pasarlive-client/internal/chat"
	"pasarlive-client/internal/config"
	"pasarlive-client/internal/logger"
	"pasarlive-client/internal/metrics"
	"pasarlive-client/internal/notify"
	"pasarlive-client/internal/order"
	"pasarlive-client/internal/presence"
	"pasarlive-client/internal/transport"
)

// PlatformAPI is everything the session consumes from the hosted backend.
type PlatformAPI interface {
	order.PersistAPI
	chat.Store
	UploadProof(ctx context.Context, blob []byte, contentType string) (string, error)
}

// Channel is the realtime event channel the session runs on.
type Channel interface {
	Connect(ctx context.Context) error
	Close() error
	Join(ctx context.Context, room string) error
	Leave(ctx context.Context, room string) error
	Emit(ctx context.Context, room string, ev transport.Event) error
	Subscribe(name transport.EventName, handler func(transport.Event)) func()
	OnReconnect(hook func()) func()
}

type Options struct {
	Config   *config.Config
	Identity *auth.Identity
	API      PlatformAPI
	Channel  Channel
	Renderer notify.Renderer
	Sound    notify.SoundPlayer
	Counters *metrics.SessionCounters
}

// Session is the per-login composition root. It owns one instance of
// every component and all their subscriptions; nothing in this module
// keeps state at package level.
type Session struct {
	cfg      *config.Config
	identity *auth.Identity
	api      PlatformAPI
	ch       Channel
	counters *metrics.SessionCounters

	presence   *presence.Tracker
	orders     order.Manager
	chat       *chat.Engine
	dispatcher *notify.Dispatcher

	mu      sync.Mutex
	watched map[string]struct{}
	unsubs  []func()
	started bool
	closed  bool
}

func New(opts Options) *Session {
	if opts.Counters == nil {
		opts.Counters = &metrics.SessionCounters{}
	}

	engine := chat.NewEngine(chat.Options{
		Store:    opts.API,
		Channel:  opts.Channel,
		SelfID:   opts.Identity.UserID,
		Counters: opts.Counters,
		PageSize: opts.Config.PageSize,
	})

	dispatcher := notify.NewDispatcher(notify.Options{
		Renderer:         opts.Renderer,
		Sound:            opts.Sound,
		Counters:         opts.Counters,
		Mute:             opts.Config.Mute,
		OpenConversation: engine.OpenConversation,
	})

	return &Session{
		cfg:        opts.Config,
		identity:   opts.Identity,
		api:        opts.API,
		ch:         opts.Channel,
		counters:   opts.Counters,
		presence:   presence.NewTracker(opts.Channel),
		orders:     order.NewManager(opts.API, opts.Channel, opts.Identity),
		chat:       engine,
		dispatcher: dispatcher,
		watched:    make(map[string]struct{}),
	}
}

// Start connects the channel, starts every component, waits (bounded) for
// the first presence snapshot and joins the rooms of in-flight orders.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session already started or closed")
	}
	s.started = true
	s.mu.Unlock()

	log := logger.FromCtx(ctx).With(zap.String("layer", "session"), zap.String("user_id", s.identity.UserID))

	// 1. Channel up
	if err := s.ch.Connect(ctx); err != nil {
		return fmt.Errorf("session start: %w", err)
	}

	// 2. Components
	s.presence.Start(ctx)
	s.chat.Start(ctx)
	s.dispatcher.Start()

	// 3. Inbound wiring
	unsubs := []func(){
		s.ch.Subscribe(transport.EventOrderNew, s.handleOrderEvent),
		s.ch.Subscribe(transport.EventOrderUpdated, s.handleOrderEvent),
		s.ch.Subscribe(transport.EventOrderCancelled, s.handleOrderEvent),
		s.ch.Subscribe(transport.EventMessageReceived, s.handleMessageEvent),
	}
	s.mu.Lock()
	s.unsubs = unsubs
	s.mu.Unlock()

	// 4. Presence is best-effort: render starts either way after the wait
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.PresenceTimeout)
	if !s.presence.WaitReady(waitCtx) {
		log.Warn("presence snapshot timed out, treating participants as offline")
	}
	cancel()

	// 5. Join the rooms of every order still in flight
	orders, err := s.orders.List(ctx, order.ListFilter{})
	if err != nil {
		return fmt.Errorf("list active orders: %w", err)
	}
	for _, ord := range orders {
		if ord.Status.Terminal() {
			continue
		}
		if err := s.WatchOrder(ctx, ord.ID); err != nil {
			log.Warn("room join failed", zap.String("order_id", ord.ID), zap.Error(err))
		}
	}

	log.Info("session started", zap.Int("orders_watched", len(s.Watched())))
	return nil
}

// WatchOrder joins the order's room so lifecycle and message events for it
// reach this session.
func (s *Session) WatchOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return transport.ErrClosed
	}
	if _, ok := s.watched[orderID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.watched[orderID] = struct{}{}
	s.mu.Unlock()

	return s.ch.Join(ctx, orderID)
}

// UnwatchOrder leaves the order's room.
func (s *Session) UnwatchOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	if _, ok := s.watched[orderID]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.watched, orderID)
	s.mu.Unlock()

	return s.ch.Leave(ctx, orderID)
}

// Watched returns the ids of the orders whose rooms this session is in.
func (s *Session) Watched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.watched))
	for id := range s.watched {
		ids = append(ids, id)
	}
	return ids
}

// Close tears the session down: typing flushed, every subscription
// released, rooms left, dispatcher stopped, channel closed. Safe to call
// twice.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	watched := make([]string, 0, len(s.watched))
	for id := range s.watched {
		watched = append(watched, id)
	}
	s.watched = make(map[string]struct{})
	s.mu.Unlock()

	s.chat.Stop()
	for _, unsub := range unsubs {
		unsub()
	}

	ctx := context.Background()
	for _, room := range watched {
		if err := s.ch.Leave(ctx, room); err != nil {
			logger.L().Debug("room leave on close failed", zap.String("layer", "session"), zap.String("room", room), zap.Error(err))
		}
	}

	s.dispatcher.Stop()
	s.presence.Stop()

	err := s.ch.Close()
	logger.L().Info("session closed", zap.String("layer", "session"), zap.Any("counters", s.counters.Snapshot()))
	return err
}

// Orders exposes the lifecycle manager.
func (s *Session) Orders() order.Manager { return s.orders }

// Chat exposes the messaging engine.
func (s *Session) Chat() *chat.Engine { return s.chat }

// Presence exposes the presence tracker.
func (s *Session) Presence() *presence.Tracker { return s.presence }

// Notifications exposes the dispatcher, for direct enqueueing.
func (s *Session) Notifications() *notify.Dispatcher { return s.dispatcher }

// Counters returns the live session counters.
func (s *Session) Counters() *metrics.SessionCounters { return s.counters }
