package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"pasarlive-client/internal/logger"
	"pasarlive-client/internal/transport"
)

const defaultSnapshotWait = 10 * time.Second

// Channel is the slice of the realtime client the tracker needs.
type Channel interface {
	Subscribe(name transport.EventName, handler func(transport.Event)) func()
	Emit(ctx context.Context, room string, ev transport.Event) error
	OnReconnect(hook func()) func()
}

// Tracker maintains the set of participants currently believed online.
// The set is rebuilt from a bulk snapshot after every (re)connect and kept
// current by incremental online/offline events. Purely in-memory and
// best-effort: a missed event is corrected by the next snapshot.
type Tracker struct {
	ch           Channel
	snapshotWait time.Duration

	mu       sync.Mutex
	online   map[string]struct{}
	watchers map[string]map[int]func(bool)
	nextID   int
	started  bool
	unsubs   []func()

	ready     chan struct{}
	readyOnce sync.Once
}

func NewTracker(ch Channel) *Tracker {
	return &Tracker{
		ch:           ch,
		snapshotWait: defaultSnapshotWait,
		online:       make(map[string]struct{}),
		watchers:     make(map[string]map[int]func(bool)),
		ready:        make(chan struct{}),
	}
}

// Start subscribes to presence events and requests the initial snapshot.
// Safe to call once per tracker; further calls are no-ops.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	unsubs := []func(){
		t.ch.Subscribe(transport.EventInitialOnline, func(ev transport.Event) {
			if snap, ok := ev.(transport.InitialOnlineUsers); ok {
				t.applySnapshot(snap.UserIDs)
			}
		}),
		t.ch.Subscribe(transport.EventUserOnline, func(ev transport.Event) {
			if p, ok := ev.(transport.UserOnline); ok {
				t.setOnline(p.UserID, true)
			}
		}),
		t.ch.Subscribe(transport.EventUserOffline, func(ev transport.Event) {
			if p, ok := ev.(transport.UserOffline); ok {
				t.setOnline(p.UserID, false)
			}
		}),
		t.ch.OnReconnect(func() {
			t.requestSnapshot(context.Background())
		}),
	}

	t.mu.Lock()
	t.unsubs = unsubs
	t.mu.Unlock()

	t.requestSnapshot(ctx)
}

// Stop unsubscribes from the channel and clears the online set.
func (t *Tracker) Stop() {
	t.mu.Lock()
	unsubs := t.unsubs
	t.unsubs = nil
	t.started = false
	t.online = make(map[string]struct{})
	t.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// WaitReady blocks until the first snapshot arrived, the context is done,
// or the bounded wait elapses. Returns true only when the snapshot is in.
// Callers render "presence unknown" on false rather than failing.
func (t *Tracker) WaitReady(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, t.snapshotWait)
	defer cancel()

	select {
	case <-t.ready:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Tracker) IsOnline(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[id]
	return ok
}

// Online returns the ids currently believed online, sorted.
func (t *Tracker) Online() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.online))
	for id := range t.online {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// OnChange registers a callback fired whenever the given participant's
// online status flips. Returns the unsubscribe function.
func (t *Tracker) OnChange(id string, fn func(online bool)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.watchers[id] == nil {
		t.watchers[id] = make(map[int]func(bool))
	}
	watchID := t.nextID
	t.nextID++
	t.watchers[id][watchID] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.watchers[id], watchID)
	}
}

type change struct {
	fn     func(bool)
	online bool
}

func (t *Tracker) requestSnapshot(ctx context.Context) {
	if err := t.ch.Emit(ctx, "", transport.PresenceRequest{}); err != nil {
		// Best-effort: a failed request only delays the snapshot.
		logger.FromCtx(ctx).Debug("presence snapshot request failed", zap.String("layer", "presence"), zap.Error(err))
	}
}

func (t *Tracker) applySnapshot(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}

	t.mu.Lock()
	prev := t.online
	t.online = next

	var changes []change
	for id, fns := range t.watchers {
		_, was := prev[id]
		_, is := next[id]
		if was == is {
			continue
		}
		for _, fn := range fns {
			changes = append(changes, change{fn: fn, online: is})
		}
	}
	t.mu.Unlock()

	t.readyOnce.Do(func() { close(t.ready) })

	for _, c := range changes {
		safeInvoke(c.fn, c.online)
	}
}

func (t *Tracker) setOnline(id string, online bool) {
	t.mu.Lock()
	_, was := t.online[id]
	if online == was {
		t.mu.Unlock()
		return
	}
	if online {
		t.online[id] = struct{}{}
	} else {
		delete(t.online, id)
	}
	fns := make([]func(bool), 0, len(t.watchers[id]))
	for _, fn := range t.watchers[id] {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		safeInvoke(fn, online)
	}
}

func safeInvoke(fn func(bool), online bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("presence callback panic", zap.String("layer", "presence"), zap.Any("panic", r))
		}
	}()
	fn(online)
}
