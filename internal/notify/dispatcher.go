package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pasarlive-client/internal/logger"
	"pasarlive-client/internal/metrics"
)

type Kind string

const (
	KindMessage      Kind = "message"
	KindOrder        Kind = "order"
	KindCancellation Kind = "cancellation"
)

type Sound string

const (
	SoundMessage Sound = "message"
	SoundOrder   Sound = "order"
	SoundAlert   Sound = "alert"
)

// Alert is one user-facing notification.
type Alert struct {
	Kind           Kind
	ConversationID string
	Title          string
	Body           string
	Sound          Sound
}

// Renderer shows an alert. The toast/DOM implementation is external.
type Renderer interface {
	Render(alert Alert)
}

// SoundPlayer plays the audible half of an alert.
type SoundPlayer interface {
	Play(sound Sound)
}

const (
	defaultInterval = 500 * time.Millisecond
	queueDepth      = 64
)

type Options struct {
	Renderer Renderer
	Sound    SoundPlayer
	Counters *metrics.SessionCounters

	// OpenConversation reports the conversation the user is viewing.
	// Alerts for it are suppressed instead of shown.
	OpenConversation func() string

	// OnSuppressed runs for every suppressed alert, so the open view can
	// absorb the event directly.
	OnSuppressed func(alert Alert)

	Interval time.Duration
	Mute     bool
}

// Dispatcher serializes alerts through a FIFO queue paced at one alert
// per interval, so a burst of events never overlaps toasts or sounds.
type Dispatcher struct {
	renderer Renderer
	sound    SoundPlayer
	counters *metrics.SessionCounters
	openConv func() string
	onSupp   func(Alert)
	limiter  *rate.Limiter
	mute     bool

	queue  chan Alert
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.Counters == nil {
		opts.Counters = &metrics.SessionCounters{}
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.OpenConversation == nil {
		opts.OpenConversation = func() string { return "" }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		renderer: opts.Renderer,
		sound:    opts.Sound,
		counters: opts.Counters,
		openConv: opts.OpenConversation,
		onSupp:   opts.OnSuppressed,
		limiter:  rate.NewLimiter(rate.Every(opts.Interval), 1),
		mute:     opts.Mute,
		queue:    make(chan Alert, queueDepth),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the single drain goroutine. Further calls are no-ops.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.drain()
	})
}

// Stop ends delivery. Alerts still queued are dropped; an alert is
// transient by nature and worthless after teardown.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.cancel()
		d.wg.Wait()
	})
}

// Enqueue adds an alert to the queue. Never blocks: when the queue is
// full the alert is dropped with a log line rather than stalling an
// event handler.
func (d *Dispatcher) Enqueue(alert Alert) {
	select {
	case d.queue <- alert:
	default:
		logger.L().Warn("alert queue full, dropping",
			zap.String("layer", "notify"),
			zap.String("kind", string(alert.Kind)),
			zap.String("conversation_id", alert.ConversationID),
		)
	}
}

func (d *Dispatcher) drain() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case alert := <-d.queue:
			d.deliver(alert)
		}
	}
}

func (d *Dispatcher) deliver(alert Alert) {
	// Suppression is checked at delivery time: the user may have opened
	// the conversation while the alert sat in the queue.
	if alert.ConversationID != "" && alert.ConversationID == d.openConv() {
		d.counters.AlertsSuppressed.Inc()
		if d.onSupp != nil {
			d.onSupp(alert)
		}
		return
	}

	if err := d.limiter.Wait(d.ctx); err != nil {
		return
	}

	if d.renderer != nil {
		d.renderer.Render(alert)
	}
	if d.sound != nil && !d.mute && alert.Sound != "" {
		d.sound.Play(alert.Sound)
	}
	d.counters.AlertsShown.Inc()
}
