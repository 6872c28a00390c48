package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"pasarlive-client/internal/logger"
	"pasarlive-client/internal/metrics"
	"pasarlive-client/internal/transport"
)

const (
	defaultPageSize  = 50
	defaultCacheTTL  = 30 * time.Second
	defaultReadDelay = 1 * time.Second
	cacheSize        = 32
)

// Page is one slice of a conversation in ascending chronological order.
// Offset counts from the oldest message; HasMore reports newer messages
// beyond this page; Total is the full thread length at query time.
type Page struct {
	Messages []*Message `json:"messages"`
	HasMore  bool       `json:"has_more"`
	Total    int        `json:"total"`
}

// Store is the slice of the platform message API the engine consumes.
type Store interface {
	ListMessages(ctx context.Context, conversationID string, limit, offset int) (*Page, error)
	SendMessage(ctx context.Context, conversationID, body, attachmentRef string) (*Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	ListConversations(ctx context.Context) ([]*Conversation, error)
}

// Channel is the slice of the realtime client the engine needs.
type Channel interface {
	Subscribe(name transport.EventName, handler func(transport.Event)) func()
	Emit(ctx context.Context, room string, ev transport.Event) error
}

// View is the presentation binding. The engine never renders; it only
// tells the view to restore rejected input and to keep the scroll anchor
// steady across a prepend.
type View interface {
	ScrollHeight() int
	OffsetScroll(delta int)
	RestoreInput(text string)
}

type Options struct {
	Store    Store
	Channel  Channel
	SelfID   string
	Counters *metrics.SessionCounters

	PageSize   int
	CacheTTL   time.Duration
	TypingIdle time.Duration
	ReadDelay  time.Duration
}

// Engine owns the per-conversation message lists, the optimistic send
// pipeline and the unread bookkeeping for one session. All state lives on
// the instance; callbacks run outside the lock.
type Engine struct {
	store    Store
	ch       Channel
	selfID   string
	counters *metrics.SessionCounters

	pageSize   int
	typingIdle time.Duration
	readDelay  time.Duration

	cache *expirable.LRU[string, *Page]

	mu          sync.Mutex
	started     bool
	unsubs      []func()
	view        View
	open        string
	messages    map[string][]*Message
	firstOffset map[string]int
	seen        map[string]map[string]struct{}
	typing      map[string]*typingState
	unread      map[string]int
	total       int
	badgeSubs   map[int]func(int)
	typingSubs  map[int]func(conversationID, userID string, active bool)
	nextID      int
}

func NewEngine(opts Options) *Engine {
	if opts.Counters == nil {
		opts.Counters = &metrics.SessionCounters{}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.TypingIdle <= 0 {
		opts.TypingIdle = defaultTypingIdle
	}
	if opts.ReadDelay <= 0 {
		opts.ReadDelay = defaultReadDelay
	}

	return &Engine{
		store:       opts.Store,
		ch:          opts.Channel,
		selfID:      opts.SelfID,
		counters:    opts.Counters,
		pageSize:    opts.PageSize,
		typingIdle:  opts.TypingIdle,
		readDelay:   opts.ReadDelay,
		cache:       expirable.NewLRU[string, *Page](cacheSize, nil, opts.CacheTTL),
		messages:    make(map[string][]*Message),
		firstOffset: make(map[string]int),
		seen:        make(map[string]map[string]struct{}),
		typing:      make(map[string]*typingState),
		unread:      make(map[string]int),
		badgeSubs:   make(map[int]func(int)),
		typingSubs:  make(map[int]func(string, string, bool)),
	}
}

// Start subscribes to inbound message traffic. Further calls are no-ops.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	unsubs := []func(){
		e.ch.Subscribe(transport.EventMessageReceived, e.handleMessage),
		e.ch.Subscribe(transport.EventMessageRead, e.handleReadReceipt),
		e.ch.Subscribe(transport.EventTyping, e.handleTyping),
	}

	e.mu.Lock()
	e.unsubs = unsubs
	e.mu.Unlock()
}

// Stop flushes typing indicators and unsubscribes from the channel.
// Forgetting this leaks handlers that double-fire on the next session.
func (e *Engine) Stop() {
	e.FlushAllTyping(context.Background())

	e.mu.Lock()
	unsubs := e.unsubs
	e.unsubs = nil
	e.started = false
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// BindView attaches the presentation binding. Optional; a headless session
// runs without one.
func (e *Engine) BindView(v View) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.view = v
}

// Open makes a conversation the active view: loads the newest window,
// marks it read and re-queries both badges. Returns the visible messages.
func (e *Engine) Open(ctx context.Context, conversationID string) ([]*Message, error) {
	log := e.opLog(ctx, "Open", conversationID)

	// 1. Mark the conversation as the open one before the network calls,
	// so alerts arriving mid-load are already suppressed.
	e.mu.Lock()
	e.open = conversationID
	e.mu.Unlock()

	// 2. First page, served from the short-lived cache when fresh.
	page, err := e.loadFirstPage(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	// 3. Long threads open at the tail, not the beginning.
	offset := 0
	if page.HasMore {
		offset = page.Total - e.pageSize
		if offset < 0 {
			offset = 0
		}
		page, err = e.store.ListMessages(ctx, conversationID, e.pageSize, offset)
		if err != nil {
			return nil, err
		}
	}
	e.setWindow(conversationID, page.Messages, offset)

	// 4. Opening reads everything that was unread.
	if err := e.MarkRead(ctx, conversationID); err != nil {
		log.Warn("mark read on open failed", zap.Error(err))
	}

	return e.Messages(conversationID), nil
}

// Close ends the active view of a conversation. Typing is flushed so the
// other side never sees a stuck indicator.
func (e *Engine) Close(ctx context.Context, conversationID string) {
	e.FlushTyping(ctx, conversationID)

	e.mu.Lock()
	if e.open == conversationID {
		e.open = ""
	}
	e.mu.Unlock()
}

// OpenConversation returns the id of the currently open conversation, or
// the empty string. The notification dispatcher uses this to suppress
// alerts for the view the user is already looking at.
func (e *Engine) OpenConversation() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// Load fetches one page. Pages are ascending; offset counts from the
// oldest message. Only the offset-zero page is cached.
func (e *Engine) Load(ctx context.Context, conversationID string, limit, offset int) ([]*Message, bool, error) {
	if limit <= 0 {
		limit = e.pageSize
	}
	if offset == 0 && limit == e.pageSize {
		page, err := e.loadFirstPage(ctx, conversationID)
		if err != nil {
			return nil, false, err
		}
		return page.Messages, page.HasMore, nil
	}

	page, err := e.store.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, false, err
	}
	return page.Messages, page.HasMore, nil
}

// LoadOlder prepends the page before the oldest loaded message and keeps
// the view's scroll anchor steady across the prepend.
func (e *Engine) LoadOlder(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	first := e.firstOffset[conversationID]
	view := e.view
	e.mu.Unlock()

	if first == 0 {
		return nil
	}

	offset := first - e.pageSize
	if offset < 0 {
		offset = 0
	}
	limit := first - offset

	page, err := e.store.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return err
	}

	before := 0
	if view != nil {
		before = view.ScrollHeight()
	}

	e.mu.Lock()
	e.markSeenLocked(conversationID, page.Messages)
	e.messages[conversationID] = append(append([]*Message(nil), page.Messages...), e.messages[conversationID]...)
	e.firstOffset[conversationID] = offset
	e.mu.Unlock()

	if view != nil {
		view.OffsetScroll(view.ScrollHeight() - before)
	}
	return nil
}

// HasOlder reports whether LoadOlder would fetch anything.
func (e *Engine) HasOlder(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.firstOffset[conversationID] > 0
}

// Messages returns the loaded window of a conversation.
func (e *Engine) Messages(conversationID string) []*Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Message(nil), e.messages[conversationID]...)
}

// Send runs the optimistic pipeline: insert a pending entry immediately,
// do the network send, then reconcile. On failure the pending entry is
// removed and the input restored verbatim so the user can resubmit.
func (e *Engine) Send(ctx context.Context, conversationID, body, attachmentRef string) (*Message, error) {
	log := e.opLog(ctx, "Send", conversationID)

	// 1. Validate
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyBody
	}

	// 2. Optimistic insert under a temporary id
	temp := &Message{
		ID:             tempIDPrefix + uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       e.selfID,
		Body:           body,
		Attachment:     attachmentRef,
		CreatedAt:      time.Now(),
		State:          StatePending,
	}
	e.mu.Lock()
	e.messages[conversationID] = append(e.messages[conversationID], temp)
	e.mu.Unlock()
	e.cache.Remove(conversationID)

	// 3. A send also ends the typing indicator
	e.FlushTyping(ctx, conversationID)

	// 4. Network send
	ack, err := e.store.SendMessage(ctx, conversationID, body, attachmentRef)
	if err != nil {
		// 5. Roll back: drop the pending entry, give the text back
		e.remove(conversationID, temp.ID)
		e.counters.SendRollbacks.Inc()

		e.mu.Lock()
		view := e.view
		e.mu.Unlock()
		if view != nil {
			view.RestoreInput(body)
		}

		log.Warn("send failed, rolled back", zap.Error(err))
		return nil, err
	}

	// 6. Replace the pending entry in place with the acknowledged one
	e.reconcile(conversationID, temp.ID, ack)
	e.counters.MessagesSent.Inc()
	e.cache.Remove(conversationID)

	// 7. Push to the other party; our own echo is suppressed by id
	ev := transport.MessageReceived{
		ConversationID: conversationID,
		MessageID:      ack.ID,
		SenderID:       ack.SenderID,
		Body:           ack.Body,
		Attachment:     ack.Attachment,
		CreatedAt:      ack.CreatedAt,
	}
	if err := e.ch.Emit(ctx, conversationID, ev); err != nil {
		// Push is best-effort; the other party catches up on next load.
		log.Debug("message push failed", zap.Error(err))
	}

	return ack, nil
}

// MarkRead marks everything in the conversation read. Badges come back
// from a re-query, never a local decrement, so reads on another device
// stay consistent.
func (e *Engine) MarkRead(ctx context.Context, conversationID string) error {
	if err := e.store.MarkRead(ctx, conversationID); err != nil {
		return err
	}

	e.mu.Lock()
	for _, m := range e.messages[conversationID] {
		if m.SenderID != e.selfID {
			m.Read = true
		}
	}
	e.mu.Unlock()
	e.cache.Remove(conversationID)

	receipt := transport.MessageRead{ConversationID: conversationID, ReaderID: e.selfID}
	if err := e.ch.Emit(ctx, conversationID, receipt); err != nil {
		e.opLog(ctx, "MarkRead", conversationID).Debug("read receipt push failed", zap.Error(err))
	}

	e.refreshBadges(ctx)
	return nil
}

// Conversations re-queries the per-order threads with unread counts and
// last-message previews, refreshing the badge state as a side effect.
func (e *Engine) Conversations(ctx context.Context) ([]*Conversation, error) {
	convs, err := e.store.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	e.applyBadges(convs)
	return convs, nil
}

// Unread returns the per-conversation unread count from the last re-query.
func (e *Engine) Unread(conversationID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unread[conversationID]
}

// TotalUnread returns the global badge value from the last re-query.
func (e *Engine) TotalUnread() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// OnUnreadChange registers a callback for global badge updates. Returns
// the unsubscribe function.
func (e *Engine) OnUnreadChange(fn func(total int)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.badgeSubs[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.badgeSubs, id)
	}
}

// OnTyping registers a callback for remote typing indicators. The
// session's own signals are filtered out.
func (e *Engine) OnTyping(fn func(conversationID, userID string, active bool)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.typingSubs[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.typingSubs, id)
	}
}

// ----------------- inbound handlers -----------------

func (e *Engine) handleMessage(ev transport.Event) {
	msg, ok := ev.(transport.MessageReceived)
	if !ok {
		return
	}
	cid := msg.ConversationID

	e.mu.Lock()
	if e.seen[cid] == nil {
		e.seen[cid] = make(map[string]struct{})
	}
	if _, dup := e.seen[cid][msg.MessageID]; dup {
		e.mu.Unlock()
		return
	}
	e.seen[cid][msg.MessageID] = struct{}{}

	if msg.SenderID == e.selfID {
		// Our own echo. Whether it raced ahead of the HTTP ack or not,
		// the send pipeline owns the visible entry; never insert twice.
		e.mu.Unlock()
		return
	}

	e.messages[cid] = append(e.messages[cid], &Message{
		ID:             msg.MessageID,
		ConversationID: cid,
		SenderID:       msg.SenderID,
		Body:           msg.Body,
		Attachment:     msg.Attachment,
		CreatedAt:      msg.CreatedAt,
		State:          StateAcknowledged,
	})
	isOpen := e.open == cid
	e.mu.Unlock()

	e.cache.Remove(cid)

	if isOpen {
		// The open view shows the message directly; read it silently
		// after a beat instead of alerting.
		time.AfterFunc(e.readDelay, func() {
			if e.OpenConversation() != cid {
				return
			}
			if err := e.MarkRead(context.Background(), cid); err != nil {
				logger.L().Debug("silent mark read failed", zap.String("layer", "chat"), zap.String("conversation_id", cid), zap.Error(err))
			}
		})
		return
	}

	e.refreshBadges(context.Background())
}

func (e *Engine) handleReadReceipt(ev transport.Event) {
	receipt, ok := ev.(transport.MessageRead)
	if !ok || receipt.ReaderID == e.selfID {
		return
	}

	e.mu.Lock()
	for _, m := range e.messages[receipt.ConversationID] {
		if m.SenderID == e.selfID {
			m.Read = true
		}
	}
	e.mu.Unlock()
	e.cache.Remove(receipt.ConversationID)
}

func (e *Engine) handleTyping(ev transport.Event) {
	t, ok := ev.(transport.Typing)
	if !ok || t.UserID == e.selfID {
		return
	}

	e.mu.Lock()
	subs := make([]func(string, string, bool), 0, len(e.typingSubs))
	for _, fn := range e.typingSubs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(t.ConversationID, t.UserID, t.Active)
	}
}

// ----------------- internals -----------------

func (e *Engine) opLog(ctx context.Context, method, conversationID string) *zap.Logger {
	return logger.FromCtx(ctx).With(
		zap.String("layer", "chat"),
		zap.String("method", method),
		zap.String("conversation_id", conversationID),
	)
}

func (e *Engine) loadFirstPage(ctx context.Context, conversationID string) (*Page, error) {
	if page, ok := e.cache.Get(conversationID); ok {
		return page, nil
	}

	page, err := e.store.ListMessages(ctx, conversationID, e.pageSize, 0)
	if err != nil {
		return nil, err
	}
	e.cache.Add(conversationID, page)
	return page, nil
}

// setWindow replaces the loaded window of a conversation.
func (e *Engine) setWindow(conversationID string, msgs []*Message, offset int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markSeenLocked(conversationID, msgs)
	e.messages[conversationID] = append([]*Message(nil), msgs...)
	e.firstOffset[conversationID] = offset
}

func (e *Engine) markSeenLocked(conversationID string, msgs []*Message) {
	if e.seen[conversationID] == nil {
		e.seen[conversationID] = make(map[string]struct{})
	}
	for _, m := range msgs {
		e.seen[conversationID][m.ID] = struct{}{}
	}
}

func (e *Engine) remove(conversationID, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	msgs := e.messages[conversationID]
	for i, m := range msgs {
		if m.ID == id {
			e.messages[conversationID] = append(msgs[:i], msgs[i+1:]...)
			return
		}
	}
}

// reconcile swaps the pending entry for the acknowledged one in the same
// position. When the entry is already gone the acknowledged message is
// appended so the send stays visible.
func (e *Engine) reconcile(conversationID, tempID string, ack *Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.seen[conversationID] == nil {
		e.seen[conversationID] = make(map[string]struct{})
	}
	e.seen[conversationID][ack.ID] = struct{}{}

	msgs := e.messages[conversationID]
	for i, m := range msgs {
		if m.ID == tempID {
			msgs[i] = ack
			return
		}
	}
	e.messages[conversationID] = append(msgs, ack)
}

func (e *Engine) refreshBadges(ctx context.Context) {
	convs, err := e.store.ListConversations(ctx)
	if err != nil {
		logger.FromCtx(ctx).Debug("badge re-query failed", zap.String("layer", "chat"), zap.Error(err))
		return
	}
	e.applyBadges(convs)
}

func (e *Engine) applyBadges(convs []*Conversation) {
	e.mu.Lock()
	e.unread = make(map[string]int, len(convs))
	total := 0
	for _, c := range convs {
		e.unread[c.ID] = c.Unread
		total += c.Unread
	}
	e.total = total
	subs := make([]func(int), 0, len(e.badgeSubs))
	for _, fn := range e.badgeSubs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(total)
	}
}
