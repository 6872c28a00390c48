package order

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"pasarlive-client/internal/auth"
	"pasarlive-client/internal/logger"
	"pasarlive-client/internal/transport"
)

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// PersistAPI is the slice of the platform order API the manager consumes.
// A (nil, nil) return from GetOrder means the order does not exist.
type PersistAPI interface {
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]*Order, error)
	UpdateStatus(ctx context.Context, id string, status Status) (*Order, error)
	ConfirmDelivery(ctx context.Context, id string, proofRef string) (*Order, error)
	Cancel(ctx context.Context, id string, reason string) (*Order, error)
	Rate(ctx context.Context, id string, ratings []Rating) (*Order, error)
	ReportIssue(ctx context.Context, id string, description string) error
}

// Emitter pushes lifecycle events to the other party, keyed by order room.
type Emitter interface {
	Emit(ctx context.Context, room string, ev transport.Event) error
}

type Manager interface {
	Get(ctx context.Context, orderID string) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]*Order, error)
	Accept(ctx context.Context, orderID string) (*Order, error)
	MarkReady(ctx context.Context, orderID string) (*Order, error)
	CompleteDelivery(ctx context.Context, orderID, proofRef string) (*Order, error)
	ConfirmReceipt(ctx context.Context, orderID, proofRef string) (*Order, error)
	Cancel(ctx context.Context, orderID, reason string) (*Order, error)
	Rate(ctx context.Context, orderID string, ratings []Rating) (*Order, error)
	ReportIssue(ctx context.Context, orderID, description string) error
	Apply(ctx context.Context, ev transport.Event)
	OnChange(fn func(*Order)) func()
}

type manager struct {
	api      PersistAPI
	emitter  Emitter
	identity *auth.Identity

	mu       sync.Mutex
	orders   map[string]*Order
	watchers map[int]func(*Order)
	nextID   int
}

func NewManager(api PersistAPI, emitter Emitter, identity *auth.Identity) Manager {
	return &manager{
		api:      api,
		emitter:  emitter,
		identity: identity,
		orders:   make(map[string]*Order),
		watchers: make(map[int]func(*Order)),
	}
}

func (m *manager) Get(ctx context.Context, orderID string) (*Order, error) {
	return m.load(ctx, orderID)
}

func (m *manager) List(ctx context.Context, filter ListFilter) ([]*Order, error) {
	orders, err := m.api.ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}
	m.storeQuiet(orders)
	return orders, nil
}

// Accept moves a pending order to confirmed. Seller only.
func (m *manager) Accept(ctx context.Context, orderID string) (*Order, error) {
	log := m.opLog(ctx, "Accept", orderID)

	// 1. Role check
	if !m.identity.IsSeller() {
		return nil, ErrUnauthorized
	}

	// 2. Load current state
	ord, err := m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// 3. Validate transition
	if ord.Status != StatusPending {
		return nil, &InvalidStateError{From: ord.Status, Action: "confirm order"}
	}

	// 4. Persist
	updated, err := m.api.UpdateStatus(ctx, orderID, StatusConfirmed)
	if err != nil {
		log.Error("status update failed", zap.Error(err))
		return nil, err
	}

	// 5. Store locally and broadcast to the other party
	m.store(updated)
	m.broadcast(ctx, updated)

	log.Info("order confirmed")
	return updated, nil
}

// MarkReady moves a confirmed order to ready. Seller only.
func (m *manager) MarkReady(ctx context.Context, orderID string) (*Order, error) {
	log := m.opLog(ctx, "MarkReady", orderID)

	// 1. Role check
	if !m.identity.IsSeller() {
		return nil, ErrUnauthorized
	}

	// 2. Load current state
	ord, err := m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// 3. Validate transition
	if ord.Status != StatusConfirmed {
		return nil, &InvalidStateError{From: ord.Status, Action: "mark ready"}
	}

	// 4. Persist
	updated, err := m.api.UpdateStatus(ctx, orderID, StatusReady)
	if err != nil {
		log.Error("status update failed", zap.Error(err))
		return nil, err
	}

	// 5. Store locally and broadcast
	m.store(updated)
	m.broadcast(ctx, updated)

	log.Info("order marked ready")
	return updated, nil
}

// CompleteDelivery records the seller's attestation. The proof image
// reference is mandatory on this side. When the buyer already confirmed,
// the order completes.
func (m *manager) CompleteDelivery(ctx context.Context, orderID, proofRef string) (*Order, error) {
	log := m.opLog(ctx, "CompleteDelivery", orderID)

	// 1. Role check
	if !m.identity.IsSeller() {
		return nil, ErrUnauthorized
	}

	// 2. Proof is required for the seller attestation
	if proofRef == "" {
		return nil, &ValidationError{Field: "proof", Reason: "proof required"}
	}

	// 3. Load current state
	ord, err := m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// 4. Validate transition
	if ord.Status != StatusReady {
		return nil, &InvalidStateError{From: ord.Status, Action: "complete delivery"}
	}

	// 5. IDEMPOTENCY CHECK: a repeated attestation is a no-op and must not
	// re-fire the completion event.
	if ord.SellerConfirmed {
		return ord, nil
	}

	// 6. Persist the confirmation
	updated, err := m.api.ConfirmDelivery(ctx, orderID, proofRef)
	if err != nil {
		log.Error("delivery confirmation failed", zap.Error(err))
		return nil, err
	}

	// 7. Store locally and broadcast the new state
	m.store(updated)
	m.broadcast(ctx, updated)

	log.Info("delivery confirmed by seller", zap.String("status", string(updated.Status)))
	return updated, nil
}

// ConfirmReceipt records the buyer's attestation. Proof is optional on
// this side. When the seller already confirmed, the order completes.
func (m *manager) ConfirmReceipt(ctx context.Context, orderID, proofRef string) (*Order, error) {
	log := m.opLog(ctx, "ConfirmReceipt", orderID)

	// 1. Role check
	if !m.identity.IsBuyer() {
		return nil, ErrUnauthorized
	}

	// 2. Load current state
	ord, err := m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// 3. Validate transition
	if ord.Status != StatusReady {
		return nil, &InvalidStateError{From: ord.Status, Action: "confirm receipt"}
	}

	// 4. IDEMPOTENCY CHECK
	if ord.BuyerConfirmed {
		return ord, nil
	}

	// 5. Persist the confirmation
	updated, err := m.api.ConfirmDelivery(ctx, orderID, proofRef)
	if err != nil {
		log.Error("receipt confirmation failed", zap.Error(err))
		return nil, err
	}

	// 6. Store locally and broadcast the new state
	m.store(updated)
	m.broadcast(ctx, updated)

	log.Info("receipt confirmed by buyer", zap.String("status", string(updated.Status)))
	return updated, nil
}

// Cancel aborts a pending order. Either party may cancel; a non-empty
// reason is required.
func (m *manager) Cancel(ctx context.Context, orderID, reason string) (*Order, error) {
	log := m.opLog(ctx, "Cancel", orderID)

	// 1. Reason is required
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "cancellation reason required"}
	}

	// 2. Load current state
	ord, err := m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// 3. Cancellation is only reachable from pending
	if ord.Status != StatusPending {
		return nil, &InvalidStateError{From: ord.Status, Action: "cancel order"}
	}

	// 4. Persist
	updated, err := m.api.Cancel(ctx, orderID, reason)
	if err != nil {
		log.Error("cancellation failed", zap.Error(err))
		return nil, err
	}

	// 5. Store locally and broadcast
	m.store(updated)
	m.broadcastCancel(ctx, updated)

	log.Info("order cancelled", zap.String("reason", reason))
	return updated, nil
}

// Rate attaches the buyer's per-item scores after completion.
func (m *manager) Rate(ctx context.Context, orderID string, ratings []Rating) (*Order, error) {
	log := m.opLog(ctx, "Rate", orderID)

	// 1. Role check
	if !m.identity.IsBuyer() {
		return nil, ErrUnauthorized
	}

	// 2. Validate scores before touching anything
	if len(ratings) == 0 {
		return nil, &ValidationError{Field: "ratings", Reason: "at least one rating required"}
	}
	for _, r := range ratings {
		if r.Score < 1 || r.Score > 5 {
			return nil, &ValidationError{Field: "ratings", Reason: "score must be between 1 and 5"}
		}
	}

	// 3. Load current state
	ord, err := m.load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// 4. Only completed orders are ratable, and only once
	if ord.Status != StatusCompleted {
		return nil, &InvalidStateError{From: ord.Status, Action: "rate order"}
	}
	if ord.Rated() {
		return nil, &InvalidStateError{From: ord.Status, Action: "rate order again"}
	}

	// 5. Ratings must reference items actually on the order
	items := make(map[string]struct{}, len(ord.Items))
	for _, item := range ord.Items {
		items[item.ProductID] = struct{}{}
	}
	for _, r := range ratings {
		if _, ok := items[r.ProductID]; !ok {
			return nil, &ValidationError{Field: "ratings", Reason: "rating references a product not on the order"}
		}
	}

	// 6. Persist
	updated, err := m.api.Rate(ctx, orderID, ratings)
	if err != nil {
		log.Error("rating failed", zap.Error(err))
		return nil, err
	}

	m.store(updated)
	log.Info("order rated", zap.Int("item_count", len(ratings)))
	return updated, nil
}

// ReportIssue opens the manual dispute side channel on a completed order.
// It never changes the order status.
func (m *manager) ReportIssue(ctx context.Context, orderID, description string) error {
	log := m.opLog(ctx, "ReportIssue", orderID)

	// 1. Description is required
	if description == "" {
		return &ValidationError{Field: "description", Reason: "issue description required"}
	}

	// 2. Load current state
	ord, err := m.load(ctx, orderID)
	if err != nil {
		return err
	}

	// 3. Only completed orders can be disputed
	if ord.Status != StatusCompleted {
		return &InvalidStateError{From: ord.Status, Action: "report issue"}
	}

	// 4. Persist; resolution is administrative, not automatic
	if err := m.api.ReportIssue(ctx, orderID, description); err != nil {
		log.Error("issue report failed", zap.Error(err))
		return err
	}

	log.Info("issue reported")
	return nil
}

// Apply folds a remote lifecycle event into local state. Payloads are
// partial; the first sight of an order triggers a full re-query instead.
func (m *manager) Apply(ctx context.Context, ev transport.Event) {
	switch e := ev.(type) {
	case transport.OrderUpdated:
		m.applyUpdate(ctx, e)
	case transport.OrderCancelled:
		m.applyCancel(ctx, e)
	case transport.OrderNew:
		if _, err := m.refresh(ctx, e.OrderID); err != nil {
			logger.FromCtx(ctx).Warn("new order fetch failed", zap.String("layer", "order"), zap.String("order_id", e.OrderID), zap.Error(err))
		}
	}
}

// OnChange registers a callback fired on every local or remote order
// mutation. Returns the unsubscribe function.
func (m *manager) OnChange(fn func(*Order)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.watchers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, id)
	}
}

// ----------------- internals -----------------

func (m *manager) opLog(ctx context.Context, method, orderID string) *zap.Logger {
	return logger.FromCtx(ctx).With(
		zap.String("layer", "order"),
		zap.String("method", method),
		zap.String("order_id", orderID),
	)
}

func (m *manager) load(ctx context.Context, id string) (*Order, error) {
	m.mu.Lock()
	ord, ok := m.orders[id]
	m.mu.Unlock()
	if ok {
		return ord, nil
	}
	return m.refresh(ctx, id)
}

func (m *manager) refresh(ctx context.Context, id string) (*Order, error) {
	ord, err := m.api.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if ord == nil {
		return nil, ErrOrderNotFound
	}
	m.store(ord)
	return ord, nil
}

func (m *manager) store(ord *Order) {
	normalize(ord)

	m.mu.Lock()
	m.orders[ord.ID] = ord
	watchers := make([]func(*Order), 0, len(m.watchers))
	for _, fn := range m.watchers {
		watchers = append(watchers, fn)
	}
	m.mu.Unlock()

	for _, fn := range watchers {
		safeNotify(fn, ord)
	}
}

func (m *manager) storeQuiet(orders []*Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ord := range orders {
		normalize(ord)
		m.orders[ord.ID] = ord
	}
}

func (m *manager) applyUpdate(ctx context.Context, e transport.OrderUpdated) {
	m.mu.Lock()
	cur, ok := m.orders[e.OrderID]
	m.mu.Unlock()
	if !ok {
		if _, err := m.refresh(ctx, e.OrderID); err != nil {
			logger.FromCtx(ctx).Warn("order fetch on update failed", zap.String("layer", "order"), zap.String("order_id", e.OrderID), zap.Error(err))
		}
		return
	}

	next := cur.clone()
	next.Status = Status(e.Status)
	next.SellerConfirmed = e.SellerConfirmed
	next.BuyerConfirmed = e.BuyerConfirmed
	if e.DeliveryProof != "" {
		next.DeliveryProof = e.DeliveryProof
	}
	if e.ReceiptProof != "" {
		next.ReceiptProof = e.ReceiptProof
	}
	next.UpdatedAt = time.Now()

	m.store(next)
}

func (m *manager) applyCancel(ctx context.Context, e transport.OrderCancelled) {
	m.mu.Lock()
	cur, ok := m.orders[e.OrderID]
	m.mu.Unlock()
	if !ok {
		if _, err := m.refresh(ctx, e.OrderID); err != nil {
			logger.FromCtx(ctx).Warn("order fetch on cancel failed", zap.String("layer", "order"), zap.String("order_id", e.OrderID), zap.Error(err))
		}
		return
	}

	next := cur.clone()
	next.Status = StatusCancelled
	next.CancelReason = e.Reason
	next.UpdatedAt = time.Now()

	m.store(next)
}

func (m *manager) broadcast(ctx context.Context, ord *Order) {
	ev := transport.OrderUpdated{
		OrderID:         ord.ID,
		Status:          string(ord.Status),
		SellerConfirmed: ord.SellerConfirmed,
		BuyerConfirmed:  ord.BuyerConfirmed,
		DeliveryProof:   ord.DeliveryProof,
		ReceiptProof:    ord.ReceiptProof,
		ActorID:         m.identity.UserID,
	}
	if err := m.emitter.Emit(ctx, ord.ID, ev); err != nil {
		// Push is best-effort; the other party reconciles via re-query.
		logger.FromCtx(ctx).Warn("lifecycle event emit failed", zap.String("layer", "order"), zap.String("order_id", ord.ID), zap.Error(err))
	}
}

func (m *manager) broadcastCancel(ctx context.Context, ord *Order) {
	ev := transport.OrderCancelled{
		OrderID: ord.ID,
		Reason:  ord.CancelReason,
		ActorID: m.identity.UserID,
	}
	if err := m.emitter.Emit(ctx, ord.ID, ev); err != nil {
		logger.FromCtx(ctx).Warn("cancel event emit failed", zap.String("layer", "order"), zap.String("order_id", ord.ID), zap.Error(err))
	}
}

// normalize enforces the confirmation invariants on records coming back
// from the server or the wire.
func normalize(o *Order) {
	if o.Status == StatusPending || o.Status == StatusCancelled {
		o.SellerConfirmed = false
		o.BuyerConfirmed = false
		return
	}
	if o.SellerConfirmed && o.BuyerConfirmed && !o.Status.Terminal() {
		o.Status = StatusCompleted
	}
}

func safeNotify(fn func(*Order), ord *Order) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("order watcher panic", zap.String("layer", "order"), zap.Any("panic", r))
		}
	}()
	fn(ord)
}
