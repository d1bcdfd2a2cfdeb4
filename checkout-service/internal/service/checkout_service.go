package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	d "github.com/fjod/storefront/checkout-service/domain"
	r "github.com/fjod/storefront/checkout-service/internal/repository"
	"github.com/fjod/storefront/checkout-service/internal/store"
	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/events"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/fjod/storefront/pkg/orderapi"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/fjod/storefront/pkg/shopper"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Pricer interface {
	Compute(items []pricing.LineItem, pc pricing.Context) (pricing.Breakdown, error)
}

// EventStore is the outbox the notification events are written to.
type EventStore interface {
	InsertEvents(ctx context.Context, events ...r.OutboxEvent) error
}

type Config struct {
	// AbandonAfter is the inactivity window after which an open session is abandoned.
	AbandonAfter  time.Duration
	SweepInterval time.Duration
	// SubmitAttempts bounds order submissions after ambiguous failures.
	SubmitAttempts int
	OutboxTimeout  time.Duration
	Clock          func() time.Time
}

func (c *Config) fillDefaults() {
	if c.AbandonAfter <= 0 {
		c.AbandonAfter = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = 2
	}
	if c.OutboxTimeout <= 0 {
		c.OutboxTimeout = 3 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

type inflight struct {
	token  uint64
	cancel context.CancelFunc
}

type CheckoutServiceImpl struct {
	store   store.SessionStore
	cart    *CartHandler
	pricing *PricingHandler
	orders  *OrderHandler
	pricer  Pricer
	outbox  EventStore
	log     *zap.Logger
	cfg     Config

	mu       sync.Mutex
	inflight map[string]inflight // session id -> running reconciliation
	wg       sync.WaitGroup
}

func NewCheckoutService(
	sessions store.SessionStore,
	cart *CartHandler,
	pricingHandler *PricingHandler,
	orders *OrderHandler,
	pricer Pricer,
	outbox EventStore,
	log *zap.Logger,
	cfg Config,
) *CheckoutServiceImpl {
	cfg.fillDefaults()
	return &CheckoutServiceImpl{
		store:    sessions,
		cart:     cart,
		pricing:  pricingHandler,
		orders:   orders,
		pricer:   pricer,
		outbox:   outbox,
		log:      log,
		cfg:      cfg,
		inflight: make(map[string]inflight),
	}
}

// Begin freezes the shopper's cart into a new session. A session the shopper
// still had open is abandoned.
func (s *CheckoutServiceImpl) Begin(ctx context.Context, owner shopper.Identity) (d.View, error) {
	ctx = shopper.NewContext(ctx, owner)
	snap, err := s.cart.snapshot(ctx)
	if err != nil {
		return d.View{}, err
	}
	if snap.Empty() {
		return d.View{}, d.ErrEmptyCart
	}
	warning := s.prepareEstimate(&snap)

	sess, err := d.NewSession(uuid.NewString(), uuid.NewString(), owner, snap, s.cfg.Clock())
	if err != nil {
		return d.View{}, err
	}
	if warning != "" {
		sess.AddWarning(warning)
	}
	view := sess.View()

	if previous := s.store.Put(sess); previous != nil {
		s.replace(ctx, previous)
	}
	logger.WithTrace(ctx, s.log).Info("checkout started",
		logger.Shopper(owner.ID), zap.String("checkout_id", sess.ID()), zap.Int("items", snap.ItemCount()))
	return view, nil
}

func (s *CheckoutServiceImpl) Get(ctx context.Context, owner shopper.Identity, checkoutID string) (d.View, error) {
	return s.withSession(ctx, owner, checkoutID, func(sess *d.Session, now time.Time) error {
		sess.Touch(now)
		return nil
	})
}

// Active returns the session the shopper started last.
func (s *CheckoutServiceImpl) Active(ctx context.Context, owner shopper.Identity) (d.View, error) {
	e, err := s.store.Active(owner.Key())
	if err != nil {
		return d.View{}, err
	}
	return s.Get(ctx, owner, e.Session.ID())
}

func (s *CheckoutServiceImpl) UpdateContact(ctx context.Context, owner shopper.Identity, checkoutID string, c orderapi.ContactInfo) (d.View, error) {
	return s.withSession(ctx, owner, checkoutID, func(sess *d.Session, now time.Time) error {
		return sess.UpdateContact(c, now)
	})
}

// UpdateShipping also refreshes the local estimate for the chosen method.
func (s *CheckoutServiceImpl) UpdateShipping(ctx context.Context, owner shopper.Identity, checkoutID string, info orderapi.ShippingInfo) (d.View, error) {
	return s.withSession(ctx, owner, checkoutID, func(sess *d.Session, now time.Time) error {
		if err := sess.UpdateShipping(info, now); err != nil {
			return err
		}
		pc := sess.PricingContext()
		if !pc.ShippingMethod.Valid() {
			return nil
		}
		b, err := s.pricer.Compute(sess.Items(), pc)
		if err != nil {
			logger.WithTrace(ctx, s.log).Debug("estimate not refreshed", zap.Error(err))
			return nil
		}
		sess.SetEstimate(b)
		return nil
	})
}

func (s *CheckoutServiceImpl) UpdatePayment(ctx context.Context, owner shopper.Identity, checkoutID string, p orderapi.PaymentInfo) (d.View, error) {
	return s.withSession(ctx, owner, checkoutID, func(sess *d.Session, now time.Time) error {
		return sess.UpdatePayment(p, now)
	})
}

func (s *CheckoutServiceImpl) SetConsents(ctx context.Context, owner shopper.Identity, checkoutID string, c d.Consents) (d.View, error) {
	return s.withSession(ctx, owner, checkoutID, func(sess *d.Session, now time.Time) error {
		return sess.SetConsents(c, now)
	})
}

// Advance moves to the next step. Reaching Confirmation starts a reconciliation.
func (s *CheckoutServiceImpl) Advance(ctx context.Context, owner shopper.Identity, checkoutID string) (d.View, error) {
	return s.withSession(ctx, owner, checkoutID, func(sess *d.Session, now time.Time) error {
		if err := sess.Advance(now); err != nil {
			return err
		}
		return s.reconcileAtConfirmation(ctx, sess)
	})
}

func (s *CheckoutServiceImpl) Back(ctx context.Context, owner shopper.Identity, checkoutID string) (d.View, error) {
	return s.withSession(ctx, owner, checkoutID, func(sess *d.Session, now time.Time) error {
		return sess.Back(now)
	})
}

func (s *CheckoutServiceImpl) GoTo(ctx context.Context, owner shopper.Identity, checkoutID string, step d.Step) (d.View, error) {
	return s.withSession(ctx, owner, checkoutID, func(sess *d.Session, now time.Time) error {
		wasConfirming := sess.Step() == d.StepConfirmation
		if err := sess.GoTo(step, now); err != nil {
			return err
		}
		if wasConfirming {
			return nil
		}
		return s.reconcileAtConfirmation(ctx, sess)
	})
}

// Recalculate requests authoritative totals again, superseding any request in flight.
func (s *CheckoutServiceImpl) Recalculate(ctx context.Context, owner shopper.Identity, checkoutID string) (d.View, error) {
	return s.withSession(ctx, owner, checkoutID, func(sess *d.Session, _ time.Time) error {
		return s.startRecalculation(ctx, sess)
	})
}

// Abandon closes the session on an explicit cancel or navigate-away signal.
func (s *CheckoutServiceImpl) Abandon(ctx context.Context, owner shopper.Identity, checkoutID, reason string) (d.View, error) {
	return s.withSession(ctx, owner, checkoutID, func(sess *d.Session, now time.Time) error {
		if err := sess.Abandon(reason, now); err != nil {
			return err
		}
		s.recordAbandonment(ctx, sess)
		return nil
	})
}

// Submit places the order. The session lock is released while the orders
// service is called; the session's submitting flag keeps a second call out.
func (s *CheckoutServiceImpl) Submit(ctx context.Context, owner shopper.Identity, checkoutID string) (d.View, error) {
	e, err := s.lookup(owner, checkoutID)
	if err != nil {
		return d.View{}, err
	}

	e.Lock()
	req, err := e.Session.BeginSubmission(s.cfg.Clock())
	e.Unlock()
	if err != nil {
		return d.View{}, err
	}

	log := logger.WithTrace(ctx, s.log).With(logger.Shopper(owner.ID), zap.String("checkout_id", checkoutID))
	order, submitErr := s.submitOrder(shopper.NewContext(context.WithoutCancel(ctx), owner), req, log)

	e.Lock()
	defer e.Unlock()
	now := s.cfg.Clock()
	if submitErr != nil {
		e.Session.FailSubmission(submitErr, now)
		log.Warn("order submission failed", zap.String("code", apperr.CodeOf(submitErr)), zap.Error(submitErr))
		return d.View{}, submitErr
	}
	if err := e.Session.CompleteSubmission(order, now); err != nil {
		return d.View{}, err
	}
	s.recordCompletion(ctx, e.Session, order)
	log.Info("order submitted", zap.String("order_id", order.ID), zap.Int64("total", order.Totals.Total))
	return e.Session.View(), nil
}

// RunSweeper abandons idle sessions until ctx is done.
func (s *CheckoutServiceImpl) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.abandonIdle(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Close cancels running reconciliations and waits for them.
func (s *CheckoutServiceImpl) Close() {
	s.mu.Lock()
	for _, f := range s.inflight {
		f.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *CheckoutServiceImpl) abandonIdle(ctx context.Context) {
	now := s.cfg.Clock()
	for _, e := range s.store.All() {
		if !e.TryLock() {
			continue
		}
		if e.Session.Idle(now, s.cfg.AbandonAfter) {
			if err := e.Session.Abandon(d.ReasonTimeout, now); err == nil {
				s.cancelRecalculation(e.Session.ID())
				s.recordAbandonment(ctx, e.Session)
			}
		}
		e.Unlock()
	}
}

func (s *CheckoutServiceImpl) lookup(owner shopper.Identity, checkoutID string) (*store.Entry, error) {
	e, err := s.store.Get(checkoutID)
	if err != nil {
		return nil, err
	}
	if e.Session.Owner().Key() != owner.Key() {
		return nil, store.ErrSessionNotFound
	}
	return e, nil
}

func (s *CheckoutServiceImpl) withSession(ctx context.Context, owner shopper.Identity, checkoutID string,
	fn func(sess *d.Session, now time.Time) error) (d.View, error) {
	e, err := s.lookup(owner, checkoutID)
	if err != nil {
		return d.View{}, err
	}
	e.Lock()
	defer e.Unlock()

	err = fn(e.Session, s.cfg.Clock())
	if !e.Session.Calculating() {
		s.cancelRecalculation(checkoutID)
	}
	if err != nil {
		return d.View{}, err
	}
	return e.Session.View(), nil
}

func (s *CheckoutServiceImpl) replace(ctx context.Context, previous *store.Entry) {
	previous.Lock()
	defer previous.Unlock()
	if previous.Session.Closed() {
		return
	}
	if err := previous.Session.Abandon(d.ReasonReplaced, s.cfg.Clock()); err != nil {
		logger.WithTrace(ctx, s.log).Warn("previous checkout left open",
			zap.String("checkout_id", previous.Session.ID()), zap.Error(err))
		return
	}
	s.cancelRecalculation(previous.Session.ID())
	s.recordAbandonment(ctx, previous.Session)
}

// prepareEstimate recomputes the cart estimate locally. A discount code that
// stopped qualifying since the cart was priced is dropped.
func (s *CheckoutServiceImpl) prepareEstimate(snap *d.CartSnapshot) string {
	b, err := s.pricer.Compute(snap.Items, snap.Pricing)
	if err == nil {
		snap.Estimate = b
		return ""
	}
	if !errors.Is(err, pricing.ErrInvalidDiscount) || snap.Pricing.DiscountCode == "" {
		s.log.Debug("keeping cart estimate", zap.Error(err))
		return ""
	}
	code := snap.Pricing.DiscountCode
	snap.Pricing.DiscountCode = ""
	if b, err = s.pricer.Compute(snap.Items, snap.Pricing); err == nil {
		snap.Estimate = b
	}
	return fmt.Sprintf("discount code %s is no longer valid and was removed", code)
}

func (s *CheckoutServiceImpl) reconcileAtConfirmation(ctx context.Context, sess *d.Session) error {
	if sess.Step() != d.StepConfirmation {
		return nil
	}
	return s.startRecalculation(ctx, sess)
}

// startRecalculation runs one reconciliation in the background. Callers hold
// the session lock.
func (s *CheckoutServiceImpl) startRecalculation(ctx context.Context, sess *d.Session) error {
	rec, err := sess.BeginRecalculation(s.cfg.Clock())
	if err != nil {
		return err
	}
	e, err := s.store.Get(sess.ID())
	if err != nil {
		return err
	}

	id := sess.ID()
	rctx, cancel := context.WithCancel(shopper.NewContext(context.WithoutCancel(ctx), sess.Owner()))
	s.mu.Lock()
	if prev, ok := s.inflight[id]; ok {
		prev.cancel()
	}
	s.inflight[id] = inflight{token: rec.Token, cancel: cancel}
	s.mu.Unlock()

	estimate := sess.Estimate()
	log := logger.WithTrace(ctx, s.log).With(zap.String("checkout_id", id), zap.Uint64("token", rec.Token))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finishRecalculation(id, rec.Token, cancel)

		b, err := s.pricing.totals(rctx, rec)

		e.Lock()
		defer e.Unlock()
		now := s.cfg.Clock()
		if err != nil {
			if e.Session.FailRecalculation(rec.Token, err, now) {
				log.Warn("authoritative totals unavailable", zap.Error(err))
			}
			return
		}
		if !e.Session.CompleteRecalculation(rec.Token, b, now) {
			log.Debug("stale totals ignored")
			return
		}
		if estimate.Total != b.Total {
			log.Info("authoritative totals differ from estimate",
				zap.Int64("estimate", estimate.Total), zap.Int64("total", b.Total))
		}
	}()
	return nil
}

func (s *CheckoutServiceImpl) finishRecalculation(id string, token uint64, cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.inflight[id]; ok && f.token == token {
		delete(s.inflight, id)
	}
}

func (s *CheckoutServiceImpl) cancelRecalculation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.inflight[id]; ok {
		f.cancel()
		delete(s.inflight, id)
	}
}

// submitOrder never resubmits blindly: after an ambiguous failure the order
// is looked up by idempotency key first.
func (s *CheckoutServiceImpl) submitOrder(ctx context.Context, req orderapi.SubmitRequest, log *zap.Logger) (*orderapi.Order, error) {
	for attempt := 1; ; attempt++ {
		order, err := s.orders.submit(ctx, req)
		if err == nil || !ambiguous(err) {
			return order, err
		}
		log.Warn("ambiguous submission failure, looking up order", zap.Int("attempt", attempt), zap.Error(err))

		found, lookupErr := s.orders.lookup(ctx, req.IdempotencyKey)
		switch {
		case lookupErr == nil:
			return found, nil
		case !errors.Is(lookupErr, orderapi.ErrOrderNotFound):
			log.Warn("order state unknown", zap.Error(lookupErr))
			return nil, err
		case attempt >= s.cfg.SubmitAttempts:
			return nil, err
		}
	}
}

func ambiguous(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch apperr.KindOf(err) {
	case apperr.KindUnavailable, apperr.KindInternal:
		return true
	default:
		return false
	}
}

func (s *CheckoutServiceImpl) recordCompletion(ctx context.Context, sess *d.Session, order *orderapi.Order) {
	owner := sess.Owner()
	s.writeEvents(ctx, sess.ID(),
		event(events.TypeCheckoutCompleted, events.CheckoutCompleted{
			CheckoutID:  sess.ID(),
			OrderID:     order.ID,
			ShopperID:   owner.ID,
			Guest:       owner.Guest,
			Totals:      order.Totals,
			CompletedAt: sess.ClosedAt(),
		}),
		event(events.TypeOrderConfirmed, events.OrderConfirmed{
			OrderID:   order.ID,
			ShopperID: owner.ID,
			Email:     sess.Contact().Email,
			Totals:    order.Totals,
		}),
	)
}

// recordAbandonment emits the reminder trigger. Only registered shoppers that
// timed out or navigated away are reminded.
func (s *CheckoutServiceImpl) recordAbandonment(ctx context.Context, sess *d.Session) {
	owner := sess.Owner()
	s.writeEvents(ctx, sess.ID(), event(events.TypeCheckoutAbandoned, events.CheckoutAbandoned{
		CheckoutID:  sess.ID(),
		ShopperID:   owner.ID,
		Guest:       owner.Guest,
		Email:       sess.Contact().Email,
		Reason:      sess.AbandonReason(),
		Remind:      !owner.Guest && d.RemindOn(sess.AbandonReason()),
		AbandonedAt: sess.ClosedAt(),
	}))
}

type pendingEvent struct {
	eventType string
	payload   any
}

func event(eventType string, payload any) pendingEvent {
	return pendingEvent{eventType: eventType, payload: payload}
}

func (s *CheckoutServiceImpl) writeEvents(ctx context.Context, checkoutID string, pending ...pendingEvent) {
	log := logger.WithTrace(ctx, s.log).With(zap.String("checkout_id", checkoutID))
	rows := make([]r.OutboxEvent, 0, len(pending))
	for _, p := range pending {
		payload, err := json.Marshal(p.payload)
		if err != nil {
			log.Error("failed to marshal event", zap.String("event_type", p.eventType), zap.Error(err))
			continue
		}
		rows = append(rows, r.OutboxEvent{AggregateId: checkoutID, EventType: p.eventType, Payload: payload})
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.OutboxTimeout)
	defer cancel()
	if err := s.outbox.InsertEvents(ctx, rows...); err != nil {
		log.Error("failed to write outbox events", zap.Error(err))
	}
}
