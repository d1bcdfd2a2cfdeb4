package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/orders-service/internal/domain"
	"github.com/fjod/storefront/orders-service/internal/gateway"
	"github.com/fjod/storefront/orders-service/internal/repository"
	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/catalog"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/fjod/storefront/pkg/orderapi"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/fjod/storefront/pkg/shopper"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Pricer interface {
	Compute(items []pricing.LineItem, pc pricing.Context) (pricing.Breakdown, error)
}

type Config struct {
	// CatalogConcurrency bounds the parallel catalog lookups of one request.
	CatalogConcurrency int
	// UpdateAttempts bounds status updates that lose the optimistic version race.
	UpdateAttempts int
	Clock          func() time.Time
}

func (c *Config) fillDefaults() {
	if c.CatalogConcurrency <= 0 {
		c.CatalogConcurrency = 8
	}
	if c.UpdateAttempts <= 0 {
		c.UpdateAttempts = 3
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// OrderService is the authoritative side of pricing and the owner of the
// order lifecycle.
type OrderService struct {
	repo    repository.OrderRepository
	catalog catalog.Reader
	pricer  Pricer
	gateway gateway.Authorizer
	log     *zap.Logger
	cfg     Config
}

func NewOrderService(
	repo repository.OrderRepository,
	reader catalog.Reader,
	pricer Pricer,
	authorizer gateway.Authorizer,
	log *zap.Logger,
	cfg Config,
) *OrderService {
	cfg.fillDefaults()
	return &OrderService{
		repo:    repo,
		catalog: reader,
		pricer:  pricer,
		gateway: authorizer,
		log:     log,
		cfg:     cfg,
	}
}

// ComputeTotals prices items at current catalog prices.
func (s *OrderService) ComputeTotals(ctx context.Context, req orderapi.TotalsRequest) (pricing.Breakdown, error) {
	items, err := s.reprice(ctx, req.Items)
	if err != nil {
		return pricing.Breakdown{}, err
	}
	pc := req.Pricing
	pc.At = s.cfg.Clock()
	return s.pricer.Compute(items, pc)
}

// Submit creates the order for req at most once per idempotency key. A key
// that already produced an order returns that order.
func (s *OrderService) Submit(ctx context.Context, owner shopper.Identity, req orderapi.SubmitRequest) (*domain.Order, error) {
	log := logger.WithTrace(ctx, s.log).With(logger.Shopper(owner.ID), zap.String("idempotency_key", req.IdempotencyKey))
	if req.IdempotencyKey == "" {
		return nil, apperr.WithDetails(orderapi.ErrValidationRejected,
			map[string]string{"idempotency_key": "is required"}, "idempotency key is required")
	}
	if existing, err := s.existing(ctx, owner, req.IdempotencyKey); existing != nil || err != nil {
		return existing, err
	}
	if len(req.Items) == 0 {
		return nil, orderapi.ErrEmptyOrder
	}

	now := s.cfg.Clock()
	contact, shipping, payment, err := validateSubmission(req, now)
	if err != nil {
		return nil, err
	}

	items, err := s.reprice(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	pc := req.Pricing
	pc.ShippingMethod = shipping.Method
	pc.At = now
	totals, err := s.pricer.Compute(items, pc)
	if err != nil {
		return nil, err
	}
	if totals != req.ExpectedTotals {
		return nil, apperr.WithDetails(orderapi.ErrTotalsChanged, map[string]string{
			"expected_total": pricing.FormatMinor(req.ExpectedTotals.Total),
			"current_total":  pricing.FormatMinor(totals.Total),
		}, "totals changed from %d to %d", req.ExpectedTotals.Total, totals.Total)
	}

	order := &domain.Order{
		ID:             uuid.New(),
		IdempotencyKey: req.IdempotencyKey,
		CheckoutID:     req.CheckoutID,
		ShopperID:      owner.ID,
		Guest:          owner.Guest,
		Status:         domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusPending,
		Items:          items,
		Pricing:        pc,
		Totals:         totals,
		Contact:        contact.WithoutSecrets(),
		Shipping:       shipping,
		Payment:        payment.Summary(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if gateway.Synchronous(payment.Method) {
		auth, err := s.gateway.Authorize(ctx, gateway.AuthorizeRequest{
			IdempotencyKey: req.IdempotencyKey,
			Amount:         totals.Total,
			Currency:       totals.Currency,
			Payment:        payment,
		})
		if err != nil {
			log.Warn("payment not authorized", zap.String("code", apperr.CodeOf(err)), zap.Error(err))
			return nil, err
		}
		order.GatewayRef = auth.Reference
		if err := order.ApplyPayment(domain.PaymentStatusAuthorized, now); err != nil {
			return nil, err
		}
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, repository.ErrDuplicateOrder) {
			log.Info("order already placed by a concurrent submission")
			if placed, _ := s.existing(ctx, owner, req.IdempotencyKey); placed != nil {
				return placed, nil
			}
		}
		log.Error("failed to store order", zap.Error(err))
		return nil, err
	}

	log.Info("order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("status", string(order.Status)),
		zap.Int64("total", order.Totals.Total))
	return order, nil
}

func (s *OrderService) Get(ctx context.Context, owner shopper.Identity, orderID string) (*domain.Order, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ownedBy(order, owner); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) GetByIdempotencyKey(ctx context.Context, owner shopper.Identity, key string) (*domain.Order, error) {
	order, err := s.repo.GetOrderByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := ownedBy(order, owner); err != nil {
		return nil, err
	}
	return order, nil
}

// List returns the shopper's orders, newest first.
func (s *OrderService) List(ctx context.Context, owner shopper.Identity) ([]*domain.Order, error) {
	return s.repo.ListOrdersByShopper(ctx, owner.ID, owner.Guest)
}

func (s *OrderService) Cancel(ctx context.Context, owner shopper.Identity, orderID, reason string) (*domain.Order, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, id, func(o *domain.Order, now time.Time) (bool, error) {
		if err := ownedBy(o, owner); err != nil {
			return false, err
		}
		return true, o.Cancel(reason, now)
	})
}

// AdvanceStatus applies a fulfilment update. Repeating the current status is a no-op.
func (s *OrderService) AdvanceStatus(ctx context.Context, orderID string, update orderapi.StatusUpdate) (*domain.Order, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	to, err := domain.ParseOrderStatus(update.Status)
	if err != nil {
		return nil, apperr.WithDetails(apperr.ErrInvalidRequest, map[string]string{"status": "is unknown"}, "%v", err)
	}
	return s.update(ctx, id, func(o *domain.Order, now time.Time) (bool, error) {
		if o.Status == to {
			return false, nil
		}
		if to == domain.OrderStatusCancelled {
			return true, o.Cancel(update.Reason, now)
		}
		return true, o.AdvanceStatus(to, now)
	})
}

// ApplyPaymentStatus applies a payment update. Repeating the current status is a no-op.
func (s *OrderService) ApplyPaymentStatus(ctx context.Context, orderID string, update orderapi.StatusUpdate) (*domain.Order, error) {
	id, err := parseOrderID(orderID)
	if err != nil {
		return nil, err
	}
	to, err := domain.ParsePaymentStatus(update.Status)
	if err != nil {
		return nil, apperr.WithDetails(apperr.ErrInvalidRequest, map[string]string{"status": "is unknown"}, "%v", err)
	}
	return s.update(ctx, id, func(o *domain.Order, now time.Time) (bool, error) {
		if o.PaymentStatus == to {
			return false, nil
		}
		return true, o.ApplyPayment(to, now)
	})
}

// update loads the order, applies fn and stores the result, reloading when a
// concurrent writer bumped the version first. fn reports whether anything changed.
func (s *OrderService) update(ctx context.Context, id uuid.UUID, fn func(o *domain.Order, now time.Time) (bool, error)) (*domain.Order, error) {
	log := logger.WithTrace(ctx, s.log).With(zap.String("order_id", id.String()))
	for attempt := 1; ; attempt++ {
		order, err := s.repo.GetOrderByID(ctx, id)
		if err != nil {
			return nil, err
		}
		from, fromPayment := order.Status, order.PaymentStatus
		changed, err := fn(order, s.cfg.Clock())
		if err != nil || !changed {
			return order, err
		}

		err = s.repo.UpdateStatus(ctx, order)
		if err == nil {
			log.Info("order updated",
				zap.String("from", string(from)), zap.String("status", string(order.Status)),
				zap.String("payment_from", string(fromPayment)), zap.String("payment_status", string(order.PaymentStatus)))
			return order, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) || attempt >= s.cfg.UpdateAttempts {
			return nil, err
		}
		log.Debug("order changed concurrently, retrying", zap.Int("attempt", attempt))
	}
}

// existing returns the order already placed with key, or nil. A key used by
// another shopper is a conflict.
func (s *OrderService) existing(ctx context.Context, owner shopper.Identity, key string) (*domain.Order, error) {
	order, err := s.repo.GetOrderByIdempotencyKey(ctx, key)
	if errors.Is(err, orderapi.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ownedBy(order, owner) != nil {
		return nil, apperr.Wrap(repository.ErrDuplicateOrder, "idempotency key %s belongs to another shopper", key)
	}
	return order, nil
}

// reprice replaces the price and description of every item with the
// catalog's current data and checks the requested quantities against stock.
func (s *OrderService) reprice(ctx context.Context, items []pricing.LineItem) ([]pricing.LineItem, error) {
	out := make([]pricing.LineItem, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.CatalogConcurrency)
	for i, it := range items {
		g.Go(func() error {
			p, err := s.catalog.Lookup(gctx, it.ProductID)
			if err != nil {
				return err
			}
			if p.AvailableStock != nil && it.Quantity > *p.AvailableStock {
				return apperr.WithDetails(orderapi.ErrStockChanged,
					map[string]string{it.ProductID: fmt.Sprintf("only %d left", *p.AvailableStock)},
					"product %q has %d in stock, %d requested", it.ProductID, *p.AvailableStock, it.Quantity)
			}
			out[i] = pricing.LineItem{
				ProductID: it.ProductID,
				Name:      p.Name,
				SKU:       p.SKU,
				UnitPrice: p.UnitPrice,
				Quantity:  it.Quantity,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// validateSubmission re-checks the step payloads. Account creation is handled
// outside this service, so the password rule is not applied here.
func validateSubmission(req orderapi.SubmitRequest, now time.Time) (orderapi.ContactInfo, orderapi.ShippingInfo, orderapi.PaymentInfo, error) {
	contact := orderapi.NormalizeContact(req.Contact)
	shipping := orderapi.NormalizeShipping(req.Shipping)
	payment := orderapi.NormalizePayment(req.Payment)

	withoutAccount := contact
	withoutAccount.CreateAccount = false

	fields := map[string]string{}
	for prefix, errs := range map[string]orderapi.FieldErrors{
		"contact.":  orderapi.ValidateContact(withoutAccount),
		"shipping.": orderapi.ValidateShipping(shipping),
		"payment.":  orderapi.ValidatePayment(payment, now),
	} {
		for field, msg := range errs {
			fields[prefix+field] = msg
		}
	}
	if len(fields) > 0 {
		return contact, shipping, payment, apperr.WithDetails(orderapi.ErrValidationRejected, fields,
			"%d fields were rejected", len(fields))
	}
	return contact, shipping, payment, nil
}

func ownedBy(order *domain.Order, owner shopper.Identity) error {
	if order.ShopperID != owner.ID || order.Guest != owner.Guest {
		return apperr.Wrap(orderapi.ErrOrderNotFound, "order %s", order.ID)
	}
	return nil
}

func parseOrderID(v string) (uuid.UUID, error) {
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, apperr.Wrap(orderapi.ErrOrderNotFound, "order %q", v)
	}
	return id, nil
}
