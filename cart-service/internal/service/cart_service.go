package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/storefront/cart-service/internal/cache"
	"github.com/fjod/storefront/cart-service/internal/domain"
	"github.com/fjod/storefront/cart-service/internal/repository"
	"github.com/fjod/storefront/pkg/apperr"
	"github.com/fjod/storefront/pkg/catalog"
	"github.com/fjod/storefront/pkg/debounce"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/fjod/storefront/pkg/shopper"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	// DebounceWait is the quiet period before a quantity edit is persisted.
	DebounceWait time.Duration
	// IdleTTL is how long an untouched cart stays in memory.
	IdleTTL        time.Duration
	WriteTimeout   time.Duration
	DefaultPricing pricing.Context
	Clock          func() time.Time
}

func (c *Config) fillDefaults() {
	if c.DebounceWait <= 0 {
		c.DebounceWait = 500 * time.Millisecond
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 30 * time.Minute
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.DefaultPricing.ShippingMethod == "" {
		c.DefaultPricing.ShippingMethod = pricing.ShippingStandard
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// View is what the cart API returns after every read or mutation.
type View struct {
	ShopperID string             `json:"shopper_id"`
	Guest     bool               `json:"guest"`
	Items     []pricing.LineItem `json:"items"`
	Pricing   pricing.Context    `json:"pricing"`
	Totals    pricing.Breakdown  `json:"totals"`
	Dirty     bool               `json:"dirty"`
	Degraded  bool               `json:"degraded"`
	Warnings  []string           `json:"warnings,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type entry struct {
	mu       sync.Mutex
	cart     *domain.Cart
	pending  bool // a debounced write is outstanding
	degraded bool // the last write failed
	evicted  bool
	lastUsed time.Time
}

// CartService owns one aggregate per shopper and writes it through to Redis
// (guests) or MongoDB (registered shoppers).
type CartService struct {
	repo     repository.CartRepository
	cache    cache.SnapshotStore
	guests   cache.SnapshotStore
	catalog  catalog.Reader
	pricer   domain.Pricer
	log      *zap.Logger
	cfg      Config
	debounce *debounce.Debouncer[string]
	sfg      singleflight.Group // Prevents cache stampede

	mu      sync.Mutex
	entries map[string]*entry
}

func NewCartService(
	repo repository.CartRepository,
	registeredCache cache.SnapshotStore,
	guests cache.SnapshotStore,
	products catalog.Reader,
	pricer domain.Pricer,
	log *zap.Logger,
	cfg Config,
) *CartService {
	cfg.fillDefaults()
	return &CartService{
		repo:     repo,
		cache:    registeredCache,
		guests:   guests,
		catalog:  products,
		pricer:   pricer,
		log:      log,
		cfg:      cfg,
		debounce: debounce.New[string](cfg.DebounceWait),
		entries:  make(map[string]*entry),
	}
}

func (s *CartService) GetCart(ctx context.Context, id shopper.Identity) (View, error) {
	e, err := s.acquire(ctx, id)
	if err != nil {
		return View{}, err
	}
	defer e.mu.Unlock()
	return s.view(e, nil), nil
}

func (s *CartService) AddItem(ctx context.Context, id shopper.Identity, productID string, quantity int) (View, error) {
	if quantity < 1 {
		return View{}, apperr.Wrap(domain.ErrInvalidQuantity, "quantity must be at least 1, got %d", quantity)
	}
	product, err := s.catalog.Lookup(ctx, productID)
	if err != nil {
		return View{}, err
	}
	return s.mutate(ctx, id, false, func(c *domain.Cart) (domain.Result, error) {
		return c.AddItem(product, quantity)
	})
}

// UpdateQuantity applies the edit at once but coalesces persistence of bursts.
func (s *CartService) UpdateQuantity(ctx context.Context, id shopper.Identity, productID string, quantity int) (View, error) {
	var (
		available *int
		warnings  []string
	)
	if quantity >= 1 {
		product, err := s.catalog.Lookup(ctx, productID)
		switch {
		case err == nil:
			available = product.AvailableStock
		case apperr.Retryable(err):
			s.log.Warn("stock lookup failed, skipping stock check", zap.String("product_id", productID), zap.Error(err))
			warnings = append(warnings, "stock could not be verified right now")
		default:
			return View{}, err
		}
	}
	return s.mutate(ctx, id, true, func(c *domain.Cart) (domain.Result, error) {
		res, err := c.UpdateQuantity(productID, quantity, available)
		res.Warnings = append(warnings, res.Warnings...)
		return res, err
	})
}

func (s *CartService) RemoveItem(ctx context.Context, id shopper.Identity, productID string) (View, error) {
	return s.mutate(ctx, id, false, func(c *domain.Cart) (domain.Result, error) {
		return c.RemoveItem(productID), nil
	})
}

func (s *CartService) ClearCart(ctx context.Context, id shopper.Identity) (View, error) {
	return s.mutate(ctx, id, false, func(c *domain.Cart) (domain.Result, error) {
		return c.Clear(), nil
	})
}

func (s *CartService) ApplyDiscount(ctx context.Context, id shopper.Identity, code string) (View, error) {
	return s.mutate(ctx, id, false, func(c *domain.Cart) (domain.Result, error) {
		return c.ApplyDiscount(code)
	})
}

func (s *CartService) RemoveDiscount(ctx context.Context, id shopper.Identity) (View, error) {
	return s.mutate(ctx, id, false, func(c *domain.Cart) (domain.Result, error) {
		return c.RemoveDiscount(), nil
	})
}

func (s *CartService) SetShippingMethod(ctx context.Context, id shopper.Identity, method pricing.ShippingMethod) (View, error) {
	return s.mutate(ctx, id, false, func(c *domain.Cart) (domain.Result, error) {
		return c.SetShippingMethod(method)
	})
}

func (s *CartService) SetLocale(ctx context.Context, id shopper.Identity, locale string) (View, error) {
	return s.mutate(ctx, id, false, func(c *domain.Cart) (domain.Result, error) {
		return c.SetLocale(locale), nil
	})
}

// Snapshot returns the cart for checkout after writing out any pending edit.
func (s *CartService) Snapshot(ctx context.Context, id shopper.Identity) (View, error) {
	s.debounce.Flush(id.Key())
	return s.GetCart(ctx, id)
}

// ClearAfterCheckout empties the cart and drops its discount once an order was placed.
func (s *CartService) ClearAfterCheckout(ctx context.Context, id shopper.Identity) error {
	s.debounce.Flush(id.Key())
	_, err := s.mutate(ctx, id, false, func(c *domain.Cart) (domain.Result, error) {
		c.Clear()
		return c.RemoveDiscount(), nil
	})
	return err
}

// Run evicts idle carts until ctx is done.
func (s *CartService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.evictIdle(s.cfg.Clock()); n > 0 {
				s.log.Debug("evicted idle carts", zap.Int("count", n))
			}
		}
	}
}

// Close writes out every pending edit.
func (s *CartService) Close() {
	s.debounce.Stop()
}

func (s *CartService) mutate(ctx context.Context, id shopper.Identity, debounced bool, fn func(*domain.Cart) (domain.Result, error)) (View, error) {
	e, err := s.acquire(ctx, id)
	if err != nil {
		return View{}, err
	}
	defer e.mu.Unlock()

	res, err := fn(e.cart)
	if err != nil {
		return View{}, err
	}
	key := id.Key()
	if debounced && s.debounce.Do(key, func() { s.flushPending(key) }) {
		e.pending = true
	} else {
		s.persist(ctx, e)
	}
	return s.view(e, res.Warnings), nil
}

// acquire returns the shopper's entry locked.
func (s *CartService) acquire(ctx context.Context, id shopper.Identity) (*entry, error) {
	key := id.Key()
	for {
		s.mu.Lock()
		e, ok := s.entries[key]
		s.mu.Unlock()

		if !ok {
			c, err := s.load(ctx, id)
			if err != nil {
				return nil, err
			}
			s.mu.Lock()
			if e, ok = s.entries[key]; !ok {
				e = &entry{cart: c}
				s.entries[key] = e
			}
			s.mu.Unlock()
		}

		e.mu.Lock()
		if e.evicted {
			e.mu.Unlock()
			continue
		}
		if ok && !id.Guest && !e.pending && !e.degraded {
			s.refresh(ctx, e)
		}
		e.lastUsed = s.cfg.Clock()
		return e, nil
	}
}

func (s *CartService) load(ctx context.Context, id shopper.Identity) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(id.Key(), func() (any, error) {
		return s.loadSnapshot(ctx, id)
	})
	if err != nil {
		logger.WithTrace(ctx, s.log).Error("cart load failed", logger.Shopper(id.ID), zap.Error(err))
		return nil, apperr.Wrap(ErrCartUnavailable, "cart could not be loaded, please try again")
	}
	snap, _ := v.(*domain.Snapshot)
	if snap == nil {
		return domain.New(id, s.cfg.DefaultPricing, s.pricer, s.cfg.Clock), nil
	}
	c, warnings := domain.Restore(*snap, s.pricer, s.cfg.Clock)
	for _, w := range warnings {
		s.log.Warn("stored cart repaired", logger.Shopper(id.ID), zap.String("warning", w))
	}
	return c, nil
}

// refresh adopts a newer stored copy written elsewhere. The caller holds e.mu.
func (s *CartService) refresh(ctx context.Context, e *entry) {
	owner := e.cart.Owner()
	v, err, _ := s.sfg.Do(owner.Key(), func() (any, error) {
		return s.loadSnapshot(ctx, owner)
	})
	if err != nil {
		s.log.Warn("cart refresh failed, serving in-memory copy", logger.Shopper(owner.ID), zap.Error(err))
		return
	}
	snap, _ := v.(*domain.Snapshot)
	if snap == nil {
		if e.cart.Len() > 0 {
			e.cart = domain.New(owner, e.cart.PricingContext(), s.pricer, s.cfg.Clock)
		}
		return
	}
	if snap.UpdatedAt.After(e.cart.UpdatedAt()) {
		e.cart, _ = domain.Restore(*snap, s.pricer, s.cfg.Clock)
	}
}

// loadSnapshot returns nil without error when the shopper has no stored cart.
func (s *CartService) loadSnapshot(ctx context.Context, id shopper.Identity) (*domain.Snapshot, error) {
	if id.Guest {
		snap, err := s.guests.Get(ctx, id.ID)
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return snap, err
	}

	snap, err := s.cache.Get(ctx, id.ID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log.Warn("cache get error", logger.Shopper(id.ID), zap.Error(err)) // log cache error but continue
	}

	snap, err = s.repo.GetCart(ctx, id.ID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	go func() {
		cctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if errSet := s.cache.Set(cctx, snap); errSet != nil {
			s.log.Warn("cache set error", logger.Shopper(id.ID), zap.Error(errSet))
		}
	}()
	return snap, nil
}

// persist writes the cart out. Failures never undo the mutation; they mark
// the entry degraded until a later write succeeds. The caller holds e.mu.
func (s *CartService) persist(ctx context.Context, e *entry) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
	defer cancel()

	owner := e.cart.Owner()
	snap := e.cart.Snapshot()
	var err error
	if owner.Guest {
		err = s.guests.Set(wctx, &snap)
	} else {
		var stored *domain.Snapshot
		stored, err = s.repo.SaveCart(wctx, &snap)
		if err == nil {
			s.invalidateCache(wctx, owner.ID)
			e.cart, _ = domain.Restore(*stored, s.pricer, s.cfg.Clock)
		}
	}
	e.pending = false
	if err != nil {
		e.degraded = true
		logger.WithTrace(ctx, s.log).Warn("cart persistence failed, keeping in-memory copy",
			logger.Shopper(owner.ID), zap.Bool("guest", owner.Guest), zap.Error(err))
		return
	}
	e.degraded = false
}

func (s *CartService) flushPending(key string) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending {
		s.persist(context.Background(), e)
	}
}

func (s *CartService) invalidateCache(ctx context.Context, shopperID string) {
	if err := s.cache.Delete(ctx, shopperID); err != nil {
		s.log.Warn("cache invalidate error", logger.Shopper(shopperID), zap.Error(err))
	}
}

func (s *CartService) evictIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for key, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		if !e.pending && !e.degraded && now.Sub(e.lastUsed) >= s.cfg.IdleTTL {
			e.evicted = true
			delete(s.entries, key)
			evicted++
		}
		e.mu.Unlock()
	}
	return evicted
}

func (s *CartService) view(e *entry, warnings []string) View {
	c := e.cart
	owner := c.Owner()
	if e.degraded {
		warnings = append(warnings, degradedWarning)
	}
	pc := c.PricingContext()
	pc.At = time.Time{}
	return View{
		ShopperID: owner.ID,
		Guest:     owner.Guest,
		Items:     c.Items(),
		Pricing:   pc,
		Totals:    c.Breakdown(),
		Dirty:     c.Dirty(),
		Degraded:  e.degraded,
		Warnings:  warnings,
		UpdatedAt: c.UpdatedAt(),
	}
}
