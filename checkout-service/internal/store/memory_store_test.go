package store

import (
	"testing"
	"time"

	"github.com/fjod/storefront/checkout-service/domain"
	"github.com/fjod/storefront/pkg/pricing"
	"github.com/fjod/storefront/pkg/shopper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) *MemoryStore {
	store := NewMemoryStore(time.Hour, func() time.Time { return now })
	t.Cleanup(func() { store.Close() })
	return store
}

func newSession(t *testing.T, id, owner string) *domain.Session {
	t.Helper()
	cart := domain.CartSnapshot{
		Items:   []pricing.LineItem{{ProductID: "whey", UnitPrice: 4599, Quantity: 1}},
		Pricing: pricing.Context{ShippingMethod: pricing.ShippingStandard},
	}
	s, err := domain.NewSession(id, "key-"+id, shopper.Identity{ID: owner}, cart, now)
	require.NoError(t, err)
	return s
}

func TestMemoryStore_PutAndGet(t *testing.T) {
	store := setupStore(t)

	prev := store.Put(newSession(t, "chk-1", "user-1"))
	assert.Nil(t, prev)

	e, err := store.Get("chk-1")
	require.NoError(t, err)
	assert.Equal(t, "chk-1", e.Session.ID())

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStore_PutReturnsReplacedSession(t *testing.T) {
	store := setupStore(t)
	store.Put(newSession(t, "chk-1", "user-1"))
	store.Put(newSession(t, "chk-other", "user-2"))

	prev := store.Put(newSession(t, "chk-2", "user-1"))

	require.NotNil(t, prev)
	assert.Equal(t, "chk-1", prev.Session.ID())
	active, err := store.Active("registered:user-1")
	require.NoError(t, err)
	assert.Equal(t, "chk-2", active.Session.ID())
	assert.Len(t, store.All(), 3)
}

func TestMemoryStore_PurgeDropsOnlyOldClosedSessions(t *testing.T) {
	store := setupStore(t)
	closedOld := newSession(t, "old", "user-1")
	require.NoError(t, closedOld.Abandon(domain.ReasonCancelled, now.Add(-2*time.Hour)))
	closedRecent := newSession(t, "recent", "user-2")
	require.NoError(t, closedRecent.Abandon(domain.ReasonCancelled, now.Add(-time.Minute)))
	store.Put(closedOld)
	store.Put(closedRecent)
	store.Put(newSession(t, "open", "user-3"))

	purged := store.Purge(now.Add(-time.Hour))

	assert.Equal(t, 1, purged)
	_, err := store.Get("old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Active("registered:user-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get("recent")
	assert.NoError(t, err)
	_, err = store.Get("open")
	assert.NoError(t, err)
}

func TestMemoryStore_PurgeSkipsLockedEntries(t *testing.T) {
	store := setupStore(t)
	s := newSession(t, "old", "user-1")
	require.NoError(t, s.Abandon(domain.ReasonCancelled, now.Add(-2*time.Hour)))
	store.Put(s)
	e, err := store.Get("old")
	require.NoError(t, err)

	e.Lock()
	assert.Equal(t, 0, store.Purge(now))
	e.Unlock()
	assert.Equal(t, 1, store.Purge(now))
}
