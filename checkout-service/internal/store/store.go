package store

import (
	"sync"
	"time"

	"github.com/fjod/storefront/checkout-service/domain"
	"github.com/fjod/storefront/pkg/apperr"
)

var ErrSessionNotFound = apperr.Define(apperr.KindNotFound, "checkout_not_found", "checkout session not found")

// Entry guards one session. Callers hold the lock while reading or mutating it.
type Entry struct {
	sync.Mutex
	Session *domain.Session
}

// SessionStore keeps checkout sessions for the lifetime of the process.
type SessionStore interface {
	// Put stores sess as the shopper's active session and returns the entry
	// it replaced, if any.
	Put(sess *domain.Session) *Entry

	Get(id string) (*Entry, error)

	// Active returns the most recent session started by the shopper.
	Active(shopperKey string) (*Entry, error)

	// All returns every stored entry, open or closed.
	All() []*Entry

	// Purge drops closed sessions that were closed before cutoff.
	Purge(cutoff time.Time) int

	Close() error
}
