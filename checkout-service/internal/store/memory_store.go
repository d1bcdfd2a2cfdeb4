package store

import (
	"sync"
	"time"

	"github.com/fjod/storefront/checkout-service/domain"
)

const (
	// DefaultRetention is how long a submitted or abandoned session stays readable.
	DefaultRetention = time.Hour

	// CleanupInterval is how often the background purge runs
	CleanupInterval = time.Minute
)

// MemoryStore implements SessionStore with in-memory storage
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Entry // sessionID -> entry
	active   map[string]string // shopper key -> sessionID

	retention time.Duration
	clock     func() time.Time

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

// NewMemoryStore creates the store and starts the purge of closed sessions
// older than retention.
func NewMemoryStore(retention time.Duration, clock func() time.Time) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clock == nil {
		clock = time.Now
	}
	s := &MemoryStore{
		sessions:    make(map[string]*Entry),
		active:      make(map[string]string),
		retention:   retention,
		clock:       clock,
		stopCleanup: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Purge(s.clock().Add(-s.retention))
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) Put(sess *domain.Session) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sess.Owner().Key()
	var previous *Entry
	if id, ok := s.active[key]; ok {
		previous = s.sessions[id]
	}
	s.sessions[sess.ID()] = &Entry{Session: sess}
	s.active[key] = sess.ID()
	return previous
}

func (s *MemoryStore) Get(id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func (s *MemoryStore) Active(shopperKey string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[shopperKey]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func (s *MemoryStore) All() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		out = append(out, e)
	}
	return out
}

// Purge skips entries that are locked by a request; they are retried on the
// next run.
func (s *MemoryStore) Purge(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, e := range s.sessions {
		if !e.TryLock() {
			continue
		}
		expired := e.Session.Closed() && e.Session.ClosedAt().Before(cutoff)
		key := e.Session.Owner().Key()
		e.Unlock()
		if !expired {
			continue
		}
		delete(s.sessions, id)
		if s.active[key] == id {
			delete(s.active, key)
		}
		purged++
	}
	return purged
}

// Close stops the background purge and waits for it to finish
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	s.wg.Wait()
	return nil
}
