// Package debounce coalesces bursts of work per key into a single call made
// after a quiet period.
package debounce

import (
	"sync"
	"time"
)

type Debouncer[K comparable] struct {
	mu      sync.Mutex
	wait    time.Duration
	timers  map[K]*time.Timer
	pending map[K]func()
	stopped bool
}

func New[K comparable](wait time.Duration) *Debouncer[K] {
	return &Debouncer[K]{
		wait:    wait,
		timers:  make(map[K]*time.Timer),
		pending: make(map[K]func()),
	}
}

// Do schedules fn for key, replacing any pending call and restarting the quiet period.
// It reports false after Stop, when nothing is scheduled and the caller runs the work itself.
func (d *Debouncer[K]) Do(key K, fn func()) bool {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return false
	}
	d.pending[key] = fn
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.wait, func() { d.Flush(key) })
	d.mu.Unlock()
	return true
}

// Flush runs the pending call for key now. It reports whether a call ran.
func (d *Debouncer[K]) Flush(key K) bool {
	d.mu.Lock()
	fn, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
		if t, exists := d.timers[key]; exists {
			t.Stop()
			delete(d.timers, key)
		}
	}
	d.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}

// Pending reports whether key has a scheduled call.
func (d *Debouncer[K]) Pending(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Stop flushes every pending call. Later calls to Do are refused.
func (d *Debouncer[K]) Stop() {
	d.mu.Lock()
	d.stopped = true
	keys := make([]K, 0, len(d.pending))
	for k := range d.pending {
		keys = append(keys, k)
	}
	d.mu.Unlock()
	for _, k := range keys {
		d.Flush(k)
	}
}
