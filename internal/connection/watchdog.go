package connection

import (
	"sync"
	"time"
)

// Watchdog fires a callback when no traffic has been observed for the
// configured interval. Each Arm advances a generation counter that is passed
// to the expiry callback, so the owner can discard expiries raised against a
// connection that has since been replaced.
type Watchdog struct {
	mu       sync.Mutex
	interval time.Duration
	gen      uint64
	last     time.Time
	timer    *time.Timer
	onExpiry func(gen uint64)
}

// NewWatchdog returns a stopped watchdog. onExpiry runs on a timer goroutine.
func NewWatchdog(interval time.Duration, onExpiry func(gen uint64)) *Watchdog {
	return &Watchdog{interval: interval, onExpiry: onExpiry}
}

// Arm starts a fresh liveness window under a new generation and returns that
// generation. Any previously armed window is cancelled.
func (w *Watchdog) Arm() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.last = time.Now()
	w.timer = time.AfterFunc(w.interval, func() {
		w.expire(gen)
	})
	return gen
}

// Reset extends the current window without changing the generation. A reset
// after Stop is a no-op.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer == nil {
		return
	}
	w.last = time.Now()
	w.timer.Stop()
	gen := w.gen
	w.timer = time.AfterFunc(w.interval, func() {
		w.expire(gen)
	})
}

// expire re-checks staleness under the lock before reporting. A timer firing
// that raced a concurrent Reset sees the refreshed activity time and re-arms
// for the remainder of the window instead of reporting a live connection as
// stale.
func (w *Watchdog) expire(gen uint64) {
	w.mu.Lock()
	if w.timer == nil || gen != w.gen {
		w.mu.Unlock()
		return
	}
	if remaining := w.interval - time.Since(w.last); remaining > 0 {
		w.timer.Stop()
		w.timer = time.AfterFunc(remaining, func() {
			w.expire(gen)
		})
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.onExpiry(gen)
}

// Stop cancels the pending window. An expiry already in flight is discarded.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Generation returns the current generation counter.
func (w *Watchdog) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gen
}
