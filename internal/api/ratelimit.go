package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Rate limit response headers.
const (
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// rateLimitBudget tracks the server-declared rate limit window. It is
// overwritten on every response that carries limit headers and decremented
// optimistically otherwise. Only the client's own request path touches it.
type rateLimitBudget struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	tracking  bool // false until the server has declared a limit
}

// observe updates the budget from a response's rate limit headers.
// Responses without limit headers decrement the remaining count
// optimistically.
func (b *rateLimitBudget) observe(h http.Header, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rem, remOK := parseIntHeader(h.Get(headerRateLimitRemaining))
	if !remOK {
		if b.tracking && b.remaining > 0 {
			b.remaining--
		}
		return
	}

	b.tracking = true
	b.remaining = rem
	if resetSecs, ok := parseIntHeader(h.Get(headerRateLimitReset)); ok {
		b.reset = time.Unix(int64(resetSecs), 0)
	}
}

// exhaust zeroes the budget until the given reset time. Called on 429.
func (b *rateLimitBudget) exhaust(reset time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tracking = true
	b.remaining = 0
	if reset.After(b.reset) {
		b.reset = reset
	}
}

// delay returns how long the caller must wait before issuing a call, zero
// when the budget permits an immediate call.
func (b *rateLimitBudget) delay(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.tracking || b.remaining > 0 {
		return 0
	}
	if d := b.reset.Sub(now); d > 0 {
		return d
	}
	// Window elapsed; allow a probe call.
	b.remaining = 1
	return 0
}

// snapshot returns the current budget for observability.
func (b *rateLimitBudget) snapshot() (remaining int, reset time.Time, tracking bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining, b.reset, b.tracking
}

func parseIntHeader(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseRetryAfter reads a Retry-After header (delta-seconds or HTTP-date).
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
