package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mglien/volt-data/internal/auth"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := []ClientOption{WithRetries(4, 10*time.Millisecond), WithMaxBackoff(100 * time.Millisecond)}
	client := NewClient(server.URL, auth.NewStatic("test-token"), append(base, opts...)...)
	return client, server
}

func TestRequestHeaders(t *testing.T) {
	var gotAuth, gotUA string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, `{"homes":[]}`)
	}, WithUserAgent("volt-data-test"))

	if _, err := client.GetHomes(context.Background()); err != nil {
		t.Fatalf("GetHomes failed: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-token")
	}
	if gotUA != "volt-data-test" {
		t.Errorf("User-Agent = %q, want %q", gotUA, "volt-data-test")
	}
}

func TestRetryOn500ThenSuccess(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"homes":[]}`)
	})

	start := time.Now()
	_, err := client.GetHomes(context.Background())
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("GetHomes failed after retries: %v", err)
	}
	mu.Lock()
	n := attempts
	mu.Unlock()
	if n != 4 {
		t.Errorf("attempts = %d, want 4", n)
	}
	// Jittered backoff is at least half the base each round: 5 + 10 + 20 ms.
	if min := 35 * time.Millisecond; elapsed < min {
		t.Errorf("elapsed = %s, want >= %s (three backoff waits)", elapsed, min)
	}
}

func TestFatal403NeverRetried(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"errors":[{"message":"forbidden","extensions":{"code":"FORBIDDEN"}}]}`)
	})

	_, err := client.GetHomes(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", apiErr.StatusCode)
	}
	if apiErr.Code != "FORBIDDEN" {
		t.Errorf("Code = %q, want FORBIDDEN", apiErr.Code)
	}
	if apiErr.IsRetryable() {
		t.Error("403 must not be retryable")
	}

	mu.Lock()
	n := attempts
	mu.Unlock()
	if n != 1 {
		t.Errorf("attempts = %d, want 1 (fatal errors are never retried)", n)
	}
}

func TestRateLimitedRespectsRetryAfter(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		n := len(stamps)
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"homes":[]}`)
	})

	if _, err := client.GetHomes(context.Background()); err != nil {
		t.Fatalf("GetHomes failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stamps) != 2 {
		t.Fatalf("attempts = %d, want 2", len(stamps))
	}
	if gap := stamps[1].Sub(stamps[0]); gap < time.Second {
		t.Errorf("second attempt after %s, want >= 1s (Retry-After)", gap)
	}
}

func TestRetriesExhausted(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithRetries(2, 5*time.Millisecond))

	_, err := client.GetHomes(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var exhausted *RetriesExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want *RetriesExhaustedError", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhausted.Attempts)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("wrapped error = %v, want last 503 *APIError", exhausted.Last)
	}
}

func TestNetworkErrorRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close() // every request now fails at the dial

	client := NewClient(url, auth.NewStatic("tok"),
		WithRetries(2, time.Millisecond), WithMaxBackoff(5*time.Millisecond))

	_, err := client.GetHomes(context.Background())
	var exhausted *RetriesExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want *RetriesExhaustedError after network failures", err)
	}
}

func TestPreemptiveRateLimitDelay(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		n := len(stamps)
		mu.Unlock()
		if n == 1 {
			// Declare an empty budget resetting two seconds out. The
			// header truncates to whole seconds, so the effective reset
			// lands between one and two seconds from now.
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(2*time.Second).Unix()))
		}
		fmt.Fprint(w, `{"homes":[]}`)
	})

	ctx := context.Background()
	if _, err := client.GetHomes(ctx); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if _, err := client.GetHomes(ctx); err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stamps) != 2 {
		t.Fatalf("attempts = %d, want 2", len(stamps))
	}
	// Reset header has second granularity, so allow for truncation.
	if gap := stamps[1].Sub(stamps[0]); gap < 900*time.Millisecond {
		t.Errorf("second call issued after %s, want preemptive delay until window reset", gap)
	}
}

func TestContextCancelDuringBackoff(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, WithRetries(5, 200*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.GetHomes(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestGetPriceInfo(t *testing.T) {
	homeID := uuid.New()
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/homes/" + homeID.String() + "/price"
		if r.URL.Path != wantPath {
			t.Errorf("path = %q, want %q", r.URL.Path, wantPath)
		}
		fmt.Fprintf(w, `{
			"homeId": %q,
			"currency": "NOK",
			"priceInfo": [
				{"total": 1.23, "energy": 0.95, "tax": 0.28, "startsAt": "2026-08-29T10:00:00Z", "level": "NORMAL"},
				{"total": 2.10, "energy": 1.70, "tax": 0.40, "startsAt": "2026-08-29T11:00:00Z", "level": "EXPENSIVE"}
			]
		}`, homeID)
	})

	entries, err := client.GetPriceInfo(context.Background(), homeID)
	if err != nil {
		t.Fatalf("GetPriceInfo failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Total != 1.23 || entries[0].Currency != "NOK" {
		t.Errorf("entry[0] = %+v", entries[0])
	}
	if entries[1].Level != "EXPENSIVE" {
		t.Errorf("entry[1].Level = %q, want EXPENSIVE", entries[1].Level)
	}
}

func TestGetConsumption(t *testing.T) {
	homeID := uuid.New()
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("resolution"); got != ResolutionHourly {
			t.Errorf("resolution = %q, want %q", got, ResolutionHourly)
		}
		if got := r.URL.Query().Get("last"); got != "24" {
			t.Errorf("last = %q, want 24", got)
		}
		fmt.Fprintf(w, `{
			"homeId": %q,
			"consumption": [
				{"from": "2026-08-29T09:00:00Z", "to": "2026-08-29T10:00:00Z", "consumption": 1.5, "cost": 1.85, "unitPrice": 1.23, "currency": "NOK"}
			]
		}`, homeID)
	})

	entries, err := client.GetConsumption(context.Background(), homeID, ResolutionHourly, 24)
	if err != nil {
		t.Fatalf("GetConsumption failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].Consumption != 1.5 || entries[0].HomeID != homeID {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestRetryDelayBands(t *testing.T) {
	// Each step's jitter band is [b/2, b); the doubled next step starts at
	// b, so a sampled delay can never undercut the previous one.
	for _, b := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		for i := 0; i < 200; i++ {
			d := retryDelay(b)
			if d < b/2 || d >= b {
				t.Fatalf("retryDelay(%v) = %v, want in [%v, %v)", b, d, b/2, b)
			}
		}
	}
}
