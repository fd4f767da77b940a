package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mglien/volt-data/internal/auth"
)

// Client provides access to the Volt REST API.
type Client struct {
	baseURL    string
	tokens     auth.TokenProvider
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries      int
	retryBackoff    time.Duration
	retryMaxBackoff time.Duration

	budget rateLimitBudget
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, tokens auth.TokenProvider, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   baseURL,
		tokens:    tokens,
		userAgent: "volt-data",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:          slog.Default(),
		maxRetries:      4,
		retryBackoff:    time.Second,
		retryMaxBackoff: 60 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithMaxBackoff caps the per-retry backoff delay.
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryMaxBackoff = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// RateLimit returns the most recently observed rate limit budget.
func (c *Client) RateLimit() (remaining int, reset time.Time, known bool) {
	return c.budget.snapshot()
}
