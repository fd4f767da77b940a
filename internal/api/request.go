package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/mglien/volt-data/internal/auth"
)

// errorBody is the error envelope the API returns alongside 4xx/5xx codes.
type errorBody struct {
	Errors []struct {
		Message    string `json:"message"`
		Extensions struct {
			Code string `json:"code"`
		} `json:"extensions"`
	} `json:"errors"`
}

// doRequest performs a single HTTP request and classifies the response.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch token: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	now := time.Now()
	c.budget.observe(resp.Header, now)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			RetryAfter: parseRetryAfter(resp.Header.Get(headerRetryAfter), now),
			Body:       body,
		}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && len(eb.Errors) > 0 {
			apiErr.Message = eb.Errors[0].Message
			apiErr.Code = eb.Errors[0].Extensions.Code
		}
		if apiErr.IsRateLimited() {
			reset := now.Add(apiErr.RetryAfter)
			if apiErr.RetryAfter == 0 {
				reset = now.Add(c.retryBackoff)
			}
			c.budget.exhaust(reset)
		}
		return nil, apiErr
	}

	return body, nil
}

// doWithRetry performs a request under the retry policy: retriable failures
// (5xx, 429, network errors) are retried with jittered exponential backoff
// up to the attempt budget, waiting out the server-declared rate limit
// window first; fatal failures are surfaced immediately.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(backoff)

			// A rate limited response dictates a minimum wait.
			var apiErr *APIError
			if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > delay {
				delay = apiErr.RetryAfter
			}

			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", delay,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			backoff *= 2
			if backoff > c.retryMaxBackoff {
				backoff = c.retryMaxBackoff
			}
		}

		// Wait out an exhausted rate limit window instead of sending a
		// call the server would reject.
		if wait := c.budget.delay(time.Now()); wait > 0 {
			c.logger.Debug("rate limit budget exhausted, delaying",
				"wait", wait,
				"path", path,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		body, err := c.doRequest(ctx, method, path, query)
		if err == nil {
			return body, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err

		// Credential rejections from the token provider are fatal.
		if auth.IsInvalidLogin(err) {
			return nil, err
		}

		// Fatal request errors (4xx other than 429) are never retried.
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return nil, err
		}
		// Network and timeout errors fall through as retriable.
	}

	return nil, &RetriesExhaustedError{Attempts: c.maxRetries + 1, Last: lastErr}
}

// retryDelay jitters one backoff step within [b/2, b). The band for the
// doubled next step starts where this one ends, so consecutive delays never
// shrink.
func retryDelay(b time.Duration) time.Duration {
	return b/2 + time.Duration(rand.Int64N(int64(b/2)))
}

// get performs a GET request with retries and unmarshals the response.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
