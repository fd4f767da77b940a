// Package api provides the Volt REST API client.
//
// All requests pass through a retry engine that classifies failures into
// retriable and fatal, applies capped exponential backoff with jitter, and
// honors server-declared rate limits (429 Retry-After plus the
// X-RateLimit-Remaining/X-RateLimit-Reset window headers). Fatal failures
// (4xx other than 429) are surfaced immediately and never retried.
package api
