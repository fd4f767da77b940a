// Package poller implements the price history poller.
//
// The poller:
//   - Fetches hourly prices and recent consumption for every home on an
//     interval (default: 1h)
//   - Complements the realtime feed with data the feed never carries
//   - Uses concurrent requests bounded by a semaphore
package poller
