// Package connection implements the realtime feed connection manager.
//
// The manager:
//   - Maintains one websocket connection to the Volt feed
//   - Multiplexes per-home subscriptions onto that connection
//   - Watches liveness and forces reconnection on silence
//   - Fetches a fresh access token and re-subscribes every active home
//     after each reconnect, with capped exponential backoff
//
// Subscribers never see connection failures; they see a gap in events
// while the manager rebuilds the session.
package connection
