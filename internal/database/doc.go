// Package database provides connection pool management for TimescaleDB.
//
// Each gatherer maintains local storage:
//   - live_measurements: realtime readings from the feed (hypertable)
//   - prices, consumption: hourly history fetched by the poller
//   - homes: metering points known to this gatherer
package database
