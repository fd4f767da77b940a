// Package writer implements batch writers for gathered data.
//
// Writers:
//   - Measurement writer: drains the router buffer into the live_measurements
//     hypertable (TimescaleDB)
//   - Price writer: inserts hourly price entries fetched by the poller
//   - Consumption writer: inserts metered consumption intervals
//
// All writers use append-only semantics (never update, only insert); replays
// after a reconnect or an overlapping poll dedupe on the table's natural key
// with ON CONFLICT DO NOTHING.
package writer
