// Package model defines shared data types used across the gatherer.
//
// Conventions:
//   - Timestamps are time.Time in UTC
//   - Power is watts, energy is kWh
//   - Monetary amounts are in the home's billing currency (ISO 4217 code kept alongside)
package model
