package model

import (
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Relational Types
// -----------------------------------------------------------------------------

// Home represents a metering point registered with the Volt API.
type Home struct {
	ID       uuid.UUID // Primary key, assigned by Volt
	Nickname string    // User-assigned display name
	Address  string    // Street address
	Timezone string    // IANA timezone (e.g., "Europe/Oslo")

	// HasLiveFeed is true when the home has a realtime-capable meter
	// and may be subscribed on the websocket feed.
	HasLiveFeed bool
}

// PriceLevel classifies a price relative to the trailing average.
type PriceLevel string

const (
	PriceLevelVeryCheap     PriceLevel = "VERY_CHEAP"
	PriceLevelCheap         PriceLevel = "CHEAP"
	PriceLevelNormal        PriceLevel = "NORMAL"
	PriceLevelExpensive     PriceLevel = "EXPENSIVE"
	PriceLevelVeryExpensive PriceLevel = "VERY_EXPENSIVE"
)

// PriceEntry is the energy price for one home over one hour.
type PriceEntry struct {
	HomeID   uuid.UUID  // Home this price applies to
	StartsAt time.Time  // Start of the hour
	Total    float64    // Total price including tax (currency/kWh)
	Energy   float64    // Spot market component
	Tax      float64    // Tax component
	Currency string     // ISO 4217 code
	Level    PriceLevel // Relative price level
}

// ConsumptionEntry is metered consumption for one home over one interval.
type ConsumptionEntry struct {
	HomeID      uuid.UUID // Home this entry applies to
	From        time.Time // Interval start
	To          time.Time // Interval end
	Consumption float64   // kWh consumed
	Cost        float64   // Total cost for the interval
	UnitPrice   float64   // Average unit price over the interval
	Currency    string    // ISO 4217 code
}

// -----------------------------------------------------------------------------
// Time-Series Types
// -----------------------------------------------------------------------------

// LiveMeasurement is one realtime reading from a home's meter, delivered
// over the websocket feed.
type LiveMeasurement struct {
	HomeID     uuid.UUID // Home the reading belongs to
	Timestamp  time.Time // Meter timestamp
	ReceivedAt time.Time // Gatherer receive timestamp

	Power           float64 // Current consumption (W)
	PowerProduction float64 // Current production (W), 0 for non-producing homes
	MinPower        float64 // Min consumption since midnight (W)
	MaxPower        float64 // Max consumption since midnight (W)
	AveragePower    float64 // Average consumption since midnight (W)

	AccumulatedConsumption float64 // kWh since midnight
	AccumulatedProduction  float64 // kWh produced since midnight
	AccumulatedCost        float64 // Cost since midnight
	Currency               string  // ISO 4217 code

	// Per-phase readings. Zero when the meter does not report them.
	VoltagePhase1 float64
	VoltagePhase2 float64
	VoltagePhase3 float64
	CurrentL1     float64
	CurrentL2     float64
	CurrentL3     float64
}
