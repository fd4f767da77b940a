package router

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// liveMeasurementQuery selects every field the feed can report for a home.
// Meters that lack a field (per-phase readings, production) report zero.
const liveMeasurementQuery = `subscription {
  liveMeasurement(homeId: %q) {
    timestamp
    power
    powerProduction
    minPower
    maxPower
    averagePower
    accumulatedConsumption
    accumulatedProduction
    accumulatedCost
    currency
    voltagePhase1
    voltagePhase2
    voltagePhase3
    currentL1
    currentL2
    currentL3
  }
}`

// subscribePayload is the payload of a subscribe frame.
type subscribePayload struct {
	Query string `json:"query"`
}

// BuildSubscriptionPayload builds the subscribe payload for one home. It is
// wired into the connection manager as its payload builder.
func BuildSubscriptionPayload(homeID string) (json.RawMessage, error) {
	if _, err := uuid.Parse(homeID); err != nil {
		return nil, fmt.Errorf("invalid home id %q: %w", homeID, err)
	}
	return json.Marshal(subscribePayload{
		Query: fmt.Sprintf(liveMeasurementQuery, homeID),
	})
}
