package router

// RouterConfig configures the measurement router.
type RouterConfig struct {
	// BufferSize is the initial capacity of the measurement buffer.
	BufferSize int
}

// measurementEnvelope is the payload of a `next` frame from the feed.
type measurementEnvelope struct {
	Data struct {
		LiveMeasurement *wireMeasurement `json:"liveMeasurement"`
	} `json:"data"`
}

// wireMeasurement is one realtime reading as the feed sends it.
type wireMeasurement struct {
	Timestamp              string  `json:"timestamp"`
	Power                  float64 `json:"power"`
	PowerProduction        float64 `json:"powerProduction"`
	MinPower               float64 `json:"minPower"`
	MaxPower               float64 `json:"maxPower"`
	AveragePower           float64 `json:"averagePower"`
	AccumulatedConsumption float64 `json:"accumulatedConsumption"`
	AccumulatedProduction  float64 `json:"accumulatedProduction"`
	AccumulatedCost        float64 `json:"accumulatedCost"`
	Currency               string  `json:"currency"`
	VoltagePhase1          float64 `json:"voltagePhase1"`
	VoltagePhase2          float64 `json:"voltagePhase2"`
	VoltagePhase3          float64 `json:"voltagePhase3"`
	CurrentL1              float64 `json:"currentL1"`
	CurrentL2              float64 `json:"currentL2"`
	CurrentL3              float64 `json:"currentL3"`
}
