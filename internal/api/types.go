package api

// Wire types mirroring the Volt REST API responses. Converted to
// internal/model types in convert.go.

type homesResponse struct {
	Homes []wireHome `json:"homes"`
}

type wireHome struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	Address  struct {
		Address1 string `json:"address1"`
		City     string `json:"city"`
	} `json:"address"`
	Timezone string `json:"timeZone"`
	Features struct {
		RealTimeConsumptionEnabled bool `json:"realTimeConsumptionEnabled"`
	} `json:"features"`
}

type priceResponse struct {
	HomeID   string      `json:"homeId"`
	Currency string      `json:"currency"`
	Entries  []wirePrice `json:"priceInfo"`
}

type wirePrice struct {
	Total    float64 `json:"total"`
	Energy   float64 `json:"energy"`
	Tax      float64 `json:"tax"`
	StartsAt string  `json:"startsAt"` // RFC 3339
	Level    string  `json:"level"`
}

type consumptionResponse struct {
	HomeID  string            `json:"homeId"`
	Entries []wireConsumption `json:"consumption"`
}

type wireConsumption struct {
	From        string  `json:"from"` // RFC 3339
	To          string  `json:"to"`   // RFC 3339
	Consumption float64 `json:"consumption"`
	Cost        float64 `json:"cost"`
	UnitPrice   float64 `json:"unitPrice"`
	Currency    string  `json:"currency"`
}
