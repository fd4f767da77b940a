package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/mglien/volt-data/internal/model"
)

// Consumption resolutions accepted by GetConsumption.
const (
	ResolutionHourly  = "HOURLY"
	ResolutionDaily   = "DAILY"
	ResolutionWeekly  = "WEEKLY"
	ResolutionMonthly = "MONTHLY"
	ResolutionAnnual  = "ANNUAL"
)

// GetHomes fetches all homes visible to the access token.
func (c *Client) GetHomes(ctx context.Context) ([]model.Home, error) {
	var resp homesResponse
	if err := c.get(ctx, "/homes", nil, &resp); err != nil {
		return nil, fmt.Errorf("get homes: %w", err)
	}

	homes := make([]model.Home, 0, len(resp.Homes))
	for _, w := range resp.Homes {
		home, err := convertHome(w)
		if err != nil {
			return nil, fmt.Errorf("get homes: %w", err)
		}
		homes = append(homes, home)
	}
	return homes, nil
}

// GetPriceInfo fetches current and upcoming hourly prices for a home.
func (c *Client) GetPriceInfo(ctx context.Context, homeID uuid.UUID) ([]model.PriceEntry, error) {
	var resp priceResponse
	path := "/homes/" + homeID.String() + "/price"
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("get price info: %w", err)
	}

	entries := make([]model.PriceEntry, 0, len(resp.Entries))
	for _, w := range resp.Entries {
		entry, err := convertPrice(homeID, resp.Currency, w)
		if err != nil {
			return nil, fmt.Errorf("get price info: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetConsumption fetches the last n consumption intervals for a home at the
// given resolution.
func (c *Client) GetConsumption(ctx context.Context, homeID uuid.UUID, resolution string, last int) ([]model.ConsumptionEntry, error) {
	query := url.Values{}
	query.Set("resolution", resolution)
	query.Set("last", strconv.Itoa(last))

	var resp consumptionResponse
	path := "/homes/" + homeID.String() + "/consumption"
	if err := c.get(ctx, path, query, &resp); err != nil {
		return nil, fmt.Errorf("get consumption: %w", err)
	}

	entries := make([]model.ConsumptionEntry, 0, len(resp.Entries))
	for _, w := range resp.Entries {
		entry, err := convertConsumption(homeID, w)
		if err != nil {
			return nil, fmt.Errorf("get consumption: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
