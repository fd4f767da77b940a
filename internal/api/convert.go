package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mglien/volt-data/internal/model"
)

// convertHome converts a wire home to model.Home.
func convertHome(w wireHome) (model.Home, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return model.Home{}, fmt.Errorf("parse home id %q: %w", w.ID, err)
	}

	addr := w.Address.Address1
	if w.Address.City != "" {
		addr = strings.TrimSpace(addr + ", " + w.Address.City)
	}

	return model.Home{
		ID:          id,
		Nickname:    w.Nickname,
		Address:     addr,
		Timezone:    w.Timezone,
		HasLiveFeed: w.Features.RealTimeConsumptionEnabled,
	}, nil
}

// convertPrice converts a wire price entry to model.PriceEntry.
func convertPrice(homeID uuid.UUID, currency string, w wirePrice) (model.PriceEntry, error) {
	startsAt, err := time.Parse(time.RFC3339, w.StartsAt)
	if err != nil {
		return model.PriceEntry{}, fmt.Errorf("parse startsAt %q: %w", w.StartsAt, err)
	}

	return model.PriceEntry{
		HomeID:   homeID,
		StartsAt: startsAt.UTC(),
		Total:    w.Total,
		Energy:   w.Energy,
		Tax:      w.Tax,
		Currency: currency,
		Level:    model.PriceLevel(w.Level),
	}, nil
}

// convertConsumption converts a wire consumption entry to model.ConsumptionEntry.
func convertConsumption(homeID uuid.UUID, w wireConsumption) (model.ConsumptionEntry, error) {
	from, err := time.Parse(time.RFC3339, w.From)
	if err != nil {
		return model.ConsumptionEntry{}, fmt.Errorf("parse from %q: %w", w.From, err)
	}
	to, err := time.Parse(time.RFC3339, w.To)
	if err != nil {
		return model.ConsumptionEntry{}, fmt.Errorf("parse to %q: %w", w.To, err)
	}

	return model.ConsumptionEntry{
		HomeID:      homeID,
		From:        from.UTC(),
		To:          to.UTC(),
		Consumption: w.Consumption,
		Cost:        w.Cost,
		UnitPrice:   w.UnitPrice,
		Currency:    w.Currency,
	}, nil
}
