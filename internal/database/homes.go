package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mglien/volt-data/internal/model"
)

// UpsertHomes records the homes visible to this gatherer. Metadata is
// refreshed on every startup so renames and feed-capability changes
// propagate.
func UpsertHomes(ctx context.Context, db *pgxpool.Pool, homes []model.Home) error {
	if len(homes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, h := range homes {
		batch.Queue(`
			INSERT INTO homes (id, nickname, address, timezone, has_live_feed)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				nickname = EXCLUDED.nickname,
				address = EXCLUDED.address,
				timezone = EXCLUDED.timezone,
				has_live_feed = EXCLUDED.has_live_feed
		`, h.ID.String(), h.Nickname, h.Address, h.Timezone, h.HasLiveFeed)
	}

	results := db.SendBatch(ctx, batch)
	defer results.Close()

	for range homes {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert home: %w", err)
		}
	}
	return nil
}
