package db

import (
	"context"
	"fmt"
	"time"

	"github.com/storyreel/worker/internal/services"
)

// EnsureCatalogSchema creates the sync tables when they do not exist yet.
// The tool runs from cron on operator machines, so it owns its own schema.
func (db *DB) EnsureCatalogSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS gcp_sku_prices (
			sku_id      VARCHAR(64) NOT NULL,
			region      VARCHAR(32) NOT NULL,
			usage_unit  VARCHAR(64) NOT NULL,
			description TEXT,
			currency    VARCHAR(8),
			unit_price  NUMERIC(20, 10),
			updated_at  TIMESTAMPTZ,
			PRIMARY KEY (sku_id, region, usage_unit)
		)`,
		`CREATE TABLE IF NOT EXISTS vertex_publisher_models (
			name             VARCHAR(512) PRIMARY KEY,
			display_name     TEXT,
			publisher        VARCHAR(128),
			is_video_related BOOLEAN,
			updated_at       TIMESTAMPTZ
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure catalog schema: %w", err)
		}
	}
	return nil
}

// UpsertSkuPrices writes the normalized SKU prices, replacing existing rows
// for the same (sku, region, unit).
func (db *DB) UpsertSkuPrices(ctx context.Context, prices []services.SkuPrice) error {
	query := `
		INSERT INTO gcp_sku_prices (sku_id, region, usage_unit, description, currency, unit_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sku_id, region, usage_unit) DO UPDATE SET
			description = EXCLUDED.description,
			currency = EXCLUDED.currency,
			unit_price = EXCLUDED.unit_price,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	for _, p := range prices {
		if _, err := db.ExecContext(ctx, query, p.SkuID, p.Region, p.UsageUnit, p.Description, p.Currency, p.UnitPrice, now); err != nil {
			return fmt.Errorf("failed to upsert SKU %s: %w", p.SkuID, err)
		}
	}
	return nil
}

// UpsertPublisherModels writes the Model Garden probe results keyed by
// resource name.
func (db *DB) UpsertPublisherModels(ctx context.Context, models []services.VertexModelInfo) error {
	query := `
		INSERT INTO vertex_publisher_models (name, display_name, publisher, is_video_related, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			publisher = EXCLUDED.publisher,
			is_video_related = EXCLUDED.is_video_related,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now().UTC()
	for _, m := range models {
		if _, err := db.ExecContext(ctx, query, m.Name, m.DisplayName, m.Publisher, m.IsVideoRelated, now); err != nil {
			return fmt.Errorf("failed to upsert model %s: %w", m.Name, err)
		}
	}
	return nil
}
