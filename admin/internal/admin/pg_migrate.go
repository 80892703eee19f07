package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/truebw/rewards/pkg/clickhouse"
	"github.com/malbeclabs/truebw/rewards/pkg/postgres"
)

// PgMigrateUp runs all pending PostgreSQL migrations.
func PgMigrateUp(ctx context.Context, log *slog.Logger, cfg postgres.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid postgres config: %w", err)
	}
	return postgres.Up(ctx, log, cfg.ConnString())
}

// PgMigrateStatus logs the status of all PostgreSQL migrations.
func PgMigrateStatus(ctx context.Context, log *slog.Logger, cfg postgres.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid postgres config: %w", err)
	}
	log.Info("PostgreSQL migration status")
	return postgres.Status(ctx, log, cfg.ConnString())
}

// ClickHouseMigrateUp runs all pending ClickHouse migrations.
func ClickHouseMigrateUp(ctx context.Context, log *slog.Logger, cfg clickhouse.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid clickhouse config: %w", err)
	}
	return clickhouse.Up(ctx, log, cfg)
}

// ClickHouseMigrateStatus logs the status of all ClickHouse migrations.
func ClickHouseMigrateStatus(ctx context.Context, log *slog.Logger, cfg clickhouse.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid clickhouse config: %w", err)
	}
	return clickhouse.MigrationStatus(ctx, log, cfg)
}
