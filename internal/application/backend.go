// Package application assembles storage, adapters and use cases from configuration.
// Both the server and the operator CLI start from here.
package application

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"credit-settlement/internal/config"
	"credit-settlement/internal/domain/ports/repository"
	"credit-settlement/internal/infra/db/postgres"
	"credit-settlement/internal/infra/db/postgres/migrations"
	"credit-settlement/internal/infra/db/sqlite"
	"credit-settlement/internal/infra/db/sqlite/schema"
	"credit-settlement/internal/infra/metrics"
)

// Backend is one storage driver's repositories and transaction manager.
type Backend struct {
	Driver   string
	Orders   repository.PaymentOrderRepository
	Profiles repository.UserProfileRepository
	Ledger   repository.CreditTransactionRepository
	Audit    repository.AuditLogRepository
	Tx       repository.TransactionManager

	Ping      func(ctx context.Context) error
	PoolStats metrics.PoolStatsFunc // nil when the driver has no pool
	Migrate   func(ctx context.Context) error
	Close     func()
}

// OpenBackend connects to the configured database. Migrations are not applied here.
func OpenBackend(ctx context.Context, cfg config.DatabaseConfig, logger *zerolog.Logger) (*Backend, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := postgres.NewPgxPool(ctx, cfg.URL, cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		logger.Info().Int32("max_conns", cfg.MaxConns).Msg("postgres pool ready")
		return &Backend{
			Driver:    cfg.Driver,
			Orders:    postgres.NewOrderRepo(pool),
			Profiles:  postgres.NewProfileRepo(pool),
			Ledger:    postgres.NewLedgerRepo(pool),
			Audit:     postgres.NewAuditRepo(pool),
			Tx:        postgres.NewTxManager(pool),
			Ping:      pool.Ping,
			PoolStats: postgres.PoolStats(pool),
			Migrate: func(ctx context.Context) error {
				return postgres.ApplyMigrations(ctx, pool, migrations.Files)
			},
			Close: pool.Close,
		}, nil

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		logger.Info().Str("path", cfg.URL).Msg("sqlite database ready")
		return &Backend{
			Driver:   cfg.Driver,
			Orders:   sqlite.NewOrderRepo(db),
			Profiles: sqlite.NewProfileRepo(db),
			Ledger:   sqlite.NewLedgerRepo(db),
			Audit:    sqlite.NewAuditRepo(db),
			Tx:       db,
			Ping:     db.Ping,
			Migrate: func(ctx context.Context) error {
				return db.Migrate(ctx, schema.Files)
			},
			Close: func() { _ = db.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
