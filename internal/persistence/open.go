// Package persistence selects and opens the configured section store.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"example.com/upkeep/internal/config"
	"example.com/upkeep/internal/domain"
	"example.com/upkeep/internal/persistence/aztables"
	"example.com/upkeep/internal/persistence/csvstore"
	"example.com/upkeep/internal/persistence/postgres"
)

// Backend bundles a store with the locker suited to it.
type Backend struct {
	Store  domain.SectionStore
	Locker domain.Locker
	close  func()
}

// Close releases connections held by the backend.
func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

// Open connects to the store named by cfg.StorageDriver.
func Open(ctx context.Context, cfg config.Config, loc *time.Location, logger logrus.FieldLogger) (*Backend, error) {
	logger = logger.WithField("driver", cfg.StorageDriver)

	switch cfg.StorageDriver {
	case config.DriverCSV:
		logger.WithField("data_dir", cfg.DataDir).Info("using csv section files")
		return &Backend{
			Store:  csvstore.New(cfg.DataDir, loc, logger),
			Locker: csvstore.NewFileLocker(cfg.DataDir),
		}, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		repo := postgres.NewRepository(pool, loc)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("using postgres section store")
		return &Backend{Store: repo, Locker: domain.NewMutexLocker(), close: repo.Close}, nil

	case config.DriverAzure:
		store, err := aztables.New(cfg.AzureConnectionString, cfg.AzureTable, loc, logger)
		if err != nil {
			return nil, fmt.Errorf("connect table storage: %w", err)
		}
		if err := store.EnsureTable(ctx); err != nil {
			return nil, fmt.Errorf("create table %s: %w", cfg.AzureTable, err)
		}
		logger.WithField("table", cfg.AzureTable).Info("using azure table section store")
		return &Backend{Store: store, Locker: domain.NewMutexLocker()}, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
