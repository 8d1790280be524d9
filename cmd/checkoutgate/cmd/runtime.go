package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/checkoutgate/config"
	"github.com/jmcleod/checkoutgate/storage"
	bboltstorage "github.com/jmcleod/checkoutgate/storage/bbolt"
	"github.com/jmcleod/checkoutgate/storage/memory"
	"github.com/jmcleod/checkoutgate/storage/postgres"
)

const bboltFile = "checkoutgate.db"

// openRepository opens the configured settings store. The returned function
// releases it.
func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memory.NewRepository(), func() {}, nil
	case "postgres":
		store, err := postgres.NewRepositoryFromDSN(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return store, store.Close, nil
	default:
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := bboltstorage.NewRepositoryFromFile(
			filepath.Join(cfg.Storage.DataDir, bboltFile),
			&bbolt.Options{Timeout: 5 * time.Second},
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bbolt storage: %w", err)
		}
		return store, func() { store.Close() }, nil
	}
}
