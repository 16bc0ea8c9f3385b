package identity

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nerrad567/watchme-core/internal/infrastructure/config"
	"github.com/nerrad567/watchme-core/internal/infrastructure/database"
	"github.com/nerrad567/watchme-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/watchme-core/migrations"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the KV selected by cfg.Identity.Backend. The returned closer
// releases the underlying database and must be called on shutdown.
//
// The sqlite backend runs the embedded migrations before returning.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (KV, io.Closer, error) {
	switch cfg.Identity.Backend {
	case "sqlite":
		db, err := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		applied, err := db.Migrate(ctx, migrations.FS)
		if err != nil {
			db.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, nil, fmt.Errorf("migrating identity database: %w", err)
		}
		if applied > 0 && logger != nil {
			logger.Info("identity database migrated", "applied", applied, "path", db.Path())
		}
		return NewSQLiteKV(db.DB), db, nil

	case "badger":
		store, err := kvstore.Open(kvstore.Config{
			Path:       cfg.Badger.Path,
			SyncWrites: cfg.Badger.SyncWrites,
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return NewBadgerKV(store), store, nil

	case "memory":
		return NewMemoryKV(), nopCloser{}, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Identity.Backend)
	}
}
