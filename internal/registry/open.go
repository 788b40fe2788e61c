package registry

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-registry/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-registry/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-registry/internal/store"
)

// OpenBackend builds the document backend selected by cfg.Storage.
//
// The returned release func closes the SQLite database, if one was opened.
// Call it after the Store built on the backend has been closed.
func OpenBackend(ctx context.Context, cfg *config.Config) (store.Backend, func() error, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		db, err := database.Open(database.Config{
			Path:        cfg.Storage.Database.Path,
			WALMode:     cfg.Storage.Database.WALMode,
			BusyTimeout: cfg.Storage.Database.BusyTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("opening database: %w", err)
		}

		backend, err := store.NewSQLiteBackend(ctx, db, cfg.GetLockTimeout())
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("preparing sqlite backend: %w", err)
		}
		return backend, db.Close, nil

	case config.BackendFile, "":
		backend, err := store.NewFileBackend(cfg.Storage.Directory, cfg.GetLockTimeout())
		if err != nil {
			return nil, nil, fmt.Errorf("preparing document directory: %w", err)
		}
		return backend, func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
