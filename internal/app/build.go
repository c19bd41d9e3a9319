package app

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/mtiwari1/stylesync/internal/config"
	"github.com/mtiwari1/stylesync/internal/remote"
	"github.com/mtiwari1/stylesync/internal/store"
	"github.com/mtiwari1/stylesync/internal/upload"
)

// FromConfig opens the configured backend and remote clients and builds an
// App on top of them. The returned *sql.DB is nil for the memory driver;
// otherwise the caller closes it after App.Close.
func FromConfig(cfg *config.Config, logger *slog.Logger) (*App, *sql.DB, error) {
	backend, db, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("app: open store: %w", err)
	}

	routes := make(map[remote.RequestType]string, len(cfg.Remote.Routes))
	for typ, ep := range cfg.Remote.Routes {
		routes[remote.RequestType(typ)] = ep
	}
	client, err := remote.NewClient(cfg.Remote.BaseURL, routes, cfg.Remote.Timeout)
	if err != nil {
		backend.Close()
		if db != nil {
			db.Close()
		}
		return nil, nil, err
	}

	logger.Info("store opened",
		slog.String("driver", cfg.Store.Driver),
		slog.String("remote", cfg.Remote.BaseURL),
	)

	a := New(cfg, Deps{
		Backend:  backend,
		Remote:   client,
		Transfer: upload.NewHTTPTransfer(cfg.Remote.UploadEndpoint, 0),
		Logger:   logger,
	})
	return a, db, nil
}
