package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/susu3304/anklavbot/internal/api"
	"github.com/susu3304/anklavbot/internal/config"
	"github.com/susu3304/anklavbot/internal/db"
	"github.com/susu3304/anklavbot/internal/equity"
	"github.com/susu3304/anklavbot/internal/memstore"
	"github.com/susu3304/anklavbot/internal/scheduler"
)

// store is everything the commands need from persistence. Both *db.DB and
// *memstore.Store implement it.
type store interface {
	api.Store
	scheduler.GroupStore
	scheduler.ArchiveStore
	ListClaimed(ctx context.Context) ([]*equity.Group, error)
	ArchiveExists(ctx context.Context, roomID string) (bool, error)
}

var (
	_ store = (*db.DB)(nil)
	_ store = (*memstore.Store)(nil)
)

// openStore connects to Postgres when DATABASE_URL is set and falls back to
// the in-memory store otherwise. The returned func releases the store.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory store; data is lost on restart")
		return memstore.New(), func() {}, nil
	}
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := database.RunMigrations(ctx); err != nil {
		database.Close()
		return nil, nil, err
	}
	logger.Info("connected to database")
	return database, database.Close, nil
}
