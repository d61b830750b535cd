package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classroom/go/clients/postgrest"
	"github.com/mcdev12/classroom/go/internal/config"
	"github.com/mcdev12/classroom/go/internal/dbconfig"
	"github.com/mcdev12/classroom/go/internal/localstore"
	"github.com/mcdev12/classroom/go/internal/persistence"
	"github.com/mcdev12/classroom/go/internal/persistence/pgstore"
	"github.com/mcdev12/classroom/go/internal/realtime"
)

// setupPersistence returns the configured backend and a func releasing it.
func setupPersistence(ctx context.Context, cfg config.Config) (persistence.Client, func(), error) {
	switch cfg.Persistence.Backend {
	case config.BackendPostgrest:
		client := postgrest.NewPostgrestClient(cfg.Persistence.RestURL, cfg.Persistence.APIKey)
		client.SetTimeout(cfg.Persistence.Timeout)
		log.Info().Str("url", client.BaseURL()).Msg("using REST persistence")
		return client, func() {}, nil
	case config.BackendPostgres:
		dbConfig := dbconfig.NewConfigFromEnv()
		store, pool, err := pgstore.Connect(ctx, dbConfig.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info().Str("host", dbConfig.Host).Str("database", dbConfig.Database).Msg("connected to database")
		return store, pool.Close, nil
	default:
		log.Warn().Msg("using in-memory persistence, nothing is shared or kept")
		return persistence.NewMemory(nil), func() {}, nil
	}
}

func setupStorage(ctx context.Context, cfg config.Config) (localstore.Storage, func(), error) {
	switch cfg.Storage.Backend {
	case config.StorageRedis:
		rdb, err := localstore.NewRedisClient(ctx, cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return localstore.NewRedisStorage(rdb, cfg.Storage.RedisPrefix, 0), func() { rdb.Close() }, nil
	case config.StorageMemory:
		return localstore.NewMemoryStorage(), func() {}, nil
	default:
		fs, err := localstore.NewFileStorage(cfg.Storage.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open local storage: %w", err)
		}
		return fs, func() {}, nil
	}
}

// setupNotifier connects to NATS when enabled. Failing to connect is not
// fatal; the agent falls back to polling alone.
func setupNotifier(cfg config.Config) (realtime.Notifier, func()) {
	if !cfg.NATS.Enabled {
		return realtime.NoopNotifier{}, func() {}
	}
	nc, err := realtime.ConnectNATS(cfg.NATS.URL)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, polling only")
		return realtime.NoopNotifier{}, func() {}
	}
	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to NATS")
	return realtime.NewNATSNotifier(nc, cfg.NATS.Prefix), nc.Close
}
