package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/verdant-group/esg-cli/internal/generate"
	"github.com/verdant-group/esg-cli/internal/resilience"
	"github.com/verdant-group/esg-cli/internal/service"
	"github.com/verdant-group/esg-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "esg.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initService(ctx context.Context) (*service.Service, store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	gen := generate.NewCatalogGenerator(cfg.Catalog.Dir)
	return service.New(st, gen), st, nil
}

func retryConfig() resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if cfg.Retry.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialBackoffMS > 0 {
		rc.InitialBackoff = time.Duration(cfg.Retry.InitialBackoffMS) * time.Millisecond
	}
	if cfg.Retry.MaxBackoffMS > 0 {
		rc.MaxBackoff = time.Duration(cfg.Retry.MaxBackoffMS) * time.Millisecond
	}
	return rc
}
