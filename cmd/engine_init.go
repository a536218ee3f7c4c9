package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/clickprop/internal/config"
	"github.com/sells-group/clickprop/internal/eligibility"
	"github.com/sells-group/clickprop/internal/engine"
	"github.com/sells-group/clickprop/internal/entry"
	"github.com/sells-group/clickprop/internal/resilience"
	"github.com/sells-group/clickprop/internal/store"
)

func initStore(ctx context.Context) (store.Backend, error) {
	var (
		b   store.Backend
		err error
	)
	switch cfg.Store.Driver {
	case "memory":
		b = store.NewMemory()
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "clickprop.db"
		}
		b, err = store.NewSQLite(dsn)
	case "postgres":
		b, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, poolConfig(cfg.Store))
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := b.Migrate(ctx); err != nil {
		b.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return b, nil
}

func poolConfig(c config.StoreConfig) *store.PoolConfig {
	return &store.PoolConfig{MaxConns: c.Pool.MaxConns, MinConns: c.Pool.MinConns}
}

// guardStorage wraps the backend in a circuit breaker so a failing database
// degrades to URL-only propagation instead of stalling every request.
func guardStorage(b store.Storage, c config.StoreConfig) store.Storage {
	cbCfg := resilience.FromCircuitConfig(c.FailureThreshold, c.ResetTimeoutSecs)
	cbCfg.OnStateChange = resilience.LogStateChange("store")
	return store.Guarded(b, resilience.NewCircuitBreaker(cbCfg))
}

func storeTTL(c config.StoreConfig) time.Duration {
	if c.TTLDays <= 0 {
		return store.DefaultTTL
	}
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// engineOptions maps configuration onto engine options. A destination map
// file is loaded first and inline entries override it.
func engineOptions(c *config.Config) (engine.Options, error) {
	dest := entry.DestinationMap(c.Params.DestinationMap)
	if c.Params.DestinationMapFile != "" {
		fromFile, err := entry.LoadDestinationMap(c.Params.DestinationMapFile)
		if err != nil {
			return engine.Options{}, err
		}
		dest = entry.Merge(fromFile, dest)
	}

	return engine.Options{
		TTL:   storeTTL(c.Store),
		Scope: store.Scope(c.Store.Scope),
		Eligibility: eligibility.Config{
			Kind:       eligibility.Kind(c.Eligibility.Policy),
			Marker:     c.Eligibility.Marker,
			Attributes: c.Eligibility.Attributes,
		},
		Structured: c.Rewrite.Structured,
		Map:        dest,
	}, nil
}

// initEngine opens the configured store and builds an engine over it. The
// caller closes the returned backend.
func initEngine(ctx context.Context) (*engine.Engine, store.Backend, error) {
	opts, err := engineOptions(cfg)
	if err != nil {
		return nil, nil, err
	}
	b, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return engine.New(guardStorage(b, cfg.Store), opts), b, nil
}
