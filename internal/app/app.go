// Package app opens the stores and wires the sync agent for the CLI commands.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/aureeaubert/hull-closeio/internal/agent"
	"github.com/aureeaubert/hull-closeio/internal/cache"
	"github.com/aureeaubert/hull-closeio/internal/config"
	"github.com/aureeaubert/hull-closeio/internal/crm"
	"github.com/aureeaubert/hull-closeio/internal/db"
	"github.com/aureeaubert/hull-closeio/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds every long-lived connection of a running process.
type App struct {
	Cfg   config.Config
	Log   *zap.Logger
	Agent *agent.Agent

	MySQL      *sqlx.DB
	ClickHouse *sqlx.DB
	Redis      *redis.Client

	Events repository.SyncEventsRepository

	closers []func() error
}

// CRMClient builds the Close.io client for the configured API key.
func CRMClient(cfg config.Config, dispatchers *crm.Dispatchers) *crm.HTTPClient {
	return crm.NewHTTPClient(cfg.CloseIO.BaseURL, dispatchers.For(cfg.CloseIO.APIKey), cfg.Sync.Concurrency)
}

// Dispatchers builds the per-credential pacing registry from config.
func Dispatchers(cfg config.CloseIOConfig) *crm.Dispatchers {
	return crm.NewDispatchers(crm.DispatcherOpts{
		RPS:           cfg.RPS,
		Burst:         cfg.Burst,
		Timeout:       time.Duration(cfg.TimeoutMs) * time.Millisecond,
		FailThreshold: cfg.Breaker.FailThreshold,
		OpenFor:       time.Duration(cfg.Breaker.OpenForMs) * time.Millisecond,
	})
}

// Open connects MySQL, ClickHouse and Redis and builds the agent. On error
// everything opened so far is closed.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log}

	var err error
	if a.MySQL, err = db.OpenMySQL(ctx, cfg.MySQL); err != nil {
		return nil, fmt.Errorf("mysql connect: %w", err)
	}
	a.closers = append(a.closers, a.MySQL.Close)

	if a.Redis, err = db.OpenRedis(ctx, cfg.Redis); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	a.closers = append(a.closers, a.Redis.Close)

	if a.ClickHouse, err = db.OpenClickHouse(ctx, cfg.ClickHouse); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	a.closers = append(a.closers, a.ClickHouse.Close)

	a.Events = repository.NewSyncEventsRepository(a.ClickHouse)
	a.Agent = agent.New(
		cfg.Sync,
		cfg.CloseIO.APIKey,
		CRMClient(cfg, Dispatchers(cfg.CloseIO)),
		cache.NewRedisCache(a.Redis, cfg.Redis.KeyPrefix),
		repository.NewTraitsRepository(a.MySQL),
		a.Events,
		log,
	)
	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
