// Package store selects and opens a ledger backend.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thereal-baitjet/Stream-Slicer/internal/ledger"
	"github.com/thereal-baitjet/Stream-Slicer/internal/store/memory"
	"github.com/thereal-baitjet/Stream-Slicer/internal/store/mongo"
	"github.com/thereal-baitjet/Stream-Slicer/internal/store/postgres"
	"github.com/thereal-baitjet/Stream-Slicer/internal/store/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type Config struct {
	Driver string `toml:"driver"`
	// DSN is a postgres URL, a sqlite file path or a mongodb URI.
	DSN      string `toml:"dsn"`
	Database string `toml:"database"`
}

// Handle is an opened backend. Pool is set only for postgres, where the job
// queue shares it.
type Handle struct {
	Backend ledger.Backend
	Pool    *pgxpool.Pool
}

// Close releases the backend and, for postgres, the pool.
func (h *Handle) Close() error {
	err := h.Backend.Close()
	if h.Pool != nil {
		h.Pool.Close()
	}
	return err
}

func Open(ctx context.Context, cfg Config) (*Handle, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("store: create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("store: reach postgres: %w", err)
		}
		return &Handle{Backend: postgres.New(pool), Pool: pool}, nil
	case DriverSQLite:
		s, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return &Handle{Backend: s}, nil
	case DriverMongo:
		s, err := mongo.Connect(cfg.DSN, cfg.Database)
		if err != nil {
			return nil, err
		}
		return &Handle{Backend: s}, nil
	case DriverMemory:
		return &Handle{Backend: memory.New()}, nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
