package store

import (
	"context"
	"fmt"

	"fibermap/core-go/internal/status"
	"fibermap/core-go/internal/topology"
)

// Backend is what every driver provides: item and connection persistence, the status tables the
// resolver reads, and lifecycle.
type Backend interface {
	Load(ctx context.Context, id string) (topology.Item, error)
	Save(ctx context.Context, it topology.Item) error
	Delete(ctx context.Context, id string) error
	ListChildren(ctx context.Context, parentID string) ([]topology.Item, error)
	UpdateStatus(ctx context.Context, id string, st topology.Status) (bool, error)

	SaveConnection(ctx context.Context, c topology.Connection) error
	DeleteConnectionsFor(ctx context.Context, ids []string) error
	ListConnections(ctx context.Context) ([]topology.Connection, error)

	status.TelemetrySource
	status.ProbeSource

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*Memory)(nil)
	_ Backend = (*SQLite)(nil)
	_ Backend = (*Postgres)(nil)
)

// Open returns the backend for driver ("memory", "sqlite" or "postgres").
func Open(ctx context.Context, driver, databaseURL, sqlitePath string) (Backend, error) {
	switch driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		if sqlitePath == "" {
			return nil, fmt.Errorf("sqlite driver needs a path")
		}
		return OpenSQLite(ctx, sqlitePath)
	case "postgres":
		if databaseURL == "" {
			return nil, fmt.Errorf("postgres driver needs a database url")
		}
		return OpenPostgres(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
