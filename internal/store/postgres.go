package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fibermap/core-go/internal/db"
	"fibermap/core-go/internal/sqlcgen"
	"fibermap/core-go/internal/status"
	"fibermap/core-go/internal/topology"
	"fibermap/core-go/migrations"
)

// Queries is the slice of sqlcgen.Queries the Postgres store needs. Tests swap in fakes.
type Queries interface {
	GetNetworkItem(ctx context.Context, id string) (sqlcgen.NetworkItem, error)
	ListRootItems(ctx context.Context) ([]sqlcgen.NetworkItem, error)
	ListChildItems(ctx context.Context, parentID string) ([]sqlcgen.NetworkItem, error)
	UpsertNetworkItem(ctx context.Context, arg sqlcgen.UpsertNetworkItemParams) error
	UpdateNetworkItemStatus(ctx context.Context, id, status string) (int64, error)
	DeleteNetworkItem(ctx context.Context, id string) (int64, error)
	UpsertItemConnection(ctx context.Context, parentID, childID string, waypoints []byte) error
	DeleteItemConnection(ctx context.Context, parentID, childID string) error
	DeleteConnectionsTouching(ctx context.Context, ids []string) (int64, error)
	ListItemConnections(ctx context.Context) ([]sqlcgen.ItemConnection, error)
	ListDeviceTelemetry(ctx context.Context, deviceIDs []string) ([]sqlcgen.DeviceTelemetry, error)
	ListNetwatchProbes(ctx context.Context, hosts []string) ([]sqlcgen.NetwatchProbe, error)
}

// Postgres persists the network through the generated queries. It also serves the telemetry and
// netwatch tables to the status resolver.
type Postgres struct {
	q    Queries
	pool *db.Pool
}

func NewPostgres(q Queries) *Postgres {
	return &Postgres{q: q}
}

// OpenPostgres connects to databaseURL and applies the embedded migrations before returning.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := db.Open(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	scripts, err := migrations.Scripts()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	if err := pool.Migrate(ctx, scripts); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Postgres{q: pool.Queries(), pool: pool}, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func fromNetworkItem(n sqlcgen.NetworkItem) (topology.Item, error) {
	return row{
		ID:        n.ID,
		Name:      n.Name,
		ItemType:  n.ItemType,
		ParentID:  n.ParentID,
		ServerID:  n.ServerID,
		Latitude:  n.Latitude,
		Longitude: n.Longitude,
		Status:    n.Status,
		Config:    n.Config,
	}.item()
}

func (s *Postgres) Load(ctx context.Context, id string) (topology.Item, error) {
	n, err := s.q.GetNetworkItem(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return topology.Item{}, fmt.Errorf("%w: %s", topology.ErrNotFound, id)
	}
	if err != nil {
		return topology.Item{}, err
	}
	return fromNetworkItem(n)
}

func (s *Postgres) Save(ctx context.Context, it topology.Item) error {
	r, err := toRow(it)
	if err != nil {
		return err
	}
	return s.q.UpsertNetworkItem(ctx, sqlcgen.UpsertNetworkItemParams{
		ID:        r.ID,
		Name:      r.Name,
		ItemType:  r.ItemType,
		ParentID:  r.ParentID,
		ServerID:  r.ServerID,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Status:    r.Status,
		Config:    r.Config,
	})
}

func (s *Postgres) Delete(ctx context.Context, id string) error {
	n, err := s.q.DeleteNetworkItem(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", topology.ErrNotFound, id)
	}
	return nil
}

// ListChildren returns direct children through either linkage; an empty parentID lists roots.
func (s *Postgres) ListChildren(ctx context.Context, parentID string) ([]topology.Item, error) {
	var (
		rows []sqlcgen.NetworkItem
		err  error
	)
	if parentID == "" {
		rows, err = s.q.ListRootItems(ctx)
	} else {
		rows, err = s.q.ListChildItems(ctx, parentID)
	}
	if err != nil {
		return nil, err
	}
	out := make([]topology.Item, 0, len(rows))
	for _, n := range rows {
		it, err := fromNetworkItem(n)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *Postgres) UpdateStatus(ctx context.Context, id string, st topology.Status) (bool, error) {
	n, err := s.q.UpdateNetworkItemStatus(ctx, id, string(st))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Postgres) SaveConnection(ctx context.Context, c topology.Connection) error {
	if len(c.Waypoints) == 0 {
		return s.q.DeleteItemConnection(ctx, c.ParentID, c.ChildID)
	}
	wp, err := encodeWaypoints(c.Waypoints)
	if err != nil {
		return err
	}
	return s.q.UpsertItemConnection(ctx, c.ParentID, c.ChildID, wp)
}

func (s *Postgres) DeleteConnectionsFor(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.q.DeleteConnectionsTouching(ctx, ids)
	return err
}

func (s *Postgres) ListConnections(ctx context.Context) ([]topology.Connection, error) {
	rows, err := s.q.ListItemConnections(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]topology.Connection, 0, len(rows))
	for _, r := range rows {
		wp, err := decodeWaypoints(r.Waypoints)
		if err != nil {
			return nil, fmt.Errorf("connection %s->%s: %w", r.ParentID, r.ChildID, err)
		}
		out = append(out, topology.Connection{ParentID: r.ParentID, ChildID: r.ChildID, Waypoints: wp})
	}
	return out, nil
}

// FetchTelemetry implements status.TelemetrySource with one query for the whole batch.
func (s *Postgres) FetchTelemetry(ctx context.Context, deviceIDs []string) (map[string]status.Telemetry, error) {
	rows, err := s.q.ListDeviceTelemetry(ctx, deviceIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]status.Telemetry, len(rows))
	for _, r := range rows {
		t := status.Telemetry{
			DeviceID:    r.DeviceID,
			LastInform:  r.LastInform,
			RxPower:     r.RxPower,
			Temperature: r.Temperature,
		}
		if r.Status != nil {
			t.Status = *r.Status
		}
		out[r.DeviceID] = t
	}
	return out, nil
}

// FetchProbes implements status.ProbeSource from the synced netwatch table.
func (s *Postgres) FetchProbes(ctx context.Context, hosts []string) (map[string]status.Probe, error) {
	rows, err := s.q.ListNetwatchProbes(ctx, hosts)
	if err != nil {
		return nil, err
	}
	out := make(map[string]status.Probe, len(rows))
	for _, r := range rows {
		out[r.Host] = status.Probe{Host: r.Host, Up: r.Up, CheckedAt: r.CheckedAt}
	}
	return out, nil
}
