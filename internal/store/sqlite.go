package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"fibermap/core-go/internal/status"
	"fibermap/core-go/internal/topology"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLite is a single-file store for one-node deployments and the CLI.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) a database at path; ":memory:" works for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// one connection keeps ":memory:" databases shared and serialises writers
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLite{db: conn, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const sqliteItemColumns = `id, name, item_type, parent_id, server_id, latitude, longitude, status, config`

func scanRow(sc interface{ Scan(...any) error }) (row, error) {
	var (
		r        row
		parentID sql.NullString
		serverID sql.NullString
		config   string
	)
	if err := sc.Scan(&r.ID, &r.Name, &r.ItemType, &parentID, &serverID, &r.Latitude, &r.Longitude, &r.Status, &config); err != nil {
		return row{}, err
	}
	if parentID.Valid {
		r.ParentID = &parentID.String
	}
	if serverID.Valid {
		r.ServerID = &serverID.String
	}
	r.Config = []byte(config)
	return r, nil
}

func (s *SQLite) Load(ctx context.Context, id string) (topology.Item, error) {
	r, err := scanRow(s.db.QueryRowContext(ctx, `SELECT `+sqliteItemColumns+` FROM network_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return topology.Item{}, fmt.Errorf("%w: %s", topology.ErrNotFound, id)
	}
	if err != nil {
		return topology.Item{}, err
	}
	return r.item()
}

func (s *SQLite) Save(ctx context.Context, it topology.Item) error {
	r, err := toRow(it)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO network_items (`+sqliteItemColumns+`, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE
SET name = excluded.name,
    item_type = excluded.item_type,
    parent_id = excluded.parent_id,
    server_id = excluded.server_id,
    latitude = excluded.latitude,
    longitude = excluded.longitude,
    status = excluded.status,
    config = excluded.config,
    updated_at = excluded.updated_at`,
		r.ID, r.Name, r.ItemType, r.ParentID, r.ServerID, r.Latitude, r.Longitude, r.Status, string(r.Config), s.now().UnixMilli())
	return err
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM network_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", topology.ErrNotFound, id)
	}
	return nil
}

func (s *SQLite) ListChildren(ctx context.Context, parentID string) ([]topology.Item, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if parentID == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+sqliteItemColumns+` FROM network_items WHERE parent_id IS NULL ORDER BY id`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+sqliteItemColumns+` FROM network_items
WHERE parent_id = ? OR (parent_id IS NULL AND server_id = ?) ORDER BY id`, parentID, parentID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []topology.Item
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		it, err := r.item()
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateStatus(ctx context.Context, id string, st topology.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE network_items SET status = ?, updated_at = ? WHERE id = ? AND status <> ?`,
		string(st), s.now().UnixMilli(), id, string(st))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLite) SaveConnection(ctx context.Context, c topology.Connection) error {
	if len(c.Waypoints) == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM item_connections WHERE parent_id = ? AND child_id = ?`, c.ParentID, c.ChildID)
		return err
	}
	wp, err := encodeWaypoints(c.Waypoints)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO item_connections (parent_id, child_id, waypoints, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (parent_id, child_id) DO UPDATE
SET waypoints = excluded.waypoints,
    updated_at = excluded.updated_at`,
		c.ParentID, c.ChildID, string(wp), s.now().UnixMilli())
	return err
}

func (s *SQLite) DeleteConnectionsFor(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	marks, args := placeholders(ids)
	args = append(args, args...)
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM item_connections WHERE parent_id IN (`+marks+`) OR child_id IN (`+marks+`)`, args...)
	return err
}

func (s *SQLite) ListConnections(ctx context.Context) ([]topology.Connection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT parent_id, child_id, waypoints FROM item_connections ORDER BY parent_id, child_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []topology.Connection
	for rows.Next() {
		var (
			c   topology.Connection
			raw string
		)
		if err := rows.Scan(&c.ParentID, &c.ChildID, &raw); err != nil {
			return nil, err
		}
		if c.Waypoints, err = decodeWaypoints([]byte(raw)); err != nil {
			return nil, fmt.Errorf("connection %s->%s: %w", c.ParentID, c.ChildID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) FetchTelemetry(ctx context.Context, deviceIDs []string) (map[string]status.Telemetry, error) {
	out := make(map[string]status.Telemetry, len(deviceIDs))
	if len(deviceIDs) == 0 {
		return out, nil
	}
	marks, args := placeholders(deviceIDs)
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, last_inform, rx_power, temperature, status FROM device_telemetry WHERE device_id IN (`+marks+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t        status.Telemetry
			inform   sql.NullInt64
			rx, temp sql.NullFloat64
			st       sql.NullString
		)
		if err := rows.Scan(&t.DeviceID, &inform, &rx, &temp, &st); err != nil {
			return nil, err
		}
		if inform.Valid {
			ts := time.UnixMilli(inform.Int64).UTC()
			t.LastInform = &ts
		}
		if rx.Valid {
			t.RxPower = &rx.Float64
		}
		if temp.Valid {
			t.Temperature = &temp.Float64
		}
		t.Status = st.String
		out[t.DeviceID] = t
	}
	return out, rows.Err()
}

// RecordTelemetry upserts one device record; used by sync jobs and tests.
func (s *SQLite) RecordTelemetry(ctx context.Context, t status.Telemetry) error {
	var inform any
	if t.LastInform != nil {
		inform = t.LastInform.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO device_telemetry (device_id, last_inform, rx_power, temperature, status)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (device_id) DO UPDATE
SET last_inform = excluded.last_inform,
    rx_power = excluded.rx_power,
    temperature = excluded.temperature,
    status = excluded.status`,
		t.DeviceID, inform, t.RxPower, t.Temperature, t.Status)
	return err
}

func (s *SQLite) FetchProbes(ctx context.Context, hosts []string) (map[string]status.Probe, error) {
	out := make(map[string]status.Probe, len(hosts))
	if len(hosts) == 0 {
		return out, nil
	}
	marks, args := placeholders(hosts)
	rows, err := s.db.QueryContext(ctx, `SELECT host, up, checked_at FROM netwatch_probes WHERE host IN (`+marks+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p       status.Probe
			up      int64
			checked int64
		)
		if err := rows.Scan(&p.Host, &up, &checked); err != nil {
			return nil, err
		}
		p.Up = up != 0
		p.CheckedAt = time.UnixMilli(checked).UTC()
		out[p.Host] = p
	}
	return out, rows.Err()
}

func (s *SQLite) RecordProbe(ctx context.Context, p status.Probe) error {
	up := 0
	if p.Up {
		up = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO netwatch_probes (host, up, checked_at)
VALUES (?, ?, ?)
ON CONFLICT (host) DO UPDATE
SET up = excluded.up,
    checked_at = excluded.checked_at`,
		p.Host, up, p.CheckedAt.UnixMilli())
	return err
}

func placeholders(values []string) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(values)), ","), args
}
