package sqlcgen

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const getNetworkItem = `-- name: GetNetworkItem :one
SELECT id, name, item_type, parent_id, server_id, latitude, longitude, status, config, updated_at
FROM network_items
WHERE id = $1
`

func (q *Queries) GetNetworkItem(ctx context.Context, id string) (NetworkItem, error) {
	row := q.db.QueryRow(ctx, getNetworkItem, id)
	var i NetworkItem
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.ItemType,
		&i.ParentID,
		&i.ServerID,
		&i.Latitude,
		&i.Longitude,
		&i.Status,
		&i.Config,
		&i.UpdatedAt,
	)
	return i, err
}

const listRootItems = `-- name: ListRootItems :many
SELECT id, name, item_type, parent_id, server_id, latitude, longitude, status, config, updated_at
FROM network_items
WHERE parent_id IS NULL
ORDER BY id
`

func (q *Queries) ListRootItems(ctx context.Context) ([]NetworkItem, error) {
	rows, err := q.db.Query(ctx, listRootItems)
	if err != nil {
		return nil, err
	}
	return scanNetworkItems(rows)
}

const listChildItems = `-- name: ListChildItems :many
SELECT id, name, item_type, parent_id, server_id, latitude, longitude, status, config, updated_at
FROM network_items
WHERE parent_id = $1
   OR (parent_id IS NULL AND server_id = $1)
ORDER BY id
`

func (q *Queries) ListChildItems(ctx context.Context, parentID string) ([]NetworkItem, error) {
	rows, err := q.db.Query(ctx, listChildItems, parentID)
	if err != nil {
		return nil, err
	}
	return scanNetworkItems(rows)
}

func scanNetworkItems(rows pgx.Rows) ([]NetworkItem, error) {
	defer rows.Close()

	var items []NetworkItem
	for rows.Next() {
		var i NetworkItem
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.ItemType,
			&i.ParentID,
			&i.ServerID,
			&i.Latitude,
			&i.Longitude,
			&i.Status,
			&i.Config,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertNetworkItem = `-- name: UpsertNetworkItem :exec
INSERT INTO network_items (id, name, item_type, parent_id, server_id, latitude, longitude, status, config)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
    item_type = EXCLUDED.item_type,
    parent_id = EXCLUDED.parent_id,
    server_id = EXCLUDED.server_id,
    latitude = EXCLUDED.latitude,
    longitude = EXCLUDED.longitude,
    status = EXCLUDED.status,
    config = EXCLUDED.config,
    updated_at = now()
`

type UpsertNetworkItemParams struct {
	ID        string
	Name      string
	ItemType  string
	ParentID  *string
	ServerID  *string
	Latitude  float64
	Longitude float64
	Status    string
	Config    []byte
}

func (q *Queries) UpsertNetworkItem(ctx context.Context, arg UpsertNetworkItemParams) error {
	_, err := q.db.Exec(ctx, upsertNetworkItem,
		arg.ID,
		arg.Name,
		arg.ItemType,
		arg.ParentID,
		arg.ServerID,
		arg.Latitude,
		arg.Longitude,
		arg.Status,
		arg.Config,
	)
	return err
}

const updateNetworkItemStatus = `-- name: UpdateNetworkItemStatus :execrows
UPDATE network_items
SET status = $2,
    updated_at = now()
WHERE id = $1
  AND status <> $2
`

func (q *Queries) UpdateNetworkItemStatus(ctx context.Context, id, status string) (int64, error) {
	tag, err := q.db.Exec(ctx, updateNetworkItemStatus, id, status)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const deleteNetworkItem = `-- name: DeleteNetworkItem :execrows
DELETE FROM network_items
WHERE id = $1
`

func (q *Queries) DeleteNetworkItem(ctx context.Context, id string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteNetworkItem, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const upsertItemConnection = `-- name: UpsertItemConnection :exec
INSERT INTO item_connections (parent_id, child_id, waypoints)
VALUES ($1, $2, $3::jsonb)
ON CONFLICT (parent_id, child_id) DO UPDATE
SET waypoints = EXCLUDED.waypoints,
    updated_at = now()
`

func (q *Queries) UpsertItemConnection(ctx context.Context, parentID, childID string, waypoints []byte) error {
	_, err := q.db.Exec(ctx, upsertItemConnection, parentID, childID, waypoints)
	return err
}

const deleteItemConnection = `-- name: DeleteItemConnection :exec
DELETE FROM item_connections
WHERE parent_id = $1
  AND child_id = $2
`

func (q *Queries) DeleteItemConnection(ctx context.Context, parentID, childID string) error {
	_, err := q.db.Exec(ctx, deleteItemConnection, parentID, childID)
	return err
}

const deleteConnectionsTouching = `-- name: DeleteConnectionsTouching :execrows
DELETE FROM item_connections
WHERE parent_id = ANY($1::text[])
   OR child_id = ANY($1::text[])
`

func (q *Queries) DeleteConnectionsTouching(ctx context.Context, ids []string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteConnectionsTouching, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listItemConnections = `-- name: ListItemConnections :many
SELECT parent_id, child_id, waypoints, updated_at
FROM item_connections
ORDER BY parent_id, child_id
`

func (q *Queries) ListItemConnections(ctx context.Context) ([]ItemConnection, error) {
	rows, err := q.db.Query(ctx, listItemConnections)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ItemConnection
	for rows.Next() {
		var i ItemConnection
		if err := rows.Scan(&i.ParentID, &i.ChildID, &i.Waypoints, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listDeviceTelemetry = `-- name: ListDeviceTelemetry :many
SELECT device_id, last_inform, rx_power, temperature, status
FROM device_telemetry
WHERE device_id = ANY($1::text[])
`

func (q *Queries) ListDeviceTelemetry(ctx context.Context, deviceIDs []string) ([]DeviceTelemetry, error) {
	rows, err := q.db.Query(ctx, listDeviceTelemetry, deviceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []DeviceTelemetry
	for rows.Next() {
		var i DeviceTelemetry
		if err := rows.Scan(&i.DeviceID, &i.LastInform, &i.RxPower, &i.Temperature, &i.Status); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertDeviceTelemetry = `-- name: UpsertDeviceTelemetry :exec
INSERT INTO device_telemetry (device_id, last_inform, rx_power, temperature, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (device_id) DO UPDATE
SET last_inform = EXCLUDED.last_inform,
    rx_power = EXCLUDED.rx_power,
    temperature = EXCLUDED.temperature,
    status = EXCLUDED.status
`

func (q *Queries) UpsertDeviceTelemetry(ctx context.Context, arg DeviceTelemetry) error {
	_, err := q.db.Exec(ctx, upsertDeviceTelemetry, arg.DeviceID, arg.LastInform, arg.RxPower, arg.Temperature, arg.Status)
	return err
}

const listNetwatchProbes = `-- name: ListNetwatchProbes :many
SELECT host, up, checked_at
FROM netwatch_probes
WHERE host = ANY($1::text[])
`

func (q *Queries) ListNetwatchProbes(ctx context.Context, hosts []string) ([]NetwatchProbe, error) {
	rows, err := q.db.Query(ctx, listNetwatchProbes, hosts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []NetwatchProbe
	for rows.Next() {
		var i NetwatchProbe
		if err := rows.Scan(&i.Host, &i.Up, &i.CheckedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const upsertNetwatchProbe = `-- name: UpsertNetwatchProbe :exec
INSERT INTO netwatch_probes (host, up, checked_at)
VALUES ($1, $2, $3)
ON CONFLICT (host) DO UPDATE
SET up = EXCLUDED.up,
    checked_at = EXCLUDED.checked_at
`

func (q *Queries) UpsertNetwatchProbe(ctx context.Context, host string, up bool, checkedAt time.Time) error {
	_, err := q.db.Exec(ctx, upsertNetwatchProbe, host, up, checkedAt)
	return err
}
