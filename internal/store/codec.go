package store

import (
	"encoding/json"
	"fmt"

	"fibermap/core-go/internal/topology"
)

// row is the flat persisted form shared by the SQL stores.
type row struct {
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

func toRow(it topology.Item) (row, error) {
	cfg, err := topology.EncodeConfig(it)
	if err != nil {
		return row{}, fmt.Errorf("encode %s config: %w", it.ID, err)
	}
	r := row{
		ID:        it.ID,
		Name:      it.Name,
		ItemType:  string(it.Kind),
		ParentID:  it.ParentID,
		Latitude:  it.Latitude,
		Longitude: it.Longitude,
		Status:    string(it.Status),
		Config:    cfg,
	}
	if r.Status == "" {
		r.Status = string(topology.StatusUnknown)
	}
	if it.ODC != nil {
		r.ServerID = it.ODC.ServerID
	}
	return r, nil
}

func (r row) item() (topology.Item, error) {
	kind, ok := topology.ParseKind(r.ItemType)
	if !ok {
		return topology.Item{}, fmt.Errorf("%w: stored item %s has item_type %q", topology.ErrInvalidItem, r.ID, r.ItemType)
	}
	it := topology.Item{
		ID:        r.ID,
		Name:      r.Name,
		Kind:      kind,
		ParentID:  r.ParentID,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Status:    topology.ParseStatus(r.Status),
	}
	if err := topology.DecodeConfig(&it, r.Config); err != nil {
		return topology.Item{}, fmt.Errorf("stored item %s: %w", r.ID, err)
	}
	return it, nil
}

func encodeWaypoints(wp []topology.LatLng) ([]byte, error) {
	if wp == nil {
		wp = []topology.LatLng{}
	}
	return json.Marshal(wp)
}

func decodeWaypoints(raw []byte) ([]topology.LatLng, error) {
	var wp []topology.LatLng
	if len(raw) == 0 {
		return wp, nil
	}
	if err := json.Unmarshal(raw, &wp); err != nil {
		return nil, err
	}
	return wp, nil
}
