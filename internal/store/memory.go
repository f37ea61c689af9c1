package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"fibermap/core-go/internal/status"
	"fibermap/core-go/internal/topology"
)

// Memory keeps everything in process. It backs the CLI's file mode and tests.
type Memory struct {
	mu        sync.Mutex
	items     map[string]topology.Item
	conns     map[[2]string]topology.Connection
	telemetry map[string]status.Telemetry
	probes    map[string]status.Probe
}

func NewMemory() *Memory {
	return &Memory{
		items:     make(map[string]topology.Item),
		conns:     make(map[[2]string]topology.Connection),
		telemetry: make(map[string]status.Telemetry),
		probes:    make(map[string]status.Probe),
	}
}

func (m *Memory) Load(_ context.Context, id string) (topology.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return topology.Item{}, fmt.Errorf("%w: %s", topology.ErrNotFound, id)
	}
	return it.Clone(), nil
}

func (m *Memory) Save(_ context.Context, it topology.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[it.ID] = it.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("%w: %s", topology.ErrNotFound, id)
	}
	delete(m.items, id)
	return nil
}

func (m *Memory) ListChildren(_ context.Context, parentID string) ([]topology.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []topology.Item
	for _, it := range m.items {
		if parentID == "" {
			if it.ParentID == nil {
				out = append(out, it.Clone())
			}
			continue
		}
		if it.LogicalParentID() == parentID {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, st topology.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.Status == st {
		return false, nil
	}
	it.Status = st
	m.items[id] = it
	return true, nil
}

func (m *Memory) SaveConnection(_ context.Context, c topology.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{c.ParentID, c.ChildID}
	if len(c.Waypoints) == 0 {
		delete(m.conns, key)
		return nil
	}
	c.Waypoints = append([]topology.LatLng(nil), c.Waypoints...)
	m.conns[key] = c
	return nil
}

func (m *Memory) DeleteConnectionsFor(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	for key := range m.conns {
		if drop[key[0]] || drop[key[1]] {
			delete(m.conns, key)
		}
	}
	return nil
}

func (m *Memory) ListConnections(context.Context) ([]topology.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]topology.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		c.Waypoints = append([]topology.LatLng(nil), c.Waypoints...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParentID != out[j].ParentID {
			return out[i].ParentID < out[j].ParentID
		}
		return out[i].ChildID < out[j].ChildID
	})
	return out, nil
}

func (m *Memory) RecordTelemetry(_ context.Context, t status.Telemetry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetry[t.DeviceID] = t
	return nil
}

func (m *Memory) RecordProbe(_ context.Context, p status.Probe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[p.Host] = p
	return nil
}

func (m *Memory) FetchTelemetry(_ context.Context, deviceIDs []string) (map[string]status.Telemetry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]status.Telemetry, len(deviceIDs))
	for _, id := range deviceIDs {
		if t, ok := m.telemetry[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (m *Memory) FetchProbes(_ context.Context, hosts []string) (map[string]status.Probe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]status.Probe, len(hosts))
	for _, h := range hosts {
		if p, ok := m.probes[h]; ok {
			out[h] = p
		}
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
