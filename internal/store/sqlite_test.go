package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"fibermap/core-go/internal/optical"
	"fibermap/core-go/internal/status"
	"fibermap/core-go/internal/topology"
)

func openTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleItems() []topology.Item {
	return []topology.Item{
		{ID: "srv", Name: "Core", Kind: topology.KindServer, Status: topology.StatusOnline,
			Server: &topology.ServerConfig{ISPLink: "8.8.8.8", PONPorts: map[int]float64{1: 2.5}}},
		{ID: "olt", Name: "OLT", Kind: topology.KindOLT, ParentID: topology.StringPtr("srv"),
			OLT: &topology.OLTConfig{OutputPowerDBm: 2, AttenuationDB: 0}},
		{ID: "odc", Name: "ODC", Kind: topology.KindODC, ParentID: topology.StringPtr("olt"),
			ODC: &topology.ODCConfig{PortCount: 4}},
		{ID: "odc-s", Name: "Standalone", Kind: topology.KindODC,
			ODC: &topology.ODCConfig{ServerID: topology.StringPtr("srv"), ServerPONPort: 1, PortCount: 8}},
		{ID: "odp", Name: "ODP", Kind: topology.KindODP, ParentID: topology.StringPtr("odc"),
			ODP: &topology.ODPConfig{ParentODCPort: topology.IntPtr(1), PortCount: 8, UseSplitter: true,
				SplitterRatio: optical.Ratio("20:80"), CustomRatioOutputPort: topology.LegPtr(20)}},
	}
}

func TestSQLite_ItemRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	for _, it := range sampleItems() {
		if err := s.Save(ctx, it); err != nil {
			t.Fatalf("save %s: %v", it.ID, err)
		}
	}

	got, err := s.Load(ctx, "odp")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Kind != topology.KindODP || got.ODP == nil {
		t.Fatalf("unexpected item: %+v", got)
	}
	if leg, ok := got.ODP.OutputLeg(); !ok || leg != 20 {
		t.Fatalf("expected the selected leg to survive, got %d %v", leg, ok)
	}
	if got.Status != topology.StatusUnknown {
		t.Fatalf("expected unknown status default, got %q", got.Status)
	}

	srv, err := s.Load(ctx, "srv")
	if err != nil {
		t.Fatalf("load srv: %v", err)
	}
	if srv.Status != topology.StatusOnline || srv.Server.PONPorts[1] != 2.5 {
		t.Fatalf("unexpected server: %+v %+v", srv, srv.Server)
	}

	if _, err := s.Load(ctx, "missing"); !errors.Is(err, topology.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLite_ListChildrenFollowsBothLinkages(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	for _, it := range sampleItems() {
		if err := s.Save(ctx, it); err != nil {
			t.Fatalf("save %s: %v", it.ID, err)
		}
	}

	roots, err := s.ListChildren(ctx, "")
	if err != nil {
		t.Fatalf("roots: %v", err)
	}
	if len(roots) != 2 || roots[0].ID != "odc-s" || roots[1].ID != "srv" {
		t.Fatalf("unexpected roots: %+v", ids(roots))
	}

	children, err := s.ListChildren(ctx, "srv")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if got := ids(children); len(got) != 2 || got[0] != "odc-s" || got[1] != "olt" {
		t.Fatalf("expected the olt and the standalone odc, got %v", got)
	}
}

func TestSQLite_DeleteAndStatus(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	for _, it := range sampleItems() {
		if err := s.Save(ctx, it); err != nil {
			t.Fatalf("save %s: %v", it.ID, err)
		}
	}

	changed, err := s.UpdateStatus(ctx, "srv", topology.StatusOnline)
	if err != nil || changed {
		t.Fatalf("expected an unchanged status to be a no-op, got %v %v", changed, err)
	}
	changed, err = s.UpdateStatus(ctx, "olt", topology.StatusOffline)
	if err != nil || !changed {
		t.Fatalf("expected a status change, got %v %v", changed, err)
	}

	if err := s.Delete(ctx, "odp"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "odp"); !errors.Is(err, topology.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := s.Delete(ctx, "odc"); err != nil {
		t.Fatalf("delete leaf odc: %v", err)
	}
	if err := s.Delete(ctx, "srv"); err == nil {
		t.Fatalf("expected the foreign key to reject deleting a parent with children")
	}
}

func TestSQLite_Connections(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	path := []topology.LatLng{{Lat: -6.2, Lng: 106.8}, {Lat: -6.21, Lng: 106.81}}
	if err := s.SaveConnection(ctx, topology.Connection{ParentID: "odc", ChildID: "odp", Waypoints: path}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveConnection(ctx, topology.Connection{ParentID: "olt", ChildID: "odc", Waypoints: path[:1]}); err != nil {
		t.Fatalf("save: %v", err)
	}

	conns, err := s.ListConnections(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(conns) != 2 || conns[0].ParentID != "odc" || len(conns[0].Waypoints) != 2 {
		t.Fatalf("unexpected connections: %+v", conns)
	}

	if err := s.SaveConnection(ctx, topology.Connection{ParentID: "olt", ChildID: "odc"}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := s.DeleteConnectionsFor(ctx, []string{"odp"}); err != nil {
		t.Fatalf("delete for: %v", err)
	}
	conns, err = s.ListConnections(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(conns) != 0 {
		t.Fatalf("expected no connections left, got %+v", conns)
	}
}

func TestSQLite_StatusSources(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	inform := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rx := -21.5
	if err := s.RecordTelemetry(ctx, status.Telemetry{DeviceID: "dev-1", LastInform: &inform, RxPower: &rx, Status: "online"}); err != nil {
		t.Fatalf("record telemetry: %v", err)
	}
	if err := s.RecordTelemetry(ctx, status.Telemetry{DeviceID: "dev-2"}); err != nil {
		t.Fatalf("record telemetry: %v", err)
	}
	if err := s.RecordProbe(ctx, status.Probe{Host: "10.0.0.1", Up: true, CheckedAt: inform}); err != nil {
		t.Fatalf("record probe: %v", err)
	}

	tel, err := s.FetchTelemetry(ctx, []string{"dev-1", "dev-2", "dev-3"})
	if err != nil {
		t.Fatalf("fetch telemetry: %v", err)
	}
	if len(tel) != 2 {
		t.Fatalf("expected two records, got %+v", tel)
	}
	if got := tel["dev-1"]; got.LastInform == nil || !got.LastInform.Equal(inform) || got.RxPower == nil || *got.RxPower != rx {
		t.Fatalf("unexpected telemetry: %+v", got)
	}
	if tel["dev-2"].LastInform != nil {
		t.Fatalf("expected a missing inform to stay nil")
	}

	probes, err := s.FetchProbes(ctx, []string{"10.0.0.1", "10.0.0.2"})
	if err != nil {
		t.Fatalf("fetch probes: %v", err)
	}
	if len(probes) != 1 || !probes["10.0.0.1"].Up {
		t.Fatalf("unexpected probes: %+v", probes)
	}

	empty, err := s.FetchProbes(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected an empty batch to short-circuit, got %v %v", empty, err)
	}
}

func ids(items []topology.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
