package network

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fibermap/core-go/internal/optical"
	"fibermap/core-go/internal/status"
	"fibermap/core-go/internal/store"
	"fibermap/core-go/internal/topology"
)

// fakeRepo wraps the memory store so individual calls can be made to fail.
type fakeRepo struct {
	*store.Memory
	deleteFn func(id string) error
	saveFn   func(it topology.Item) error
	deleted  []string
}

func (f *fakeRepo) Delete(ctx context.Context, id string) error {
	if f.deleteFn != nil {
		if err := f.deleteFn(id); err != nil {
			return err
		}
	}
	f.deleted = append(f.deleted, id)
	return f.Memory.Delete(ctx, id)
}

func (f *fakeRepo) Save(ctx context.Context, it topology.Item) error {
	if f.saveFn != nil {
		if err := f.saveFn(it); err != nil {
			return err
		}
	}
	return f.Memory.Save(ctx, it)
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func newTestService(t *testing.T) (*Service, *fakeRepo) {
	t.Helper()
	repo := &fakeRepo{Memory: store.NewMemory()}
	svc := New(zerolog.Nop(), repo, repo.Memory, Options{Cache: topology.NewTTLCache(), CacheTTL: time.Minute})
	return svc, repo
}

func seed(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	items := []topology.Item{
		{ID: "srv", Kind: topology.KindServer, Server: &topology.ServerConfig{ISPLink: "8.8.8.8", PONPorts: map[int]float64{1: 2.0}}},
		{ID: "olt", Kind: topology.KindOLT, ParentID: topology.StringPtr("srv"), OLT: &topology.OLTConfig{OutputPowerDBm: 2.0}},
		{ID: "odc", Kind: topology.KindODC, ParentID: topology.StringPtr("olt"), ODC: &topology.ODCConfig{PortCount: 4}},
		{ID: "odp-8", Kind: topology.KindODP, ParentID: topology.StringPtr("odc"), ODP: &topology.ODPConfig{
			ParentODCPort: topology.IntPtr(1), PortCount: 8, UseSplitter: true, SplitterRatio: optical.Ratio("1:8")}},
		{ID: "onu-1", Kind: topology.KindONU, ParentID: topology.StringPtr("odp-8"), ONU: &topology.ONUConfig{GenieACSDeviceID: "dev-1", ODPPort: 1}},
	}
	for _, it := range items {
		if _, err := svc.Add(ctx, it); err != nil {
			t.Fatalf("add %s: %v", it.ID, err)
		}
	}
}

func TestAdd_AssignsIDAndStoresCalculatedPower(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, svc)
	svc.newID = func() string { return "generated" }

	added, err := svc.Add(context.Background(), topology.Item{
		Kind: topology.KindODP, ParentID: topology.StringPtr("odc"),
		ODP: &topology.ODPConfig{ParentODCPort: topology.IntPtr(2), UseSplitter: true, SplitterRatio: optical.Ratio("1:4")},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.ID != "generated" || added.ODP.PortCount != topology.DefaultPortCount {
		t.Fatalf("unexpected item: %+v %+v", added, added.ODP)
	}

	stored, err := repo.Load(context.Background(), "generated")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p, ok := stored.CalculatedPower(); !ok || !approx(p, -11.0) {
		t.Fatalf("expected -3.8 - 7.2 = -11.0 dBm stored, got %v %v", p, ok)
	}

	odc, _ := repo.Load(context.Background(), "odc")
	if p, ok := odc.CalculatedPower(); !ok || !approx(p, -3.8) {
		t.Fatalf("expected odc -3.8 dBm stored, got %v %v", p, ok)
	}
}

func TestAdd_RejectsMissingParentWithoutPersisting(t *testing.T) {
	svc, repo := newTestService(t)
	_, err := svc.Add(context.Background(), topology.Item{ID: "onu", Kind: topology.KindONU, ParentID: topology.StringPtr("ghost"), ONU: &topology.ONUConfig{}})
	if !errors.Is(err, topology.ErrParentNotFound) {
		t.Fatalf("expected ErrParentNotFound, got %v", err)
	}
	if _, err := repo.Load(context.Background(), "onu"); !errors.Is(err, topology.ErrNotFound) {
		t.Fatalf("expected nothing persisted, got %v", err)
	}
}

func TestAdd_SaveFailureLeavesGraphUntouched(t *testing.T) {
	svc, repo := newTestService(t)
	repo.saveFn = func(topology.Item) error { return errors.New("disk full") }
	if _, err := svc.Add(context.Background(), topology.Item{ID: "srv", Kind: topology.KindServer, Server: &topology.ServerConfig{}}); err == nil {
		t.Fatalf("expected error")
	}
	if svc.Snapshot().Has("srv") {
		t.Fatalf("expected graph not to publish an unsaved item")
	}
}

func TestEdit_RecalculatesDescendants(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, svc)
	ctx := context.Background()

	olt, _ := svc.Item("olt")
	olt.OLT.OutputPowerDBm = 3.0
	if _, err := svc.Edit(ctx, olt); err != nil {
		t.Fatalf("edit: %v", err)
	}

	odc, _ := repo.Load(ctx, "odc")
	if p, _ := odc.CalculatedPower(); !approx(p, -2.8) {
		t.Fatalf("expected odc -2.8, got %v", p)
	}
	odp, _ := repo.Load(ctx, "odp-8")
	if p, _ := odp.CalculatedPower(); !approx(p, -13.3) {
		t.Fatalf("expected odp -13.3, got %v", p)
	}
	r, err := svc.ComputePower("odp-8")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !approx(r.OutputPowerDBm, -13.3) {
		t.Fatalf("expected cached reading to be invalidated, got %v", r.OutputPowerDBm)
	}
}

func TestEdit_PartialSaveFailure(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, svc)
	ctx := context.Background()
	repo.saveFn = func(it topology.Item) error {
		if it.ID == "odp-8" {
			return errors.New("disk full")
		}
		return nil
	}

	olt, _ := svc.Item("olt")
	olt.OLT.OutputPowerDBm = 3.0
	if _, err := svc.Edit(ctx, olt); err == nil {
		t.Fatalf("expected error")
	}

	for _, id := range []string{"olt", "odc", "odp-8"} {
		stored, err := repo.Load(ctx, id)
		if err != nil {
			t.Fatalf("load %s: %v", id, err)
		}
		live, _ := svc.Item(id)
		if id == "olt" {
			if stored.OLT.OutputPowerDBm != 3.0 || live.OLT.OutputPowerDBm != 3.0 {
				t.Fatalf("expected olt output 3 in repo and graph, got %v and %v", stored.OLT.OutputPowerDBm, live.OLT.OutputPowerDBm)
			}
			continue
		}
		want, _ := stored.CalculatedPower()
		got, _ := live.CalculatedPower()
		if !approx(want, got) {
			t.Fatalf("%s: graph has %v dBm, repository has %v dBm", id, got, want)
		}
	}
	odc, _ := svc.Item("odc")
	if p, _ := odc.CalculatedPower(); !approx(p, -2.8) {
		t.Fatalf("expected saved odc -2.8 published, got %v", p)
	}
	odp, _ := svc.Item("odp-8")
	if p, _ := odp.CalculatedPower(); !approx(p, -14.3) {
		t.Fatalf("expected unsaved odp to keep -14.3, got %v", p)
	}
}

func TestEdit_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc)
	ctx := context.Background()

	if _, err := svc.Edit(ctx, topology.Item{ID: "ghost", Kind: topology.KindONU, ONU: &topology.ONUConfig{}}); !errors.Is(err, topology.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	olt, _ := svc.Item("olt")
	olt.ParentID = topology.StringPtr("odc")
	if _, err := svc.Edit(ctx, olt); !errors.Is(err, topology.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestDelete_ChildrenFirstWithConnections(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, svc)
	ctx := context.Background()

	wp := []topology.LatLng{{Lat: 1, Lng: 1}}
	if err := svc.SaveConnection(ctx, topology.Connection{ParentID: "odp-8", ChildID: "onu-1", Waypoints: wp}); err != nil {
		t.Fatalf("save connection: %v", err)
	}
	if err := svc.SaveConnection(ctx, topology.Connection{ParentID: "srv", ChildID: "olt", Waypoints: wp}); err != nil {
		t.Fatalf("save connection: %v", err)
	}

	removed, err := svc.Delete(ctx, "odc")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	want := []string{"onu-1", "odp-8", "odc"}
	if len(removed) != len(want) {
		t.Fatalf("expected %v, got %v", want, removed)
	}
	for i := range want {
		if removed[i] != want[i] || repo.deleted[i] != want[i] {
			t.Fatalf("expected %v, got %v (repo %v)", want, removed, repo.deleted)
		}
	}

	conns, _ := repo.ListConnections(ctx)
	if len(conns) != 1 || conns[0].ChildID != "olt" {
		t.Fatalf("expected only the untouched connection to survive, got %+v", conns)
	}
	if len(svc.Connections()) != 1 {
		t.Fatalf("expected graph connections cleaned too, got %+v", svc.Connections())
	}
}

func TestDelete_PartialFailureCommitsWhatWasDeleted(t *testing.T) {
	svc, repo := newTestService(t)
	seed(t, svc)
	repo.deleteFn = func(id string) error {
		if id == "odp-8" {
			return errors.New("lock timeout")
		}
		return nil
	}

	removed, err := svc.Delete(context.Background(), "odc")
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(removed) != 1 || removed[0] != "onu-1" {
		t.Fatalf("expected only the onu removed, got %v", removed)
	}
	snap := svc.Snapshot()
	if snap.Has("onu-1") || !snap.Has("odp-8") || !snap.Has("odc") {
		t.Fatalf("expected graph to mirror the repository after a partial delete")
	}
}

func TestSaveConnection_UnknownEndpoint(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc)
	err := svc.SaveConnection(context.Background(), topology.Connection{ParentID: "odc", ChildID: "ghost", Waypoints: []topology.LatLng{{}}})
	if !errors.Is(err, topology.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBootstrap_LoadsBothLinkages(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	for _, it := range []topology.Item{
		{ID: "odc-s", Kind: topology.KindODC, ODC: &topology.ODCConfig{ServerID: topology.StringPtr("srv"), ServerPONPort: 1}},
		{ID: "odp", Kind: topology.KindODP, ParentID: topology.StringPtr("odc-s"), ODP: &topology.ODPConfig{ParentODCPort: topology.IntPtr(1)}},
		{ID: "srv", Kind: topology.KindServer, Server: &topology.ServerConfig{PONPorts: map[int]float64{1: 2.0}}},
		{ID: "onu", Kind: topology.KindONU, ParentID: topology.StringPtr("odp"), ONU: &topology.ONUConfig{ODPPort: 3}},
	} {
		if err := mem.Save(ctx, it); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	_ = mem.SaveConnection(ctx, topology.Connection{ParentID: "srv", ChildID: "odc-s", Waypoints: []topology.LatLng{{Lat: 1, Lng: 2}}})

	svc := New(zerolog.Nop(), mem, mem, Options{})
	n, err := svc.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 items, got %d", n)
	}
	counts, err := svc.GetHierarchyCounts("srv")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts != (topology.Counts{ODC: 1, ODP: 1, ONU: 1}) {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if len(svc.Connections()) != 1 {
		t.Fatalf("expected the stored connection to load")
	}
	ports, err := svc.GetPortMap("srv")
	if err != nil {
		t.Fatalf("ports: %v", err)
	}
	if ports[1].OccupantID != "odc-s" {
		t.Fatalf("expected PON 1 occupied by odc-s, got %+v", ports[1])
	}
}

func TestStatuses_ResolveAndApply(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeRepo{Memory: store.NewMemory()}
	recent := now.Add(-10 * time.Second)
	_ = repo.RecordTelemetry(ctx, status.Telemetry{DeviceID: "dev-1", LastInform: &recent})

	resolver := status.NewResolver(zerolog.Nop(), repo.Memory, repo.Memory, nil, status.Options{Now: func() time.Time { return now }})
	svc := New(zerolog.Nop(), repo, repo.Memory, Options{Resolver: resolver})
	seed(t, svc)

	st, err := svc.ResolveStatus(ctx, "onu-1")
	if err != nil || st != topology.StatusOnline {
		t.Fatalf("expected online, got %v %v", st, err)
	}

	all, err := svc.ResolveStatuses(ctx, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if all["odc"] != topology.StatusOnline || all["srv"] != topology.StatusUnknown {
		t.Fatalf("unexpected statuses: %+v", all)
	}

	changed, err := svc.ApplyStatuses(ctx, all)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if changed != 3 {
		t.Fatalf("expected onu, odp and odc to change, got %d", changed)
	}
	stored, _ := repo.Load(ctx, "odp-8")
	if stored.Status != topology.StatusOnline {
		t.Fatalf("expected stored status online, got %q", stored.Status)
	}
	if it, _ := svc.Item("onu-1"); it.Status != topology.StatusOnline {
		t.Fatalf("expected graph status online, got %q", it.Status)
	}

	again, err := svc.ApplyStatuses(ctx, all)
	if err != nil || again != 0 {
		t.Fatalf("expected a second apply to be a no-op, got %d %v", again, err)
	}
}

func TestResolveStatus_WithoutResolver(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc)
	if _, err := svc.ResolveStatus(context.Background(), "onu-1"); !errors.Is(err, ErrNoResolver) {
		t.Fatalf("expected ErrNoResolver, got %v", err)
	}
	if _, err := svc.ResolveStatus(context.Background(), "ghost"); !errors.Is(err, topology.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestKeyedLocks_SerialisesAndCleansUp(t *testing.T) {
	k := newKeyedLocks()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("b", "a", "a", "")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50, got %d", counter)
	}
	if k.size() != 0 {
		t.Fatalf("expected idle entries to be dropped, got %d", k.size())
	}
}
