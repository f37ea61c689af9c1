package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fibermap/core-go/internal/metrics"
	"fibermap/core-go/internal/status"
	"fibermap/core-go/internal/topology"
)

// ErrNoResolver is returned by status calls on a service built without a resolver.
var ErrNoResolver = errors.New("status resolution is not configured")

// Repository persists items. An empty parentID lists roots.
type Repository interface {
	Load(ctx context.Context, id string) (topology.Item, error)
	Save(ctx context.Context, it topology.Item) error
	Delete(ctx context.Context, id string) error
	ListChildren(ctx context.Context, parentID string) ([]topology.Item, error)
}

// ConnectionRepository persists drawn connection paths.
type ConnectionRepository interface {
	SaveConnection(ctx context.Context, c topology.Connection) error
	DeleteConnectionsFor(ctx context.Context, ids []string) error
	ListConnections(ctx context.Context) ([]topology.Connection, error)
}

// StatusWriter stores a resolved status, reporting whether the stored value changed.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, id string, st topology.Status) (bool, error)
}

type Options struct {
	Model    topology.PowerModel
	Cache    topology.Cache
	CacheTTL time.Duration
	Resolver *status.Resolver
	Metrics  *metrics.Metrics
}

// Service owns the in-memory graph and keeps it in step with the repository. Writes are
// serialised per tree root; reads use the last committed snapshot.
type Service struct {
	log      zerolog.Logger
	repo     Repository
	conns    ConnectionRepository
	statuses StatusWriter
	graph    *topology.Graph
	agg      *topology.Aggregator
	resolver *status.Resolver
	metrics  *metrics.Metrics
	locks    *keyedLocks
	newID    func() string
}

// New builds a service over repo. conns may be nil, in which case paths live only in memory.
// If repo also implements StatusWriter, resolved statuses are persisted through it.
func New(log zerolog.Logger, repo Repository, conns ConnectionRepository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = topology.NopCache{}
	}
	if opts.Model == (topology.PowerModel{}) {
		opts.Model = topology.DefaultPowerModel()
	}
	graph := topology.NewGraph()
	agg := topology.NewAggregator(log, graph, opts.Model, opts.Cache, opts.CacheTTL)
	if opts.Metrics != nil {
		agg.ObserveCache(opts.Metrics)
	}
	s := &Service{
		log:      log,
		repo:     repo,
		conns:    conns,
		graph:    graph,
		agg:      agg,
		resolver: opts.Resolver,
		metrics:  opts.Metrics,
		locks:    newKeyedLocks(),
		newID:    uuid.NewString,
	}
	if w, ok := repo.(StatusWriter); ok {
		s.statuses = w
	}
	return s
}

func (s *Service) Snapshot() *topology.Snapshot {
	return s.graph.Snapshot()
}

func (s *Service) Items() []topology.Item {
	return s.graph.Snapshot().Items()
}

func (s *Service) Item(id string) (topology.Item, error) {
	it, ok := s.graph.Snapshot().Item(id)
	if !ok {
		return topology.Item{}, fmt.Errorf("%w: %s", topology.ErrNotFound, id)
	}
	return it, nil
}

// Children lists the direct children of id; an empty id lists the roots.
func (s *Service) Children(id string) ([]topology.Item, error) {
	snap := s.graph.Snapshot()
	if id == "" {
		return snap.Roots(), nil
	}
	if !snap.Has(id) {
		return nil, fmt.Errorf("%w: %s", topology.ErrNotFound, id)
	}
	return snap.ChildrenOf(id), nil
}

// Bootstrap loads the whole network from the repository, walking from the roots breadth-first.
func (s *Service) Bootstrap(ctx context.Context) (int, error) {
	queue, err := s.repo.ListChildren(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list roots: %w", err)
	}
	seen := make(map[string]struct{})
	var items []topology.Item
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		items = append(items, it)

		children, err := s.repo.ListChildren(ctx, it.ID)
		if err != nil {
			return 0, fmt.Errorf("list children of %s: %w", it.ID, err)
		}
		queue = append(queue, children...)
	}

	var conns []topology.Connection
	if s.conns != nil {
		if conns, err = s.conns.ListConnections(ctx); err != nil {
			return 0, fmt.Errorf("list connections: %w", err)
		}
	}

	skipped, corrections, err := s.graph.Load(items, conns)
	if err != nil {
		return 0, err
	}
	for _, id := range skipped {
		s.log.Warn().Str("item_id", id).Msg("skipping item with unreachable parent")
	}
	s.logCorrections(corrections)
	s.agg.Cache().InvalidatePrefix("")

	n := s.graph.Snapshot().Len()
	s.metrics.SetTopologyItems(n)
	s.log.Info().Int("items", n).Int("connections", len(conns)).Msg("topology loaded")
	return n, nil
}

// Add inserts a new item, assigning an id when empty, and stores its initial calculated power.
func (s *Service) Add(ctx context.Context, it topology.Item) (out topology.Item, err error) {
	defer func() { s.metrics.ObserveMutation("add", err) }()

	if it.ID == "" {
		it.ID = s.newID()
	}
	snap := s.graph.Snapshot()
	unlock := s.locks.lock(it.ID, s.rootFor(snap, it))
	defer unlock()

	staged, corrections, err := s.graph.Stage(new(topology.Change).Insert(it))
	if err != nil {
		return topology.Item{}, err
	}
	item, _ := staged.Item(it.ID)
	s.applyPower(staged, &item)

	if err := s.repo.Save(ctx, item); err != nil {
		return topology.Item{}, fmt.Errorf("save %s: %w", item.ID, err)
	}
	next, _, err := s.graph.Commit(new(topology.Change).Insert(item))
	if err != nil {
		return topology.Item{}, err
	}
	s.logCorrections(corrections)
	s.afterWrite(next, []string{item.ID})

	out, _ = next.Item(item.ID)
	return out, nil
}

// Edit replaces an item. Power is recalculated for the item and every descendant, and changed
// values are persisted. If the repository fails part way, the items already saved are published
// so the graph keeps mirroring the store, and the error is returned.
func (s *Service) Edit(ctx context.Context, it topology.Item) (out topology.Item, err error) {
	defer func() { s.metrics.ObserveMutation("edit", err) }()

	snap := s.graph.Snapshot()
	if !snap.Has(it.ID) {
		return topology.Item{}, fmt.Errorf("%w: %s", topology.ErrNotFound, it.ID)
	}
	unlock := s.locks.lock(it.ID, snap.RootOf(it.ID), s.rootFor(snap, it))
	defer unlock()

	staged, corrections, err := s.graph.Stage(new(topology.Change).Update(it))
	if err != nil {
		return topology.Item{}, err
	}

	subtree := staged.SubtreeIDs(it.ID)
	readings := s.agg.Model().ComputeMany(staged, subtree)
	var saves []topology.Item
	// parent first so stores with foreign keys see the new linkage before the children
	for i := len(subtree) - 1; i >= 0; i-- {
		id := subtree[i]
		item, _ := staged.Item(id)
		before, _ := item.CalculatedPower()
		r := readings[id]
		if r.Optical && (item.ODC != nil || item.ODP != nil) {
			item.SetCalculatedPower(r.OutputPowerDBm)
		}
		after, _ := item.CalculatedPower()
		if id != it.ID && before == after {
			continue
		}
		saves = append(saves, item)
	}

	ch := new(topology.Change)
	var failure error
	var saved []string
	for _, item := range saves {
		if err := s.repo.Save(ctx, item); err != nil {
			failure = fmt.Errorf("save %s: %w", item.ID, err)
			break
		}
		ch.Update(item)
		saved = append(saved, item.ID)
	}
	if ch.Empty() {
		return topology.Item{}, failure
	}

	next, _, err := s.graph.Commit(ch)
	if err != nil {
		return topology.Item{}, err
	}
	s.logCorrections(corrections)
	s.afterWrite(next, subtree)

	out, _ = next.Item(it.ID)
	if failure != nil {
		s.log.Error().Err(failure).Str("item_id", it.ID).Strs("saved", saved).Msg("subtree recalculation stopped part way")
		return out, failure
	}
	return out, nil
}

// Delete removes id and its subtree children-first, along with every connection touching a
// removed item. If the repository fails part way, the ids already deleted stay deleted and the
// error is returned with them.
func (s *Service) Delete(ctx context.Context, id string) (removed []string, err error) {
	defer func() { s.metrics.ObserveMutation("delete", err) }()

	snap := s.graph.Snapshot()
	if !snap.Has(id) {
		return nil, fmt.Errorf("%w: %s", topology.ErrNotFound, id)
	}
	unlock := s.locks.lock(id, snap.RootOf(id))
	defer unlock()

	snap = s.graph.Snapshot()
	order := snap.SubtreeIDs(id)
	if order == nil {
		return nil, fmt.Errorf("%w: %s", topology.ErrNotFound, id)
	}

	ch := new(topology.Change)
	var failure error
	for _, rid := range order {
		if err := s.repo.Delete(ctx, rid); err != nil && !errors.Is(err, topology.ErrNotFound) {
			failure = fmt.Errorf("delete %s: %w", rid, err)
			break
		}
		ch.Remove(rid)
		removed = append(removed, rid)
	}

	if len(removed) > 0 && s.conns != nil {
		if err := s.conns.DeleteConnectionsFor(ctx, removed); err != nil && failure == nil {
			failure = fmt.Errorf("delete connections: %w", err)
		}
	}
	if !ch.Empty() {
		next, _, err := s.graph.Commit(ch)
		if err != nil {
			return removed, err
		}
		s.afterWrite(next, removed)
	}
	if failure != nil {
		s.log.Error().Err(failure).Str("item_id", id).Strs("removed", removed).Msg("subtree delete stopped part way")
	}
	return removed, failure
}

// SaveConnection stores a drawn path; an empty path removes it.
func (s *Service) SaveConnection(ctx context.Context, c topology.Connection) (err error) {
	defer func() { s.metrics.ObserveMutation("connection", err) }()

	snap := s.graph.Snapshot()
	for _, id := range []string{c.ParentID, c.ChildID} {
		if !snap.Has(id) {
			return fmt.Errorf("%w: %s", topology.ErrNotFound, id)
		}
	}
	if s.conns != nil {
		if err := s.conns.SaveConnection(ctx, c); err != nil {
			return fmt.Errorf("save connection: %w", err)
		}
	}
	_, _, err = s.graph.Commit(new(topology.Change).SetConnection(c))
	return err
}

func (s *Service) Connections() []topology.Connection {
	return s.graph.Snapshot().Connections()
}

func (s *Service) ComputePower(id string) (topology.Reading, error) {
	return s.agg.ComputePower(id)
}

func (s *Service) GetHierarchyCounts(id string) (topology.Counts, error) {
	return s.agg.HierarchyCounts(id)
}

func (s *Service) CountDescendants(id string, kind topology.Kind) (int, error) {
	return s.agg.CountDescendants(id, kind)
}

func (s *Service) GetPortMap(id string) (topology.PortMap, error) {
	return s.agg.PortMap(id)
}

func (s *Service) ResolveCascadeChild(odpID string) (string, bool, error) {
	return s.agg.ResolveCascadeChild(odpID)
}

func (s *Service) PowerChain(id string) ([]topology.Hop, error) {
	return s.agg.PowerChain(id)
}

// ResolveStatus resolves one item against fresh telemetry and probe data.
func (s *Service) ResolveStatus(ctx context.Context, id string) (topology.Status, error) {
	if !s.graph.Snapshot().Has(id) {
		return topology.StatusUnknown, fmt.Errorf("%w: %s", topology.ErrNotFound, id)
	}
	out, err := s.ResolveStatuses(ctx, []string{id})
	if err != nil {
		return topology.StatusUnknown, err
	}
	return out[id], nil
}

// ResolveStatuses resolves ids in one batch; no ids means every item.
func (s *Service) ResolveStatuses(ctx context.Context, ids []string) (map[string]topology.Status, error) {
	if s.resolver == nil {
		return nil, ErrNoResolver
	}
	return s.resolver.ResolveAll(ctx, s.graph.Snapshot(), ids)
}

// ApplyStatuses persists resolved statuses that differ from the graph and publishes them. It
// returns how many items changed.
func (s *Service) ApplyStatuses(ctx context.Context, statuses map[string]topology.Status) (int, error) {
	snap := s.graph.Snapshot()
	ids := make([]string, 0, len(statuses))
	roots := make([]string, 0, len(statuses))
	for id, st := range statuses {
		it, ok := snap.Item(id)
		if !ok || it.Status == st {
			continue
		}
		ids = append(ids, id)
		roots = append(roots, snap.RootOf(id))
	}
	if len(ids) == 0 {
		return 0, nil
	}
	sort.Strings(ids)
	unlock := s.locks.lock(roots...)
	defer unlock()

	cur := s.graph.Snapshot()
	ch := new(topology.Change)
	changed := 0
	for _, id := range ids {
		it, ok := cur.Item(id)
		if !ok || it.Status == statuses[id] {
			continue
		}
		if s.statuses != nil {
			if _, err := s.statuses.UpdateStatus(ctx, id, statuses[id]); err != nil {
				return changed, fmt.Errorf("update status of %s: %w", id, err)
			}
		}
		it.Status = statuses[id]
		ch.Update(it)
		changed++
	}
	if ch.Empty() {
		return 0, nil
	}
	if _, _, err := s.graph.Commit(ch); err != nil {
		return 0, err
	}
	return changed, nil
}

// rootFor is the lock key for the tree an item will hang from.
func (s *Service) rootFor(snap *topology.Snapshot, it topology.Item) string {
	pid := it.LogicalParentID()
	if pid == "" {
		return it.ID
	}
	return snap.RootOf(pid)
}

func (s *Service) applyPower(snap *topology.Snapshot, it *topology.Item) {
	if it.ODC == nil && it.ODP == nil {
		return
	}
	r, err := s.agg.Model().Compute(snap, it.ID)
	if err != nil || !r.Optical {
		return
	}
	it.SetCalculatedPower(r.OutputPowerDBm)
}

func (s *Service) afterWrite(next *topology.Snapshot, ids []string) {
	s.agg.Invalidate(ids)
	s.metrics.SetTopologyItems(next.Len())
}

func (s *Service) logCorrections(corrections []topology.Correction) {
	for _, c := range corrections {
		s.log.Warn().Str("item_id", c.ItemID).Str("field", c.Field).Msg(c.Message)
	}
	s.metrics.AddCorrections(len(corrections))
}
