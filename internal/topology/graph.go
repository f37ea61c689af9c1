package topology

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// LatLng is one waypoint of a drawn connection.
type LatLng struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Connection is the routed path drawn between a parent and a child on the map. It plays no part
// in power math; an empty path means a straight line and is not stored.
type Connection struct {
	ParentID  string   `json:"parent_id" yaml:"parent_id"`
	ChildID   string   `json:"child_id" yaml:"child_id"`
	Waypoints []LatLng `json:"waypoints" yaml:"waypoints"`
}

type connKey struct{ parent, child string }

// Snapshot is an immutable view of the network. The children index merges both linkage shapes
// and is built once per snapshot.
type Snapshot struct {
	version  uint64
	items    map[string]*Item
	children map[string][]string
	roots    []string
	conns    map[connKey]Connection
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		items:    map[string]*Item{},
		children: map[string][]string{},
		conns:    map[connKey]Connection{},
	}
}

func (s *Snapshot) Version() uint64 { return s.version }

func (s *Snapshot) Len() int { return len(s.items) }

// Item returns a copy of the item with the given id.
func (s *Snapshot) Item(id string) (Item, bool) {
	it, ok := s.items[id]
	if !ok {
		return Item{}, false
	}
	return it.Clone(), true
}

func (s *Snapshot) Has(id string) bool {
	_, ok := s.items[id]
	return ok
}

func (s *Snapshot) kindOf(id string) Kind {
	if it, ok := s.items[id]; ok {
		return it.Kind
	}
	return ""
}

// Items returns every item ordered by id.
func (s *Snapshot) Items() []Item {
	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[id].Clone())
	}
	return out
}

// Roots are items with no parent through either linkage.
func (s *Snapshot) Roots() []Item {
	out := make([]Item, 0, len(s.roots))
	for _, id := range s.roots {
		out = append(out, s.items[id].Clone())
	}
	return out
}

// ChildIDs returns direct children through both linkage shapes, ordered by id.
func (s *Snapshot) ChildIDs(id string) []string {
	return s.children[id]
}

// ChildrenOf returns direct children, optionally filtered by kind.
func (s *Snapshot) ChildrenOf(id string, kinds ...Kind) []Item {
	var out []Item
	for _, cid := range s.children[id] {
		child := s.items[cid]
		if len(kinds) > 0 && !kindIn(child.Kind, kinds) {
			continue
		}
		out = append(out, child.Clone())
	}
	return out
}

func kindIn(k Kind, kinds []Kind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

// AncestorsOf returns the logical parent chain, nearest first.
func (s *Snapshot) AncestorsOf(id string) []Item {
	var out []Item
	seen := map[string]struct{}{id: {}}
	cur, ok := s.items[id]
	for ok {
		pid := cur.LogicalParentID()
		if pid == "" {
			break
		}
		if _, dup := seen[pid]; dup {
			break
		}
		seen[pid] = struct{}{}
		cur, ok = s.items[pid]
		if ok {
			out = append(out, cur.Clone())
		}
	}
	return out
}

// RootOf returns the top of the logical parent chain, or id itself.
func (s *Snapshot) RootOf(id string) string {
	anc := s.AncestorsOf(id)
	if len(anc) == 0 {
		return id
	}
	return anc[len(anc)-1].ID
}

// SubtreeIDs returns id and every descendant in depth-first post-order: children always come
// before their parent, siblings in id order.
func (s *Snapshot) SubtreeIDs(id string) []string {
	if _, ok := s.items[id]; !ok {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	var walk func(string)
	walk = func(cur string) {
		if _, ok := seen[cur]; ok {
			return
		}
		seen[cur] = struct{}{}
		for _, cid := range s.children[cur] {
			walk(cid)
		}
		out = append(out, cur)
	}
	walk(id)
	return out
}

// Descendants returns every item below id (deduplicated), optionally filtered by kind.
func (s *Snapshot) Descendants(id string, kinds ...Kind) []Item {
	var out []Item
	for _, did := range s.SubtreeIDs(id) {
		if did == id {
			continue
		}
		it := s.items[did]
		if len(kinds) > 0 && !kindIn(it.Kind, kinds) {
			continue
		}
		out = append(out, it.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Connection returns the stored path for a parent/child pair.
func (s *Snapshot) Connection(parentID, childID string) (Connection, bool) {
	c, ok := s.conns[connKey{parentID, childID}]
	return c, ok
}

// Connections returns every stored path ordered by parent then child.
func (s *Snapshot) Connections() []Connection {
	out := make([]Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParentID != out[j].ParentID {
			return out[i].ParentID < out[j].ParentID
		}
		return out[i].ChildID < out[j].ChildID
	})
	return out
}

// ConnectionsTouching returns paths whose parent or child is in ids.
func (s *Snapshot) ConnectionsTouching(ids []string) []Connection {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	var out []Connection
	for _, c := range s.Connections() {
		_, p := set[c.ParentID]
		_, ch := set[c.ChildID]
		if p || ch {
			out = append(out, c)
		}
	}
	return out
}

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opRemove
	opConnection
)

type op struct {
	kind opKind
	item Item
	id   string
	conn Connection
}

// Change is an ordered batch of mutations applied atomically to a snapshot.
type Change struct {
	ops []op
}

func (c *Change) Insert(it Item) *Change {
	c.ops = append(c.ops, op{kind: opInsert, item: it.Clone()})
	return c
}

func (c *Change) Update(it Item) *Change {
	c.ops = append(c.ops, op{kind: opUpdate, item: it.Clone()})
	return c
}

// Remove deletes id with its whole subtree and every connection touching a removed id.
func (c *Change) Remove(id string) *Change {
	c.ops = append(c.ops, op{kind: opRemove, id: id})
	return c
}

// SetConnection stores a path; an empty path deletes it.
func (c *Change) SetConnection(conn Connection) *Change {
	c.ops = append(c.ops, op{kind: opConnection, conn: conn})
	return c
}

func (c *Change) Empty() bool { return c == nil || len(c.ops) == 0 }

// Graph holds the committed snapshot. Writers serialise on mu; readers load the snapshot pointer
// and never block.
type Graph struct {
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
}

func NewGraph() *Graph {
	g := &Graph{}
	g.snap.Store(emptySnapshot())
	return g
}

// Snapshot returns the last committed snapshot.
func (g *Graph) Snapshot() *Snapshot {
	return g.snap.Load()
}

// Stage applies ch to the current snapshot without committing it.
func (g *Graph) Stage(ch *Change) (*Snapshot, []Correction, error) {
	return apply(g.Snapshot(), ch)
}

// Commit applies ch to the latest snapshot and publishes the result.
func (g *Graph) Commit(ch *Change) (*Snapshot, []Correction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	next, corrections, err := apply(g.snap.Load(), ch)
	if err != nil {
		return nil, nil, err
	}
	g.snap.Store(next)
	return next, corrections, nil
}

func (g *Graph) Insert(it Item) (Item, error) {
	next, _, err := g.Commit(new(Change).Insert(it))
	if err != nil {
		return Item{}, err
	}
	out, _ := next.Item(it.ID)
	return out, nil
}

func (g *Graph) Update(it Item) (Item, error) {
	next, _, err := g.Commit(new(Change).Update(it))
	if err != nil {
		return Item{}, err
	}
	out, _ := next.Item(it.ID)
	return out, nil
}

// Remove deletes id and its subtree, returning the removed ids children-first.
func (g *Graph) Remove(id string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cur := g.snap.Load()
	removed := cur.SubtreeIDs(id)
	if removed == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next, _, err := apply(cur, new(Change).Remove(id))
	if err != nil {
		return nil, err
	}
	g.snap.Store(next)
	return removed, nil
}

// Load bulk-inserts items in dependency order regardless of input order. Items whose parents
// never appear are returned as skipped rather than failing the whole load.
func (g *Graph) Load(items []Item, conns []Connection) ([]string, []Correction, error) {
	pending := make([]Item, len(items))
	copy(pending, items)
	placed := make(map[string]struct{}, len(items))
	cur := g.Snapshot()
	for id := range cur.items {
		placed[id] = struct{}{}
	}

	ch := new(Change)
	for len(pending) > 0 {
		var rest []Item
		for _, it := range pending {
			ready := true
			for _, pid := range it.ParentIDs() {
				if _, ok := placed[pid]; !ok {
					ready = false
					break
				}
			}
			if !ready {
				rest = append(rest, it)
				continue
			}
			ch.Insert(it)
			placed[it.ID] = struct{}{}
		}
		if len(rest) == len(pending) {
			break
		}
		pending = rest
	}
	var skipped []string
	for _, it := range pending {
		if _, ok := placed[it.ID]; !ok {
			skipped = append(skipped, it.ID)
		}
	}
	sort.Strings(skipped)

	for _, c := range conns {
		if _, ok := placed[c.ParentID]; !ok {
			continue
		}
		if _, ok := placed[c.ChildID]; !ok {
			continue
		}
		ch.SetConnection(c)
	}

	_, corrections, err := g.Commit(ch)
	if err != nil {
		return nil, nil, err
	}
	return skipped, corrections, nil
}

type builder struct {
	items       map[string]*Item
	conns       map[connKey]Connection
	corrections []Correction
}

func apply(base *Snapshot, ch *Change) (*Snapshot, []Correction, error) {
	b := &builder{
		items: make(map[string]*Item, len(base.items)+1),
		conns: make(map[connKey]Connection, len(base.conns)),
	}
	for id, it := range base.items {
		b.items[id] = it
	}
	for k, c := range base.conns {
		b.conns[k] = c
	}

	if ch != nil {
		for _, o := range ch.ops {
			var err error
			switch o.kind {
			case opInsert:
				err = b.put(o.item, true)
			case opUpdate:
				err = b.put(o.item, false)
			case opRemove:
				err = b.remove(o.id)
			case opConnection:
				err = b.setConnection(o.conn)
			}
			if err != nil {
				return nil, nil, err
			}
		}
	}

	next := b.build()
	next.version = base.version + 1
	return next, b.corrections, nil
}

func (b *builder) put(it Item, create bool) error {
	corrections, err := Normalize(&it)
	if err != nil {
		return err
	}
	existing, exists := b.items[it.ID]
	switch {
	case create && exists:
		return fmt.Errorf("%w: %s", ErrDuplicateID, it.ID)
	case !create && !exists:
		return fmt.Errorf("%w: %s", ErrNotFound, it.ID)
	case !create && existing.Kind != it.Kind:
		return fmt.Errorf("%w: %s is %s, not %s", ErrKindMismatch, it.ID, existing.Kind, it.Kind)
	}

	if it.ParentID != nil {
		parent, ok := b.items[*it.ParentID]
		if !ok {
			return fmt.Errorf("%w: %s (parent of %s)", ErrParentNotFound, *it.ParentID, it.ID)
		}
		corrections = append(corrections, alignParentPort(&it, parent.Kind)...)
	}
	if it.ODC != nil && it.ODC.ServerID != nil {
		owner, ok := b.items[*it.ODC.ServerID]
		if !ok {
			return fmt.Errorf("%w: server %s (owner of %s)", ErrParentNotFound, *it.ODC.ServerID, it.ID)
		}
		if owner.Kind != KindServer {
			return fmt.Errorf("%w: odc owner %s is %s, not server", ErrKindMismatch, owner.ID, owner.Kind)
		}
	}
	for _, pid := range it.ParentIDs() {
		if b.reaches(pid, it.ID) {
			return fmt.Errorf("%w: %s under %s", ErrCycle, it.ID, pid)
		}
	}

	stored := it
	b.items[it.ID] = &stored
	b.corrections = append(b.corrections, corrections...)
	return nil
}

// reaches walks every parent link upward from start and reports whether target is on the way.
func (b *builder) reaches(start, target string) bool {
	seen := make(map[string]struct{})
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		if it, ok := b.items[cur]; ok {
			stack = append(stack, it.ParentIDs()...)
		}
	}
	return false
}

func (b *builder) remove(id string) error {
	if _, ok := b.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	// index is rebuilt lazily here since earlier ops in the same change may have moved items
	tmp := b.build()
	removed := tmp.SubtreeIDs(id)
	gone := make(map[string]struct{}, len(removed))
	for _, rid := range removed {
		delete(b.items, rid)
		gone[rid] = struct{}{}
	}
	for k := range b.conns {
		_, p := gone[k.parent]
		_, c := gone[k.child]
		if p || c {
			delete(b.conns, k)
		}
	}
	return nil
}

func (b *builder) setConnection(c Connection) error {
	if _, ok := b.items[c.ParentID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ParentID)
	}
	if _, ok := b.items[c.ChildID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ChildID)
	}
	key := connKey{c.ParentID, c.ChildID}
	if len(c.Waypoints) == 0 {
		delete(b.conns, key)
		return nil
	}
	wp := make([]LatLng, len(c.Waypoints))
	copy(wp, c.Waypoints)
	c.Waypoints = wp
	b.conns[key] = c
	return nil
}

func (b *builder) build() *Snapshot {
	s := &Snapshot{
		items:    b.items,
		children: make(map[string][]string),
		conns:    b.conns,
	}
	for id, it := range b.items {
		parents := it.ParentIDs()
		if len(parents) == 0 {
			s.roots = append(s.roots, id)
			continue
		}
		for _, pid := range parents {
			s.children[pid] = append(s.children[pid], id)
		}
	}
	for pid := range s.children {
		sort.Strings(s.children[pid])
	}
	sort.Strings(s.roots)
	return s
}
