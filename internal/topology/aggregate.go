package topology

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

const (
	CachePrefixCounts  = "counts:"
	CachePrefixPower   = "power:"
	CachePrefixPorts   = "ports:"
	CachePrefixCascade = "cascade:"
	CachePrefixChain   = "chain:"
)

// SnapshotSource is anything that can hand out the current snapshot; *Graph satisfies it.
type SnapshotSource interface {
	Snapshot() *Snapshot
}

// Counts are the descendant totals under one item.
type Counts struct {
	ODC int `json:"odc_count"`
	ODP int `json:"odp_count"`
	ONU int `json:"onu_count"`
}

// PortSlot describes one physical port of a server, ODC or ODP.
type PortSlot struct {
	Port         int      `json:"port"`
	Available    bool     `json:"available"`
	OccupantID   string   `json:"occupant_id,omitempty"`
	OccupantName string   `json:"occupant_name,omitempty"`
	OccupantKind Kind     `json:"occupant_type,omitempty"`
	Conflicts    []string `json:"conflicts,omitempty"`
	PowerDBm     *float64 `json:"power,omitempty"`
	RxPowerDBm   *float64 `json:"rx_power,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	DeviceID     string   `json:"device_id,omitempty"`
	Status       Status   `json:"status,omitempty"`
}

// PortMap is keyed by port number.
type PortMap map[int]PortSlot

// Ports returns the slots ordered by port number.
func (m PortMap) Ports() []PortSlot {
	out := make([]PortSlot, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// Hop is one step of a power chain from the root down to an item.
type Hop struct {
	ItemID  string  `json:"item_id"`
	Name    string  `json:"name"`
	Kind    Kind    `json:"item_type"`
	Reading Reading `json:"reading"`
}

// Aggregator answers hierarchy queries against the current snapshot, memoising through cache.
// Cached values carry the snapshot version they were computed from and are ignored once it moves
// on.
type Aggregator struct {
	src      SnapshotSource
	model    PowerModel
	cache    Cache
	ttl      time.Duration
	log      zerolog.Logger
	observer CacheObserver
}

// CacheObserver is told about every memo lookup; *metrics.Metrics implements it.
type CacheObserver interface {
	ObserveCacheLookup(hit bool)
}

type cached struct {
	version uint64
	value   any
}

func NewAggregator(log zerolog.Logger, src SnapshotSource, model PowerModel, cache Cache, ttl time.Duration) *Aggregator {
	if cache == nil {
		cache = NopCache{}
	}
	return &Aggregator{src: src, model: model, cache: cache, ttl: ttl, log: log}
}

// ObserveCache attaches o to the aggregator's memo lookups.
func (a *Aggregator) ObserveCache(o CacheObserver) {
	a.observer = o
}

func (a *Aggregator) Model() PowerModel { return a.model }

func (a *Aggregator) Cache() Cache { return a.cache }

func (a *Aggregator) memo(snap *Snapshot, key string, fn func() (any, error)) (any, error) {
	if v, ok := a.cache.Get(key); ok {
		if c, ok := v.(cached); ok && c.version == snap.Version() {
			a.observe(true)
			return c.value, nil
		}
	}
	a.observe(false)
	v, err := fn()
	if err != nil {
		return nil, err
	}
	a.cache.Set(key, cached{version: snap.Version(), value: v}, a.ttl)
	return v, nil
}

func (a *Aggregator) observe(hit bool) {
	if a.observer != nil {
		a.observer.ObserveCacheLookup(hit)
	}
}

// CountDescendants counts items of kind below rootID through both linkage shapes. An item
// reachable twice is counted once.
func (a *Aggregator) CountDescendants(rootID string, kind Kind) (int, error) {
	c, err := a.HierarchyCounts(rootID)
	if err != nil {
		return 0, err
	}
	switch kind {
	case KindODC:
		return c.ODC, nil
	case KindODP:
		return c.ODP, nil
	case KindONU:
		return c.ONU, nil
	}
	snap := a.src.Snapshot()
	return len(snap.Descendants(rootID, kind)), nil
}

// HierarchyCounts returns ODC/ODP/ONU totals below rootID.
func (a *Aggregator) HierarchyCounts(rootID string) (Counts, error) {
	snap := a.src.Snapshot()
	if !snap.Has(rootID) {
		return Counts{}, fmt.Errorf("%w: %s", ErrNotFound, rootID)
	}
	v, err := a.memo(snap, CachePrefixCounts+rootID, func() (any, error) {
		var c Counts
		for _, id := range snap.SubtreeIDs(rootID) {
			if id == rootID {
				continue
			}
			switch snap.kindOf(id) {
			case KindODC:
				c.ODC++
			case KindODP:
				c.ODP++
			case KindONU:
				c.ONU++
			}
		}
		return c, nil
	})
	if err != nil {
		return Counts{}, err
	}
	return v.(Counts), nil
}

// ComputePower evaluates the optical budget of one item.
func (a *Aggregator) ComputePower(id string) (Reading, error) {
	snap := a.src.Snapshot()
	v, err := a.memo(snap, CachePrefixPower+id, func() (any, error) {
		return a.model.Compute(snap, id)
	})
	if err != nil {
		return Reading{}, err
	}
	return v.(Reading), nil
}

// ResolveCascadeChild returns the ODP consuming the free leg of odpID's custom splitter.
func (a *Aggregator) ResolveCascadeChild(odpID string) (string, bool, error) {
	snap := a.src.Snapshot()
	it, ok := snap.items[odpID]
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrNotFound, odpID)
	}
	if it.Kind != KindODP {
		return "", false, fmt.Errorf("%w: %s is %s, not odp", ErrKindMismatch, odpID, it.Kind)
	}
	v, err := a.memo(snap, CachePrefixCascade+odpID, func() (any, error) {
		return resolveCascade(snap, it), nil
	})
	if err != nil {
		return "", false, err
	}
	id := v.(string)
	return id, id != "", nil
}

func resolveCascade(snap *Snapshot, parent *Item) string {
	leg, ok := parent.ODP.CascadeLeg()
	if !ok {
		return ""
	}
	// children are kept sorted by id, so the first match is the lowest id
	for _, cid := range snap.children[parent.ID] {
		child := snap.items[cid]
		if child.Kind != KindODP || child.ParentID == nil || *child.ParentID != parent.ID {
			continue
		}
		if child.ODP.ParentODPPort != nil && *child.ODP.ParentODPPort == leg {
			return child.ID
		}
	}
	return ""
}

// PortMap maps each port of a server, ODC or ODP to its occupant. Two children claiming the same
// port resolve to the lowest id; the others are reported as conflicts and logged.
func (a *Aggregator) PortMap(parentID string) (PortMap, error) {
	snap := a.src.Snapshot()
	parent, ok := snap.items[parentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, parentID)
	}
	v, err := a.memo(snap, CachePrefixPorts+parentID, func() (any, error) {
		return a.buildPortMap(snap, parent), nil
	})
	if err != nil {
		return nil, err
	}
	return clonePortMap(v.(PortMap)), nil
}

func clonePortMap(m PortMap) PortMap {
	out := make(PortMap, len(m))
	for k, v := range m {
		if v.Conflicts != nil {
			v.Conflicts = append([]string(nil), v.Conflicts...)
		}
		out[k] = v
	}
	return out
}

func (a *Aggregator) buildPortMap(snap *Snapshot, parent *Item) PortMap {
	out := PortMap{}
	claims := map[int][]*Item{}
	var ports []int

	switch parent.Kind {
	case KindServer:
		for p := range parent.Server.PONPorts {
			ports = append(ports, p)
		}
		for _, cid := range snap.children[parent.ID] {
			child := snap.items[cid]
			if child.Kind == KindODC && child.ODC.ServerPONPort > 0 {
				claims[child.ODC.ServerPONPort] = append(claims[child.ODC.ServerPONPort], child)
			}
		}
		for p := range claims {
			if _, declared := parent.Server.PONPorts[p]; !declared {
				ports = append(ports, p)
			}
		}
	case KindODC:
		for p := 1; p <= parent.ODC.PortCount; p++ {
			ports = append(ports, p)
		}
		for _, cid := range snap.children[parent.ID] {
			child := snap.items[cid]
			if child.Kind == KindODP && child.ODP.ParentODCPort != nil {
				claims[*child.ODP.ParentODCPort] = append(claims[*child.ODP.ParentODCPort], child)
			}
		}
	case KindODP:
		for p := 1; p <= parent.ODP.PortCount; p++ {
			ports = append(ports, p)
		}
		for _, cid := range snap.children[parent.ID] {
			child := snap.items[cid]
			if child.Kind == KindONU && child.ONU.ODPPort > 0 {
				claims[child.ONU.ODPPort] = append(claims[child.ONU.ODPPort], child)
			}
		}
	default:
		return out
	}

	readings := a.model.evaluator(snap)
	for _, p := range ports {
		slot := PortSlot{Port: p, Available: true}
		switch parent.Kind {
		case KindServer:
			if pw, ok := parent.Server.PONPorts[p]; ok {
				slot.PowerDBm = &pw
			}
		default:
			pw := readings.reading(parent.ID).PortPowerDBm
			slot.PowerDBm = &pw
		}
		if parent.Kind == KindODP {
			c := parent.ODP
			if rx, ok := c.PortRxPower[p]; ok {
				slot.RxPowerDBm = &rx
			}
			slot.SerialNumber = c.PortSerialNumber[p]
			slot.DeviceID = c.PortDeviceID[p]
			slot.Status = c.PortStatus[p]
		}
		if occupants := claims[p]; len(occupants) > 0 {
			sort.Slice(occupants, func(i, j int) bool { return occupants[i].ID < occupants[j].ID })
			winner := occupants[0]
			slot.Available = false
			slot.OccupantID = winner.ID
			slot.OccupantName = winner.Name
			slot.OccupantKind = winner.Kind
			for _, loser := range occupants[1:] {
				slot.Conflicts = append(slot.Conflicts, loser.ID)
			}
			if len(slot.Conflicts) > 0 {
				a.log.Warn().
					Str("parent_id", parent.ID).
					Int("port", p).
					Str("occupant_id", winner.ID).
					Strs("conflicts", slot.Conflicts).
					Msg("port claimed by more than one child")
			}
		}
		out[p] = slot
	}

	for p, occupants := range claims {
		if _, ok := out[p]; !ok {
			ids := make([]string, 0, len(occupants))
			for _, o := range occupants {
				ids = append(ids, o.ID)
			}
			a.log.Warn().Str("parent_id", parent.ID).Int("port", p).Strs("children", ids).Msg("child claims a port outside the parent's range")
		}
	}
	return out
}

// PowerChain returns the hops from the root down to id, each with its reading.
func (a *Aggregator) PowerChain(id string) ([]Hop, error) {
	snap := a.src.Snapshot()
	if !snap.Has(id) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	v, err := a.memo(snap, CachePrefixChain+id, func() (any, error) {
		anc := snap.AncestorsOf(id)
		ids := make([]string, 0, len(anc)+1)
		for i := len(anc) - 1; i >= 0; i-- {
			ids = append(ids, anc[i].ID)
		}
		ids = append(ids, id)
		readings := a.model.ComputeMany(snap, ids)
		hops := make([]Hop, 0, len(ids))
		for _, hid := range ids {
			it := snap.items[hid]
			hops = append(hops, Hop{ItemID: hid, Name: it.Name, Kind: it.Kind, Reading: readings[hid]})
		}
		return hops, nil
	})
	if err != nil {
		return nil, err
	}
	hops := v.([]Hop)
	return append([]Hop(nil), hops...), nil
}

// Invalidate drops cached values after a change touching ids.
func (a *Aggregator) Invalidate(ids []string) {
	a.cache.InvalidatePrefix(CachePrefixCounts)
	a.cache.InvalidatePrefix(CachePrefixPorts)
	a.cache.InvalidatePrefix(CachePrefixCascade)
	a.cache.InvalidatePrefix(CachePrefixChain)
	for _, id := range ids {
		a.cache.InvalidatePrefix(CachePrefixPower + id)
	}
}
