package status

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fibermap/core-go/internal/optical"
	"fibermap/core-go/internal/topology"
)

const (
	DefaultOnlineWindow = 300 * time.Second
	DefaultFetchTimeout = 3 * time.Second

	SourceTelemetry = "telemetry"
	SourceNetwatch  = "netwatch"
)

// Telemetry is the last record a device-management system holds for one device.
type Telemetry struct {
	DeviceID    string     `json:"device_id"`
	LastInform  *time.Time `json:"last_inform,omitempty"`
	RxPower     *float64   `json:"rx_power,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
	Status      string     `json:"status,omitempty"`
}

// Probe is the last netwatch result for one host.
type Probe struct {
	Host      string    `json:"host"`
	Up        bool      `json:"up"`
	CheckedAt time.Time `json:"checked_at"`
}

// TelemetrySource returns records keyed by device id. Devices it knows nothing about are absent
// from the map.
type TelemetrySource interface {
	FetchTelemetry(ctx context.Context, deviceIDs []string) (map[string]Telemetry, error)
}

// ProbeSource returns netwatch results keyed by host.
type ProbeSource interface {
	FetchProbes(ctx context.Context, hosts []string) (map[string]Probe, error)
}

// FetchObserver is told about every batched source call; *metrics.Metrics implements it.
type FetchObserver interface {
	ObserveFetch(source string, duration time.Duration, err error)
}

// Observation is whatever the sources returned for one item. Nil fields mean no record.
type Observation struct {
	Telemetry *Telemetry
	Probe     *Probe
}

type LinkKind int

const (
	LinkNone LinkKind = iota
	LinkTelemetry
	LinkNetwatch
	LinkPassive
)

// Link says where an item's liveness comes from.
type Link struct {
	Kind LinkKind
	Key  string
}

// LinkOf picks the liveness source for an item. ONUs report through their device-management id,
// servers through the router id when set and otherwise the ISP uplink probe, OLTs through their
// management link probe, routers through the device id or host. ODCs and ODPs are passive.
func LinkOf(it topology.Item) Link {
	switch it.Kind {
	case topology.KindONU:
		if it.ONU != nil && strings.TrimSpace(it.ONU.GenieACSDeviceID) != "" {
			return Link{Kind: LinkTelemetry, Key: strings.TrimSpace(it.ONU.GenieACSDeviceID)}
		}
	case topology.KindServer:
		if it.Server == nil {
			break
		}
		if it.Server.MikrotikDeviceID != nil && strings.TrimSpace(*it.Server.MikrotikDeviceID) != "" {
			return Link{Kind: LinkTelemetry, Key: strings.TrimSpace(*it.Server.MikrotikDeviceID)}
		}
		if h := strings.TrimSpace(it.Server.ISPLink); h != "" {
			return Link{Kind: LinkNetwatch, Key: h}
		}
	case topology.KindOLT:
		if it.OLT != nil && strings.TrimSpace(it.OLT.OLTLink) != "" {
			return Link{Kind: LinkNetwatch, Key: strings.TrimSpace(it.OLT.OLTLink)}
		}
	case topology.KindMikrotik:
		if it.Mikrotik == nil {
			break
		}
		if id := strings.TrimSpace(it.Mikrotik.DeviceID); id != "" {
			return Link{Kind: LinkTelemetry, Key: id}
		}
		if h := strings.TrimSpace(it.Mikrotik.Host); h != "" {
			return Link{Kind: LinkNetwatch, Key: h}
		}
	case topology.KindODC, topology.KindODP:
		return Link{Kind: LinkPassive}
	}
	return Link{Kind: LinkNone}
}

// Options tune the resolver. Zero values take the defaults.
type Options struct {
	OnlineWindow time.Duration
	FetchTimeout time.Duration
	Now          func() time.Time
}

type Resolver struct {
	log       zerolog.Logger
	telemetry TelemetrySource
	probes    ProbeSource
	observer  FetchObserver
	opts      Options
}

// NewResolver accepts nil sources; items linked to a missing source resolve to unknown.
func NewResolver(log zerolog.Logger, telemetry TelemetrySource, probes ProbeSource, observer FetchObserver, opts Options) *Resolver {
	if opts.OnlineWindow <= 0 {
		opts.OnlineWindow = DefaultOnlineWindow
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Resolver{log: log, telemetry: telemetry, probes: probes, observer: observer, opts: opts}
}

// Resolve decides the status of a single non-passive item from what the sources returned.
// A missing record is unknown, never offline.
func (r *Resolver) Resolve(it topology.Item, obs Observation) topology.Status {
	switch LinkOf(it).Kind {
	case LinkTelemetry:
		if obs.Telemetry == nil || obs.Telemetry.LastInform == nil {
			return topology.StatusUnknown
		}
		if r.opts.Now().Sub(*obs.Telemetry.LastInform) < r.opts.OnlineWindow {
			return topology.StatusOnline
		}
		return topology.StatusOffline
	case LinkNetwatch:
		if obs.Probe == nil {
			return topology.StatusUnknown
		}
		if obs.Probe.Up {
			return topology.StatusOnline
		}
		return topology.StatusOffline
	default:
		return topology.StatusUnknown
	}
}

// Aggregate folds descendant ONU statuses into a passive node's status: online if any ONU is
// online, offline if at least one is offline and none online, unknown otherwise.
func Aggregate(onus []topology.Status) topology.Status {
	offline := false
	for _, s := range onus {
		switch s {
		case topology.StatusOnline:
			return topology.StatusOnline
		case topology.StatusOffline:
			offline = true
		}
	}
	if offline {
		return topology.StatusOffline
	}
	return topology.StatusUnknown
}

// ResolveAll resolves ids against snap (every item when ids is empty) with at most one telemetry
// call and one probe call, run concurrently and each bounded by the fetch timeout. A failed or
// slow source degrades the items it serves to unknown; ResolveAll itself only fails when ctx is
// done.
func (r *Resolver) ResolveAll(ctx context.Context, snap *topology.Snapshot, ids []string) (map[string]topology.Status, error) {
	if len(ids) == 0 {
		for _, it := range snap.Items() {
			ids = append(ids, it.ID)
		}
	}

	items := make(map[string]topology.Item)
	passive := make(map[string][]string)
	var want []string
	for _, id := range ids {
		it, ok := snap.Item(id)
		if !ok {
			continue
		}
		items[id] = it
		want = append(want, id)
		if LinkOf(it).Kind == LinkPassive {
			for _, o := range snap.Descendants(id, topology.KindONU) {
				items[o.ID] = o
				passive[id] = append(passive[id], o.ID)
			}
		}
	}

	deviceSet := map[string]struct{}{}
	hostSet := map[string]struct{}{}
	for _, it := range items {
		switch l := LinkOf(it); l.Kind {
		case LinkTelemetry:
			deviceSet[l.Key] = struct{}{}
		case LinkNetwatch:
			hostSet[l.Key] = struct{}{}
		}
	}

	telemetry, probes, err := r.fetch(ctx, sortedKeys(deviceSet), sortedKeys(hostSet))
	if err != nil {
		return nil, err
	}

	leaf := func(it topology.Item) topology.Status {
		var obs Observation
		l := LinkOf(it)
		switch l.Kind {
		case LinkTelemetry:
			if t, ok := telemetry[l.Key]; ok {
				obs.Telemetry = &t
			}
		case LinkNetwatch:
			if p, ok := probes[l.Key]; ok {
				obs.Probe = &p
			}
		}
		return r.Resolve(it, obs)
	}

	out := make(map[string]topology.Status, len(want))
	for _, id := range want {
		it := items[id]
		if LinkOf(it).Kind != LinkPassive {
			out[id] = leaf(it)
			continue
		}
		statuses := make([]topology.Status, 0, len(passive[id]))
		for _, oid := range passive[id] {
			statuses = append(statuses, leaf(items[oid]))
		}
		out[id] = Aggregate(statuses)
	}
	return out, nil
}

func (r *Resolver) fetch(ctx context.Context, devices, hosts []string) (map[string]Telemetry, map[string]Probe, error) {
	var (
		mu        sync.Mutex
		telemetry map[string]Telemetry
		probes    map[string]Probe
	)

	var g errgroup.Group
	if len(devices) > 0 && r.telemetry != nil {
		g.Go(func() error {
			res, err := r.bounded(ctx, SourceTelemetry, func(ctx context.Context) (any, error) {
				return r.telemetry.FetchTelemetry(ctx, devices)
			})
			if err == nil {
				mu.Lock()
				telemetry = res.(map[string]Telemetry)
				mu.Unlock()
			}
			return nil
		})
	}
	if len(hosts) > 0 && r.probes != nil {
		g.Go(func() error {
			res, err := r.bounded(ctx, SourceNetwatch, func(ctx context.Context) (any, error) {
				return r.probes.FetchProbes(ctx, hosts)
			})
			if err == nil {
				mu.Lock()
				probes = res.(map[string]Probe)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return telemetry, probes, nil
}

// bounded runs fn under the fetch timeout and reports to the observer. The result is dropped if the
// deadline passes first, even when fn ignores its context.
func (r *Resolver) bounded(ctx context.Context, source string, fn func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.FetchTimeout)
	defer cancel()

	type result struct {
		v   any
		err error
	}
	start := time.Now()
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = result{err: ctx.Err()}
	}
	if r.observer != nil {
		r.observer.ObserveFetch(source, time.Since(start), res.err)
	}
	if res.err != nil {
		r.log.Warn().Err(res.err).Str("source", source).Msg("status fetch failed, affected items resolve to unknown")
	}
	return res.v, res.err
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ParseRxPower reads a received-power string as reported by device-management systems. "N/A",
// empty strings and anything non-numeric are nil.
func ParseRxPower(raw string) *float64 {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "dBm"), "dbm")
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "n/a") {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !optical.Valid(v) {
		return nil
	}
	return &v
}
