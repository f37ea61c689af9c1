package topology

import (
	"fmt"
	"sort"

	"fibermap/core-go/internal/optical"
)

type ODCModel string

const (
	// ODCModelFixedOffset subtracts optical.ODCFixedOffsetDB from the feeding power (map view).
	ODCModelFixedOffset ODCModel = "fixed_offset"
	// ODCModelFiber applies only fibre attenuation over DistanceKm.
	ODCModelFiber ODCModel = "fiber"
)

func ParseODCModel(raw string) ODCModel {
	if ODCModel(raw) == ODCModelFiber {
		return ODCModelFiber
	}
	return ODCModelFixedOffset
}

// PowerModel selects the formulas used when walking the tree.
type PowerModel struct {
	FiberLossPerKm   float64
	ODCModel         ODCModel
	ODCPortPolicy    optical.PortPolicy
	ODPPortPolicy    optical.PortPolicy
	DefaultLaunchDBm float64
}

func DefaultPowerModel() PowerModel {
	return PowerModel{
		FiberLossPerKm:   optical.DefaultFiberLossPerKm,
		ODCModel:         ODCModelFixedOffset,
		ODCPortPolicy:    optical.PortPolicyPassThrough,
		ODPPortPolicy:    optical.PortPolicyDivided,
		DefaultLaunchDBm: 2.0,
	}
}

// Reading is the computed optical state of one item.
type Reading struct {
	ItemID          string          `json:"item_id"`
	Kind            Kind            `json:"item_type"`
	Optical         bool            `json:"optical"`
	InputPowerDBm   *float64        `json:"input_power,omitempty"`
	OutputPowerDBm  float64         `json:"output_power"`
	PortPowerDBm    float64         `json:"power_per_port"`
	CascadePowerDBm *float64        `json:"cascade_power,omitempty"`
	Quality         optical.Quality `json:"signal_quality,omitempty"`
}

// Compute evaluates one item against snap.
func (m PowerModel) Compute(snap *Snapshot, id string) (Reading, error) {
	if !snap.Has(id) {
		return Reading{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e := m.evaluator(snap)
	return e.reading(id), nil
}

// ComputeMany evaluates ids sharing one memo table.
func (m PowerModel) ComputeMany(snap *Snapshot, ids []string) map[string]Reading {
	e := m.evaluator(snap)
	out := make(map[string]Reading, len(ids))
	for _, id := range ids {
		if snap.Has(id) {
			out[id] = e.reading(id)
		}
	}
	return out
}

func (m PowerModel) evaluator(snap *Snapshot) *evaluator {
	return &evaluator{
		snap:  snap,
		model: m,
		memo:  make(map[string]Reading),
		base:  make(map[string]float64),
		busy:  make(map[string]struct{}),
	}
}

type evaluator struct {
	snap  *Snapshot
	model PowerModel
	memo  map[string]Reading
	// base is the power entering an ODP's splitter, after fibre.
	base map[string]float64
	busy map[string]struct{}
}

func (e *evaluator) reading(id string) Reading {
	if r, ok := e.memo[id]; ok {
		return r
	}
	it := e.snap.items[id]
	if _, loop := e.busy[id]; loop {
		return Reading{ItemID: id, Kind: it.Kind}
	}
	e.busy[id] = struct{}{}
	defer delete(e.busy, id)

	r := Reading{ItemID: id, Kind: it.Kind, Optical: true}
	switch it.Kind {
	case KindServer:
		r.OutputPowerDBm = e.serverLaunch(it)
		r.PortPowerDBm = r.OutputPowerDBm
	case KindOLT:
		r.OutputPowerDBm = optical.OLTOutput(it.OLT.OutputPowerDBm, it.OLT.AttenuationDB)
		r.PortPowerDBm = r.OutputPowerDBm
	case KindODC:
		in := e.input(it)
		r.InputPowerDBm = &in
		if e.model.ODCModel == ODCModelFiber {
			r.OutputPowerDBm = optical.ODCOutput(in, it.ODC.DistanceKm, e.model.FiberLossPerKm)
		} else {
			r.OutputPowerDBm = optical.ODCMapOutput(in)
		}
		r.PortPowerDBm = e.model.ODCPortPolicy.PortPower(r.OutputPowerDBm, it.ODC.PortCount)
	case KindODP:
		in := e.input(it)
		r.InputPowerDBm = &in
		c := it.ODP
		base := in - e.model.FiberLossPerKm*c.DistanceKm
		e.base[id] = base
		r.OutputPowerDBm = optical.ODPOutput(in, c.DistanceKm, e.model.FiberLossPerKm, c.UseSplitter, c.SplitterRatio)
		if leg, ok := c.OutputLeg(); c.UseSplitter && c.SplitterRatio.IsCustom() && ok {
			r.PortPowerDBm = optical.CustomRatioPortPower(base, c.SplitterRatio, leg)
			if cascade, ok := c.CascadeLeg(); ok {
				p := optical.CustomRatioPortPower(base, c.SplitterRatio, cascade)
				r.CascadePowerDBm = &p
			}
		} else {
			r.PortPowerDBm = e.model.ODPPortPolicy.PortPower(r.OutputPowerDBm, c.PortCount)
		}
	case KindONU:
		in := e.input(it)
		r.InputPowerDBm = &in
		r.OutputPowerDBm = in
		r.PortPowerDBm = in
	default:
		r.Optical = false
	}
	if r.Optical {
		r.Quality = optical.Classify(r.OutputPowerDBm)
	}
	e.memo[id] = r
	return r
}

// serverLaunch is the power on the lowest numbered PON port.
func (e *evaluator) serverLaunch(it *Item) float64 {
	if it.Server == nil || len(it.Server.PONPorts) == 0 {
		return e.model.DefaultLaunchDBm
	}
	ports := make([]int, 0, len(it.Server.PONPorts))
	for p := range it.Server.PONPorts {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return it.Server.PONPorts[ports[0]]
}

// input resolves the power feeding it from its logical parent.
func (e *evaluator) input(it *Item) float64 {
	pid := it.LogicalParentID()
	parent, ok := e.snap.items[pid]
	if !ok {
		return e.model.DefaultLaunchDBm
	}
	pr := e.reading(pid)
	switch parent.Kind {
	case KindServer:
		if it.ODC != nil && parent.Server != nil {
			if p, ok := parent.Server.PONPorts[it.ODC.ServerPONPort]; ok {
				return p
			}
		}
		return pr.OutputPowerDBm
	case KindODC:
		return pr.PortPowerDBm
	case KindODP:
		pc := parent.ODP
		if it.ODP != nil && it.ODP.ParentODPPort != nil && pc.UseSplitter && pc.SplitterRatio.IsCustom() {
			return optical.CustomRatioPortPower(e.base[pid], pc.SplitterRatio, *it.ODP.ParentODPPort)
		}
		if it.Kind == KindONU {
			return pr.PortPowerDBm
		}
		return pr.OutputPowerDBm
	case KindOLT:
		return pr.OutputPowerDBm
	default:
		return e.model.DefaultLaunchDBm
	}
}
