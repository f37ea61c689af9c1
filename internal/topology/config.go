package topology

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"fibermap/core-go/internal/optical"
)

// DecodeConfig parses a raw config blob into the variant matching it.Kind. An empty blob yields
// a zero config that Normalize fills with defaults.
func DecodeConfig(it *Item, raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	it.Server, it.OLT, it.ODC, it.ODP, it.ONU, it.Mikrotik = nil, nil, nil, nil, nil, nil

	var target any
	switch it.Kind {
	case KindServer:
		it.Server = &ServerConfig{}
		target = it.Server
	case KindOLT:
		it.OLT = &OLTConfig{}
		target = it.OLT
	case KindODC:
		it.ODC = &ODCConfig{}
		target = it.ODC
	case KindODP:
		it.ODP = &ODPConfig{}
		target = it.ODP
	case KindONU:
		it.ONU = &ONUConfig{}
		target = it.ONU
	case KindMikrotik:
		it.Mikrotik = &MikrotikConfig{}
		target = it.Mikrotik
	default:
		return fmt.Errorf("%w: unknown item_type %q", ErrInvalidItem, it.Kind)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %s config: %v", ErrInvalidItem, it.Kind, err)
	}
	return nil
}

// EncodeConfig returns the JSON form of the item's config variant.
func EncodeConfig(it Item) ([]byte, error) {
	cfg := it.Config()
	if cfg == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(cfg)
}

// Config returns the active variant as an untyped value, nil if none is set.
func (it Item) Config() any {
	switch it.Kind {
	case KindServer:
		if it.Server != nil {
			return it.Server
		}
	case KindOLT:
		if it.OLT != nil {
			return it.OLT
		}
	case KindODC:
		if it.ODC != nil {
			return it.ODC
		}
	case KindODP:
		if it.ODP != nil {
			return it.ODP
		}
	case KindONU:
		if it.ONU != nil {
			return it.ONU
		}
	case KindMikrotik:
		if it.Mikrotik != nil {
			return it.Mikrotik
		}
	}
	return nil
}

func (it Item) configCount() int {
	n := 0
	for _, set := range []bool{it.Server != nil, it.OLT != nil, it.ODC != nil, it.ODP != nil, it.ONU != nil, it.Mikrotik != nil} {
		if set {
			n++
		}
	}
	return n
}

// Normalize validates identity and numeric fields and resolves missing or inconsistent config to
// documented defaults. Only identity problems and non-finite numbers are errors.
func Normalize(it *Item) ([]Correction, error) {
	it.ID = strings.TrimSpace(it.ID)
	if it.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	kind, ok := ParseKind(string(it.Kind))
	if !ok {
		return nil, fmt.Errorf("%w: unknown item_type %q", ErrInvalidItem, it.Kind)
	}
	it.Kind = kind
	if it.ParentID != nil {
		p := strings.TrimSpace(*it.ParentID)
		if p == "" {
			it.ParentID = nil
		} else {
			it.ParentID = &p
		}
	}
	if it.ParentID != nil && *it.ParentID == it.ID {
		return nil, fmt.Errorf("%w: %s is its own parent", ErrCycle, it.ID)
	}
	if !optical.Valid(it.Latitude, it.Longitude) {
		return nil, fmt.Errorf("%w: coordinates must be finite", ErrInvalidItem)
	}
	it.Name = strings.TrimSpace(it.Name)
	it.Status = ParseStatus(string(it.Status))

	if it.configCount() > 1 || (it.configCount() == 1 && it.Config() == nil) {
		return nil, fmt.Errorf("%w: config does not match item_type %s", ErrKindMismatch, it.Kind)
	}

	var out []Correction
	fix := func(field, msg string) {
		out = append(out, Correction{ItemID: it.ID, Field: field, Message: msg})
	}

	switch it.Kind {
	case KindServer:
		if it.Server == nil {
			it.Server = &ServerConfig{}
		}
		for port, p := range it.Server.PONPorts {
			if !optical.Valid(p) {
				return nil, fmt.Errorf("%w: pon port %d power must be finite", ErrInvalidItem, port)
			}
		}
	case KindOLT:
		if it.OLT == nil {
			it.OLT = &OLTConfig{}
		}
		if !optical.Valid(it.OLT.OutputPowerDBm, it.OLT.AttenuationDB) {
			return nil, fmt.Errorf("%w: olt power must be finite", ErrInvalidItem)
		}
	case KindODC:
		if it.ODC == nil {
			it.ODC = &ODCConfig{}
		}
		c := it.ODC
		if c.ServerID != nil && strings.TrimSpace(*c.ServerID) == "" {
			c.ServerID = nil
		}
		if c.PortCount <= 0 {
			c.PortCount = DefaultPortCount
			fix("port_count", fmt.Sprintf("defaulted to %d", DefaultPortCount))
		}
		if !optical.Valid(c.DistanceKm) || c.DistanceKm < 0 {
			return nil, fmt.Errorf("%w: distance must be finite and non-negative", ErrInvalidItem)
		}
	case KindODP:
		if it.ODP == nil {
			it.ODP = &ODPConfig{}
		}
		normalizeODP(it.ODP, fix)
		if !optical.Valid(it.ODP.DistanceKm) || it.ODP.DistanceKm < 0 {
			return nil, fmt.Errorf("%w: distance must be finite and non-negative", ErrInvalidItem)
		}
	case KindONU:
		if it.ONU == nil {
			it.ONU = &ONUConfig{}
		}
		if it.ONU.ODPPort < 0 {
			it.ONU.ODPPort = 0
			fix("odp_port", "negative port cleared")
		}
	case KindMikrotik:
		if it.Mikrotik == nil {
			it.Mikrotik = &MikrotikConfig{}
		}
	}
	return out, nil
}

func normalizeODP(c *ODPConfig, fix func(field, msg string)) {
	if c.PortCount <= 0 {
		c.PortCount = DefaultPortCount
		fix("port_count", fmt.Sprintf("defaulted to %d", DefaultPortCount))
	}
	c.SplitterRatio = optical.NormalizeRatio(string(c.SplitterRatio))

	if c.SplitterRatio.IsCustom() {
		leg, ok := c.OutputLeg()
		if !ok || !optical.IsLeg(c.SplitterRatio, leg) {
			smaller, _ := optical.SmallerLeg(c.SplitterRatio)
			c.CustomRatioOutputPort = LegPtr(smaller)
			fix("custom_ratio_output_port", fmt.Sprintf("set to %d%% leg of %s", smaller, c.SplitterRatio))
		}
	} else if c.CustomRatioOutputPort != nil {
		c.CustomRatioOutputPort = nil
		fix("custom_ratio_output_port", "cleared for non-custom ratio")
	}

	inRange := func(port int) bool { return port >= 1 && port <= c.PortCount }
	dropped := 0
	for port := range c.PortRxPower {
		if !inRange(port) || !optical.Valid(c.PortRxPower[port]) {
			delete(c.PortRxPower, port)
			dropped++
		}
	}
	for port := range c.PortSerialNumber {
		if !inRange(port) {
			delete(c.PortSerialNumber, port)
			dropped++
		}
	}
	for port := range c.PortDeviceID {
		if !inRange(port) {
			delete(c.PortDeviceID, port)
			dropped++
		}
	}
	for port, st := range c.PortStatus {
		if !inRange(port) {
			delete(c.PortStatus, port)
			dropped++
			continue
		}
		c.PortStatus[port] = ParseStatus(string(st))
	}
	if dropped > 0 {
		fix("port_rx_power", fmt.Sprintf("dropped %d entries outside ports 1..%d", dropped, c.PortCount))
	}
}

// alignParentPort keeps exactly one of the ODP parent ports, chosen by the parent's kind.
func alignParentPort(it *Item, parent Kind) []Correction {
	if it.ODP == nil {
		return nil
	}
	var out []Correction
	switch parent {
	case KindODC:
		if it.ODP.ParentODPPort != nil {
			it.ODP.ParentODPPort = nil
			out = append(out, Correction{ItemID: it.ID, Field: "parent_odp_port", Message: "cleared, parent is an odc"})
		}
		if it.ODP.ParentODCPort == nil {
			out = append(out, Correction{ItemID: it.ID, Field: "parent_odc_port", Message: "missing, odc port is unknown"})
		}
	case KindODP:
		if it.ODP.ParentODCPort != nil {
			it.ODP.ParentODCPort = nil
			out = append(out, Correction{ItemID: it.ID, Field: "parent_odc_port", Message: "cleared, parent is an odp"})
		}
		if it.ODP.ParentODPPort == nil {
			out = append(out, Correction{ItemID: it.ID, Field: "parent_odp_port", Message: "missing, leg of the parent odp is unknown"})
		}
	}
	return out
}
