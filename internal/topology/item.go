package topology

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"fibermap/core-go/internal/optical"
)

type Kind string

const (
	KindServer   Kind = "server"
	KindOLT      Kind = "olt"
	KindODC      Kind = "odc"
	KindODP      Kind = "odp"
	KindONU      Kind = "onu"
	KindMikrotik Kind = "mikrotik"
)

var allKinds = []Kind{KindServer, KindOLT, KindODC, KindODP, KindONU, KindMikrotik}

// ParseKind is case-insensitive.
func ParseKind(raw string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range allKinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Passive kinds carry no telemetry of their own.
func (k Kind) Passive() bool {
	return k == KindODC || k == KindODP
}

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

func ParseStatus(raw string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusOnline:
		return StatusOnline
	case StatusOffline:
		return StatusOffline
	default:
		return StatusUnknown
	}
}

// DefaultPortCount applies to ODCs and ODPs saved without a port count.
const DefaultPortCount = 8

// Item is one node of the network tree. Exactly one of the config pointers is set and it
// matches Kind.
type Item struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Kind      Kind    `json:"item_type"`
	ParentID  *string `json:"parent_id,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Status    Status  `json:"status"`

	Server   *ServerConfig   `json:"-"`
	OLT      *OLTConfig      `json:"-"`
	ODC      *ODCConfig      `json:"-"`
	ODP      *ODPConfig      `json:"-"`
	ONU      *ONUConfig      `json:"-"`
	Mikrotik *MikrotikConfig `json:"-"`
}

type ServerConfig struct {
	ISPLink          string          `json:"isp_link,omitempty" yaml:"isp_link,omitempty"`
	MikrotikDeviceID *string         `json:"mikrotik_device_id,omitempty" yaml:"mikrotik_device_id,omitempty"`
	OLTLink          string          `json:"olt_link,omitempty" yaml:"olt_link,omitempty"`
	PONPorts         map[int]float64 `json:"pon_ports,omitempty" yaml:"pon_ports,omitempty"`
}

type OLTConfig struct {
	OutputPowerDBm float64 `json:"output_power" yaml:"output_power"`
	AttenuationDB  float64 `json:"attenuation" yaml:"attenuation"`
	OLTLink        string  `json:"olt_link,omitempty" yaml:"olt_link,omitempty"`
}

type ODCConfig struct {
	// ServerID links a standalone ODC to the server owning its PON port.
	ServerID           *string  `json:"server_id,omitempty" yaml:"server_id,omitempty"`
	ServerPONPort      int      `json:"server_pon_port,omitempty" yaml:"server_pon_port,omitempty"`
	PortCount          int      `json:"port_count,omitempty" yaml:"port_count,omitempty"`
	DistanceKm         float64  `json:"distance_km,omitempty" yaml:"distance_km,omitempty"`
	CalculatedPowerDBm *float64 `json:"calculated_power,omitempty" yaml:"calculated_power,omitempty"`
}

type ODPConfig struct {
	ParentODCPort         *int            `json:"parent_odc_port,omitempty" yaml:"parent_odc_port,omitempty"`
	ParentODPPort         *int            `json:"parent_odp_port,omitempty" yaml:"parent_odp_port,omitempty"`
	PortCount             int             `json:"port_count,omitempty" yaml:"port_count,omitempty"`
	UseSplitter           bool            `json:"use_splitter" yaml:"use_splitter"`
	SplitterRatio         optical.Ratio   `json:"splitter_ratio,omitempty" yaml:"splitter_ratio,omitempty"`
	CustomRatioOutputPort *Leg            `json:"custom_ratio_output_port,omitempty" yaml:"custom_ratio_output_port,omitempty"`
	DistanceKm            float64         `json:"distance_km,omitempty" yaml:"distance_km,omitempty"`
	PortRxPower           map[int]float64 `json:"port_rx_power,omitempty" yaml:"port_rx_power,omitempty"`
	PortSerialNumber      map[int]string  `json:"port_serial_number,omitempty" yaml:"port_serial_number,omitempty"`
	PortDeviceID          map[int]string  `json:"port_device_id,omitempty" yaml:"port_device_id,omitempty"`
	PortStatus            map[int]Status  `json:"port_status,omitempty" yaml:"port_status,omitempty"`
	CalculatedPowerDBm    *float64        `json:"calculated_power,omitempty" yaml:"calculated_power,omitempty"`
}

type ONUConfig struct {
	GenieACSDeviceID string `json:"genieacs_device_id,omitempty" yaml:"genieacs_device_id,omitempty"`
	ODPPort          int    `json:"odp_port,omitempty" yaml:"odp_port,omitempty"`
	CustomerName     string `json:"customer_name,omitempty" yaml:"customer_name,omitempty"`
}

type MikrotikConfig struct {
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	DeviceID string `json:"device_id,omitempty" yaml:"device_id,omitempty"`
}

// Leg is a custom splitter output leg in percent. It accepts 20, "20" and "20%".
type Leg int

func (l *Leg) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*l = Leg(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("custom ratio output port: %w", err)
	}
	return l.parse(s)
}

func (l *Leg) UnmarshalYAML(value *yaml.Node) error {
	return l.parse(value.Value)
}

func (l *Leg) parse(s string) error {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("custom ratio output port %q: %w", s, err)
	}
	*l = Leg(n)
	return nil
}

// OutputLeg returns the selected leg of a custom splitter.
func (c *ODPConfig) OutputLeg() (int, bool) {
	if c == nil || c.CustomRatioOutputPort == nil {
		return 0, false
	}
	return int(*c.CustomRatioOutputPort), true
}

// CascadeLeg is the leg left free for a child ODP, if the splitter is custom.
func (c *ODPConfig) CascadeLeg() (int, bool) {
	if c == nil || !c.UseSplitter || !c.SplitterRatio.IsCustom() {
		return 0, false
	}
	selected, ok := c.OutputLeg()
	if !ok {
		return 0, false
	}
	return optical.UnusedLeg(c.SplitterRatio, selected)
}

// LogicalParentID is ParentID, or the owning server for a standalone ODC.
func (it Item) LogicalParentID() string {
	if it.ParentID != nil && *it.ParentID != "" {
		return *it.ParentID
	}
	if it.ODC != nil && it.ODC.ServerID != nil {
		return *it.ODC.ServerID
	}
	return ""
}

// ParentIDs lists every id this item hangs from, through either linkage.
func (it Item) ParentIDs() []string {
	var out []string
	if it.ParentID != nil && *it.ParentID != "" {
		out = append(out, *it.ParentID)
	}
	if it.ODC != nil && it.ODC.ServerID != nil && *it.ODC.ServerID != "" {
		if len(out) == 0 || out[0] != *it.ODC.ServerID {
			out = append(out, *it.ODC.ServerID)
		}
	}
	return out
}

// CalculatedPower returns the cached power of an ODC or ODP.
func (it Item) CalculatedPower() (float64, bool) {
	switch {
	case it.ODC != nil && it.ODC.CalculatedPowerDBm != nil:
		return *it.ODC.CalculatedPowerDBm, true
	case it.ODP != nil && it.ODP.CalculatedPowerDBm != nil:
		return *it.ODP.CalculatedPowerDBm, true
	default:
		return 0, false
	}
}

// SetCalculatedPower stores the cached power on ODCs and ODPs; other kinds ignore it.
func (it *Item) SetCalculatedPower(dBm float64) {
	v := optical.Round2(dBm)
	switch {
	case it.ODC != nil:
		it.ODC.CalculatedPowerDBm = &v
	case it.ODP != nil:
		it.ODP.CalculatedPowerDBm = &v
	}
}

// PortCount of an ODC or ODP, zero for other kinds.
func (it Item) PortCount() int {
	switch {
	case it.ODC != nil:
		return it.ODC.PortCount
	case it.ODP != nil:
		return it.ODP.PortCount
	default:
		return 0
	}
}

// Clone deep-copies the item so snapshot contents are never shared with callers.
func (it Item) Clone() Item {
	out := it
	out.ParentID = cloneString(it.ParentID)
	if it.Server != nil {
		c := *it.Server
		c.MikrotikDeviceID = cloneString(it.Server.MikrotikDeviceID)
		c.PONPorts = cloneMap(it.Server.PONPorts)
		out.Server = &c
	}
	if it.OLT != nil {
		c := *it.OLT
		out.OLT = &c
	}
	if it.ODC != nil {
		c := *it.ODC
		c.ServerID = cloneString(it.ODC.ServerID)
		c.CalculatedPowerDBm = clonePtr(it.ODC.CalculatedPowerDBm)
		out.ODC = &c
	}
	if it.ODP != nil {
		c := *it.ODP
		c.ParentODCPort = clonePtr(it.ODP.ParentODCPort)
		c.ParentODPPort = clonePtr(it.ODP.ParentODPPort)
		c.CustomRatioOutputPort = clonePtr(it.ODP.CustomRatioOutputPort)
		c.CalculatedPowerDBm = clonePtr(it.ODP.CalculatedPowerDBm)
		c.PortRxPower = cloneMap(it.ODP.PortRxPower)
		c.PortSerialNumber = cloneMap(it.ODP.PortSerialNumber)
		c.PortDeviceID = cloneMap(it.ODP.PortDeviceID)
		c.PortStatus = cloneMap(it.ODP.PortStatus)
		out.ODP = &c
	}
	if it.ONU != nil {
		c := *it.ONU
		out.ONU = &c
	}
	if it.Mikrotik != nil {
		c := *it.Mikrotik
		out.Mikrotik = &c
	}
	return out
}

func cloneString(s *string) *string {
	return clonePtr(s)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// StringPtr is a small helper for optional ids.
func StringPtr(s string) *string {
	return &s
}

// IntPtr is a small helper for optional ports.
func IntPtr(n int) *int {
	return &n
}

// LegPtr is a small helper for custom output legs.
func LegPtr(n int) *Leg {
	l := Leg(n)
	return &l
}
