package topology

import (
	"errors"
	"math"
	"testing"
	"time"

	"fibermap/core-go/internal/optical"
)

func TestNormalize_ODPDefaults(t *testing.T) {
	it := Item{ID: " odp ", Kind: "ODP", ODP: &ODPConfig{
		UseSplitter:   true,
		SplitterRatio: " 30:70 ",
		PortRxPower:   map[int]float64{0: -20, 3: -21, 9: -22},
		PortStatus:    map[int]Status{2: "ONLINE"},
	}}
	corrections, err := Normalize(&it)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if it.ID != "odp" || it.Kind != KindODP || it.Status != StatusUnknown {
		t.Fatalf("unexpected identity after normalize: %+v", it)
	}
	c := it.ODP
	if c.PortCount != DefaultPortCount {
		t.Fatalf("expected default port count, got %d", c.PortCount)
	}
	if c.SplitterRatio != optical.Ratio30x70 {
		t.Fatalf("expected trimmed ratio, got %q", c.SplitterRatio)
	}
	if leg, ok := c.OutputLeg(); !ok || leg != 30 {
		t.Fatalf("expected smaller leg 30, got %d", leg)
	}
	if len(c.PortRxPower) != 1 || c.PortRxPower[3] != -21 {
		t.Fatalf("expected only port 3 to survive, got %v", c.PortRxPower)
	}
	if c.PortStatus[2] != StatusOnline {
		t.Fatalf("expected port status to normalise, got %q", c.PortStatus[2])
	}
	if len(corrections) != 3 {
		t.Fatalf("expected 3 corrections, got %+v", corrections)
	}
}

func TestNormalize_InvalidLegFallsBackToSmaller(t *testing.T) {
	it := Item{ID: "odp", Kind: KindODP, ODP: &ODPConfig{PortCount: 4, SplitterRatio: optical.Ratio20x80, CustomRatioOutputPort: LegPtr(55)}}
	if _, err := Normalize(&it); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if leg, _ := it.ODP.OutputLeg(); leg != 20 {
		t.Fatalf("expected 20, got %d", leg)
	}

	it = Item{ID: "odp", Kind: KindODP, ODP: &ODPConfig{PortCount: 4, SplitterRatio: optical.Ratio1x4, CustomRatioOutputPort: LegPtr(20)}}
	if _, err := Normalize(&it); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if it.ODP.CustomRatioOutputPort != nil {
		t.Fatalf("expected output leg to be cleared for a symmetric ratio")
	}
}

func TestNormalize_Errors(t *testing.T) {
	cases := []struct {
		name string
		it   Item
		want error
	}{
		{"empty id", Item{Kind: KindONU}, ErrInvalidItem},
		{"unknown kind", Item{ID: "x", Kind: "router"}, ErrInvalidItem},
		{"nan coordinate", Item{ID: "x", Kind: KindONU, Latitude: math.NaN()}, ErrInvalidItem},
		{"infinite olt power", Item{ID: "x", Kind: KindOLT, OLT: &OLTConfig{OutputPowerDBm: math.Inf(1)}}, ErrInvalidItem},
		{"negative distance", Item{ID: "x", Kind: KindODC, ODC: &ODCConfig{DistanceKm: -1}}, ErrInvalidItem},
		{"config for another kind", Item{ID: "x", Kind: KindONU, ODP: &ODPConfig{}}, ErrKindMismatch},
	}
	for _, tc := range cases {
		it := tc.it
		if _, err := Normalize(&it); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestDecodeConfig(t *testing.T) {
	it := Item{ID: "odp", Kind: KindODP}
	raw := []byte(`{"parent_odc_port":2,"use_splitter":true,"splitter_ratio":"20:80","custom_ratio_output_port":"80%","port_rx_power":{"1":-19.5}}`)
	if err := DecodeConfig(&it, raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *it.ODP.ParentODCPort != 2 || *it.ODP.CustomRatioOutputPort != 80 || it.ODP.PortRxPower[1] != -19.5 {
		t.Fatalf("unexpected config: %+v", it.ODP)
	}

	enc, err := EncodeConfig(it)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back := Item{ID: "odp", Kind: KindODP}
	if err := DecodeConfig(&back, enc); err != nil {
		t.Fatalf("decode again: %v", err)
	}
	if *back.ODP.CustomRatioOutputPort != 80 {
		t.Fatalf("expected leg to survive encoding, got %v", *back.ODP.CustomRatioOutputPort)
	}

	empty := Item{ID: "onu", Kind: KindONU}
	if err := DecodeConfig(&empty, nil); err != nil || empty.ONU == nil {
		t.Fatalf("expected empty blob to yield a zero config, err=%v", err)
	}
	if err := DecodeConfig(&Item{ID: "odc", Kind: KindODC}, []byte(`{"port_count":"eight"}`)); !errors.Is(err, ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got %v", err)
	}
}

func TestCacheTTL(t *testing.T) {
	c := NewTTLCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set("power:a", 1, time.Second)
	c.Set("power:b", 2, 0)
	c.Set("counts:a", 3, time.Minute)
	if v, ok := c.Get("power:a"); !ok || v.(int) != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}

	now = now.Add(time.Second)
	if _, ok := c.Get("power:a"); ok {
		t.Fatalf("expected expiry at the deadline")
	}
	if _, ok := c.Get("power:b"); !ok {
		t.Fatalf("expected a zero ttl to never expire")
	}
	if n := c.InvalidatePrefix("power:"); n != 1 {
		t.Fatalf("expected 1 invalidated entry, got %d", n)
	}
	if c.Len() != 1 {
		t.Fatalf("expected counts entry to remain, got %d", c.Len())
	}
}
