package topology

import (
	"testing"

	"fibermap/core-go/internal/optical"
)

func TestCompute_ExampleChain(t *testing.T) {
	snap := exampleGraph(t).Snapshot()
	m := DefaultPowerModel()
	got := m.ComputeMany(snap, []string{"olt", "odc", "odp-8", "onu-1", "odc-s"})

	approx(t, "olt output", got["olt"].OutputPowerDBm, 2.0)
	approx(t, "odc output", got["odc"].OutputPowerDBm, -3.8)
	approx(t, "odc port (pass-through)", got["odc"].PortPowerDBm, -3.8)
	approx(t, "odp output", got["odp-8"].OutputPowerDBm, -14.3)
	approx(t, "odp port (divided)", got["odp-8"].PortPowerDBm, -1.7875)
	approx(t, "onu input", *got["onu-1"].InputPowerDBm, -1.7875)
	approx(t, "standalone odc fed by pon 1", got["odc-s"].OutputPowerDBm, -3.8)
}

func TestCompute_FibreODCModel(t *testing.T) {
	snap := exampleGraph(t).Snapshot()
	m := DefaultPowerModel()
	m.ODCModel = ODCModelFiber
	r, err := m.Compute(snap, "odc")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	approx(t, "odc at 0km", r.OutputPowerDBm, 2.0)
}

func TestCompute_PassThroughODPPolicy(t *testing.T) {
	snap := exampleGraph(t).Snapshot()
	m := DefaultPowerModel()
	m.ODPPortPolicy = optical.PortPolicyPassThrough
	r, _ := m.Compute(snap, "odp-8")
	approx(t, "odp port", r.PortPowerDBm, -14.3)
}

func TestCompute_CustomSplitterAndCascade(t *testing.T) {
	snap := exampleGraph(t).Snapshot()
	m := DefaultPowerModel()
	got := m.ComputeMany(snap, []string{"odp-c", "odp-x"})

	parent := got["odp-c"]
	approx(t, "aggregate output", parent.OutputPowerDBm, -10.8)
	if v := optical.Round2(parent.PortPowerDBm); v != -10.79 {
		t.Fatalf("expected -10.79 dBm on the 20%% leg, got %v", v)
	}
	if parent.CascadePowerDBm == nil {
		t.Fatalf("expected a cascade leg reading")
	}
	if v := optical.Round2(*parent.CascadePowerDBm); v != -4.77 {
		t.Fatalf("expected -4.77 dBm on the 80%% leg, got %v", v)
	}

	child := got["odp-x"]
	approx(t, "cascade child input", *child.InputPowerDBm, *parent.CascadePowerDBm)

	in := optical.DBmToMilliwatt(*parent.InputPowerDBm)
	out := optical.DBmToMilliwatt(parent.PortPowerDBm) + optical.DBmToMilliwatt(*parent.CascadePowerDBm)
	if out > in*(1+1e-9) {
		t.Fatalf("legs carry %v mW, more than the %v mW entering", out, in)
	}
}

func TestCompute_ServerWithoutPortsUsesDefaultLaunch(t *testing.T) {
	g := NewGraph()
	mustInsert(t, g, server("srv", nil))
	mustInsert(t, g, odc("odc", "srv", 8))
	r, err := DefaultPowerModel().Compute(g.Snapshot(), "odc")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	approx(t, "odc", r.OutputPowerDBm, 2.0-optical.ODCFixedOffsetDB)
}

func TestCompute_NonOpticalKinds(t *testing.T) {
	g := NewGraph()
	mustInsert(t, g, Item{ID: "mt", Kind: KindMikrotik, Mikrotik: &MikrotikConfig{Host: "10.0.0.1"}})
	r, err := DefaultPowerModel().Compute(g.Snapshot(), "mt")
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if r.Optical || r.Quality != "" {
		t.Fatalf("expected a non-optical reading, got %+v", r)
	}
}

func TestParseODCModel(t *testing.T) {
	if ParseODCModel("fiber") != ODCModelFiber {
		t.Fatalf("expected fiber")
	}
	if ParseODCModel("whatever") != ODCModelFixedOffset {
		t.Fatalf("expected fixed offset fallback")
	}
}
