package topology

import (
	"math"
	"testing"

	"fibermap/core-go/internal/optical"
)

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("%s: expected %.6f, got %.6f", name, want, got)
	}
}

func mustInsert(t *testing.T, g *Graph, it Item) {
	t.Helper()
	if _, err := g.Insert(it); err != nil {
		t.Fatalf("insert %s: %v", it.ID, err)
	}
}

func server(id string, ports map[int]float64) Item {
	return Item{ID: id, Name: id, Kind: KindServer, Server: &ServerConfig{PONPorts: ports}}
}

func olt(id, parent string, out float64) Item {
	return Item{ID: id, Name: id, Kind: KindOLT, ParentID: StringPtr(parent), OLT: &OLTConfig{OutputPowerDBm: out}}
}

func odc(id, parent string, ports int) Item {
	return Item{ID: id, Name: id, Kind: KindODC, ParentID: StringPtr(parent), ODC: &ODCConfig{PortCount: ports}}
}

func standaloneODC(id, serverID string, ponPort int) Item {
	return Item{ID: id, Name: id, Kind: KindODC, ODC: &ODCConfig{ServerID: StringPtr(serverID), ServerPONPort: ponPort, PortCount: 8}}
}

func odpOnODC(id, parent string, port int, ratio optical.Ratio) Item {
	return Item{ID: id, Name: id, Kind: KindODP, ParentID: StringPtr(parent), ODP: &ODPConfig{
		ParentODCPort: IntPtr(port),
		PortCount:     8,
		UseSplitter:   ratio != "",
		SplitterRatio: ratio,
	}}
}

func customODP(id, parent string, port int, ratio optical.Ratio, leg int) Item {
	it := odpOnODC(id, parent, port, ratio)
	it.ODP.CustomRatioOutputPort = LegPtr(leg)
	return it
}

func odpOnODP(id, parent string, leg int) Item {
	return Item{ID: id, Name: id, Kind: KindODP, ParentID: StringPtr(parent), ODP: &ODPConfig{
		ParentODPPort: IntPtr(leg),
		PortCount:     8,
	}}
}

func onu(id, parent string, port int) Item {
	return Item{ID: id, Name: id, Kind: KindONU, ParentID: StringPtr(parent), ONU: &ONUConfig{ODPPort: port, GenieACSDeviceID: "acs-" + id}}
}

// exampleGraph builds:
//
//	srv (pon 1 = 2.0)
//	└── olt (2.0)
//	    └── odc (4 ports)
//	        ├── odp-8   port 1, 1:8
//	        │   └── onu-1 port 1
//	        └── odp-c   port 2, 20:80 using the 20% leg
//	            └── odp-x on the 80% leg
//	odc-s  standalone, owned by srv on pon 1
func exampleGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	mustInsert(t, g, server("srv", map[int]float64{1: 2.0}))
	mustInsert(t, g, olt("olt", "srv", 2.0))
	mustInsert(t, g, odc("odc", "olt", 4))
	mustInsert(t, g, odpOnODC("odp-8", "odc", 1, optical.Ratio1x8))
	mustInsert(t, g, onu("onu-1", "odp-8", 1))
	mustInsert(t, g, customODP("odp-c", "odc", 2, optical.Ratio20x80, 20))
	mustInsert(t, g, odpOnODP("odp-x", "odp-c", 80))
	mustInsert(t, g, standaloneODC("odc-s", "srv", 1))
	return g
}
