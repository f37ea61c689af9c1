package optical

import "math"

const (
	// ODCFixedOffsetDB is the flat loss the map view applies between an OLT and an ODC.
	ODCFixedOffsetDB = 5.8
	// DefaultFiberLossPerKm is a typical G.652 figure at 1490nm.
	DefaultFiberLossPerKm = 0.35
)

// Valid rejects NaN and infinities. The calculator itself never checks its inputs.
func Valid(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// OLTOutput is the launch power after the OLT's configured attenuation.
func OLTOutput(outputPowerDBm, attenuationDB float64) float64 {
	return outputPowerDBm - attenuationDB
}

// ODCOutput is the general fibre model: an ODC adds no splitter cost of its own.
func ODCOutput(parentPowerDBm, distanceKm, fiberLossPerKm float64) float64 {
	return parentPowerDBm - fiberLossPerKm*distanceKm
}

// ODCMapOutput is the simplified model used by the map view, a fixed offset from the OLT.
func ODCMapOutput(oltOutputDBm float64) float64 {
	return oltOutputDBm - ODCFixedOffsetDB
}

// ODPOutput is the node output after fibre and, when enabled, the splitter's aggregate loss.
func ODPOutput(parentPowerDBm, distanceKm, fiberLossPerKm float64, useSplitter bool, ratio Ratio) float64 {
	out := parentPowerDBm - fiberLossPerKm*distanceKm
	if useSplitter {
		out -= LossFor(ratio)
	}
	return out
}

// DividedPortPower is output/ports, the per-port figure ODP splitters have always reported.
// Port counts below one are treated as one.
func DividedPortPower(outputDBm float64, portCount int) float64 {
	if portCount < 1 {
		portCount = 1
	}
	return outputDBm / float64(portCount)
}

// PassThroughPortPower reports the node output on every port, as ODCs do.
func PassThroughPortPower(outputDBm float64) float64 {
	return outputDBm
}

// CustomRatioPortPower is the power on the selected leg of an asymmetric coupler.
func CustomRatioPortPower(baseDBm float64, ratio Ratio, selectedLeg int) float64 {
	return baseDBm - PortLossFor(ratio, selectedLeg)
}

// PortPolicy picks between the two per-port formulas.
type PortPolicy string

const (
	PortPolicyDivided     PortPolicy = "divided"
	PortPolicyPassThrough PortPolicy = "passthrough"
)

// ParsePortPolicy defaults to fallback for anything unrecognised.
func ParsePortPolicy(raw string, fallback PortPolicy) PortPolicy {
	switch PortPolicy(raw) {
	case PortPolicyDivided, PortPolicyPassThrough:
		return PortPolicy(raw)
	default:
		return fallback
	}
}

// PortPower applies the policy.
func (p PortPolicy) PortPower(outputDBm float64, portCount int) float64 {
	if p == PortPolicyDivided {
		return DividedPortPower(outputDBm, portCount)
	}
	return PassThroughPortPower(outputDBm)
}

// DBmToMilliwatt converts a logarithmic level to linear power.
func DBmToMilliwatt(dBm float64) float64 {
	return math.Pow(10, dBm/10)
}

// MilliwattToDBm converts linear power to dBm.
func MilliwattToDBm(mw float64) float64 {
	return 10 * math.Log10(mw)
}

// Round2 rounds to two decimals for display.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
