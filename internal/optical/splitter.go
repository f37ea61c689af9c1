package optical

import (
	"math"
	"strconv"
	"strings"
)

// Ratio names a splitter configuration, either symmetric ("1:8") or percentage based ("20:80").
type Ratio string

const (
	Ratio1x2  Ratio = "1:2"
	Ratio1x4  Ratio = "1:4"
	Ratio1x8  Ratio = "1:8"
	Ratio1x16 Ratio = "1:16"
	Ratio1x32 Ratio = "1:32"
	Ratio1x64 Ratio = "1:64"

	Ratio20x80 Ratio = "20:80"
	Ratio30x70 Ratio = "30:70"
	Ratio50x50 Ratio = "50:50"
)

// FallbackRatio is used for any ratio the table does not know.
const FallbackRatio = Ratio1x8

var standardLoss = map[Ratio]float64{
	Ratio1x2:  3.5,
	Ratio1x4:  7.2,
	Ratio1x8:  10.5,
	Ratio1x16: 13.8,
	Ratio1x32: 17.1,
	Ratio1x64: 21.0,
}

// Aggregate figures for asymmetric couplers. These are what the node's own output_power uses;
// the physical leg a port sits on uses PortLossFor instead.
var customLoss = map[Ratio]float64{
	Ratio20x80: 7.0,
	Ratio30x70: 5.4,
	Ratio50x50: 3.5,
}

var standardOrder = []Ratio{Ratio1x2, Ratio1x4, Ratio1x8, Ratio1x16, Ratio1x32, Ratio1x64}
var customOrder = []Ratio{Ratio20x80, Ratio30x70, Ratio50x50}

// StandardRatios returns the symmetric ratios in increasing split count.
func StandardRatios() []Ratio {
	out := make([]Ratio, len(standardOrder))
	copy(out, standardOrder)
	return out
}

// CustomRatios returns the supported asymmetric ratios.
func CustomRatios() []Ratio {
	out := make([]Ratio, len(customOrder))
	copy(out, customOrder)
	return out
}

// NormalizeRatio trims whitespace; an empty result means "no splitter".
func NormalizeRatio(raw string) Ratio {
	return Ratio(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
}

func (r Ratio) IsStandard() bool {
	_, ok := standardLoss[r]
	return ok
}

func (r Ratio) IsCustom() bool {
	_, ok := customLoss[r]
	return ok
}

// Known reports whether the ratio has an entry in either table.
func (r Ratio) Known() bool {
	return r.IsStandard() || r.IsCustom()
}

// SplitCount is N for a 1:N ratio, 2 for a custom coupler and 0 otherwise.
func (r Ratio) SplitCount() int {
	if r.IsCustom() {
		return 2
	}
	if !r.IsStandard() {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(string(r), "1:"))
	if err != nil {
		return 0
	}
	return n
}

// LossFor returns the aggregate loss in dB. Unknown ratios fall back to 1:8.
func LossFor(r Ratio) float64 {
	if loss, ok := standardLoss[r]; ok {
		return loss
	}
	if loss, ok := customLoss[r]; ok {
		return loss
	}
	return standardLoss[FallbackRatio]
}

// Legs returns the two percentage legs of a custom ratio, in declared order.
func Legs(r Ratio) (int, int, bool) {
	if !r.IsCustom() {
		return 0, 0, false
	}
	parts := strings.SplitN(string(r), ":", 2)
	a, errA := strconv.Atoi(parts[0])
	b, errB := strconv.Atoi(parts[1])
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	return a, b, true
}

// IsLeg reports whether pct is one of the custom ratio's legs.
func IsLeg(r Ratio, pct int) bool {
	a, b, ok := Legs(r)
	return ok && (pct == a || pct == b)
}

// SmallerLeg is the default output leg when a custom ratio is configured without one.
func SmallerLeg(r Ratio) (int, bool) {
	a, b, ok := Legs(r)
	if !ok {
		return 0, false
	}
	if a <= b {
		return a, true
	}
	return b, true
}

// UnusedLeg returns the leg not consumed by selected, i.e. the one left for cascading.
// For 50:50 both legs share a value, so the other leg is also 50.
func UnusedLeg(r Ratio, selected int) (int, bool) {
	a, b, ok := Legs(r)
	if !ok {
		return 0, false
	}
	switch selected {
	case a:
		return b, true
	case b:
		return a, true
	default:
		return 0, false
	}
}

// LegLoss is 10*log10(1/fraction) for a leg given in percent.
func LegLoss(pct int) float64 {
	if pct <= 0 || pct > 100 {
		return 0
	}
	return 10 * math.Log10(100/float64(pct))
}

// PortLossFor returns the loss seen by one physical output leg. For custom ratios that is the
// per-leg figure; a leg that does not belong to the ratio falls back to the aggregate loss.
// Symmetric splitters lose the table value on every port.
func PortLossFor(r Ratio, leg int) float64 {
	if r.IsCustom() {
		if IsLeg(r, leg) {
			return LegLoss(leg)
		}
		return customLoss[r]
	}
	return LossFor(r)
}
