package optical

// Quality is a coarse signal grade derived from received power.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
)

const (
	excellentFloorDBm = -20.0
	goodFloorDBm      = -25.0
	fairFloorDBm      = -27.0
)

// Classify grades a power level. Each band includes its lower bound.
func Classify(dBm float64) Quality {
	switch {
	case dBm >= excellentFloorDBm:
		return QualityExcellent
	case dBm >= goodFloorDBm:
		return QualityGood
	case dBm >= fairFloorDBm:
		return QualityFair
	default:
		return QualityPoor
	}
}
