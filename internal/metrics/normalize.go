package metrics

import "math"

// MetricNames labels the entries of a normalized metrics vector, in order.
var MetricNames = []string{
	"lives_saved",
	"casualties",
	"resource_efficiency",
	"fairness",
	"sustainability",
	"public_trust",
	"infrastructure_intact",
}

// Normalize maps the seven simulation metrics onto [0,1]. Lives saved scale
// against their cap, casualties are inverted against theirs, and the five
// percentages are divided by 100. Out-of-range and NaN inputs are clamped.
func Normalize(m SimulationMetrics, cfg Config) []float64 {
	return []float64{
		clamp01(m.LivesSaved / cfg.LivesSavedCap),
		1 - clamp01(m.Casualties/cfg.CasualtiesCap),
		clamp01(m.ResourceEfficiency / 100),
		clamp01(m.Fairness / 100),
		clamp01(m.Sustainability / 100),
		clamp01(m.PublicTrust / 100),
		clamp01(m.InfrastructureIntact / 100),
	}
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
