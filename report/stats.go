package report

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ColumnStats is the summary computed for one numeric column.
type ColumnStats struct {
	Max     float64
	Min     float64
	Average float64
	Mean    float64
	Mode    float64
	HasMode bool

	TrendDirection string
	TrendStrength  float64
}

// Trend classifies a series by its relative change from first to last value,
// as a percentage of the first. Series shorter than two values, or starting
// at zero, are reported as stable with strength 0.
func Trend(values []float64) (string, float64) {
	if len(values) < 2 || values[0] == 0 {
		return "stable", 0.0
	}
	strength := (values[len(values)-1] - values[0]) / math.Abs(values[0]) * 100
	strength = round2(strength)
	switch {
	case strength > 0.2:
		return "increasing", strength
	case strength < -0.2:
		return "decreasing", strength
	default:
		return "stable", strength
	}
}

// Compute summarizes a numeric series. The caller guarantees values is
// non-empty.
func Compute(values []float64) ColumnStats {
	mean := stat.Mean(values, nil)
	mode, hasMode := modeOf(values)
	dir, strength := Trend(values)
	return ColumnStats{
		Max:            round2(floats.Max(values)),
		Min:            round2(floats.Min(values)),
		Average:        round2(mean),
		Mean:           round2(mean),
		Mode:           round2(mode),
		HasMode:        hasMode,
		TrendDirection: dir,
		TrendStrength:  strength,
	}
}

// modeOf returns the most frequent value. A tie between distinct values means
// there is no single mode.
func modeOf(values []float64) (float64, bool) {
	counts := make(map[float64]int)
	for _, v := range values {
		counts[v]++
	}
	best, bestCount, ties := 0.0, 0, 0
	for v, c := range counts {
		switch {
		case c > bestCount:
			best, bestCount, ties = v, c, 1
		case c == bestCount:
			ties++
		}
	}
	if ties > 1 {
		return 0, false
	}
	return best, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
