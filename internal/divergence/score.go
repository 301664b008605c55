package divergence

import (
	"math"

	"altregime/config"
	"altregime/internal/pivot"
)

// Score lookback: pairs whose right pivot is further back than this many
// bars bottom out at zero recency.
const scoreLookback = 320

// score rates a candidate in [0,1]: the average of the normalized
// indicator-divergence magnitude and the freshness of the right pivot.
// Holding everything else fixed, a larger indicator gap never scores
// lower — the tunables only scale, they cannot break that ordering.
func score(series []float64, iL, iR pivot.Point, lastIdx int, s config.Settings) float64 {
	magnitude := 0.0
	if sd := stddev(series); sd > 0 {
		magnitude = clamp01(math.Abs(iR.Value-iL.Value) / (2 * sd))
	}
	recency := clamp01(1.0 - float64(lastIdx-iR.Index)/float64(scoreLookback))
	return (magnitude + recency) / 2
}

// stddev is the population standard deviation over the defined (non-NaN)
// values of a series.
func stddev(series []float64) float64 {
	n := 0
	sum := 0.0
	for _, v := range series {
		if math.IsNaN(v) {
			continue
		}
		n++
		sum += v
	}
	if n < 2 {
		return 0
	}
	mean := sum / float64(n)
	varSum := 0.0
	for _, v := range series {
		if math.IsNaN(v) {
			continue
		}
		d := v - mean
		varSum += d * d
	}
	return math.Sqrt(varSum / float64(n))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
