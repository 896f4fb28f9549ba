package scoring

import (
	"math"
	"sort"
)

// medianFloat64 returns the median of vals, sorting it in place.
func medianFloat64(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 0 {
		return (vals[n/2-1] + vals[n/2]) / 2
	}
	return vals[n/2]
}

// robust holds the median, median absolute deviation and mean absolute
// deviation around the median of a cohort.
type robust struct {
	median float64
	mad    float64
	meanAD float64
}

// meanADScale converts a mean absolute deviation to the MAD-equivalent spread
// of a normal distribution.
const meanADScale = 1.253314

func newRobust(vals []float64) robust {
	if len(vals) == 0 {
		return robust{}
	}
	cp := append([]float64(nil), vals...)
	median := medianFloat64(cp)
	dev := make([]float64, len(vals))
	var sum float64
	for i, v := range vals {
		dev[i] = math.Abs(v - median)
		sum += dev[i]
	}
	return robust{median: median, meanAD: sum / float64(len(vals)), mad: medianFloat64(dev)}
}

// modZ is the modified z-score 0.6745*(x-median)/MAD. When more than half the
// cohort sits on the median (MAD 0) it uses (x-median)/(1.253314*meanAD), and
// when the cohort has no spread at all it falls back to the relative distance
// from the median.
func (r robust) modZ(x float64) float64 {
	switch {
	case r.mad > 0:
		return 0.6745 * (x - r.median) / r.mad
	case r.meanAD > 0:
		return (x - r.median) / (meanADScale * r.meanAD)
	case r.median > 0:
		return (x - r.median) / r.median
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
