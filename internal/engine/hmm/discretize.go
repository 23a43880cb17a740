package hmm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DiscretizationScheme names the bucketing the emission matrix is defined
// over. Stored with every trained model so inference and training can
// never silently disagree on symbol meaning.
const DiscretizationScheme = "ret_tercile_x_vol_median_6"

const (
	// NumSymbols is the observation alphabet size: 3 return buckets
	// (down, flat, up) crossed with 2 volatility buckets (low, high).
	NumSymbols = 6

	// volWindow is the rolling window for the local volatility estimate.
	volWindow = 10

	// retBand is the half-width, in units of the series stddev, of the
	// "flat" return bucket.
	retBand = 0.43 // ~tercile split for a normal distribution
)

// Discretize maps a return series onto observation symbols. The first
// volWindow observations are consumed warming up the rolling volatility,
// so the output is len(returns)-volWindow symbols.
func Discretize(returns []float64) []int {
	if len(returns) <= volWindow {
		return nil
	}

	sigma := math.Sqrt(stat.Variance(returns, nil))
	if sigma == 0 {
		sigma = 1 // degenerate series: every return lands in "flat"
	}

	vols := rollingVol(returns, volWindow)
	medianVol := median(vols)

	symbols := make([]int, 0, len(vols))
	for i, v := range vols {
		r := returns[i+volWindow]
		retIdx := 1 // flat
		switch {
		case r < -retBand*sigma:
			retIdx = 0
		case r > retBand*sigma:
			retIdx = 2
		}
		volIdx := 0
		if v > medianVol {
			volIdx = 1
		}
		symbols = append(symbols, volIdx*3+retIdx)
	}
	return symbols
}

// rollingVol returns the trailing stddev for each position past the warmup.
func rollingVol(returns []float64, window int) []float64 {
	out := make([]float64, 0, len(returns)-window)
	for i := window; i < len(returns); i++ {
		out = append(out, math.Sqrt(stat.Variance(returns[i-window:i], nil)))
	}
	return out
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
