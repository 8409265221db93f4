package churn

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Rate returns part/total as a percentage, 0 when total is 0.
func Rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// Mean returns the arithmetic mean of xs, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// Median returns the median of xs, 0 for an empty slice. With an even
// count it is the midpoint of the two middle values. xs is not modified.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	lo := stat.Quantile(0.5, stat.Empirical, s, nil)
	if len(s)%2 == 1 {
		return lo
	}
	return (lo + s[len(s)/2]) / 2
}

// Pearson returns the correlation coefficient of xs and ys. It returns nil
// when the series differ in length, have fewer than two points, or either
// has zero variance.
func Pearson(xs, ys []float64) *float64 {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return nil
	}
	if stat.Variance(xs, nil) == 0 || stat.Variance(ys, nil) == 0 {
		return nil
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		return nil
	}
	// Clamp rounding noise so |r| never exceeds 1.
	r = math.Max(-1, math.Min(1, r))
	return &r
}

// Strength labels a correlation coefficient by its magnitude.
type Strength string

const (
	StrengthInsufficient Strength = "insufficient data"
	StrengthWeak         Strength = "weak"
	StrengthModerate     Strength = "moderate"
	StrengthStrong       Strength = "strong"
)

// StrengthOf labels r: |r| < 0.3 weak, < 0.7 moderate, otherwise strong.
func StrengthOf(r *float64) Strength {
	if r == nil {
		return StrengthInsufficient
	}
	switch a := math.Abs(*r); {
	case a < 0.3:
		return StrengthWeak
	case a < 0.7:
		return StrengthModerate
	default:
		return StrengthStrong
	}
}
