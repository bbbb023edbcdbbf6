package abtest

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Significance is 1 minus the two-sided p-value of Welch's t-test on the
// two samples. Samples with fewer than two values carry no evidence.
func Significance(a, b []float64) float64 {
	p, ok := WelchPValue(a, b)
	if !ok {
		return 0
	}
	return 1 - p
}

// WelchPValue runs Welch's unequal-variance t-test.
func WelchPValue(a, b []float64) (float64, bool) {
	na, nb := float64(len(a)), float64(len(b))
	if na < 2 || nb < 2 {
		return 1, false
	}
	meanA, varA := stat.MeanVariance(a, nil)
	meanB, varB := stat.MeanVariance(b, nil)
	sa, sb := varA/na, varB/nb
	se := math.Sqrt(sa + sb)
	if se == 0 {
		if meanA == meanB {
			return 1, true
		}
		return 0, true
	}
	t := (meanA - meanB) / se
	df := (sa + sb) * (sa + sb) / (sa*sa/(na-1) + sb*sb/(nb-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * (1 - dist.CDF(math.Abs(t)))
	return math.Min(1, math.Max(0, p)), true
}
