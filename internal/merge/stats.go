package merge

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// rFactors computes R_merge, R_meas and R_pim over a set
// of merged peaks, using gonum/stat-free plain summation since these are
// simple normalised sums rather than a statistical estimator gonum
// exposes directly.
func rFactors(mergedPeaks []*MergedPeak) (rMerge, rMeas, rPim float64) {
	var sumAbsMerge, sumAbsMeas, sumAbsPim, denom float64
	for _, mp := range mergedPeaks {
		n := len(mp.Measurements)
		if n == 0 {
			continue
		}
		var sumAbs float64
		for _, meas := range mp.Measurements {
			sumAbs += math.Abs(meas.Intensity - mp.Intensity)
			denom += meas.Intensity
		}
		sumAbsMerge += sumAbs
		if n > 1 {
			sumAbsMeas += math.Sqrt(float64(n)/float64(n-1)) * sumAbs
			sumAbsPim += math.Sqrt(1/float64(n-1)) * sumAbs
		}
	}
	if denom == 0 {
		return 0, 0, 0
	}
	return sumAbsMerge / denom, sumAbsMeas / denom, sumAbsPim / denom
}

// ccHalf computes the split-half correlation CC1/2: each
// merged peak's measurements are split by parity of their order within
// the group (a deterministic stand-in for a random half-split, since
// this module never calls into a nondeterministic RNG), the two halves'
// per-reflection means are collected across every merged peak with
// contributions on both sides, and CC1/2 is their Pearson correlation.
func ccHalf(mergedPeaks []*MergedPeak) float64 {
	var half1, half2 []float64
	for _, mp := range mergedPeaks {
		var sum1, sum2 float64
		var n1, n2 int
		for i, meas := range mp.Measurements {
			if i%2 == 0 {
				sum1 += meas.Intensity
				n1++
			} else {
				sum2 += meas.Intensity
				n2++
			}
		}
		if n1 == 0 || n2 == 0 {
			continue
		}
		half1 = append(half1, sum1/float64(n1))
		half2 = append(half2, sum2/float64(n2))
	}
	if len(half1) < 2 {
		return 0
	}
	cc := stat.Correlation(half1, half2, nil)
	if math.IsNaN(cc) {
		return 0
	}
	return cc
}

// ccStar converts a split-half correlation into the predicted
// true-data correlation CC* = sqrt(2*CC1/2 / (1+CC1/2)).
func ccStar(ccHalf float64) float64 {
	denom := 1 + ccHalf
	num := 2 * ccHalf
	if denom <= 0 || num/denom < 0 {
		return 0
	}
	return math.Sqrt(num / denom)
}
