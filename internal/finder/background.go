package finder

import (
	"math"

	"github.com/openhkl-project/ohkl/internal/dataset"
)

// integralImage is a summed-area table over a frame's counts, letting the
// annular background kernel evaluate any axis-aligned box sum in O(1).
type integralImage struct {
	nrows, ncols int
	sum          []float64 // (nrows+1) x (ncols+1)
}

func newIntegralImage(frame dataset.Frame) *integralImage {
	img := &integralImage{nrows: frame.NRows, ncols: frame.NCols, sum: make([]float64, (frame.NRows+1)*(frame.NCols+1))}
	stride := frame.NCols + 1
	for r := 0; r < frame.NRows; r++ {
		var rowSum float64
		for c := 0; c < frame.NCols; c++ {
			rowSum += float64(frame.At(r, c))
			img.sum[(r+1)*stride+(c+1)] = img.sum[r*stride+(c+1)] + rowSum
		}
	}
	return img
}

// boxSum returns the sum of counts over rows [r0,r1) and cols [c0,c1),
// clipped to the frame bounds.
func (img *integralImage) boxSum(r0, r1, c0, c1 int) (sum float64, n int) {
	r0 = clamp(r0, 0, img.nrows)
	r1 = clamp(r1, 0, img.nrows)
	c0 = clamp(c0, 0, img.ncols)
	c1 = clamp(c1, 0, img.ncols)
	if r1 <= r0 || c1 <= c0 {
		return 0, 0
	}
	stride := img.ncols + 1
	s := img.sum[r1*stride+c1] - img.sum[r0*stride+c1] - img.sum[r1*stride+c0] + img.sum[r0*stride+c0]
	return s, (r1 - r0) * (c1 - c0)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// annularBackground estimates the mean and standard deviation of the
// square ring between innerRadius and outerRadius around (row,col),
// excluding the inner square, using the Poisson approximation
// stddev = sqrt(mean) for photon-counting detectors.
func annularBackground(img *integralImage, row, col, innerRadius, outerRadius int) (mean, stddev float64) {
	outerSum, outerN := img.boxSum(row-outerRadius, row+outerRadius+1, col-outerRadius, col+outerRadius+1)
	innerSum, innerN := img.boxSum(row-innerRadius, row+innerRadius+1, col-innerRadius, col+innerRadius+1)
	ringSum := outerSum - innerSum
	ringN := outerN - innerN
	if ringN <= 0 {
		return 0, 1
	}
	mean = ringSum / float64(ringN)
	return mean, math.Sqrt(math.Max(mean, 1e-9))
}
