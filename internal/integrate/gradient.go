package integrate

import (
	"math"

	"github.com/openhkl-project/ohkl/internal/dataset"
)

// GradientKernel selects the finite-difference stencil used to estimate
// a frame's local background gradient, which the driver uses to flag
// peaks sitting on a sloped background (HasBackgroundGradient).
type GradientKernel int

const (
	CentralDifference GradientKernel = iota
	Sobel
	Scharr
)

func kernelWeights(k GradientKernel) (gx, gy [3][3]float64) {
	switch k {
	case Sobel:
		return [3][3]float64{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}},
			[3][3]float64{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
	case Scharr:
		return [3][3]float64{{-3, 0, 3}, {-10, 0, 10}, {-3, 0, 3}},
			[3][3]float64{{-3, -10, -3}, {0, 0, 0}, {3, 10, 3}}
	default:
		return [3][3]float64{{0, 0, 0}, {-1, 0, 1}, {0, 0, 0}},
			[3][3]float64{{0, -1, 0}, {0, 0, 0}, {0, 1, 0}}
	}
}

// GradientMagnitude returns |grad(frame)| at (row, col) using the given
// kernel, clamped to the frame border.
func GradientMagnitude(frame dataset.Frame, row, col int, k GradientKernel) float64 {
	gx, gy := kernelWeights(k)
	var sx, sy float64
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			r := clampIdx(row+dr, frame.NRows)
			c := clampIdx(col+dc, frame.NCols)
			v := float64(frame.At(r, c))
			sx += gx[dr+1][dc+1] * v
			sy += gy[dr+1][dc+1] * v
		}
	}
	return math.Hypot(sx, sy)
}

func clampIdx(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

// MeanBackgroundGradient averages the gradient magnitude over a set of
// background-shell positions, used to decide HasBackgroundGradient.
func MeanBackgroundGradient(frame dataset.Frame, rows, cols []int, k GradientKernel) float64 {
	if len(rows) == 0 {
		return 0
	}
	var sum float64
	for i := range rows {
		sum += GradientMagnitude(frame, rows[i], cols[i], k)
	}
	return sum / float64(len(rows))
}
