package integrate

import (
	"math"

	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/region"
)

// PixelSum is the simplest integrator: sum every peak-shell pixel,
// subtract the background-shell mean scaled to the peak-shell pixel
// count, and propagate Poisson variance through the subtraction.
type PixelSum struct {
	MinBackgroundPixels int
}

func (PixelSum) Name() string { return "pixel-sum" }

func (p PixelSum) Compute(events []Event, r *region.Region) ComputeResult {
	c := classify(events, r)
	if c.bkgN < p.minBackgroundPixels() {
		return ComputeResult{Rejection: peak.TooFewPoints}
	}
	bkgMean, bkgVar := c.backgroundEstimate()
	intensity := c.peakSum - bkgMean
	sigma := math.Sqrt(math.Max(c.peakSum, 0) + bkgVar)

	result := ComputeResult{
		Intensity:       intensity,
		Sigma:           sigma,
		Background:      bkgMean,
		BackgroundSigma: math.Sqrt(bkgVar),
	}
	if intensity < 0 {
		result.Rejection = peak.IntegrationFailure
	}
	return result
}

func (p PixelSum) minBackgroundPixels() int {
	if p.MinBackgroundPixels <= 0 {
		return 5
	}
	return p.MinBackgroundPixels
}
