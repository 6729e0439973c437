package integrate

import (
	"math"

	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/region"
)

// weightFunc returns the expected (non-negative, not necessarily
// normalized) profile density at a peak-shell event's position.
type weightFunc func(e Event) float64

// fitProfile implements the Kabsch profile-fitting estimator: given a
// set of peak-shell events and an expected profile shape (not
// necessarily normalized), find the intensity scale that best explains
// the background-subtracted counts in a least-squares sense, and
// propagate Poisson variance through the fit.
func fitProfile(c classified, weight weightFunc, minBackgroundPixels int) ComputeResult {
	if c.bkgN < minBackgroundPixels || len(c.peakEvents) == 0 {
		return ComputeResult{Rejection: peak.TooFewPoints}
	}
	bkgMean, bkgVar := c.backgroundEstimate()
	bkgPerPixel := bkgMean / float64(c.peakN)
	bkgVarPerPixel := bkgVar / float64(c.peakN*c.peakN)

	raw := make([]float64, len(c.peakEvents))
	var weightSum float64
	for i, e := range c.peakEvents {
		raw[i] = weight(e)
		weightSum += raw[i]
	}
	if weightSum <= 0 {
		return ComputeResult{Rejection: peak.NoProfile}
	}

	var numerator, denom, varSum float64
	for i, e := range c.peakEvents {
		w := raw[i] / weightSum
		residual := e.Counts - bkgPerPixel
		numerator += w * residual
		denom += w * w
		varSum += w * w * (math.Max(e.Counts, 0) + bkgVarPerPixel)
	}
	if denom <= 0 {
		return ComputeResult{Rejection: peak.IntegrationFailure}
	}

	intensity := numerator / denom
	sigma := math.Sqrt(varSum) / denom

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

// Gaussian integrates using an analytic Gaussian profile derived from
// the region's own peak-shell metric, rather than a neighbour-averaged
// reference shape.
type Gaussian struct {
	MinBackgroundPixels int
}

func (Gaussian) Name() string { return "gaussian" }

func (g Gaussian) Compute(events []Event, r *region.Region) ComputeResult {
	c := classify(events, r)
	boundary := r.PeakBoundary()
	return fitProfile(c, func(e Event) float64 {
		return math.Exp(-0.5 * boundary.MahalanobisSq(e.Position))
	}, g.minBackgroundPixels())
}

func (g Gaussian) minBackgroundPixels() int {
	if g.MinBackgroundPixels <= 0 {
		return 5
	}
	return g.MinBackgroundPixels
}
