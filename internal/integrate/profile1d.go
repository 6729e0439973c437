package integrate

import (
	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/region"
)

// Profile1D fits a radial (distance-only) reference profile instead of
// the full 3-D covariance — cheaper, and adequate when a peak's shape is
// close to isotropic.
type Profile1D struct {
	Reference           shapeRadialProfile
	RMax                float64
	MinBackgroundPixels int
}

// shapeRadialProfile is the minimal surface Profile1D needs from
// shapemodel.RadialProfile, kept as an interface so tests can supply a
// stub without building a full model.
type shapeRadialProfile interface {
	Mean() []float64
}

func (Profile1D) Name() string { return "profile-1d" }

func (p Profile1D) Compute(events []Event, r *region.Region) ComputeResult {
	if p.Reference == nil {
		return ComputeResult{Rejection: peak.NoProfile}
	}
	means := p.Reference.Mean()
	nbins := len(means)
	boundary := r.PeakBoundary()
	rmax := p.RMax
	if rmax <= 0 {
		rmax = 9
	}

	c := classify(events, r)
	return fitProfile(c, func(e Event) float64 {
		d := boundary.MahalanobisSq(e.Position)
		idx := int(d / (rmax * rmax) * float64(nbins))
		if idx < 0 {
			idx = 0
		}
		if idx >= nbins {
			idx = nbins - 1
		}
		return means[idx]
	}, p.minBackgroundPixels())
}

func (p Profile1D) minBackgroundPixels() int {
	if p.MinBackgroundPixels <= 0 {
		return 5
	}
	return p.MinBackgroundPixels
}
