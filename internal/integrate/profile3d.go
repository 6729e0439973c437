package integrate

import (
	"math"

	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/region"
	"github.com/openhkl-project/ohkl/internal/shapemodel"
	"gonum.org/v1/gonum/mat"
)

// Profile3D fits the full 3-D covariance-weighted profile (rather than
// an isotropic Gaussian), using a covariance pulled from the shape
// model's neighbour interpolation instead of the peak's own fitted
// shape — the strategy used for weak peaks whose own covariance
// estimate would be unreliable.
type Profile3D struct {
	Model               *shapemodel.Model
	Mode                shapemodel.Interpolation
	NumNeighbours       int
	MinBackgroundPixels int
}

func (Profile3D) Name() string { return "profile-3d" }

func (p Profile3D) Compute(events []Event, r *region.Region) ComputeResult {
	boundary := r.PeakBoundary()
	cov, err := p.Model.MeanCovariance(boundary.Center, p.Mode, p.neighbours())
	if err != nil {
		return ComputeResult{Rejection: peak.TooFewNeighbours}
	}
	metric, err := geom.MetricFromCovariance(cov)
	if err != nil {
		return ComputeResult{Rejection: peak.InvalidSigma}
	}

	c := classify(events, r)
	return fitProfile(c, func(e Event) float64 {
		d := mat.NewVecDense(3, []float64{e.Position.X - boundary.Center.X, e.Position.Y - boundary.Center.Y, e.Position.Z - boundary.Center.Z})
		var tmp mat.VecDense
		tmp.MulVec(metric, d)
		m2 := mat.Dot(d, &tmp)
		return math.Exp(-0.5 * m2)
	}, p.minBackgroundPixels())
}

func (p Profile3D) neighbours() int {
	if p.NumNeighbours <= 0 {
		return 20
	}
	return p.NumNeighbours
}

func (p Profile3D) minBackgroundPixels() int {
	if p.MinBackgroundPixels <= 0 {
		return 5
	}
	return p.MinBackgroundPixels
}
