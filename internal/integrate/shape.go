package integrate

import (
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/shapemodel"
)

// Shape does not integrate an intensity at all; it recomputes a peak's
// covariance from its neighbours and reports it, for use ahead of a
// profile-fit pass that needs an up-to-date shape. Recompute returns a
// zero-intensity ComputeResult alongside the shape; Shape has no Compute
// method, so it is not an Integrator and Run does not drive it.
type Shape struct {
	Model         *shapemodel.Model
	Mode          shapemodel.Interpolation
	NumNeighbours int
}

// Recompute returns the neighbour-interpolated covariance for a peak at
// center, or ErrTooFewNeighbours-derived rejection if the model cannot
// satisfy the query.
func (s Shape) Recompute(center geom.Vec3) (geom.Ellipsoid, ComputeResult) {
	n := s.NumNeighbours
	if n <= 0 {
		n = 20
	}
	cov, err := s.Model.MeanCovariance(center, s.Mode, n)
	if err != nil {
		return geom.Ellipsoid{}, ComputeResult{Rejection: peak.TooFewNeighbours}
	}
	metric, err := geom.MetricFromCovariance(cov)
	if err != nil {
		return geom.Ellipsoid{}, ComputeResult{Rejection: peak.InvalidSigma}
	}
	shape, err := geom.NewEllipsoid(center, metric)
	if err != nil {
		return geom.Ellipsoid{}, ComputeResult{Rejection: peak.InvalidSigma}
	}
	return shape, ComputeResult{}
}

func (Shape) Name() string { return "shape" }
