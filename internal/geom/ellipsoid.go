package geom

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Ellipsoid represents a peak shape: a centre c in (px, py, frame) and a
// metric M = Sigma^-1 such that the ellipsoid boundary is
// (x-c)^T M (x-c) == 1. Integration regions scale the metric to obtain the
// nested peak/background boundaries.
type Ellipsoid struct {
	Center Vec3
	Metric *mat.SymDense // 3x3, must be positive definite
}

// NewEllipsoid validates that metric is positive definite before
// constructing the shape; a non-PD covariance is a finder failure mode
// ("degenerate covariance -> discarded").
func NewEllipsoid(center Vec3, metric *mat.SymDense) (Ellipsoid, error) {
	if metric == nil || metric.SymmetricDim() != 3 {
		return Ellipsoid{}, fmt.Errorf("geom: metric must be a 3x3 symmetric matrix")
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(metric); !ok {
		return Ellipsoid{}, fmt.Errorf("geom: metric is not positive definite")
	}
	return Ellipsoid{Center: center, Metric: metric}, nil
}

// MahalanobisSq returns (p-c)^T M (p-c), the squared Mahalanobis distance
// of p from the ellipsoid centre under its metric.
func (e Ellipsoid) MahalanobisSq(p Vec3) float64 {
	d := mat.NewVecDense(3, []float64{p.X - e.Center.X, p.Y - e.Center.Y, p.Z - e.Center.Z})
	var tmp mat.VecDense
	tmp.MulVec(e.Metric, d)
	return mat.Dot(d, &tmp)
}

// Contains reports whether p lies within the ellipsoid scaled by factor
// (factor==1 is the unit boundary; IntegrationRegion uses factor !=1 for
// peak_end/bkg_begin/bkg_end scaling).
func (e Ellipsoid) Contains(p Vec3, factor float64) bool {
	if factor <= 0 {
		return false
	}
	return e.MahalanobisSq(p) <= factor*factor
}

// Scale returns a new Ellipsoid whose boundary is the original scaled by
// factor: metric' = metric / factor^2, so Scale(f).Contains(p,1) ==
// e.Contains(p,f).
func (e Ellipsoid) Scale(factor float64) Ellipsoid {
	if factor <= 0 {
		factor = 1
	}
	n := e.Metric.SymmetricDim()
	scaled := mat.NewSymDense(n, nil)
	inv := 1 / (factor * factor)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			scaled.SetSym(i, j, e.Metric.At(i, j)*inv)
		}
	}
	return Ellipsoid{Center: e.Center, Metric: scaled}
}

// Covariance returns the inverse of the metric (Sigma = M^-1).
func (e Ellipsoid) Covariance() (*mat.SymDense, error) {
	var inv mat.SymDense
	if err := inv.PowerPSD(e.Metric, -1); err != nil {
		return nil, fmt.Errorf("geom: cannot invert metric: %w", err)
	}
	return &inv, nil
}

// MetricFromCovariance inverts a covariance matrix (e.g. one produced by a
// ShapeModel neighbour query) back into a metric for a new Ellipsoid.
func MetricFromCovariance(cov *mat.SymDense) (*mat.SymDense, error) {
	var m mat.SymDense
	if err := m.PowerPSD(cov, -1); err != nil {
		return nil, fmt.Errorf("geom: covariance is not invertible: %w", err)
	}
	return &m, nil
}
