package autoindex

import (
	"fmt"
	"math"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
	"gonum.org/v1/gonum/mat"
)

func angleBetween(u, v geom.Vec3) float64 {
	c := u.Dot(v) / (u.Norm() * v.Norm())
	if c > 1 {
		c = 1
	}
	if c < -1 {
		c = -1
	}
	return math.Acos(c)
}

// buildCell constructs a cell.UnitCell whose direct-space basis vectors
// match a, b, c. cell.New always produces its basis in a canonical,
// lab-independent orientation (x along a*, z along c); the actual
// direction the indexing search found the vectors in is recovered by
// solving the orthogonal Procrustes problem for the rotation mapping the
// canonical basis onto (a, b, c), and stored as the cell's orientation U.
func buildCell(a, b, c geom.Vec3, sg spacegroup.SpaceGroup) (*cell.UnitCell, error) {
	alpha := angleBetween(b, c)
	beta := angleBetween(a, c)
	gamma := angleBetween(a, b)

	uc, err := cell.New(a.Norm(), b.Norm(), c.Norm(), alpha, beta, gamma, sg)
	if err != nil {
		return nil, fmt.Errorf("autoindex: build cell: %w", err)
	}

	canon := uc.ReciprocalBasis() // columns: canonical a, b, c
	actual := mat.NewDense(3, 3, []float64{
		a.X, b.X, c.X,
		a.Y, b.Y, c.Y,
		a.Z, b.Z, c.Z,
	})

	var h mat.Dense
	h.Mul(actual, canon.T())

	var svd mat.SVD
	if !svd.Factorize(&h, mat.SVDFull) {
		return nil, fmt.Errorf("autoindex: orientation SVD failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// Reflection instead of rotation: flip the sign of the smallest
		// singular vector's contribution to recover a proper rotation.
		d := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, -1})
		var corrected mat.Dense
		corrected.Mul(&u, d)
		corrected.Mul(&corrected, v.T())
		r = corrected
	}

	uc.U = &r
	return uc, nil
}
