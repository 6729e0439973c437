package predict

import (
	"math"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/geom"
	"gonum.org/v1/gonum/mat"
)

// MillerTriple is a candidate reflection's integer index together with the
// d-spacing it maps to under a particular cell.
type MillerTriple struct {
	H, K, L int
	D       float64 // angstrom
}

// EnumerateHKL lists every Miller index whose d-spacing falls within
// [dMin, dMax], bounding the search box from the cell's own edge lengths
// (a reflection with |h| beyond a/dMin cannot resolve to d >= dMin).
func EnumerateHKL(uc *cell.UnitCell, dMin, dMax float64) []MillerTriple {
	a, b, c, _, _, _ := uc.Character()
	hMax := int(math.Ceil(a/dMin)) + 1
	kMax := int(math.Ceil(b/dMin)) + 1
	lMax := int(math.Ceil(c/dMin)) + 1

	ub := uc.UB()
	var out []MillerTriple
	for h := -hMax; h <= hMax; h++ {
		for k := -kMax; k <= kMax; k++ {
			for l := -lMax; l <= lMax; l++ {
				if h == 0 && k == 0 && l == 0 {
					continue
				}
				q := mulUB(ub, h, k, l)
				n := q.Norm()
				if n == 0 {
					continue
				}
				d := 1 / n
				if d < dMin || d > dMax {
					continue
				}
				out = append(out, MillerTriple{H: h, K: k, L: l, D: d})
			}
		}
	}
	return out
}

func mulUB(ub *mat.Dense, h, k, l int) geom.Vec3 {
	v := mat.NewVecDense(3, []float64{float64(h), float64(k), float64(l)})
	var out mat.VecDense
	out.MulVec(ub, v)
	return geom.NewVec3(out.AtVec(0), out.AtVec(1), out.AtVec(2))
}
