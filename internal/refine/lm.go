package refine

import (
	"math"

	"github.com/openhkl-project/ohkl/internal/instrument"
	"gonum.org/v1/gonum/mat"
)

// lmResult is the outcome of fitting one batch: the winning parameter
// vector and whether chi-square strictly improved over the starting
// point.
type lmResult struct {
	x        []float64
	improved bool
	chiSq    float64
}

// levenbergMarquardt minimises chiSquare(residuals(x)) over x, starting
// from the zero vector (no perturbation), using finite-difference
// Jacobians and a classic trust-region damping schedule. It is the
// hand-built numerical core the corpus' own style favours (gonum linear
// algebra primitives composed directly) since no pinned gonum version in
// this module ships a turnkey Levenberg-Marquardt Method.
func levenbergMarquardt(layout paramLayout, batch *Batch, baseStates map[int]instrument.State, rtype ResidualType, maxIter int) lmResult {
	n := layout.total
	if n == 0 {
		r := residuals(nil, layout, batch, baseStates, rtype)
		return lmResult{x: nil, improved: false, chiSq: chiSquare(r)}
	}

	x := make([]float64, n)
	r0 := residuals(x, layout, batch, baseStates, rtype)
	initialChi := chiSquare(r0)
	chi0 := initialChi
	best := append([]float64(nil), x...)
	bestChi := chi0

	lambda := 1e-3
	const eps = 1e-6

	for iter := 0; iter < maxIter; iter++ {
		r := residuals(x, layout, batch, baseStates, rtype)
		m := len(r)
		if m == 0 {
			break
		}
		j := mat.NewDense(m, n, nil)
		for col := 0; col < n; col++ {
			xp := append([]float64(nil), x...)
			xp[col] += eps
			rp := residuals(xp, layout, batch, baseStates, rtype)
			for row := 0; row < m; row++ {
				j.Set(row, col, (rp[row]-r[row])/eps)
			}
		}

		var jt, jtj mat.Dense
		jt.CloneFrom(j.T())
		jtj.Mul(&jt, j)

		rv := mat.NewVecDense(m, r)
		var jtr mat.VecDense
		jtr.MulVec(&jt, rv)

		accepted := false
		for try := 0; try < 10; try++ {
			damped := mat.NewDense(n, n, nil)
			damped.Copy(&jtj)
			for i := 0; i < n; i++ {
				damped.Set(i, i, damped.At(i, i)*(1+lambda))
			}
			var delta mat.VecDense
			if err := delta.SolveVec(damped, &jtr); err != nil {
				lambda *= 10
				continue
			}
			xTry := make([]float64, n)
			for i := range xTry {
				xTry[i] = x[i] - delta.AtVec(i)
			}
			rTry := residuals(xTry, layout, batch, baseStates, rtype)
			chiTry := chiSquare(rTry)
			if chiTry < bestChi {
				x = xTry
				bestChi = chiTry
				best = append([]float64(nil), x...)
				lambda = math.Max(lambda/10, 1e-12)
				accepted = true
				break
			}
			lambda *= 10
		}
		if !accepted {
			break
		}
		if math.Abs(chi0-bestChi) < 1e-9*math.Max(chi0, 1) {
			break
		}
		chi0 = bestChi
	}

	return lmResult{x: best, improved: bestChi < initialChi, chiSq: bestChi}
}
