// Package spacegroup stands in for the isotope/space-group table service,
// treated here as an external collaborator rather than something this
// module computes from first principles. It provides a minimal,
// self-contained table of common space groups sufficient to exercise the
// merger and predictor: symbol lookup and symmetry-operator enumeration
// for Miller-index canonicalisation.
package spacegroup

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SymOp is a symmetry operator's rotational part (the translational part
// does not affect Miller-index canonicalisation for integer hkl and is
// omitted).
type SymOp struct {
	R *mat.Dense // 3x3, integer-valued rotation/reflection
}

// Apply maps (h,k,l) through the operator's rotation.
func (op SymOp) Apply(h, k, l int) (int, int, int) {
	v := mat.NewVecDense(3, []float64{float64(h), float64(k), float64(l)})
	var out mat.VecDense
	out.MulVec(op.R, v)
	return int(round(out.AtVec(0))), int(round(out.AtVec(1))), int(round(out.AtVec(2)))
}

func round(x float64) float64 {
	if x >= 0 {
		return float64(int(x + 0.5))
	}
	return float64(int(x - 0.5))
}

// SpaceGroup is a symbol plus its list of symmetry operators (rotational
// parts only).
type SpaceGroup struct {
	Symbol string
	Ops    []SymOp
}

func identity() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func diag(x, y, z float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{x, 0, 0, 0, y, 0, 0, 0, z})
}

func rot4z() *mat.Dense {
	return mat.NewDense(3, 3, []float64{0, -1, 0, 1, 0, 0, 0, 0, 1})
}

func rot2z() *mat.Dense {
	return mat.NewDense(3, 3, []float64{-1, 0, 0, 0, -1, 0, 0, 0, 1})
}

var builtin = map[string][]*mat.Dense{
	"P1":       {identity()},
	"P-1":      {identity(), diag(-1, -1, -1)},
	"P2":       {identity(), diag(-1, 1, -1)},
	"P21":      {identity(), diag(-1, 1, -1)},
	"C2":       {identity(), diag(-1, 1, -1)},
	"P212121":  {identity(), diag(1, -1, -1), diag(-1, 1, -1), diag(-1, -1, 1)},
	"P 21 21 21": {identity(), diag(1, -1, -1), diag(-1, 1, -1), diag(-1, -1, 1)},
	"P4":       {identity(), rot2z(), rot4z(), matMul(rot4z(), matMul(rot4z(), rot4z()))},
	"P222":     {identity(), diag(1, -1, -1), diag(-1, 1, -1), diag(-1, -1, 1)},
}

func matMul(a, b *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Mul(a, b)
	return &out
}

// Lookup resolves a space-group symbol into its operator table. Unknown
// symbols return an input-domain error.
func Lookup(symbol string) (SpaceGroup, error) {
	rots, ok := builtin[symbol]
	if !ok {
		return SpaceGroup{}, fmt.Errorf("spacegroup: unknown space group %q", symbol)
	}
	ops := make([]SymOp, len(rots))
	for i, r := range rots {
		ops[i] = SymOp{R: r}
	}
	return SpaceGroup{Symbol: symbol, Ops: ops}, nil
}

// Canonical returns the lexicographically-smallest image of (h,k,l) under
// the space group's rotational operators, optionally also applying
// Friedel's law (inversion symmetry from anomalous-free scattering).
func (g SpaceGroup) Canonical(h, k, l int, friedel bool) (int, int, int) {
	best := [3]int{h, k, l}
	consider := func(a, b, c int) {
		cand := [3]int{a, b, c}
		if less(cand, best) {
			best = cand
		}
	}
	for _, op := range g.Ops {
		a, b, c := op.Apply(h, k, l)
		consider(a, b, c)
		if friedel {
			consider(-a, -b, -c)
		}
	}
	return best[0], best[1], best[2]
}

func less(a, b [3]int) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	if a[1] != b[1] {
		return a[1] < b[1]
	}
	return a[2] < b[2]
}

// Multiplicity returns the number of general-position operators,
// including the Friedel-related pair when friedel is true.
func (g SpaceGroup) Multiplicity(friedel bool) int {
	n := len(g.Ops)
	if friedel {
		n *= 2
	}
	return n
}
