// Package cell implements the UnitCell entity: a real-space basis, its
// derived reciprocal basis, the six scalar lattice characters, an
// associated space group, and the orientation matrix U relating the
// cell's own frame to the laboratory frame.
package cell

import (
	"fmt"
	"math"

	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
	"gonum.org/v1/gonum/mat"
)

// UnitCell holds the six direct-cell characters, the space group, and the
// orientation matrix U. The Busing-Levy matrix B (reciprocal basis
// vectors as columns) and its inverse are derived on construction and
// cached.
type UnitCell struct {
	A, Bl, C          float64 // lengths, angstrom
	Alpha, Beta, Gamma float64 // angles, radians
	SpaceGroup        spacegroup.SpaceGroup
	U                 *mat.Dense // 3x3 orientation, lab = U * B * hkl

	b    *mat.Dense // Busing-Levy B: reciprocal basis vectors as columns
	bInv *mat.Dense // cached inverse of B
}

// New builds a UnitCell from the six direct characters (lengths in
// angstrom, angles in radians) and a space group. It rejects
// degenerate cells (zero/negative length, angle outside (0, pi), or a
// volume that collapses to zero).
func New(a, b, c, alpha, beta, gamma float64, sg spacegroup.SpaceGroup) (*UnitCell, error) {
	if a <= 0 || b <= 0 || c <= 0 {
		return nil, fmt.Errorf("cell: lengths must be positive, got (%g,%g,%g)", a, b, c)
	}
	for _, ang := range []float64{alpha, beta, gamma} {
		if ang <= 0 || ang >= math.Pi {
			return nil, fmt.Errorf("cell: angle %g out of (0,pi)", ang)
		}
	}

	uc := &UnitCell{
		A: a, Bl: b, C: c,
		Alpha: alpha, Beta: beta, Gamma: gamma,
		SpaceGroup: sg,
		U:          geom.Identity().RotationMatrix(),
	}
	bm, err := uc.computeB()
	if err != nil {
		return nil, err
	}
	uc.b = bm

	var inv mat.Dense
	if err := inv.Inverse(bm); err != nil {
		return nil, fmt.Errorf("cell: singular basis matrix: %w", err)
	}
	uc.bInv = &inv
	return uc, nil
}

// computeB builds the Busing-Levy B matrix: columns are the reciprocal
// basis vectors expressed in a Cartesian frame with x along a* and z
// along c, so that q = U*B*(h,k,l) for a crystal oriented by U.
func (uc *UnitCell) computeB() (*mat.Dense, error) {
	ca, cb, cg := math.Cos(uc.Alpha), math.Cos(uc.Beta), math.Cos(uc.Gamma)
	sa, sb, sg := math.Sin(uc.Alpha), math.Sin(uc.Beta), math.Sin(uc.Gamma)

	volRatio := 1 - ca*ca - cb*cb - cg*cg + 2*ca*cb*cg
	if volRatio <= 0 {
		return nil, fmt.Errorf("cell: degenerate cell, non-positive volume term %g", volRatio)
	}
	v := uc.A * uc.Bl * uc.C * math.Sqrt(volRatio)

	astar := uc.Bl * uc.C * sa / v
	bstar := uc.A * uc.C * sb / v
	cstar := uc.A * uc.Bl * sg / v

	if sb == 0 || sg == 0 {
		return nil, fmt.Errorf("cell: degenerate angle for reciprocal construction")
	}
	cosBetaStar := (ca*cg - cb) / (sa * sg)
	sinBetaStar := math.Sqrt(1 - cosBetaStar*cosBetaStar)
	cosGammaStar := (ca*cb - cg) / (sa * sb)
	sinGammaStar := math.Sqrt(1 - cosGammaStar*cosGammaStar)

	b := mat.NewDense(3, 3, nil)
	b.Set(0, 0, astar)
	b.Set(0, 1, bstar*cosGammaStar)
	b.Set(0, 2, cstar*cosBetaStar)
	b.Set(1, 1, bstar*sinGammaStar)
	b.Set(1, 2, -cstar*sinBetaStar*ca)
	b.Set(2, 2, 1/uc.C)
	return b, nil
}

// BMatrix returns the real-space-to-reciprocal basis matrix (copy).
func (uc *UnitCell) BMatrix() *mat.Dense {
	var out mat.Dense
	out.CloneFrom(uc.b)
	return &out
}

// ReciprocalBasis returns B^-T: columns are the real-space basis vectors.
func (uc *UnitCell) ReciprocalBasis() *mat.Dense {
	var out mat.Dense
	out.CloneFrom(uc.bInv.T())
	return &out
}

// UB returns U*B, the full orientation-and-metric matrix mapping Miller
// indices to laboratory-frame scattering vectors.
func (uc *UnitCell) UB() *mat.Dense {
	var out mat.Dense
	out.Mul(uc.U, uc.b)
	return &out
}

// HKL inverts q = U*B*(h,k,l), returning the nearest integer triple and
// the residual distance between q and its integer reconstruction —
// callers use the residual against an indexing tolerance to accept or
// reject the assignment.
func (uc *UnitCell) HKL(q geom.Vec3) (h, k, l int, residual float64, err error) {
	ub := uc.UB()
	var inv mat.Dense
	if err := inv.Inverse(ub); err != nil {
		return 0, 0, 0, 0, fmt.Errorf("cell: UB not invertible: %w", err)
	}
	v := mat.NewVecDense(3, []float64{q.X, q.Y, q.Z})
	var hkl mat.VecDense
	hkl.MulVec(&inv, v)

	rh := math.Round(hkl.AtVec(0))
	rk := math.Round(hkl.AtVec(1))
	rl := math.Round(hkl.AtVec(2))

	rounded := mat.NewVecDense(3, []float64{rh, rk, rl})
	var reco mat.VecDense
	reco.MulVec(ub, rounded)
	d := geom.Vec3{X: reco.AtVec(0) - q.X, Y: reco.AtVec(1) - q.Y, Z: reco.AtVec(2) - q.Z}

	return int(rh), int(rk), int(rl), d.Norm(), nil
}

// Clone returns a deep copy of uc, including its cached basis matrices
// and orientation, so a caller (e.g. the refiner, before perturbing a
// cell's orientation) can mutate the copy without disturbing the
// original.
func (uc *UnitCell) Clone() *UnitCell {
	var bCopy, bInvCopy, uCopy mat.Dense
	bCopy.CloneFrom(uc.b)
	bInvCopy.CloneFrom(uc.bInv)
	uCopy.CloneFrom(uc.U)
	return &UnitCell{
		A: uc.A, Bl: uc.Bl, C: uc.C,
		Alpha: uc.Alpha, Beta: uc.Beta, Gamma: uc.Gamma,
		SpaceGroup: uc.SpaceGroup,
		U:          &uCopy,
		b:          &bCopy,
		bInv:       &bInvCopy,
	}
}

// IsSimilar reports whether two cells agree within length and angle
// tolerances, independent of orientation (used to deduplicate
// autoindexing solutions and to match a refined cell against a reference).
func (uc *UnitCell) IsSimilar(other *UnitCell, lenTol, angTol float64) bool {
	if math.Abs(uc.A-other.A) > lenTol || math.Abs(uc.Bl-other.Bl) > lenTol || math.Abs(uc.C-other.C) > lenTol {
		return false
	}
	if math.Abs(uc.Alpha-other.Alpha) > angTol || math.Abs(uc.Beta-other.Beta) > angTol || math.Abs(uc.Gamma-other.Gamma) > angTol {
		return false
	}
	return true
}

// Character returns the six scalar lattice characters in the
// conventional order (a, b, c, alpha, beta, gamma).
func (uc *UnitCell) Character() (a, b, c, alpha, beta, gamma float64) {
	return uc.A, uc.Bl, uc.C, uc.Alpha, uc.Beta, uc.Gamma
}

// Volume returns the direct-cell volume in cubic angstrom.
func (uc *UnitCell) Volume() float64 {
	return 1.0 / mat.Det(uc.b)
}

var rightAngle = math.Pi / 2

func near(x, target, tol float64) bool { return math.Abs(x-target) < tol }

// CompatibleSpaceGroups proposes space-group symbols whose lattice
// constraints the cell's metric satisfies within tol (radians for
// angles), ordered from most to least restrictive. This is a metric
// symmetry heuristic, not a reflection-condition analysis.
func (uc *UnitCell) CompatibleSpaceGroups(tol float64) []string {
	var out []string
	orthogonalAngles := near(uc.Alpha, rightAngle, tol) && near(uc.Beta, rightAngle, tol) && near(uc.Gamma, rightAngle, tol)
	cubic := orthogonalAngles && near(uc.A, uc.Bl, 1e-3) && near(uc.Bl, uc.C, 1e-3)
	tetragonal := orthogonalAngles && near(uc.A, uc.Bl, 1e-3) && !near(uc.Bl, uc.C, 1e-3)
	orthorhombic := orthogonalAngles && !near(uc.A, uc.Bl, 1e-3) && !near(uc.Bl, uc.C, 1e-3)
	monoclinic := near(uc.Alpha, rightAngle, tol) && near(uc.Gamma, rightAngle, tol) && !near(uc.Beta, rightAngle, tol)

	switch {
	case cubic:
		out = append(out, "P222")
	case tetragonal:
		out = append(out, "P4")
	case orthorhombic:
		out = append(out, "P212121", "P222")
	case monoclinic:
		out = append(out, "P21", "C2", "P2")
	}
	out = append(out, "P-1", "P1")
	return out
}
