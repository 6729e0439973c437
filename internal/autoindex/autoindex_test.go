package autoindex

import (
	"math"
	"testing"

	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
)

func TestReciprocalOfOrthogonalBasis(t *testing.T) {
	a := geom.Vec3{X: 10}
	b := geom.Vec3{Y: 10}
	c := geom.Vec3{Z: 10}
	astar, bstar, cstar := reciprocalOf(a, b, c)
	want := geom.Vec3{X: 0.1}
	if math.Abs(astar.X-want.X) > 1e-9 {
		t.Fatalf("astar = %+v, want X=0.1", astar)
	}
	if math.Abs(bstar.Y-0.1) > 1e-9 || math.Abs(cstar.Z-0.1) > 1e-9 {
		t.Fatalf("bstar/cstar wrong: %+v %+v", bstar, cstar)
	}
}

func TestNearestHKLExactLatticePoint(t *testing.T) {
	astar, bstar, cstar := reciprocalOf(geom.Vec3{X: 10}, geom.Vec3{Y: 10}, geom.Vec3{Z: 10})
	q := astar.Scale(2).Add(bstar.Scale(-1)).Add(cstar.Scale(3))
	h, k, l, residual := nearestHKL(q, astar, bstar, cstar)
	if h != 2 || k != -1 || l != 3 {
		t.Fatalf("hkl = (%d,%d,%d), want (2,-1,3)", h, k, l)
	}
	if residual > 1e-9 {
		t.Fatalf("residual = %g, want ~0", residual)
	}
}

func TestAngleBetweenOrthogonalVectors(t *testing.T) {
	got := angleBetween(geom.Vec3{X: 1}, geom.Vec3{Y: 1})
	if math.Abs(got-math.Pi/2) > 1e-9 {
		t.Fatalf("angle = %g, want pi/2", got)
	}
}

func TestReduceTripleOrdersByLength(t *testing.T) {
	a := geom.Vec3{X: 5}
	b := geom.Vec3{Y: 3}
	c := geom.Vec3{Z: 8}
	ra, rb, rc := reduceTriple(a, b, c)
	if ra.Norm() > rb.Norm() || rb.Norm() > rc.Norm() {
		t.Fatalf("reduceTriple did not order by length: %v %v %v", ra, rb, rc)
	}
}

func TestBuildCellRecoversLengthsAndOrientation(t *testing.T) {
	a := geom.Vec3{X: 12}
	b := geom.Vec3{Y: 9}
	c := geom.Vec3{Z: 7}
	sg, _ := spacegroup.Lookup("P1")
	uc, err := buildCell(a, b, c, sg)
	if err != nil {
		t.Fatal(err)
	}
	la, lb, lc, _, _, _ := uc.Character()
	if math.Abs(la-12) > 1e-6 || math.Abs(lb-9) > 1e-6 || math.Abs(lc-7) > 1e-6 {
		t.Fatalf("cell lengths = (%g,%g,%g), want (12,9,7)", la, lb, lc)
	}
}

func TestSolveRejectsTooFewPeaks(t *testing.T) {
	sg, _ := spacegroup.Lookup("P1")
	_, err := Solve([]geom.Vec3{{X: 1}, {X: 2}}, sg, DefaultParams())
	if err == nil {
		t.Fatal("expected error with fewer than 6 peaks")
	}
}
