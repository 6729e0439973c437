package cell

import (
	"math"
	"testing"

	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
)

func cubicCell(t *testing.T, a float64) *UnitCell {
	t.Helper()
	sg, err := spacegroup.Lookup("P1")
	if err != nil {
		t.Fatal(err)
	}
	uc, err := New(a, a, a, math.Pi/2, math.Pi/2, math.Pi/2, sg)
	if err != nil {
		t.Fatal(err)
	}
	return uc
}

func TestNewRejectsNonPositiveLength(t *testing.T) {
	sg, _ := spacegroup.Lookup("P1")
	if _, err := New(0, 1, 1, math.Pi/2, math.Pi/2, math.Pi/2, sg); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestNewRejectsDegenerateAngle(t *testing.T) {
	sg, _ := spacegroup.Lookup("P1")
	if _, err := New(1, 1, 1, 0, math.Pi/2, math.Pi/2, sg); err == nil {
		t.Fatal("expected error for degenerate angle")
	}
}

func TestCubicCellVolume(t *testing.T) {
	uc := cubicCell(t, 10)
	v := uc.Volume()
	if math.Abs(v-1000) > 1e-6 {
		t.Fatalf("volume = %g, want 1000", v)
	}
}

func TestHKLRoundTripsForLatticePoint(t *testing.T) {
	uc := cubicCell(t, 10)
	ub := uc.UB()
	hklVec := []float64{1, 2, -3}
	q := geom.Vec3{}
	for i, row := range [][]float64{{ub.At(0, 0), ub.At(0, 1), ub.At(0, 2)}, {ub.At(1, 0), ub.At(1, 1), ub.At(1, 2)}, {ub.At(2, 0), ub.At(2, 1), ub.At(2, 2)}} {
		sum := row[0]*hklVec[0] + row[1]*hklVec[1] + row[2]*hklVec[2]
		switch i {
		case 0:
			q.X = sum
		case 1:
			q.Y = sum
		case 2:
			q.Z = sum
		}
	}

	h, k, l, residual, err := uc.HKL(q)
	if err != nil {
		t.Fatal(err)
	}
	if h != 1 || k != 2 || l != -3 {
		t.Fatalf("HKL = (%d,%d,%d), want (1,2,-3)", h, k, l)
	}
	if residual > 1e-9 {
		t.Fatalf("residual = %g, want ~0", residual)
	}
}

func TestIsSimilar(t *testing.T) {
	a := cubicCell(t, 10)
	b := cubicCell(t, 10.0005)
	if !a.IsSimilar(b, 0.01, 0.01) {
		t.Fatal("expected cells within tolerance to be similar")
	}
	c := cubicCell(t, 11)
	if a.IsSimilar(c, 0.01, 0.01) {
		t.Fatal("expected cells outside tolerance to differ")
	}
}

func TestCompatibleSpaceGroupsIncludesP222ForCubicCell(t *testing.T) {
	uc := cubicCell(t, 10)
	groups := uc.CompatibleSpaceGroups(1e-6)
	found := false
	for _, g := range groups {
		if g == "P222" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected P222 among compatible groups, got %v", groups)
	}
}
