package merge

import (
	"math"
	"testing"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
	"gonum.org/v1/gonum/mat"
)

func testUnitCell(t *testing.T) *cell.UnitCell {
	t.Helper()
	sg, err := spacegroup.Lookup("P1")
	if err != nil {
		t.Fatal(err)
	}
	uc, err := cell.New(10, 11, 12, math.Pi/2, math.Pi/2, math.Pi/2, sg)
	if err != nil {
		t.Fatal(err)
	}
	return uc
}

func unitShape() geom.Ellipsoid {
	e, err := geom.NewEllipsoid(geom.Vec3{X: 1, Y: 1, Z: 1}, mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}))
	if err != nil {
		panic(err)
	}
	return e
}

func measuredPeak(id int, h, k, l int, cellID int, intensity, sigma float64) *peak.Peak3D {
	p := peak.NewPeak(id, 0, unitShape())
	p.UnitCellID = cellID
	p.SetMiller(h, k, l, 0)
	p.SumIntensity, p.SumSigma = intensity, sigma
	return p
}

func TestMergeGroupsByCanonicalMillerIndex(t *testing.T) {
	uc := testUnitCell(t)
	lookup := func(id int) *cell.UnitCell {
		if id == 1 {
			return uc
		}
		return nil
	}
	p1 := measuredPeak(1, 1, 2, 3, 1, 100, 10)
	p2 := measuredPeak(2, 1, 2, 3, 1, 120, 10)

	sg, _ := spacegroup.Lookup("P1")
	params := DefaultParams()
	params.DMin, params.DMax = 0.1, 100

	merged, err := Merge([][]*peak.Peak3D{{p1, p2}}, lookup, sg, params)
	if err != nil {
		t.Fatal(err)
	}
	if len(merged) != 1 {
		t.Fatalf("got %d merged peaks, want 1", len(merged))
	}
	mp := merged[0]
	if len(mp.Measurements) != 2 {
		t.Fatalf("got %d measurements, want 2", len(mp.Measurements))
	}
	for _, m := range mp.Measurements {
		if m.Peak.Miller.H != mp.H || m.Peak.Miller.K != mp.K || m.Peak.Miller.L != mp.L {
			t.Fatal("invariant 4 violated: measurement does not map to the merged peak's canonical hkl")
		}
	}
	want := (100/100.0 + 120/100.0) / (1/100.0 + 1/100.0) // inverse-variance weighted mean, sigma=10 for both
	if math.Abs(mp.Intensity-want) > 1e-9 {
		t.Fatalf("intensity = %g, want %g", mp.Intensity, want)
	}
}

func TestMergeRejectsPeaksWithoutIndexedCell(t *testing.T) {
	p := measuredPeak(1, 1, 0, 0, 0, 100, 10) // UnitCellID 0: lookup(0) returns nil below
	lookup := func(id int) *cell.UnitCell { return nil }
	sg, _ := spacegroup.Lookup("P1")
	params := DefaultParams()
	_, err := Merge([][]*peak.Peak3D{{p}}, lookup, sg, params)
	if err == nil {
		t.Fatal("expected an error when no peak resolves a cell")
	}
}

func TestSplitShellsAssignsLowResolutionToShellZero(t *testing.T) {
	mp := &MergedPeak{H: 1, K: 0, L: 0, D: 9.0} // close to the low-resolution (large-d) end
	sg, _ := spacegroup.Lookup("P1")
	params := DefaultParams()
	params.DMin, params.DMax = 1, 10
	params.NShells = 5

	coll := SplitShells([]*MergedPeak{mp}, sg, params)
	if len(coll.Shells) != 5 {
		t.Fatalf("got %d shells, want 5", len(coll.Shells))
	}
	if len(coll.Shells[0].MergedPeaks) != 1 {
		t.Fatalf("expected the large-d peak in the lowest-resolution shell (index 0), shell counts: %v",
			shellCounts(coll))
	}
}

func shellCounts(c *Collection) []int {
	out := make([]int, len(c.Shells))
	for i, s := range c.Shells {
		out[i] = len(s.MergedPeaks)
	}
	return out
}

func TestRFactorsZeroWhenAllMeasurementsAgree(t *testing.T) {
	mp := &MergedPeak{
		Measurements: []Measurement{
			{Intensity: 50, Sigma: 5},
			{Intensity: 50, Sigma: 5},
			{Intensity: 50, Sigma: 5},
		},
	}
	mp.computeStatistics()
	rMerge, rMeas, rPim := rFactors([]*MergedPeak{mp})
	if rMerge != 0 || rMeas != 0 || rPim != 0 {
		t.Fatalf("R-factors = (%g,%g,%g), want all zero for perfect agreement", rMerge, rMeas, rPim)
	}
}

func TestCCStarMatchesClosedForm(t *testing.T) {
	got := ccStar(0.5)
	want := math.Sqrt(2 * 0.5 / 1.5)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("ccStar(0.5) = %g, want %g", got, want)
	}
}
