package predict

import (
	"context"
	"math"
	"testing"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/instrument"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
)

func testCell(t *testing.T) *cell.UnitCell {
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

func rotatingDataSet(t *testing.T, n int) *dataset.DataSet {
	t.Helper()
	det := instrument.DetectorGeometry{NumCols: 256, NumRows: 256, PixelWidth: 1e-4, PixelHeight: 1e-4, Distance: 0.1}
	frames := make([]dataset.Frame, n)
	states := make([]instrument.State, n)
	for i := 0; i < n; i++ {
		frames[i] = dataset.NewFrame(256, 256)
		s := instrument.NewState(det, 1.0)
		s.SampleOrientation = geom.FromAxisAngle(geom.Vec3{Z: 1}, float64(i)*0.02)
		states[i] = s
	}
	ds, err := dataset.New("synthetic", dataset.Metadata{Wavelength: 1.0}, dataset.NewSliceSource(256, 256, frames), states)
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func TestEnumerateHKLRespectsResolutionBounds(t *testing.T) {
	uc := testCell(t)
	hkls := EnumerateHKL(uc, 2.0, 50.0)
	if len(hkls) == 0 {
		t.Fatal("expected at least one reflection in range")
	}
	for _, m := range hkls {
		if m.D < 2.0 || m.D > 50.0 {
			t.Fatalf("reflection (%d %d %d) has d=%g outside [2,50]", m.H, m.K, m.L, m.D)
		}
	}
}

func TestEnumerateHKLExcludesOrigin(t *testing.T) {
	uc := testCell(t)
	for _, m := range EnumerateHKL(uc, 1.0, 50.0) {
		if m.H == 0 && m.K == 0 && m.L == 0 {
			t.Fatal("origin (0,0,0) must never be enumerated")
		}
	}
}

func TestPredictRejectsInvalidParams(t *testing.T) {
	ds := rotatingDataSet(t, 5)
	uc := testCell(t)
	bad := DefaultParams()
	bad.DMax = bad.DMin
	if _, err := Predict(context.Background(), ds, 1, uc, bad); err == nil {
		t.Fatal("expected error for DMax <= DMin")
	}
}

func TestPredictRejectsShortDataSet(t *testing.T) {
	ds := rotatingDataSet(t, 1)
	uc := testCell(t)
	if _, err := Predict(context.Background(), ds, 1, uc, DefaultParams()); err == nil {
		t.Fatal("expected error for a dataset with fewer than 2 frames")
	}
}

func TestPredictProducesPeaksWithinBounds(t *testing.T) {
	ds := rotatingDataSet(t, 200)
	uc := testCell(t)
	params := DefaultParams()
	params.DMin = 2.0
	params.DMax = 8.0

	coll, err := Predict(context.Background(), ds, 3, uc, params)
	if err != nil {
		t.Fatal(err)
	}
	peaks := coll.Peaks()
	if len(peaks) == 0 {
		t.Fatal("expected at least one predicted peak over 200 frames of rotation")
	}
	nrows, ncols := ds.Dims()
	nframes := ds.NumFrames()
	for _, p := range peaks {
		if p.DataSetID != 3 {
			t.Fatalf("predicted peak has DataSetID=%d, want 3", p.DataSetID)
		}
		if p.Rejection != 0 {
			t.Fatalf("predicted peak should start NotRejected, got flag %v", p.Rejection)
		}
		c := p.Shape.Center
		if c.X < 0 || c.X >= float64(ncols) || c.Y < 0 || c.Y >= float64(nrows) {
			t.Fatalf("predicted peak centre (%g,%g) outside detector bounds %dx%d", c.X, c.Y, ncols, nrows)
		}
		if c.Z < 0 || c.Z >= float64(nframes) {
			t.Fatalf("predicted peak frame %g outside [0,%d)", c.Z, nframes)
		}
		if p.Miller.H == 0 && p.Miller.K == 0 && p.Miller.L == 0 {
			t.Fatal("predicted peak must carry a non-origin Miller index")
		}
	}
}

func TestPredictHonoursContextCancellation(t *testing.T) {
	ds := rotatingDataSet(t, 50)
	uc := testCell(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Predict(ctx, ds, 1, uc, DefaultParams()); err == nil {
		t.Fatal("expected context cancellation error")
	}
}
