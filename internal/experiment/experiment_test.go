package experiment

import (
	"context"
	"math"
	"testing"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/instrument"
	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/predict"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
	"gonum.org/v1/gonum/mat"
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

func testDataSet(t *testing.T, n int) *dataset.DataSet {
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

func TestAddDataSetRoundTripsByHandleAndName(t *testing.T) {
	e := New("run-1", "synthetic-diffractometer")
	ds := testDataSet(t, 4)

	id := e.AddDataSet("sample-a", ds)
	got, ok := e.DataSet(id)
	if !ok || got != ds {
		t.Fatal("DataSet(id) did not return the registered data set")
	}
	gotID, gotByName, ok := e.DataSetByName("sample-a")
	if !ok || gotID != id || gotByName != ds {
		t.Fatal("DataSetByName did not resolve the registered data set")
	}
}

func TestReplaceUnitCellIsObservedThroughExistingHandle(t *testing.T) {
	e := New("run-1", "synthetic-diffractometer")
	id := e.AddUnitCell(testCell(t))

	refined := testCell(t)
	if err := e.ReplaceUnitCell(id, refined); err != nil {
		t.Fatal(err)
	}
	got, ok := e.UnitCell(id)
	if !ok || got != refined {
		t.Fatal("ReplaceUnitCell did not update the handle in place")
	}
}

func TestReplaceUnitCellRejectsUnknownHandle(t *testing.T) {
	e := New("run-1", "synthetic-diffractometer")
	if err := e.ReplaceUnitCell(999, testCell(t)); err == nil {
		t.Fatal("expected an error replacing an unregistered cell handle")
	}
}

func TestSwapCellRepointsPeakWithoutTouchingItsCollection(t *testing.T) {
	e := New("run-1", "synthetic-diffractometer")
	oldID := e.AddUnitCell(testCell(t))
	newID := e.AddUnitCell(testCell(t))

	p := peak.NewPeak(1, 0, unitShapeForTest(t))
	p.UnitCellID = oldID

	if err := e.SwapCell(p, newID); err != nil {
		t.Fatal(err)
	}
	if p.UnitCellID != newID {
		t.Fatalf("UnitCellID = %d, want %d", p.UnitCellID, newID)
	}
}

func TestSwapCellRejectsUnregisteredTarget(t *testing.T) {
	e := New("run-1", "synthetic-diffractometer")
	p := peak.NewPeak(1, 0, unitShapeForTest(t))
	if err := e.SwapCell(p, 42); err == nil {
		t.Fatal("expected an error swapping in an unregistered cell")
	}
}

func TestPredictRegistersACollectionStampedWithTheCellHandle(t *testing.T) {
	e := New("run-1", "synthetic-diffractometer")
	ds := testDataSet(t, 8)
	dsID := e.AddDataSet("sample-a", ds)
	uc := testCell(t)
	cellID := e.AddUnitCell(uc)

	params := predict.DefaultParams()
	params.DMin, params.DMax = 2, 100

	collID, err := e.Predict(context.Background(), dsID, cellID, params)
	if err != nil {
		t.Fatal(err)
	}
	coll, ok := e.PeakCollection(collID)
	if !ok {
		t.Fatal("Predict did not register its result collection")
	}
	for _, p := range coll.Peaks() {
		if p.UnitCellID != cellID {
			t.Fatalf("predicted peak UnitCellID = %d, want %d", p.UnitCellID, cellID)
		}
	}
}

func TestPredictRejectsUnknownDataSetOrCell(t *testing.T) {
	e := New("run-1", "synthetic-diffractometer")
	if _, err := e.Predict(context.Background(), 1, 1, predict.DefaultParams()); err == nil {
		t.Fatal("expected an error predicting against unregistered handles")
	}
}

func unitShapeForTest(t *testing.T) geom.Ellipsoid {
	t.Helper()
	cov := mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	metric, err := geom.MetricFromCovariance(cov)
	if err != nil {
		t.Fatal(err)
	}
	e, err := geom.NewEllipsoid(geom.Vec3{}, metric)
	if err != nil {
		t.Fatal(err)
	}
	return e
}
