package refine

import (
	"context"
	"math"
	"testing"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/instrument"
	"github.com/openhkl-project/ohkl/internal/peak"
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

func buildIndexedPeak(t *testing.T, ds *dataset.DataSet, uc *cell.UnitCell, h, k, l int) *peak.Peak3D {
	t.Helper()
	ub := uc.UB()
	for f := 0; f < ds.NumFrames(); f++ {
		s, err := ds.State(f)
		if err != nil {
			t.Fatal(err)
		}
		qXtal := mulUBTest(ub, h, k, l)
		qSample := qXtal.Scale(2 * math.Pi)
		labQ := s.LabQ(qSample)
		kf := s.Ki().Add(labQ)
		px, py, ok := s.PixelOf(kf)
		if !ok {
			continue
		}
		resid := ewaldResidual(s.Ki(), labQ)
		if math.Abs(resid) > 0.2 {
			continue
		}
		shape, err := geom.NewEllipsoid(geom.Vec3{X: px, Y: py, Z: float64(f)}, unitMetric())
		if err != nil {
			t.Fatal(err)
		}
		p := peak.NewPeak(1, 0, shape)
		p.SetMiller(h, k, l, 0)
		return p
	}
	t.Fatalf("no frame found where (%d %d %d) approaches the Ewald sphere", h, k, l)
	return nil
}

func mulUBTest(ub *mat.Dense, h, k, l int) geom.Vec3 {
	v := mat.NewVecDense(3, []float64{float64(h), float64(k), float64(l)})
	var out mat.VecDense
	out.MulVec(ub, v)
	return geom.Vec3{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

func TestFormBatchesPartitionsContiguousByFrame(t *testing.T) {
	uc := testCell(t)
	var peaks []*peak.Peak3D
	for i := 0; i < 12; i++ {
		shape, err := geom.NewEllipsoid(geom.Vec3{X: 10, Y: 10, Z: float64(i)}, unitMetric())
		if err != nil {
			t.Fatal(err)
		}
		p := peak.NewPeak(i, 0, shape)
		p.SetMiller(1, 0, 0, 0)
		peaks = append(peaks, p)
	}
	batches, err := FormBatches(peaks, uc, nil, 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	for _, b := range batches {
		if len(b.Peaks) == 0 {
			t.Fatal("empty batch")
		}
		for _, p := range b.Peaks {
			f := p.Shape.Center.Z
			if f < float64(b.FMin) || f > float64(b.FMax) {
				t.Fatalf("peak frame %g outside batch range [%d,%d]", f, b.FMin, b.FMax)
			}
		}
	}
}

func TestReconstructBatchesRestoresSnapshot(t *testing.T) {
	ds := testDataSet(t, 10)
	orig, err := ds.State(3)
	if err != nil {
		t.Fatal(err)
	}
	snapshot := map[int]instrument.State{3: orig}
	batch := &Batch{FMin: 2, FMax: 4}

	mutated := orig
	mutated.Wavelength = 99
	if err := ds.SetState(3, mutated); err != nil {
		t.Fatal(err)
	}

	ReconstructBatches(ds, []*Batch{batch}, snapshot)

	got, err := ds.State(3)
	if err != nil {
		t.Fatal(err)
	}
	if got.Wavelength != orig.Wavelength {
		t.Fatalf("state not restored: wavelength = %g, want %g", got.Wavelength, orig.Wavelength)
	}
}

func TestUpdatePredictionsFlagsUnreachableReflection(t *testing.T) {
	ds := testDataSet(t, 10)
	uc := testCell(t)
	shape, err := geom.NewEllipsoid(geom.Vec3{X: 10, Y: 10, Z: 5}, unitMetric())
	if err != nil {
		t.Fatal(err)
	}
	p := peak.NewPeak(1, 0, shape)
	p.SetMiller(100, 100, 100, 0) // resolves to no Ewald crossing in this tiny dataset

	b1 := &Batch{Cell: uc, FMin: 0, FMax: 4}
	b2 := &Batch{Cell: uc, FMin: 5, FMax: 9}
	UpdatePredictions(ds, []*peak.Peak3D{p}, []*Batch{b1, b2}, 50)
	if p.Rejection != peak.PredictionUpdateFailure {
		t.Fatalf("rejection = %v, want PredictionUpdateFailure", p.Rejection)
	}
}

func TestRefineReturnsResultWithoutPanicking(t *testing.T) {
	ds := testDataSet(t, 20)
	uc := testCell(t)
	p1 := buildIndexedPeak(t, ds, uc, 1, 0, 0)
	p2 := buildIndexedPeak(t, ds, uc, 0, 1, 0)
	p3 := buildIndexedPeak(t, ds, uc, 1, 1, 0)
	p4 := buildIndexedPeak(t, ds, uc, 0, 0, 1)
	peaks := []*peak.Peak3D{p1, p2, p3, p4}

	params := DefaultParams()
	params.NBatches = 2
	params.MaxIter = 5
	params.RefineSamplePosition = true

	result, err := Refine(context.Background(), ds, peaks, uc, nil, params)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(result.Batches))
	}
	for _, b := range result.Batches {
		if len(b.Peaks) == 0 {
			t.Fatal("refine invariant 3 violated: empty batch")
		}
	}
}

func unitMetric() *mat.SymDense {
	return mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
