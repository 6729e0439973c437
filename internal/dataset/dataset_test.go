package dataset

import (
	"context"
	"testing"

	"github.com/openhkl-project/ohkl/internal/instrument"
)

func synthetic(n int) *DataSet {
	det := instrument.DetectorGeometry{NumCols: 16, NumRows: 16, PixelWidth: 1e-4, PixelHeight: 1e-4, Distance: 0.1}
	frames := make([]Frame, n)
	states := make([]instrument.State, n)
	for i := range frames {
		frames[i] = NewFrame(16, 16)
		states[i] = instrument.NewState(det, 1.54)
	}
	ds, err := New("synthetic", Metadata{Wavelength: 1.54}, NewSliceSource(16, 16, frames), states)
	if err != nil {
		panic(err)
	}
	return ds
}

func TestNewRejectsMismatchedStates(t *testing.T) {
	frames := []Frame{NewFrame(4, 4)}
	_, err := New("bad", Metadata{}, NewSliceSource(4, 4, frames), nil)
	if err == nil {
		t.Fatal("expected error when states.len() != frames.len()")
	}
}

func TestDataSetValidate(t *testing.T) {
	ds := synthetic(3)
	if err := ds.Validate(); err != nil {
		t.Fatalf("synthetic dataset should validate: %v", err)
	}
}

func TestAcquiredPassReadsFramesAndRejectsOutOfRange(t *testing.T) {
	ds := synthetic(2)
	pass, err := ds.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer pass.Release()
	if _, err := pass.ReadFrame(context.Background(), 0); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if _, err := pass.ReadFrame(context.Background(), 5); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestSetStateAndState(t *testing.T) {
	ds := synthetic(1)
	s, err := ds.State(0)
	if err != nil {
		t.Fatal(err)
	}
	s.Wavelength = 2.0
	if err := ds.SetState(0, s); err != nil {
		t.Fatal(err)
	}
	got, _ := ds.State(0)
	if got.Wavelength != 2.0 {
		t.Fatalf("expected updated wavelength 2.0, got %v", got.Wavelength)
	}
}

func TestMaskIsMasked(t *testing.T) {
	ds := synthetic(1)
	m := NewMask(16, 16)
	m.MaskRect(0, 1, 0, 1)
	ds.AddMask(m)
	if !ds.IsMasked(0, 0) {
		t.Fatal("expected (0,0) to be masked")
	}
	if ds.IsMasked(5, 5) {
		t.Fatal("expected (5,5) to be unmasked")
	}
}
