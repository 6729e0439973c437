package finder

import (
	"context"
	"testing"

	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/instrument"
)

func syntheticWithBlob(t *testing.T, n, nrows, ncols, blobRow, blobCol, blobFrame0, blobFrames int) *dataset.DataSet {
	t.Helper()
	det := instrument.DetectorGeometry{NumCols: ncols, NumRows: nrows, PixelWidth: 1e-4, PixelHeight: 1e-4, Distance: 0.1}
	frames := make([]dataset.Frame, n)
	states := make([]instrument.State, n)
	for i := 0; i < n; i++ {
		f := dataset.NewFrame(nrows, ncols)
		for r := 0; r < nrows; r++ {
			for c := 0; c < ncols; c++ {
				f.Set(r, c, 5)
			}
		}
		if i >= blobFrame0 && i < blobFrame0+blobFrames {
			for dr := -1; dr <= 1; dr++ {
				for dc := -1; dc <= 1; dc++ {
					f.Set(blobRow+dr, blobCol+dc, 500)
				}
			}
		}
		frames[i] = f
		states[i] = instrument.NewState(det, 1.54)
	}
	ds, err := dataset.New("synthetic", dataset.Metadata{Wavelength: 1.54}, dataset.NewSliceSource(nrows, ncols, frames), states)
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

func testParams() Params {
	p := DefaultParams()
	p.InnerRadius = 2
	p.OuterRadius = 5
	p.MinSize = 3
	p.MaxSize = 1000
	p.MinFrameSpan = 1
	p.MaxFrameSpan = 10
	return p
}

func TestFindDetectsSingleBlob(t *testing.T) {
	ds := syntheticWithBlob(t, 5, 32, 32, 16, 16, 2, 2)
	collection, err := Find(context.Background(), ds, 1, testParams())
	if err != nil {
		t.Fatal(err)
	}
	if len(collection.Peaks()) != 1 {
		t.Fatalf("found %d peaks, want 1", len(collection.Peaks()))
	}
	p := collection.Peaks()[0]
	if p.Shape.Center.X < 14 || p.Shape.Center.X > 18 {
		t.Fatalf("peak centroid X = %g, want near 16", p.Shape.Center.X)
	}
}

func TestFindRejectsFlatFrames(t *testing.T) {
	ds := syntheticWithBlob(t, 3, 16, 16, 8, 8, 99, 0)
	collection, err := Find(context.Background(), ds, 1, testParams())
	if err != nil {
		t.Fatal(err)
	}
	if len(collection.Peaks()) != 0 {
		t.Fatalf("found %d peaks in flat data, want 0", len(collection.Peaks()))
	}
}

func TestFindRejectsOversizeFrameSpan(t *testing.T) {
	ds := syntheticWithBlob(t, 10, 32, 32, 16, 16, 0, 10)
	p := testParams()
	p.MaxFrameSpan = 3
	collection, err := Find(context.Background(), ds, 1, p)
	if err != nil {
		t.Fatal(err)
	}
	if len(collection.Peaks()) != 0 {
		t.Fatalf("found %d peaks spanning too many frames, want 0", len(collection.Peaks()))
	}
}
