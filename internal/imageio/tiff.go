package imageio

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/openhkl-project/ohkl/internal/dataset"
	"golang.org/x/image/tiff"
)

// TIFFSource reads a stack of single-channel TIFF images, one file per
// frame, optionally rebinning groups of rebinSize x rebinSize pixels into
// one by summation.
type TIFFSource struct {
	openers   []func() (io.ReadCloser, error)
	rebin     int
	nrows     int
	ncols     int
	rawRows   int
	rawCols   int
}

// OpenTIFFStack builds a TIFFSource from a list of per-frame file openers
// (kept abstract so tests can supply in-memory readers) and the declared
// rebin factor.
func OpenTIFFStack(openers []func() (io.ReadCloser, error), rawRows, rawCols, rebin int) (*TIFFSource, error) {
	if rebin < 1 {
		return nil, errInvalidRebin(rebin)
	}
	if rawRows <= 0 || rawCols <= 0 {
		return nil, errInvalidDims(rawRows, rawCols)
	}
	return &TIFFSource{
		openers: openers,
		rebin:   rebin,
		rawRows: rawRows,
		rawCols: rawCols,
		nrows:   rawRows / rebin,
		ncols:   rawCols / rebin,
	}, nil
}

func (s *TIFFSource) NumFrames() int   { return len(s.openers) }
func (s *TIFFSource) Dims() (int, int) { return s.nrows, s.ncols }
func (s *TIFFSource) Close() error     { return nil }

func (s *TIFFSource) ReadFrame(ctx context.Context, index int) (dataset.Frame, error) {
	if index < 0 || index >= len(s.openers) {
		return dataset.Frame{}, fmt.Errorf("imageio: tiff frame index %d out of range [0,%d)", index, len(s.openers))
	}
	rc, err := s.openers[index]()
	if err != nil {
		return dataset.Frame{}, fmt.Errorf("imageio: open tiff frame %d: %w", index, err)
	}
	defer rc.Close()

	img, err := tiff.Decode(rc)
	if err != nil {
		return dataset.Frame{}, fmt.Errorf("imageio: decode tiff frame %d: %w", index, err)
	}

	bounds := img.Bounds()
	if bounds.Dy() != s.rawRows || bounds.Dx() != s.rawCols {
		return dataset.Frame{}, fmt.Errorf("imageio: tiff frame %d has dims %dx%d, expected %dx%d",
			index, bounds.Dy(), bounds.Dx(), s.rawRows, s.rawCols)
	}

	if s.rebin == 1 {
		return grayFrame(img, bounds)
	}
	return rebinFrame(img, bounds, s.rebin, s.nrows, s.ncols)
}

func pixelValue(img image.Image, x, y int) uint32 {
	switch g := img.(type) {
	case *image.Gray16:
		return uint32(g.Gray16At(x, y).Y)
	case *image.Gray:
		return uint32(g.GrayAt(x, y).Y)
	default:
		r, _, _, _ := img.At(x, y).RGBA()
		return r >> 8
	}
}

func grayFrame(img image.Image, bounds image.Rectangle) (dataset.Frame, error) {
	frame := dataset.NewFrame(bounds.Dy(), bounds.Dx())
	for row := 0; row < bounds.Dy(); row++ {
		for col := 0; col < bounds.Dx(); col++ {
			frame.Set(row, col, pixelValue(img, bounds.Min.X+col, bounds.Min.Y+row))
		}
	}
	return frame, nil
}

func rebinFrame(img image.Image, bounds image.Rectangle, rebin, nrows, ncols int) (dataset.Frame, error) {
	frame := dataset.NewFrame(nrows, ncols)
	for row := 0; row < nrows; row++ {
		for col := 0; col < ncols; col++ {
			var sum uint32
			for dy := 0; dy < rebin; dy++ {
				for dx := 0; dx < rebin; dx++ {
					x := bounds.Min.X + col*rebin + dx
					y := bounds.Min.Y + row*rebin + dy
					sum += pixelValue(img, x, y)
				}
			}
			frame.Set(row, col, sum)
		}
	}
	return frame, nil
}
