package imageio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/openhkl-project/ohkl/internal/dataset"
)

// TextSource reads frames from whitespace-separated plain-text files, one
// file per frame, nrows lines of ncols integers each.
type TextSource struct {
	openers []func() (io.ReadCloser, error)
	nrows   int
	ncols   int
}

func OpenTextStack(openers []func() (io.ReadCloser, error), nrows, ncols int) (*TextSource, error) {
	if nrows <= 0 || ncols <= 0 {
		return nil, errInvalidDims(nrows, ncols)
	}
	return &TextSource{openers: openers, nrows: nrows, ncols: ncols}, nil
}

func (s *TextSource) NumFrames() int   { return len(s.openers) }
func (s *TextSource) Dims() (int, int) { return s.nrows, s.ncols }
func (s *TextSource) Close() error     { return nil }

func (s *TextSource) ReadFrame(ctx context.Context, index int) (dataset.Frame, error) {
	if index < 0 || index >= len(s.openers) {
		return dataset.Frame{}, fmt.Errorf("imageio: text frame index %d out of range [0,%d)", index, len(s.openers))
	}
	rc, err := s.openers[index]()
	if err != nil {
		return dataset.Frame{}, fmt.Errorf("imageio: open text frame %d: %w", index, err)
	}
	defer rc.Close()

	frame := dataset.NewFrame(s.nrows, s.ncols)
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	row := 0
	for scanner.Scan() && row < s.nrows {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != s.ncols {
			return dataset.Frame{}, fmt.Errorf("imageio: text frame %d row %d has %d fields, expected %d",
				index, row, len(fields), s.ncols)
		}
		for col, f := range fields {
			v, err := strconv.ParseUint(f, 10, 32)
			if err != nil {
				return dataset.Frame{}, fmt.Errorf("imageio: text frame %d row %d col %d: %w", index, row, col, err)
			}
			frame.Set(row, col, uint32(v))
		}
		row++
	}
	if err := scanner.Err(); err != nil {
		return dataset.Frame{}, fmt.Errorf("imageio: scan text frame %d: %w", index, err)
	}
	if row != s.nrows {
		return dataset.Frame{}, fmt.Errorf("imageio: text frame %d has %d rows, expected %d", index, row, s.nrows)
	}
	return frame, nil
}
