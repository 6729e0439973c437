package imageio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/openhkl-project/ohkl/internal/dataset"
)

// RawSource reads a stack of u16/u32 detector frames from a flat binary
// blob, row- or column-major, with optional byte-swap. Framing and
// short-read handling follow the usual IIOD binary backend
// (encoding/binary + io.ReadFull over a fixed-size payload).
type RawSource struct {
	r          io.ReaderAt
	closer     io.Closer
	params     Params
	bytesPer   int
	frameBytes int
}

// OpenRaw builds a RawSource over r using the geometry in params.
func OpenRaw(r io.ReaderAt, closer io.Closer, params Params) (*RawSource, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.NFrames <= 0 {
		return nil, fmt.Errorf("imageio: NFrames must be positive")
	}
	bytesPer := 2
	if params.Pixel == PixelU32 {
		bytesPer = 4
	}
	return &RawSource{
		r:          r,
		closer:     closer,
		params:     params,
		bytesPer:   bytesPer,
		frameBytes: bytesPer * params.NRows * params.NCols,
	}, nil
}

func (s *RawSource) NumFrames() int  { return s.params.NFrames }
func (s *RawSource) Dims() (int, int) { return s.params.NRows, s.params.NCols }

func (s *RawSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// ReadFrame decodes one frame, retrying transient short reads with
// exponential backoff — real detector spools (network shares, slow
// tape-backed stores) occasionally serve a frame before it is fully
// flushed to disk.
func (s *RawSource) ReadFrame(ctx context.Context, index int) (dataset.Frame, error) {
	if index < 0 || index >= s.params.NFrames {
		return dataset.Frame{}, fmt.Errorf("imageio: frame index %d out of range [0,%d)", index, s.params.NFrames)
	}

	buf := make([]byte, s.frameBytes)
	offset := int64(index) * int64(s.frameBytes)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Millisecond
	policy.MaxElapsedTime = 200 * time.Millisecond

	err := backoff.Retry(func() error {
		n, err := s.r.ReadAt(buf, offset)
		if err != nil && err != io.EOF {
			return err
		}
		if n != len(buf) {
			return errShortRead(len(buf), n)
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return dataset.Frame{}, fmt.Errorf("imageio: read frame %d: %w", index, err)
	}

	return s.decode(buf), nil
}

func (s *RawSource) decode(buf []byte) dataset.Frame {
	frame := dataset.NewFrame(s.params.NRows, s.params.NCols)
	readAt := func(i int) uint32 {
		off := i * s.bytesPer
		chunk := buf[off : off+s.bytesPer]
		if s.bytesPer == 2 {
			if s.params.SwapEndian {
				return uint32(binary.BigEndian.Uint16(chunk))
			}
			return uint32(binary.LittleEndian.Uint16(chunk))
		}
		if s.params.SwapEndian {
			return binary.BigEndian.Uint32(chunk)
		}
		return binary.LittleEndian.Uint32(chunk)
	}

	i := 0
	if s.params.Order == RowMajor {
		for r := 0; r < s.params.NRows; r++ {
			for c := 0; c < s.params.NCols; c++ {
				frame.Set(r, c, readAt(i))
				i++
			}
		}
	} else {
		for c := 0; c < s.params.NCols; c++ {
			for r := 0; r < s.params.NRows; r++ {
				frame.Set(r, c, readAt(i))
				i++
			}
		}
	}
	return frame
}
