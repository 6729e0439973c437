package imageio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
)

type bytesReaderAt struct{ b []byte }

func (r bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(r.b).ReadAt(p, off)
}

func TestRawSourceRowMajorU16(t *testing.T) {
	nrows, ncols, nframes := 2, 2, 2
	buf := new(bytes.Buffer)
	var want [][]uint32
	val := uint16(0)
	for f := 0; f < nframes; f++ {
		frameVals := make([]uint32, nrows*ncols)
		for i := range frameVals {
			binary.Write(buf, binary.LittleEndian, val)
			frameVals[i] = uint32(val)
			val++
		}
		want = append(want, frameVals)
	}

	src, err := OpenRaw(bytesReaderAt{buf.Bytes()}, nil, Params{
		Format: FormatRaw, NRows: nrows, NCols: ncols, NFrames: nframes,
		Pixel: PixelU16, Order: RowMajor,
	})
	if err != nil {
		t.Fatal(err)
	}
	if src.NumFrames() != nframes {
		t.Fatalf("NumFrames = %d, want %d", src.NumFrames(), nframes)
	}
	for f := 0; f < nframes; f++ {
		frame, err := src.ReadFrame(context.Background(), f)
		if err != nil {
			t.Fatal(err)
		}
		for i, v := range frame.Counts {
			if v != want[f][i] {
				t.Fatalf("frame %d pixel %d = %d, want %d", f, i, v, want[f][i])
			}
		}
	}
}

func TestRawSourceOutOfRange(t *testing.T) {
	src, err := OpenRaw(bytesReaderAt{make([]byte, 100)}, nil, Params{
		Format: FormatRaw, NRows: 2, NCols: 2, NFrames: 1, Pixel: PixelU16,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.ReadFrame(context.Background(), 5); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestTextSourceRoundTrip(t *testing.T) {
	data := "1 2\n3 4\n"
	opener := func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewBufferString(data)), nil
	}
	src, err := OpenTextStack([]func() (io.ReadCloser, error){opener}, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := src.ReadFrame(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint32{1, 2, 3, 4}
	for i, v := range frame.Counts {
		if v != want[i] {
			t.Fatalf("pixel %d = %d, want %d", i, v, want[i])
		}
	}
}

func TestTextSourceRejectsWrongFieldCount(t *testing.T) {
	opener := func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewBufferString("1 2 3\n4 5\n")), nil
	}
	src, err := OpenTextStack([]func() (io.ReadCloser, error){opener}, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.ReadFrame(context.Background(), 0); err == nil {
		t.Fatal("expected error for mismatched field count")
	}
}
