package export

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/merge"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
)

func testPeaks() []*merge.MergedPeak {
	return []*merge.MergedPeak{
		{H: 1, K: 0, L: 0, D: 5.0, Intensity: 123.4, Sigma: 5.6},
		{H: 0, K: 1, L: -2, D: 3.2, Intensity: 7.89, Sigma: 1.1},
	}
}

func TestWriteShelXEmitsFixedWidthRecordsAndTerminator(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteShelX(&buf, testPeaks(), 1); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3 (2 peaks + terminator)", len(lines))
	}
	if lines[0] != "   1   0   0  123.40    5.60" {
		t.Fatalf("first record = %q", lines[0])
	}
	if lines[2] != "   0   0   0    0.00    0.00" {
		t.Fatalf("terminator = %q", lines[2])
	}
}

func TestWriteShelXAppliesScaleFactor(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteShelX(&buf, testPeaks()[:1], 2.0); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "246.80") {
		t.Fatalf("expected scaled intensity 246.80 in output, got %q", buf.String())
	}
}

func TestWriteFullProfHasNoTerminatorAndCarriesBatchColumn(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFullProf(&buf, testPeaks(), 0); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 (no terminator)", len(lines))
	}
	if !strings.HasSuffix(lines[0], "   1") {
		t.Fatalf("expected trailing batch column, got %q", lines[0])
	}
}

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

func TestWriteScalepackHeaderCarriesCellAndWavelength(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteScalepack(&buf, testPeaks(), testCell(t), 1.54, 0); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4 (symmetry + cell + 2 reflections)", len(lines))
	}
	if !strings.Contains(lines[1], "10.000") || !strings.Contains(lines[1], "1.54000") {
		t.Fatalf("cell header missing expected values: %q", lines[1])
	}
}

func TestWriteCCP4RoundTripsColumnMajorFloats(t *testing.T) {
	var buf bytes.Buffer
	peaks := testPeaks()
	if err := WriteCCP4(&buf, peaks, testCell(t), 1.54, 1); err != nil {
		t.Fatal(err)
	}

	var hdr mtzHeader
	r := bytes.NewReader(buf.Bytes())
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	if hdr.NCol != 5 || int(hdr.NRefl) != len(peaks) {
		t.Fatalf("header = %+v, want NCol=5 NRefl=%d", hdr, len(peaks))
	}

	hCol := make([]float32, len(peaks))
	if err := binary.Read(r, binary.LittleEndian, &hCol); err != nil {
		t.Fatal(err)
	}
	if hCol[0] != 1 || hCol[1] != 0 {
		t.Fatalf("H column = %v, want [1 0]", hCol)
	}
}
