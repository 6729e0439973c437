// Package export writes a merged reflection list out to the plain-text
// and binary formats crystallography refinement software consumes:
// ShelX and FullProf HKL, Scalepack SCA, and a minimal CCP4 MTZ. None of
// the retrieved example repositories ship a binary crystallography
// format, so these encoders are hand-rolled against each format's public
// column layout rather than adapted from an existing writer; they follow
// the low-dependency, plain io.Writer style used elsewhere in this
// module's readers (internal/imageio) rather than pulling in a
// general-purpose serialisation library for a handful of fixed-width
// records.
package export

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/merge"
)

const radToDeg = 180 / math.Pi

// scaledIntensity applies scale (default 1.0 when the caller passes 0)
// uniformly to a merged reflection's intensity and sigma.
func scaledIntensity(m *merge.MergedPeak, scale float64) (float64, float64) {
	if scale == 0 {
		scale = 1
	}
	return scale * m.Intensity, scale * m.Sigma
}

// WriteShelX writes peaks in SHELX HKL format: fixed-width (3I4,2F8.2)
// records terminated by a single 0 0 0 0.00 0.00 sentinel row.
func WriteShelX(w io.Writer, peaks []*merge.MergedPeak, scale float64) error {
	for _, m := range peaks {
		i, sigma := scaledIntensity(m, scale)
		if _, err := fmt.Fprintf(w, "%4d%4d%4d%8.2f%8.2f\n", m.H, m.K, m.L, i, sigma); err != nil {
			return fmt.Errorf("export: write shelx record: %w", err)
		}
	}
	_, err := fmt.Fprintf(w, "%4d%4d%4d%8.2f%8.2f\n", 0, 0, 0, 0.0, 0.0)
	if err != nil {
		return fmt.Errorf("export: write shelx terminator: %w", err)
	}
	return nil
}

// WriteFullProf writes peaks in FullProf's HKL format: the same
// (3I4,2F8.2) fixed columns as SHELX plus a trailing batch number (here
// always 1, since this module does not track a FullProf "batch"
// concept), with no terminator row.
func WriteFullProf(w io.Writer, peaks []*merge.MergedPeak, scale float64) error {
	for _, m := range peaks {
		i, sigma := scaledIntensity(m, scale)
		if _, err := fmt.Fprintf(w, "%4d%4d%4d%8.2f%8.2f%4d\n", m.H, m.K, m.L, i, sigma, 1); err != nil {
			return fmt.Errorf("export: write fullprof record: %w", err)
		}
	}
	return nil
}

// WriteScalepack writes peaks in HKL SCALEPACK's unmerged-style output
// format: a symmetry header line, a cell-constants line, then one fixed
// width record per reflection (batch, h, k, l, intensity, sigma).
func WriteScalepack(w io.Writer, peaks []*merge.MergedPeak, uc *cell.UnitCell, wavelength, scale float64) error {
	if _, err := fmt.Fprintf(w, "%5d\n", 1); err != nil {
		return fmt.Errorf("export: write scalepack symmetry header: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%10.3f%10.3f%10.3f%10.3f%10.3f%10.3f%10.5f\n",
		uc.A, uc.Bl, uc.C, uc.Alpha*radToDeg, uc.Beta*radToDeg, uc.Gamma*radToDeg, wavelength); err != nil {
		return fmt.Errorf("export: write scalepack cell header: %w", err)
	}
	for _, m := range peaks {
		i, sigma := scaledIntensity(m, scale)
		if _, err := fmt.Fprintf(w, "%6d%4d%4d%4d%8.1f%8.1f\n", 1, m.H, m.K, m.L, i, sigma); err != nil {
			return fmt.Errorf("export: write scalepack record: %w", err)
		}
	}
	return nil
}

// mtzHeader is the minimal subset of CCP4 MTZ's fixed binary header this
// module reproduces: enough for a reader expecting reflection columns
// H,K,L,I,SIGI to locate and decode them. This is not a complete MTZ
// writer: no batch headers, no symmetry block, no history records.
type mtzHeader struct {
	NCol    int32
	NRefl   int32
	Cell    [6]float32
	Wave    float32
}

// WriteCCP4 writes a minimal CCP4 MTZ-like binary stream: a small fixed
// header followed by NCol*NRefl little-endian float32 values, column
// major (H, K, L, I, SIGI each as a contiguous NRefl-length run). This
// intentionally does not reproduce the real MTZ format's symmetry,
// batch, and history machinery.
func WriteCCP4(w io.Writer, peaks []*merge.MergedPeak, uc *cell.UnitCell, wavelength, scale float64) error {
	hdr := mtzHeader{
		NCol:  5,
		NRefl: int32(len(peaks)),
		Cell: [6]float32{
			float32(uc.A), float32(uc.Bl), float32(uc.C),
			float32(uc.Alpha * radToDeg), float32(uc.Beta * radToDeg), float32(uc.Gamma * radToDeg),
		},
		Wave: float32(wavelength),
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("export: write mtz header: %w", err)
	}

	columns := [5][]float32{
		make([]float32, len(peaks)), make([]float32, len(peaks)), make([]float32, len(peaks)),
		make([]float32, len(peaks)), make([]float32, len(peaks)),
	}
	for idx, m := range peaks {
		i, sigma := scaledIntensity(m, scale)
		columns[0][idx] = float32(m.H)
		columns[1][idx] = float32(m.K)
		columns[2][idx] = float32(m.L)
		columns[3][idx] = float32(i)
		columns[4][idx] = float32(sigma)
	}
	for _, col := range columns {
		if err := binary.Write(w, binary.LittleEndian, col); err != nil {
			return fmt.Errorf("export: write mtz column: %w", err)
		}
	}
	return nil
}
