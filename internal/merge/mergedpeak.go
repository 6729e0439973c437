package merge

import (
	"math"

	"github.com/openhkl-project/ohkl/internal/peak"
	"gonum.org/v1/gonum/stat/distuv"
)

// Measurement is one contributing peak's corrected intensity, kept
// alongside the canonical MergedPeak it rolled into so R-factor and
// CC1/2 statistics can be recomputed from raw measurements rather than
// just the merged mean.
type Measurement struct {
	Peak      *peak.Peak3D
	Intensity float64
	Sigma     float64
}

// MergedPeak is one canonical Miller index and every measurement that
// maps to it under the merger's space group.
type MergedPeak struct {
	H, K, L      int
	D            float64 // angstrom, representative d-spacing
	Measurements []Measurement

	Intensity float64
	Sigma     float64
	ChiSq     float64
	PValue    float64
}

// Redundancy is the number of contributing measurements (multiplicity).
func (m *MergedPeak) Redundancy() int { return len(m.Measurements) }

// computeStatistics derives Intensity (inverse-variance weighted mean),
// Sigma, ChiSq and PValue from Measurements. The invariant —
// every measurement maps to the same canonical hkl — is guaranteed by
// construction in Merge, not re-checked here.
func (m *MergedPeak) computeStatistics() {
	var sumWI, sumW float64
	for _, meas := range m.Measurements {
		if meas.Sigma <= 0 {
			continue
		}
		w := 1 / (meas.Sigma * meas.Sigma)
		sumWI += w * meas.Intensity
		sumW += w
	}
	if sumW <= 0 {
		return
	}
	m.Intensity = sumWI / sumW
	m.Sigma = math.Sqrt(1 / sumW)

	var chiSq float64
	n := 0
	for _, meas := range m.Measurements {
		if meas.Sigma <= 0 {
			continue
		}
		d := meas.Intensity - m.Intensity
		chiSq += d * d / (meas.Sigma * meas.Sigma)
		n++
	}
	m.ChiSq = chiSq
	if n > 1 {
		dist := distuv.ChiSquared{K: float64(n - 1)}
		m.PValue = 1 - dist.CDF(chiSq)
	} else {
		m.PValue = 1
	}
}
