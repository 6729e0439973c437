package autoindex

import (
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/peak"
)

// FilterPeaks selects the subset of peaks (and their parallel q-vectors)
// that the direction search is allowed to see: strength value/sigma in
// [StrengthMin, StrengthMax], resolved d-spacing 1/|q| in [PeakDMin,
// PeakDMax], and, when PeaksIntegrated is set, only peaks that already
// carry a computed sum intensity (sigma > 0). peaks and qs must be the
// same length and in peak order, as produced by sampleQVectors.
func FilterPeaks(peaks []*peak.Peak3D, qs []geom.Vec3, params Params) []geom.Vec3 {
	out := make([]geom.Vec3, 0, len(qs))
	for i, q := range qs {
		p := peaks[i]
		if params.PeaksIntegrated && p.SumSigma <= 0 {
			continue
		}
		if p.SumSigma > 0 {
			strength := p.SumIntensity / p.SumSigma
			if strength < params.StrengthMin || strength > params.StrengthMax {
				continue
			}
		}
		n := q.Norm()
		if n <= 0 {
			continue
		}
		d := 1 / n
		if d < params.PeakDMin || d > params.PeakDMax {
			continue
		}
		out = append(out, q)
	}
	return out
}
