package merge

import (
	"fmt"
	"sort"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
	"gonum.org/v1/gonum/mat"
)

// CellLookup resolves a peak's weak UnitCellID reference. Mirrors
// internal/refine.CellLookup: peaks only carry an integer handle, so
// merge needs the same caller-supplied resolver the experiment
// orchestrator's UnitCellHandler provides.
type CellLookup func(id int) *cell.UnitCell

type canonKey struct{ H, K, L int }

// Merge groups every enabled, indexed peak across collections by its
// canonical Miller index under sg,
// computing one MergedPeak per canonical index.
func Merge(collections [][]*peak.Peak3D, lookup CellLookup, sg spacegroup.SpaceGroup, params Params) ([]*MergedPeak, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	groups := make(map[canonKey]*MergedPeak)
	var order []canonKey

	for _, coll := range collections {
		for _, p := range coll {
			if !p.Valid() || !p.Miller.Valid {
				continue
			}
			if params.frameRestricted() {
				f := p.Shape.Center.Z
				if f < float64(params.FrameMin) || f > float64(params.FrameMax) {
					continue
				}
			}
			uc := lookup(p.UnitCellID)
			if uc == nil {
				continue
			}
			d := dSpacing(uc, p.Miller.H, p.Miller.K, p.Miller.L)
			if d <= 0 || d < params.DMin || d > params.DMax {
				continue
			}

			intensity, sigma := p.SumIntensity, p.SumSigma
			if params.UseProfile {
				intensity, sigma = p.ProfileIntensity, p.ProfileSigma
			}
			if sigma <= 0 {
				continue
			}

			ch, ck, cl := sg.Canonical(p.Miller.H, p.Miller.K, p.Miller.L, params.Friedel)
			key := canonKey{ch, ck, cl}
			mp, ok := groups[key]
			if !ok {
				mp = &MergedPeak{H: ch, K: ck, L: cl, D: d}
				groups[key] = mp
				order = append(order, key)
			}
			mp.Measurements = append(mp.Measurements, Measurement{Peak: p, Intensity: intensity, Sigma: sigma})
		}
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("merge: no enabled, indexed peaks in range")
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.H != b.H {
			return a.H < b.H
		}
		if a.K != b.K {
			return a.K < b.K
		}
		return a.L < b.L
	})

	out := make([]*MergedPeak, 0, len(groups))
	for _, key := range order {
		mp := groups[key]
		mp.computeStatistics()
		out = append(out, mp)
	}
	return out, nil
}

func dSpacing(uc *cell.UnitCell, h, k, l int) float64 {
	ub := uc.UB()
	v := mat.NewVecDense(3, []float64{float64(h), float64(k), float64(l)})
	var q mat.VecDense
	q.MulVec(ub, v)
	n := geom.NewVec3(q.AtVec(0), q.AtVec(1), q.AtVec(2)).Norm()
	if n == 0 {
		return 0
	}
	return 1 / n
}
