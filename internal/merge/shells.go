package merge

import (
	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/predict"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
)

// ShellStats holds one resolution shell's merged peaks and the quality
// statistics derived from them.
type ShellStats struct {
	Index      int
	DMin, DMax float64

	MergedPeaks []*MergedPeak

	RMerge, RMeas, RPim float64
	CCHalf, CCStar      float64
	Completeness        float64
}

// Collection is the full merged-peak set split into resolution shells,
// plus the same statistics computed over all shells combined.
type Collection struct {
	Shells  []*ShellStats
	Overall *ShellStats
}

// shellBounds partitions [dMin, dMax] into nShells intervals of equal
// volume in reciprocal space: equal increments of d^-3, from low
// resolution (large d, index 0) to high resolution (small d, index
// nShells-1).
func shellBounds(dMin, dMax float64, nShells int) []float64 {
	xMin := 1 / (dMax * dMax * dMax)
	xMax := 1 / (dMin * dMin * dMin)
	bounds := make([]float64, nShells+1)
	for i := 0; i <= nShells; i++ {
		bounds[i] = xMin + (xMax-xMin)*float64(i)/float64(nShells)
	}
	return bounds
}

func shellIndex(d float64, bounds []float64) int {
	x := 1 / (d * d * d)
	for i := 0; i < len(bounds)-1; i++ {
		if x >= bounds[i] && x <= bounds[i+1] {
			return i
		}
	}
	if x < bounds[0] {
		return 0
	}
	return len(bounds) - 2
}

func boundsToD(bounds []float64, i int) (dMin, dMax float64) {
	// bounds are increasing in x = 1/d^3, so d is decreasing: dMax
	// corresponds to the lower x bound, dMin to the upper.
	dMax = cubeRootInv(bounds[i])
	dMin = cubeRootInv(bounds[i+1])
	return dMin, dMax
}

func cubeRootInv(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return 1 / cubeRoot(x)
}

func cubeRoot(x float64) float64 {
	if x == 0 {
		return 0
	}
	// x = d^-3 is always positive here (d > 0).
	lo, hi := 0.0, x
	if hi < 1 {
		hi = 1
	}
	for i := 0; i < 60; i++ {
		mid := (lo + hi) / 2
		if mid*mid*mid < x {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// SplitShells partitions mergedPeaks into params.NShells resolution
// shells and computes per-shell and overall statistics. If
// params.ReferenceCell is set, completeness is computed against the
// number of symmetry-unique reflections the space group predicts in
// each shell; otherwise Completeness is left at zero.
func SplitShells(mergedPeaks []*MergedPeak, sg spacegroup.SpaceGroup, params Params) *Collection {
	bounds := shellBounds(params.DMin, params.DMax, params.NShells)
	shells := make([]*ShellStats, params.NShells)
	for i := range shells {
		dMin, dMax := boundsToD(bounds, i)
		shells[i] = &ShellStats{Index: i, DMin: dMin, DMax: dMax}
	}

	for _, mp := range mergedPeaks {
		i := shellIndex(mp.D, bounds)
		if i < 0 || i >= len(shells) {
			continue
		}
		shells[i].MergedPeaks = append(shells[i].MergedPeaks, mp)
	}

	for _, s := range shells {
		computeShellStatistics(s, sg, params)
	}

	overall := &ShellStats{Index: -1, DMin: params.DMin, DMax: params.DMax, MergedPeaks: mergedPeaks}
	computeShellStatistics(overall, sg, params)

	return &Collection{Shells: shells, Overall: overall}
}

func computeShellStatistics(s *ShellStats, sg spacegroup.SpaceGroup, params Params) {
	s.RMerge, s.RMeas, s.RPim = rFactors(s.MergedPeaks)
	s.CCHalf = ccHalf(s.MergedPeaks)
	s.CCStar = ccStar(s.CCHalf)
	if params.ReferenceCell != nil {
		expected := expectedUniqueCount(params.ReferenceCell, sg, params.Friedel, s.DMin, s.DMax)
		if expected > 0 {
			s.Completeness = float64(len(s.MergedPeaks)) / float64(expected)
		}
	}
}

// expectedUniqueCount enumerates every reciprocal-lattice point uc's
// metric places in [dMin, dMax] and counts the distinct classes sg's
// symmetry operators (plus Friedel's law, if requested) collapse them
// into — the completeness denominator for one shell.
func expectedUniqueCount(uc *cell.UnitCell, sg spacegroup.SpaceGroup, friedel bool, dMin, dMax float64) int {
	triples := predict.EnumerateHKL(uc, dMin, dMax)
	seen := make(map[canonKey]struct{}, len(triples))
	for _, m := range triples {
		ch, ck, cl := sg.Canonical(m.H, m.K, m.L, friedel)
		seen[canonKey{ch, ck, cl}] = struct{}{}
	}
	return len(seen)
}
