// Package autoindex implements unit-cell auto-indexing from a set of
// observed scattering vectors, following the Fourier-transform direction
// search described by Steller, Bolotovsky and Rossmann (1997): candidate
// real-space lattice directions are found by looking for periodicity in
// the projection of every q-vector onto a dense sampling of trial
// directions, since q . t is integer-valued whenever t is a real lattice
// translation.
package autoindex

import (
	"fmt"
	"math"
	"sort"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/spacegroup"
	"gonum.org/v1/gonum/mat"
)

// Params configures the direction search and acceptance tests.
type Params struct {
	NumDirections     int
	NumHistogramBins  int
	MinLength         float64 // angstrom
	MaxLength         float64 // angstrom
	FrequencyTolerance float64 // relative amplitude cutoff: frequencies below FrequencyTolerance*amplitude(0) are discarded
	IndexingTolerance float64 // max |q - UB*round(hkl)| to count a peak as indexed
	MinIndexedFraction float64 // minimum fraction of input peaks a solution must index
	MaxCandidateDirections int // how many top-scoring directions to combine into triples
	MaxSolutions     int

	// Input-peak filter (spec Sec. 4.2 step 1), applied by FilterPeaks
	// before any peak contributes a q-vector to the direction search.
	StrengthMin     float64 // minimum value/sigma to admit a peak
	StrengthMax     float64 // maximum value/sigma to admit a peak
	PeakDMin        float64 // angstrom, minimum resolved d-spacing
	PeakDMax        float64 // angstrom, maximum resolved d-spacing
	PeaksIntegrated bool    // require a peak to already carry a computed sum intensity
}

func DefaultParams() Params {
	return Params{
		NumDirections:          2000,
		NumHistogramBins:       4096,
		MinLength:              3,
		MaxLength:              100,
		FrequencyTolerance:     0.15,
		IndexingTolerance:      0.05,
		MinIndexedFraction:     0.5,
		MaxCandidateDirections: 30,
		MaxSolutions:           5,
		StrengthMin:            3,
		StrengthMax:            math.Inf(1),
		PeakDMin:               1.0,
		PeakDMax:               50.0,
		PeaksIntegrated:        false,
	}
}

func (p Params) Validate() error {
	if p.NumDirections <= 0 || p.NumHistogramBins <= 0 {
		return fmt.Errorf("autoindex: NumDirections and NumHistogramBins must be positive")
	}
	if p.MinLength <= 0 || p.MaxLength <= p.MinLength {
		return fmt.Errorf("autoindex: need 0 < MinLength < MaxLength")
	}
	if p.FrequencyTolerance <= 0 || p.FrequencyTolerance >= 1 {
		return fmt.Errorf("autoindex: FrequencyTolerance must be in (0,1)")
	}
	if p.MaxCandidateDirections < 3 {
		return fmt.Errorf("autoindex: MaxCandidateDirections must be at least 3")
	}
	if p.PeakDMin <= 0 || p.PeakDMax <= p.PeakDMin {
		return fmt.Errorf("autoindex: need 0 < PeakDMin < PeakDMax")
	}
	if p.StrengthMax <= p.StrengthMin {
		return fmt.Errorf("autoindex: need StrengthMin < StrengthMax")
	}
	return nil
}

// Solution is one candidate unit cell together with the fraction of
// input peaks it indexes within tolerance.
type Solution struct {
	Cell            *cell.UnitCell
	IndexedFraction float64
}

type directionCandidate struct {
	dir    geom.Vec3
	length float64
	score  float64
}

// Solve searches qvectors (observed scattering vectors, one per strong
// peak) for up to params.MaxSolutions candidate unit cells.
func Solve(qvectors []geom.Vec3, sg spacegroup.SpaceGroup, params Params) ([]Solution, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(qvectors) < 6 {
		return nil, fmt.Errorf("autoindex: need at least 6 peaks, got %d", len(qvectors))
	}

	pmax := 0.0
	for _, q := range qvectors {
		if n := q.Norm(); n > pmax {
			pmax = n
		}
	}
	if pmax == 0 {
		return nil, fmt.Errorf("autoindex: all q-vectors are zero")
	}

	directions := fibonacciHemisphere(params.NumDirections)
	candidates := make([]directionCandidate, 0, params.NumDirections)
	for _, d := range directions {
		projections := make([]float64, len(qvectors))
		for i, q := range qvectors {
			projections[i] = q.Dot(d)
		}
		bins := histogram(projections, pmax, params.NumHistogramBins)
		length, score := dominantPeriod(bins, pmax, params.MinLength, params.MaxLength, params.FrequencyTolerance)
		if length == 0 {
			continue
		}
		candidates = append(candidates, directionCandidate{dir: d, length: length, score: score})
	}
	if len(candidates) < 3 {
		return nil, fmt.Errorf("autoindex: fewer than 3 candidate directions passed the frequency test")
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	candidates = dedupeDirections(candidates)
	if len(candidates) > params.MaxCandidateDirections {
		candidates = candidates[:params.MaxCandidateDirections]
	}

	type scored struct {
		triple [3]directionCandidate
		score  float64
	}
	var best []scored
	n := len(candidates)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			for k := j + 1; k < n; k++ {
				a := candidates[i].dir.Scale(candidates[i].length)
				b := candidates[j].dir.Scale(candidates[j].length)
				c := candidates[k].dir.Scale(candidates[k].length)
				vol := a.Dot(b.Cross(c))
				if math.Abs(vol) < 1e-3 {
					continue
				}
				fraction := scoreTriple(a, b, c, qvectors, params.IndexingTolerance)
				if fraction < params.MinIndexedFraction {
					continue
				}
				best = append(best, scored{triple: [3]directionCandidate{candidates[i], candidates[j], candidates[k]}, score: fraction})
			}
		}
	}
	if len(best) == 0 {
		return nil, fmt.Errorf("autoindex: no candidate triple indexed at least %.0f%% of peaks", params.MinIndexedFraction*100)
	}
	sort.Slice(best, func(i, j int) bool { return best[i].score > best[j].score })

	var solutions []Solution
	for _, s := range best {
		a := s.triple[0].dir.Scale(s.triple[0].length)
		b := s.triple[1].dir.Scale(s.triple[1].length)
		c := s.triple[2].dir.Scale(s.triple[2].length)

		a, b, c = reduceTriple(a, b, c)
		astar, bstar, cstar := reciprocalOf(a, b, c)
		refA, refB, refC, err := refineReciprocalVectors(qvectors, astar, bstar, cstar, params.IndexingTolerance)
		if err == nil {
			astar, bstar, cstar = refA, refB, refC
			a, b, c = reciprocalOf(astar, bstar, cstar)
		}

		uc, err := buildCell(a, b, c, sg)
		if err != nil {
			continue
		}
		fraction := scoreTripleReciprocal(astar, bstar, cstar, qvectors, params.IndexingTolerance)

		if isDuplicate(solutions, uc) {
			continue
		}
		solutions = append(solutions, Solution{Cell: uc, IndexedFraction: fraction})
		if len(solutions) >= params.MaxSolutions {
			break
		}
	}
	if len(solutions) == 0 {
		return nil, fmt.Errorf("autoindex: no solution survived cell construction")
	}
	return solutions, nil
}

func dedupeDirections(cands []directionCandidate) []directionCandidate {
	var out []directionCandidate
	for _, c := range cands {
		dup := false
		for _, o := range out {
			if math.Abs(c.dir.Dot(o.dir)) > 0.999 {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

func reciprocalOf(a, b, c geom.Vec3) (astar, bstar, cstar geom.Vec3) {
	v := a.Dot(b.Cross(c))
	return b.Cross(c).Scale(1 / v), c.Cross(a).Scale(1 / v), a.Cross(b).Scale(1 / v)
}

func nearestHKL(q geom.Vec3, astar, bstar, cstar geom.Vec3) (h, k, l int, residual float64) {
	hf := q.Dot(astar)
	kf := q.Dot(bstar)
	lf := q.Dot(cstar)
	h, k, l = int(math.Round(hf)), int(math.Round(kf)), int(math.Round(lf))
	reco := astar.Scale(float64(h)).Add(bstar.Scale(float64(k))).Add(cstar.Scale(float64(l)))
	return h, k, l, reco.Sub(q).Norm()
}

func scoreTriple(a, b, c geom.Vec3, qs []geom.Vec3, tol float64) float64 {
	astar, bstar, cstar := reciprocalOf(a, b, c)
	return scoreTripleReciprocal(astar, bstar, cstar, qs, tol)
}

func scoreTripleReciprocal(astar, bstar, cstar geom.Vec3, qs []geom.Vec3, tol float64) float64 {
	indexed := 0
	for _, q := range qs {
		_, _, _, residual := nearestHKL(q, astar, bstar, cstar)
		if residual < tol {
			indexed++
		}
	}
	return float64(indexed) / float64(len(qs))
}

// reduceTriple applies a bounded number of Buerger-style reduction steps:
// repeatedly replace the longest vector with the shortest vector among
// {c, c+a, c-a, c+b, c-b} until no further shortening occurs, then orders
// the three vectors by ascending length.
func reduceTriple(a, b, c geom.Vec3) (geom.Vec3, geom.Vec3, geom.Vec3) {
	vecs := [3]geom.Vec3{a, b, c}
	for iter := 0; iter < 20; iter++ {
		sort.Slice(vecs[:], func(i, j int) bool { return vecs[i].Norm() < vecs[j].Norm() })
		shortest, mid, longest := vecs[0], vecs[1], vecs[2]
		candidates := []geom.Vec3{longest, longest.Add(shortest), longest.Sub(shortest), longest.Add(mid), longest.Sub(mid)}
		best := longest
		for _, cand := range candidates {
			if cand.Norm() < best.Norm() {
				best = cand
			}
		}
		if best.Norm() >= longest.Norm()-1e-9 {
			break
		}
		vecs = [3]geom.Vec3{shortest, mid, best}
	}
	sort.Slice(vecs[:], func(i, j int) bool { return vecs[i].Norm() < vecs[j].Norm() })
	return vecs[0], vecs[1], vecs[2]
}

// refineReciprocalVectors solves, independently for each Cartesian
// component, the overdetermined linear least-squares problem
// q_x = h*astar_x + k*bstar_x + l*cstar_x over every peak that indexes
// within tol under the initial reciprocal basis, tightening the basis
// once integer assignments are fixed.
func refineReciprocalVectors(qs []geom.Vec3, astar, bstar, cstar geom.Vec3, tol float64) (geom.Vec3, geom.Vec3, geom.Vec3, error) {
	type row struct {
		h, k, l float64
		qx, qy, qz float64
	}
	var rows []row
	for _, q := range qs {
		h, k, l, residual := nearestHKL(q, astar, bstar, cstar)
		if residual >= tol {
			continue
		}
		rows = append(rows, row{float64(h), float64(k), float64(l), q.X, q.Y, q.Z})
	}
	if len(rows) < 3 {
		return geom.Vec3{}, geom.Vec3{}, geom.Vec3{}, fmt.Errorf("autoindex: too few indexed peaks to refine")
	}

	design := mat.NewDense(len(rows), 3, nil)
	qx := mat.NewVecDense(len(rows), nil)
	qy := mat.NewVecDense(len(rows), nil)
	qz := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		design.Set(i, 0, r.h)
		design.Set(i, 1, r.k)
		design.Set(i, 2, r.l)
		qx.SetVec(i, r.qx)
		qy.SetVec(i, r.qy)
		qz.SetVec(i, r.qz)
	}

	var xCol, yCol, zCol mat.VecDense
	if err := xCol.SolveVec(design, qx); err != nil {
		return geom.Vec3{}, geom.Vec3{}, geom.Vec3{}, err
	}
	if err := yCol.SolveVec(design, qy); err != nil {
		return geom.Vec3{}, geom.Vec3{}, geom.Vec3{}, err
	}
	if err := zCol.SolveVec(design, qz); err != nil {
		return geom.Vec3{}, geom.Vec3{}, geom.Vec3{}, err
	}

	newAstar := geom.Vec3{X: xCol.AtVec(0), Y: yCol.AtVec(0), Z: zCol.AtVec(0)}
	newBstar := geom.Vec3{X: xCol.AtVec(1), Y: yCol.AtVec(1), Z: zCol.AtVec(1)}
	newCstar := geom.Vec3{X: xCol.AtVec(2), Y: yCol.AtVec(2), Z: zCol.AtVec(2)}
	return newAstar, newBstar, newCstar, nil
}

func isDuplicate(existing []Solution, uc *cell.UnitCell) bool {
	for _, s := range existing {
		if s.Cell.IsSimilar(uc, 0.1, 0.02) {
			return true
		}
	}
	return false
}
