package refine

import (
	"math"

	"github.com/openhkl-project/ohkl/internal/dataset"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/instrument"
	"github.com/openhkl-project/ohkl/internal/peak"
	"gonum.org/v1/gonum/mat"
)

// UpdatePredictions recomputes each predicted peak's centre from its
// owning batch's refined cell and instrument states. A peak's owning
// batch is the unique one whose OnlyContains(frame) holds for the
// peak's current frame centre (see the batch-overlap resolution note
// 2) — a peak whose frame sits in no batch's exclusive span, or in more
// than one (shouldn't happen since spans are disjoint, but guarded
// anyway), is flagged PredictionUpdateFailure rather than updated.
func UpdatePredictions(ds *dataset.DataSet, peaks []*peak.Peak3D, batches []*Batch, epsNorm float64) {
	for _, p := range peaks {
		frame := int(math.Round(p.Shape.Center.Z))
		owner, ambiguous := findOwner(batches, frame)
		if owner == nil || ambiguous {
			p.Reject(peak.PredictionUpdateFailure)
			continue
		}

		events := qsToEvents(ds, owner, p)
		switch len(events) {
		case 0:
			p.Reject(peak.PredictionUpdateFailure)
		case 1:
			p.Shape.Center = events[0]
		default:
			best, ok := nearestWithin(events, p.Shape.Center, epsNorm)
			if !ok {
				p.Reject(peak.PredictionUpdateFailure)
				continue
			}
			p.Shape.Center = best
		}
	}
}

func findOwner(batches []*Batch, frame int) (owner *Batch, ambiguous bool) {
	for _, b := range batches {
		if b.OnlyContains(frame) {
			if owner != nil {
				return owner, true
			}
			owner = b
		}
	}
	return owner, false
}

// qsToEvents re-derives the detector events a peak's Miller index
// produces under its owning batch's refined cell, scanning only the
// states the batch itself owns (its peak span plus 2-frame overlap).
// Crossing the Ewald sphere can legitimately yield zero, one or several
// candidate frames within that range.
func qsToEvents(ds *dataset.DataSet, b *Batch, p *peak.Peak3D) []geom.Vec3 {
	ub := b.Cell.UB()
	hklVec := mat.NewVecDense(3, []float64{float64(p.Miller.H), float64(p.Miller.K), float64(p.Miller.L)})
	var qXtal mat.VecDense
	qXtal.MulVec(ub, hklVec)
	qSample := geom.NewVec3(qXtal.AtVec(0), qXtal.AtVec(1), qXtal.AtVec(2)).Scale(2 * math.Pi)

	lo, hi := b.FrameRange()
	var states []instrument.State
	var frames []int
	for f := lo; f < hi; f++ {
		s, err := ds.State(f)
		if err != nil {
			continue
		}
		states = append(states, s)
		frames = append(frames, f)
	}
	if len(states) < 2 {
		return nil
	}

	var events []geom.Vec3
	prev := ewaldResidual(states[0].Ki(), states[0].LabQ(qSample))
	for i := 0; i < len(states)-1; i++ {
		cur := ewaldResidual(states[i+1].Ki(), states[i+1].LabQ(qSample))
		if (prev < 0) != (cur < 0) {
			lo, hi := 0.0, 1.0
			loNeg := prev < 0
			var mid instrument.State
			for step := 0; step < 24; step++ {
				t := (lo + hi) / 2
				mid = states[i].InterpolateOrientation(states[i+1], t)
				r := ewaldResidual(mid.Ki(), mid.LabQ(qSample))
				if (r < 0) == loNeg {
					lo = t
				} else {
					hi = t
				}
			}
			kf := mid.Ki().Add(mid.LabQ(qSample))
			if px, py, ok := mid.PixelOf(kf); ok {
				t := (lo + hi) / 2
				events = append(events, geom.Vec3{X: px, Y: py, Z: float64(frames[i]) + t})
			}
		}
		prev = cur
	}
	return events
}

func ewaldResidual(ki, qLab geom.Vec3) float64 {
	return ki.Add(qLab).Norm() - ki.Norm()
}

func nearestWithin(events []geom.Vec3, centre geom.Vec3, eps float64) (geom.Vec3, bool) {
	best := events[0]
	bestDist := math.MaxFloat64
	for _, e := range events {
		d := e.Sub(centre).Norm()
		if d < bestDist {
			bestDist, best = d, e
		}
	}
	if bestDist > eps {
		return geom.Vec3{}, false
	}
	return best, true
}
