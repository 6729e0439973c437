package refine

import (
	"math"

	"github.com/openhkl-project/ohkl/internal/cell"
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/instrument"
	"gonum.org/v1/gonum/mat"
)

// paramLayout assigns each toggled free-parameter block a slice of the
// flat parameter vector x used by the Levenberg-Marquardt loop. Blocks
// not toggled on have zero length and are skipped.
type paramLayout struct {
	ubOffset, ubLen                     int
	samplePosOffset, samplePosLen       int
	sampleOrientOffset, sampleOrientLen int
	detOffset, detLen                   int
	kiOffset, kiLen                     int
	total                               int
}

func newLayout(p Params) paramLayout {
	var l paramLayout
	n := 0
	if p.RefineUB {
		l.ubOffset, l.ubLen = n, 3
		n += 3
	}
	if p.RefineSamplePosition {
		l.samplePosOffset, l.samplePosLen = n, 3
		n += 3
	}
	if p.RefineSampleOrientation {
		l.sampleOrientOffset, l.sampleOrientLen = n, 3
		n += 3
	}
	if p.RefineDetectorOffset {
		l.detOffset, l.detLen = n, 3
		n += 3
	}
	if p.RefineKi {
		l.kiOffset, l.kiLen = n, 3 // 2 direction tangent components + wavelength delta
		n += 3
	}
	l.total = n
	return l
}

// perturbed holds the cell and per-frame states a parameter vector
// produces for one batch, used to evaluate residuals without mutating
// the batch's own stored state.
type perturbed struct {
	cell   *cell.UnitCell
	states map[int]instrument.State
}

func applyParams(x []float64, l paramLayout, base *cell.UnitCell, baseStates map[int]instrument.State) perturbed {
	out := perturbed{cell: base, states: baseStates}

	if l.ubLen > 0 {
		d := geom.Vec3{X: x[l.ubOffset], Y: x[l.ubOffset+1], Z: x[l.ubOffset+2]}
		angle := d.Norm()
		axis := d
		if angle < 1e-12 {
			axis = geom.Vec3{X: 1}
			angle = 0
		}
		delta := geom.FromAxisAngle(axis, angle).RotationMatrix()
		newCell := base.Clone()
		var newU mat.Dense
		newU.Mul(delta, base.U)
		newCell.U = &newU
		out.cell = newCell
	}

	if l.samplePosLen == 0 && l.sampleOrientLen == 0 && l.detLen == 0 && l.kiLen == 0 {
		return out
	}

	states := make(map[int]instrument.State, len(baseStates))
	var posDelta, detDelta geom.Vec3
	orientDelta := geom.Identity()
	var wavelengthDelta float64
	var kiTangentU, kiTangentV float64

	if l.samplePosLen > 0 {
		posDelta = geom.Vec3{X: x[l.samplePosOffset], Y: x[l.samplePosOffset+1], Z: x[l.samplePosOffset+2]}
	}
	if l.sampleOrientLen > 0 {
		d := geom.Vec3{X: x[l.sampleOrientOffset], Y: x[l.sampleOrientOffset+1], Z: x[l.sampleOrientOffset+2]}
		angle := d.Norm()
		axis := d
		if angle < 1e-12 {
			axis = geom.Vec3{X: 1}
			angle = 0
		}
		orientDelta = geom.FromAxisAngle(axis, angle)
	}
	if l.detLen > 0 {
		detDelta = geom.Vec3{X: x[l.detOffset], Y: x[l.detOffset+1], Z: x[l.detOffset+2]}
	}
	if l.kiLen > 0 {
		kiTangentU = x[l.kiOffset]
		kiTangentV = x[l.kiOffset+1]
		wavelengthDelta = x[l.kiOffset+2]
	}

	for frame, s := range baseStates {
		if l.samplePosLen > 0 {
			s.SamplePosition = s.SamplePosition.Add(posDelta)
		}
		if l.sampleOrientLen > 0 {
			s.SampleOffset = orientDelta.Mul(s.SampleOffset)
		}
		if l.detLen > 0 {
			s.DetectorPosition = s.DetectorPosition.Add(detDelta)
		}
		if l.kiLen > 0 {
			s.KiDirection = perturbKi(s.KiDirection, kiTangentU, kiTangentV)
			s.Wavelength = s.Wavelength + wavelengthDelta
		}
		states[frame] = s
	}
	out.states = states
	return out
}

// perturbKi nudges a unit direction by small tangent-plane components
// (u,v), renormalizing; used to parametrize a small-angle correction to
// the incident beam direction without a singular spherical coordinate.
func perturbKi(dir geom.Vec3, u, v float64) geom.Vec3 {
	ref := geom.Vec3{X: 0, Y: 0, Z: 1}
	if math.Abs(dir.Dot(ref)) > 0.99 {
		ref = geom.Vec3{X: 1}
	}
	t1 := dir.Cross(ref).Normalize()
	t2 := dir.Cross(t1).Normalize()
	return dir.Add(t1.Scale(u)).Add(t2.Scale(v)).Normalize()
}

// residuals evaluates every peak's observation-vs-prediction residual
// under the parameter vector x, flattening them into one slice (2 or 3
// components per peak depending on ResidualType).
func residuals(x []float64, layout paramLayout, batch *Batch, baseStates map[int]instrument.State, rtype ResidualType) []float64 {
	pert := applyParams(x, layout, batch.Cell, baseStates)
	dim := 3
	if rtype == RealSpace {
		dim = 2
	}
	out := make([]float64, 0, len(batch.Peaks)*dim)
	ub := pert.cell.UB()
	for _, p := range batch.Peaks {
		frame := int(p.Shape.Center.Z)
		s, ok := pert.states[frame]
		if !ok {
			out = append(out, make([]float64, dim)...)
			continue
		}
		h, k, l := float64(p.Miller.H), float64(p.Miller.K), float64(p.Miller.L)
		hklVec := mat.NewVecDense(3, []float64{h, k, l})
		var qXtal mat.VecDense
		qXtal.MulVec(ub, hklVec)
		qSample := geom.NewVec3(qXtal.AtVec(0), qXtal.AtVec(1), qXtal.AtVec(2)).Scale(2 * math.Pi)

		switch rtype {
		case QSpace:
			measured := s.SampleQ(p.Shape.Center.X, p.Shape.Center.Y)
			r := measured.Sub(qSample)
			out = append(out, r.X, r.Y, r.Z)
		default:
			labQ := s.LabQ(qSample)
			kf := s.Ki().Add(labQ)
			px, py, ok := s.PixelOf(kf)
			if !ok {
				out = append(out, 0, 0)
				continue
			}
			out = append(out, p.Shape.Center.X-px, p.Shape.Center.Y-py)
		}
	}
	return out
}

func chiSquare(r []float64) float64 {
	var sum float64
	for _, v := range r {
		sum += v * v
	}
	return sum
}
