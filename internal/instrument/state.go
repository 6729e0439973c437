// Package instrument models the per-frame diffractometer geometry: sample
// and detector orientation/position, the incident beam, and the mappings
// between detector pixels and reciprocal space that every later stage
// (prediction, integration, refinement) depends on.
package instrument

import (
	"fmt"
	"math"

	"github.com/openhkl-project/ohkl/internal/geom"
	"gonum.org/v1/gonum/mat"
)

// DetectorGeometry is the fixed (per-dataset) description of the detector
// plane: pixel pitch, distance from the sample, and the pixel->lab basis.
type DetectorGeometry struct {
	NumCols, NumRows int
	PixelWidth       float64 // metres
	PixelHeight      float64 // metres
	Distance         float64 // metres, sample to detector origin along beam
}

// PixelToLocal maps a detector pixel (px,py) to a 3-vector in the
// detector's own frame, with the origin at the detector centre.
func (g DetectorGeometry) PixelToLocal(px, py float64) geom.Vec3 {
	x := (px - float64(g.NumCols)/2) * g.PixelWidth
	y := (py - float64(g.NumRows)/2) * g.PixelHeight
	return geom.NewVec3(x, y, g.Distance)
}

// State is the per-frame instrument state (Component B). Every DataSet
// frame owns exactly one State (DataSet invariant: states.len() ==
// frames.len()).
type State struct {
	Detector DetectorGeometry

	SampleOrientation geom.Quaternion // sample rotation at this frame
	SampleOffset      geom.Quaternion // fixed goniometer offset
	SamplePosition    geom.Vec3

	DetectorOrientation *mat.Dense // 3x3, orthonormal
	DetectorPosition    geom.Vec3  // offset from nominal detector origin

	KiDirection geom.Vec3 // unit incident wavevector direction
	Wavelength  float64   // Angstrom, must be > 0
}

// NewState builds a default on-axis state: identity orientations, beam
// along +Z, detector centred on the beam at the given distance.
func NewState(det DetectorGeometry, wavelength float64) State {
	id := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		id.Set(i, i, 1)
	}
	return State{
		Detector:            det,
		SampleOrientation:   geom.Identity(),
		SampleOffset:        geom.Identity(),
		DetectorOrientation: id,
		KiDirection:         geom.NewVec3(0, 0, 1),
		Wavelength:          wavelength,
	}
}

// Validate enforces the InstrumentState invariants: orthonormal rotations,
// positive wavelength.
func (s State) Validate(tol float64) error {
	if s.Wavelength <= 0 {
		return fmt.Errorf("instrument: wavelength must be > 0, got %v", s.Wavelength)
	}
	if !s.SampleOrientation.IsOrthonormal(tol) {
		return fmt.Errorf("instrument: sample orientation is not orthonormal")
	}
	if !s.SampleOffset.IsOrthonormal(tol) {
		return fmt.Errorf("instrument: sample offset is not orthonormal")
	}
	var rtr mat.Dense
	rtr.Mul(s.DetectorOrientation.T(), s.DetectorOrientation)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if diff := rtr.At(i, j) - want; diff > tol || diff < -tol {
				return fmt.Errorf("instrument: detector orientation is not orthonormal")
			}
		}
	}
	return nil
}

// sampleRotation composes the goniometer offset and sample orientation
// into the single rotation that carries the sample's crystal frame into
// the lab frame.
func (s State) sampleRotation() geom.Quaternion {
	return s.SampleOrientation.Mul(s.SampleOffset)
}

// Ki returns the incident wavevector in the lab frame, k_i = (2*pi/lambda) * direction.
func (s State) Ki() geom.Vec3 {
	mag := 2 * math.Pi / s.Wavelength
	return s.KiDirection.Normalize().Scale(mag)
}

// Kf maps a detector pixel to the lab-frame outgoing wavevector k_f,
// applying the state's DetectorOrientation and DetectorPosition to the
// pixel's detector-local position itself.
func (s State) Kf(px, py float64) geom.Vec3 {
	local := s.Detector.PixelToLocal(px, py)
	lab := s.applyDetector(local).Add(s.DetectorPosition)
	dir := lab.Normalize()
	mag := 2 * math.Pi / s.Wavelength
	return dir.Scale(mag)
}

func (s State) applyDetector(v geom.Vec3) geom.Vec3 {
	out := mat.NewVecDense(3, nil)
	out.MulVec(s.DetectorOrientation, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return geom.NewVec3(out.AtVec(0), out.AtVec(1), out.AtVec(2))
}

// Q returns q_lab = k_f(px,py) - k_i for the given pixel.
func (s State) Q(px, py float64) geom.Vec3 {
	return s.Kf(px, py).Sub(s.Ki())
}

// SampleQ expresses q in the crystal's own (pre-sample-rotation) frame:
// q_sample = R_sample^-1 * q_lab. Since sample rotations are orthonormal,
// the inverse is the transpose.
func (s State) SampleQ(px, py float64) geom.Vec3 {
	qLab := s.Q(px, py)
	r := s.sampleRotation().RotationMatrix()
	out := mat.NewVecDense(3, nil)
	out.MulVec(r.T(), mat.NewVecDense(3, []float64{qLab.X, qLab.Y, qLab.Z}))
	return geom.NewVec3(out.AtVec(0), out.AtVec(1), out.AtVec(2))
}

// AdjustKi rotates KiDirection so that the beam centre maps exactly onto
// directBeamPixel on the detector, used to calibrate the incident beam
// direction from an observed direct-beam position.
func (s *State) AdjustKi(directBeamPixel [2]float64) {
	local := s.Detector.PixelToLocal(directBeamPixel[0], directBeamPixel[1])
	lab := s.applyDetector(local).Add(s.DetectorPosition)
	s.KiDirection = lab.Normalize()
}

// LabQ maps a scattering vector expressed in the crystal's own
// (pre-sample-rotation) frame into the lab frame: the forward counterpart
// of SampleQ, used by prediction to turn a cell's q = UB*hkl into the
// q this frame's orientation would actually produce.
func (s State) LabQ(qSample geom.Vec3) geom.Vec3 {
	r := s.sampleRotation().RotationMatrix()
	out := mat.NewVecDense(3, nil)
	out.MulVec(r, mat.NewVecDense(3, []float64{qSample.X, qSample.Y, qSample.Z}))
	return geom.NewVec3(out.AtVec(0), out.AtVec(1), out.AtVec(2))
}

// InterpolateOrientation returns a copy of s with SampleOrientation
// spherically interpolated towards next's at fraction t in [0,1], every
// other field held at s's value. Prediction uses this to bisect for the
// sub-frame rotation angle at which a reflection crosses the Ewald sphere.
func (s State) InterpolateOrientation(next State, t float64) State {
	out := s
	out.SampleOrientation = s.SampleOrientation.Slerp(next.SampleOrientation, t)
	return out
}

// PixelOf inverts Kf: given a lab-frame direction, returns the detector
// pixel that direction strikes. ok is false when the direction is
// parallel to the detector plane or points away from it.
func (s State) PixelOf(kf geom.Vec3) (px, py float64, ok bool) {
	dir := kf.Normalize()
	var u, p mat.VecDense
	u.MulVec(s.DetectorOrientation.T(), mat.NewVecDense(3, []float64{dir.X, dir.Y, dir.Z}))
	p.MulVec(s.DetectorOrientation.T(), mat.NewVecDense(3, []float64{s.DetectorPosition.X, s.DetectorPosition.Y, s.DetectorPosition.Z}))

	uz := u.AtVec(2)
	if math.Abs(uz) < 1e-9 {
		return 0, 0, false
	}
	t := (s.Detector.Distance + p.AtVec(2)) / uz
	if t <= 0 {
		return 0, 0, false
	}
	localX := t*u.AtVec(0) - p.AtVec(0)
	localY := t*u.AtVec(1) - p.AtVec(1)
	px = localX/s.Detector.PixelWidth + float64(s.Detector.NumCols)/2
	py = localY/s.Detector.PixelHeight + float64(s.Detector.NumRows)/2
	return px, py, true
}

// JacobianK returns d(kf)/d(px,py), a 3x3 matrix whose third column is zero
// (kf does not depend on a third free coordinate); used by the refiner to
// propagate pixel-space residuals into q-space and vice versa.
func (s State) JacobianK(px, py float64) *mat.Dense {
	const eps = 1e-4
	base := s.Kf(px, py)
	dx := s.Kf(px+eps, py).Sub(base).Scale(1 / eps)
	dy := s.Kf(px, py+eps).Sub(base).Scale(1 / eps)
	j := mat.NewDense(3, 3, nil)
	j.SetCol(0, []float64{dx.X, dx.Y, dx.Z})
	j.SetCol(1, []float64{dy.X, dy.Y, dy.Z})
	j.SetCol(2, []float64{0, 0, 0})
	return j
}
