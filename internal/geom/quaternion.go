package geom

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Quaternion is a unit quaternion (W + Xi + Yj + Zk) representing a 3-D
// rotation. InstrumentState uses quaternions for sample and detector
// orientation so refinement can parametrize rotations without gimbal lock.
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity returns the identity rotation.
func Identity() Quaternion { return Quaternion{W: 1} }

// FromAxisAngle builds a unit quaternion from a rotation axis (need not be
// normalized) and an angle in radians.
func FromAxisAngle(axis Vec3, angleRad float64) Quaternion {
	axis = axis.Normalize()
	half := angleRad / 2
	s := math.Sin(half)
	return Quaternion{W: math.Cos(half), X: axis.X * s, Y: axis.Y * s, Z: axis.Z * s}
}

func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize rescales q to unit norm, guarding against the degenerate zero
// quaternion that would otherwise poison every downstream rotation.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return Identity()
	}
	return Quaternion{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// Mul composes two rotations: (q.Mul(r)) applies r first, then q.
func (q Quaternion) Mul(r Quaternion) Quaternion {
	return Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// RotationMatrix returns the orthonormal 3x3 rotation matrix equivalent to q.
func (q Quaternion) RotationMatrix() *mat.Dense {
	q = q.Normalize()
	w, x, y, z := q.W, q.X, q.Y, q.Z
	m := mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
	return m
}

// Rotate applies the rotation represented by q to v.
func (q Quaternion) Rotate(v Vec3) Vec3 {
	r := q.RotationMatrix()
	out := mat.NewVecDense(3, nil)
	out.MulVec(r, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return Vec3{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// Slerp spherically interpolates between q and r at fraction t in [0,1],
// taking the shorter arc. Used to reconstruct the sample orientation
// between two recorded frames when bisecting for an Ewald-sphere crossing.
func (q Quaternion) Slerp(r Quaternion, t float64) Quaternion {
	q, r = q.Normalize(), r.Normalize()
	dot := q.W*r.W + q.X*r.X + q.Y*r.Y + q.Z*r.Z
	if dot < 0 {
		r = Quaternion{W: -r.W, X: -r.X, Y: -r.Y, Z: -r.Z}
		dot = -dot
	}
	if dot > 0.9995 {
		lerp := Quaternion{
			W: q.W + t*(r.W-q.W),
			X: q.X + t*(r.X-q.X),
			Y: q.Y + t*(r.Y-q.Y),
			Z: q.Z + t*(r.Z-q.Z),
		}
		return lerp.Normalize()
	}
	if dot > 1 {
		dot = 1
	}
	theta0 := math.Acos(dot)
	theta := theta0 * t
	sinTheta0 := math.Sin(theta0)
	s0 := math.Cos(theta) - dot*math.Sin(theta)/sinTheta0
	s1 := math.Sin(theta) / sinTheta0
	return Quaternion{
		W: s0*q.W + s1*r.W,
		X: s0*q.X + s1*r.X,
		Y: s0*q.Y + s1*r.Y,
		Z: s0*q.Z + s1*r.Z,
	}
}

// IsOrthonormal reports whether q's rotation matrix R satisfies
// R^T R == I within tol. It backs the InstrumentState invariant that
// rotations stay orthonormal.
func (q Quaternion) IsOrthonormal(tol float64) bool {
	r := q.RotationMatrix()
	var rtr mat.Dense
	rtr.Mul(r.T(), r)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(rtr.At(i, j)-want) > tol {
				return false
			}
		}
	}
	return true
}
