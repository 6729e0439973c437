package geom

import "gonum.org/v1/gonum/mat"

// Axis replaces a deep Axis -> RotAxis/TransAxis inheritance
// with a closed sum type: a diffractometer axis is
// either a rotation about a direction through an offset point, or a pure
// translation. Homogeneous turns either case into the 4x4 matrix that maps
// a point through the axis at the given drive value.
type Axis struct {
	kind      axisKind
	Direction Vec3
	Offset    Vec3
}

type axisKind int

const (
	axisRotation axisKind = iota
	axisTranslation
)

func RotAxis(direction, offset Vec3) Axis {
	return Axis{kind: axisRotation, Direction: direction.Normalize(), Offset: offset}
}

func TransAxis(direction Vec3) Axis {
	return Axis{kind: axisTranslation, Direction: direction.Normalize()}
}

// Homogeneous returns the 4x4 homogeneous transform for driving this axis
// to the given value (an angle in radians for rotation axes, a distance for
// translation axes).
func (a Axis) Homogeneous(value float64) *mat.Dense {
	h := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		h.Set(i, i, 1)
	}
	switch a.kind {
	case axisTranslation:
		d := a.Direction.Scale(value)
		h.Set(0, 3, d.X)
		h.Set(1, 3, d.Y)
		h.Set(2, 3, d.Z)
	default:
		q := FromAxisAngle(a.Direction, value)
		r := q.RotationMatrix()
		// Rotation pivots about Offset: H = T(offset) R T(-offset).
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				h.Set(i, j, r.At(i, j))
			}
		}
		rotatedOffset := q.Rotate(a.Offset)
		t := a.Offset.Sub(rotatedOffset)
		h.Set(0, 3, t.X)
		h.Set(1, 3, t.Y)
		h.Set(2, 3, t.Z)
	}
	return h
}

// Apply transforms a point through the axis driven to value.
func (a Axis) Apply(value float64, p Vec3) Vec3 {
	h := a.Homogeneous(value)
	v := mat.NewVecDense(4, []float64{p.X, p.Y, p.Z, 1})
	var out mat.VecDense
	out.MulVec(h, v)
	return Vec3{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}
