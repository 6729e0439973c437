package geom

import "math"

// AABB is an axis-aligned bounding box in detector-plus-frame space
// (px, py, frame). The peak finder uses 2-D (px,py) AABBs to decide
// whether a frame-N blob collides with a frame-(N-1) blob.
type AABB struct {
	Min, Max Vec3
}

// NewAABB builds the degenerate box containing only p.
func NewAABB(p Vec3) AABB { return AABB{Min: p, Max: p} }

// Extend grows the box to include p.
func (b AABB) Extend(p Vec3) AABB {
	return AABB{
		Min: Vec3{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)},
		Max: Vec3{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)},
	}
}

// Union returns the smallest box containing both b and o.
func (b AABB) Union(o AABB) AABB {
	return AABB{
		Min: Vec3{X: math.Min(b.Min.X, o.Min.X), Y: math.Min(b.Min.Y, o.Min.Y), Z: math.Min(b.Min.Z, o.Min.Z)},
		Max: Vec3{X: math.Max(b.Max.X, o.Max.X), Y: math.Max(b.Max.Y, o.Max.Y), Z: math.Max(b.Max.Z, o.Max.Z)},
	}
}

// Overlaps2D reports whether the (X,Y) projections of b and o intersect,
// which is the collision test the finder uses to link blobs across frames.
func (b AABB) Overlaps2D(o AABB) bool {
	if b.Max.X < o.Min.X || o.Max.X < b.Min.X {
		return false
	}
	if b.Max.Y < o.Min.Y || o.Max.Y < b.Min.Y {
		return false
	}
	return true
}

// ContainsPoint2D reports whether (x,y) falls within the box's (X,Y) extent.
func (b AABB) ContainsPoint2D(x, y float64) bool {
	return x >= b.Min.X && x <= b.Max.X && y >= b.Min.Y && y <= b.Max.Y
}

// Within reports whether the box lies entirely inside a detector of the
// given dimensions, frames [0, nframes). Used to flag InvalidRegion.
func (b AABB) Within(ncols, nrows, nframes int) bool {
	if b.Min.X < 0 || b.Min.Y < 0 || b.Min.Z < 0 {
		return false
	}
	if b.Max.X > float64(ncols) || b.Max.Y > float64(nrows) || b.Max.Z > float64(nframes) {
		return false
	}
	return true
}
