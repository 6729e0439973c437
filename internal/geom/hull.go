package geom

import "sort"

// Point2D is a 2-D point, used for convex hulls of blob footprints.
type Point2D struct{ X, Y float64 }

func cross2(o, a, b Point2D) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// ConvexHull2D returns the convex hull of pts in counter-clockwise order
// using the monotone-chain algorithm. Duplicate and collinear points are
// dropped.
func ConvexHull2D(pts []Point2D) []Point2D {
	if len(pts) < 3 {
		out := make([]Point2D, len(pts))
		copy(out, pts)
		return out
	}
	sorted := make([]Point2D, len(pts))
	copy(sorted, pts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].X != sorted[j].X {
			return sorted[i].X < sorted[j].X
		}
		return sorted[i].Y < sorted[j].Y
	})

	build := func(seq []Point2D) []Point2D {
		hull := make([]Point2D, 0, len(seq))
		for _, p := range seq {
			for len(hull) >= 2 && cross2(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
				hull = hull[:len(hull)-1]
			}
			hull = append(hull, p)
		}
		return hull
	}

	lower := build(sorted)

	upperIn := make([]Point2D, len(sorted))
	for i, p := range sorted {
		upperIn[len(sorted)-1-i] = p
	}
	upper := build(upperIn)

	return append(lower[:len(lower)-1], upper[:len(upper)-1]...)
}
