package autoindex

import (
	"math"

	"github.com/openhkl-project/ohkl/internal/geom"
)

// fibonacciHemisphere returns n unit directions spread roughly evenly
// over a hemisphere (direction d and -d are equivalent for a lattice
// translation, so only one hemisphere needs sampling).
func fibonacciHemisphere(n int) []geom.Vec3 {
	out := make([]geom.Vec3, 0, n)
	goldenAngle := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < n; i++ {
		z := (float64(i) + 0.5) / float64(n) // in (0,1): hemisphere only
		r := math.Sqrt(1 - z*z)
		theta := goldenAngle * float64(i)
		out = append(out, geom.Vec3{X: r * math.Cos(theta), Y: r * math.Sin(theta), Z: z})
	}
	return out
}
