// Package integrate implements the intensity integrators (pixel-sum,
// Gaussian-weighted, profile-fit in 1-D and 3-D, shape-only and I/sigma
// variants) that turn a peak's classified events into an intensity,
// sigma and background estimate, and the frame-by-frame driver that runs
// them over a data set.
package integrate

import "github.com/openhkl-project/ohkl/internal/geom"

// Event is one detector-space sample contributing to a peak's
// integration: its position and background-uncorrected pixel count.
type Event struct {
	Position geom.Vec3
	Counts   float64
}
