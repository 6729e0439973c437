// Package region implements IntegrationRegion: the nested peak,
// forbidden-gap and background shells around a peak's fitted ellipsoid,
// and the accumulation state machine the integrator drives it through.
package region

import (
	"fmt"

	"github.com/openhkl-project/ohkl/internal/geom"
)

// Shape selects how the three nested boundaries scale with the peak's
// fitted covariance.
type Shape int

const (
	// VariableEllipsoid scales the peak's own covariance ellipsoid.
	VariableEllipsoid Shape = iota
	// FixedEllipsoid uses a fixed, peak-independent ellipsoid shape.
	FixedEllipsoid
	// FixedSphere uses a fixed isotropic radius, ignoring the peak's
	// covariance entirely.
	FixedSphere
)

// EventClass categorizes a detector-space point relative to a region.
type EventClass int

const (
	PeakEvent EventClass = iota
	ForbiddenEvent
	BackgroundEvent
	ExcludedEvent
)

// State is the region's position in its accumulation lifecycle.
type State int

const (
	Unseen State = iota
	Accumulating
	Ready
	Computed
	Reset
)

var stateOrder = map[State]int{Unseen: 0, Accumulating: 1, Ready: 2, Computed: 3, Reset: 4}

// Region holds the three nested ellipsoids (peak boundary, background
// inner boundary, background outer boundary) and its current lifecycle
// state.
type Region struct {
	Shape Shape

	peak     geom.Ellipsoid
	bkgBegin geom.Ellipsoid
	bkgEnd   geom.Ellipsoid

	state State
}

// New builds a region from a base shape and the three scale factors
// (peak_end, bkg_begin, bkg_end) applied to it, in ascending order.
func New(base geom.Ellipsoid, shape Shape, peakEnd, bkgBegin, bkgEnd float64) (*Region, error) {
	if !(peakEnd < bkgBegin && bkgBegin < bkgEnd) {
		return nil, fmt.Errorf("region: need peakEnd < bkgBegin < bkgEnd, got %g/%g/%g", peakEnd, bkgBegin, bkgEnd)
	}
	return &Region{
		Shape:    shape,
		peak:     base.Scale(peakEnd),
		bkgBegin: base.Scale(bkgBegin),
		bkgEnd:   base.Scale(bkgEnd),
		state:    Unseen,
	}, nil
}

// Classify reports which of the four event classes point p falls in.
func (r *Region) Classify(p geom.Vec3) EventClass {
	if r.peak.Contains(p, 1) {
		return PeakEvent
	}
	if r.bkgBegin.Contains(p, 1) {
		return ForbiddenEvent
	}
	if r.bkgEnd.Contains(p, 1) {
		return BackgroundEvent
	}
	return ExcludedEvent
}

// CurrentState returns the region's current lifecycle state.
func (r *Region) CurrentState() State { return r.state }

// Advance moves the region to the next state. Transitions must follow
// the fixed order Unseen -> Accumulating -> Ready -> Computed, or reset
// back to Unseen from any state via Reset.
func (r *Region) Advance(next State) error {
	if next == Reset {
		r.state = Unseen
		return nil
	}
	if stateOrder[next] != stateOrder[r.state]+1 {
		return fmt.Errorf("region: invalid transition %v -> %v", r.state, next)
	}
	r.state = next
	return nil
}

// PeakBoundary, BkgBeginBoundary and BkgEndBoundary expose the three
// nested ellipsoids for callers (e.g. the integrator) that need their
// geometry directly rather than just a classification.
func (r *Region) PeakBoundary() geom.Ellipsoid    { return r.peak }
func (r *Region) BkgBeginBoundary() geom.Ellipsoid { return r.bkgBegin }
func (r *Region) BkgEndBoundary() geom.Ellipsoid   { return r.bkgEnd }
