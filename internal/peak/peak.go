// Package peak implements the Peak3D entity and its owning collection:
// a detected or predicted reflection's shape, intensities, Miller-index
// cache and rejection state.
package peak

import (
	"fmt"

	"github.com/openhkl-project/ohkl/internal/geom"
)

// MillerIndex is a cached (h,k,l) assignment together with the residual
// between the observed q-vector and the nearest lattice point.
type MillerIndex struct {
	H, K, L  int
	Residual float64
	Valid    bool
}

// Peak3D is one reflection: a 3-D ellipsoidal shape in detector space,
// weak references (by ID) to the owning data set and unit cell, the
// integrated intensities from whichever integrator last ran, and the
// bookkeeping needed to drop it from further processing without losing
// why.
type Peak3D struct {
	ID        int
	DataSetID int
	UnitCellID int // 0 means "no cell assigned"

	Shape geom.Ellipsoid

	SumIntensity, SumSigma         float64
	ProfileIntensity, ProfileSigma float64
	Background, BackgroundSigma    float64
	HasBackgroundGradient          bool

	RockingCurve []float64

	Miller MillerIndex

	Rejection RejectionFlag
	Selected  bool
	Enabled   bool
}

// NewPeak builds a peak in its default accepted, enabled, unselected
// state.
func NewPeak(id, dataSetID int, shape geom.Ellipsoid) *Peak3D {
	return &Peak3D{
		ID:        id,
		DataSetID: dataSetID,
		Shape:     shape,
		Rejection: NotRejected,
		Enabled:   true,
	}
}

// Reject marks the peak with flag, keeping the more severe of any
// existing rejection and the new one so a peak can never un-reject
// itself by accident.
func (p *Peak3D) Reject(flag RejectionFlag) {
	p.Rejection = Worse(p.Rejection, flag)
	if p.Rejection != NotRejected {
		p.Enabled = false
	}
}

// Valid reports whether the peak is enabled and carries no rejection.
func (p *Peak3D) Valid() bool {
	return p.Enabled && p.Rejection == NotRejected
}

// IntensityOverSigma returns I/sigma for whichever intensity estimate is
// requested, or an error if the estimate has not been computed (zero
// sigma) or is numerically unusable.
func (p *Peak3D) IntensityOverSigma(profile bool) (float64, error) {
	i, s := p.SumIntensity, p.SumSigma
	if profile {
		i, s = p.ProfileIntensity, p.ProfileSigma
	}
	if s <= 0 {
		return 0, fmt.Errorf("peak %d: sigma not computed", p.ID)
	}
	return i / s, nil
}

// SetMiller assigns a Miller-index cache entry.
func (p *Peak3D) SetMiller(h, k, l int, residual float64) {
	p.Miller = MillerIndex{H: h, K: k, L: l, Residual: residual, Valid: true}
}
