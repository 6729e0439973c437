// Package refine implements the batched least-squares refiner
// (Component K): it partitions indexed peaks into frame-contiguous
// batches, each owning its own copy of the unit cell and the instrument
// states it covers, and fits UB and/or instrument parameters against
// the peaks' observed positions with Levenberg-Marquardt. A batch that
// fails to converge rolls the whole refine call back to its
// pre-refinement cells and states.
package refine

import "fmt"

// ResidualType selects which space a peak's observation-vs-prediction
// residual is computed in.
type ResidualType int

const (
	// QSpace compares the observed reciprocal-space vector against
	// U*B*(h,k,l).
	QSpace ResidualType = iota
	// RealSpace compares the observed detector pixel against the pixel
	// U*B*(h,k,l) predicts under the batch's instrument state.
	RealSpace
)

func (r ResidualType) String() string {
	if r == RealSpace {
		return "real_space"
	}
	return "q_space"
}

// Params configures batch formation, the free-parameter toggles and the
// Levenberg-Marquardt loop.
type Params struct {
	NBatches     int
	MaxIter      int
	ResidualType ResidualType

	RefineUB                bool
	RefineKi                bool
	RefineSamplePosition     bool
	RefineSampleOrientation  bool
	RefineDetectorOffset     bool

	// UseBatchCells has each batch start from the most common cell
	// among its own peaks rather than the single cell passed to
	// Refine.
	UseBatchCells bool
	// SetUnitCell clears the cell binding (UnitCellID 0) of every peak
	// in a batch whose fit reduced chi-square; experiment.Experiment.Refine
	// then binds those peaks to the refined cell's handle when the whole
	// refinement succeeds.
	SetUnitCell bool

	LenTol, AngTol float64

	// EpsNorm bounds how far (in pixels) an ambiguous prediction-update
	// Ewald crossing may sit from a peak's current centre and still be
	// accepted as its match.
	EpsNorm float64
}

func DefaultParams() Params {
	return Params{
		NBatches:     1,
		MaxIter:      1000,
		ResidualType: QSpace,
		LenTol:       0.01,
		AngTol:       1e-4,
		EpsNorm:      50,
	}
}

func (p Params) Validate() error {
	if p.NBatches < 1 {
		return fmt.Errorf("refine: NBatches must be >= 1")
	}
	if p.MaxIter <= 0 {
		return fmt.Errorf("refine: MaxIter must be positive")
	}
	if !p.RefineUB && !p.RefineKi && !p.RefineSamplePosition && !p.RefineSampleOrientation && !p.RefineDetectorOffset {
		return fmt.Errorf("refine: at least one refine toggle must be set")
	}
	return nil
}

func (p Params) epsNorm() float64 {
	if p.EpsNorm <= 0 {
		return 50
	}
	return p.EpsNorm
}
