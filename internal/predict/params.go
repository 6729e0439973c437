// Package predict implements peak prediction (Component J): given a unit
// cell, enumerate every Miller index within a resolution shell, find the
// rotation angle at which each reflection crosses the Ewald sphere, and
// project the crossing onto the detector to obtain a predicted peak
// position.
package predict

import "fmt"

// Params configures the resolution shell and the Ewald-sphere search.
type Params struct {
	DMin, DMax     float64 // angstrom
	Tolerance      float64 // accepted |kf|-|ki| residual at the root, inverse angstrom
	BisectionSteps int
}

func DefaultParams() Params {
	return Params{
		DMin:           1.0,
		DMax:           50.0,
		Tolerance:      1e-3,
		BisectionSteps: 24,
	}
}

func (p Params) Validate() error {
	if p.DMin <= 0 || p.DMax <= p.DMin {
		return fmt.Errorf("predict: need 0 < DMin < DMax")
	}
	if p.Tolerance <= 0 {
		return fmt.Errorf("predict: Tolerance must be positive")
	}
	return nil
}

func (p Params) bisectionSteps() int {
	if p.BisectionSteps <= 0 {
		return 24
	}
	return p.BisectionSteps
}
