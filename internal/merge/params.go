// Package merge implements the symmetry merge and quality-statistics
// stage (Component L): grouping enabled, indexed peaks by canonical
// Miller index under a space group, computing per-reflection merged
// intensities and chi-square, splitting into resolution shells, and
// deriving the R-factor family, CC1/2/CC* and completeness.
package merge

import (
	"fmt"

	"github.com/openhkl-project/ohkl/internal/cell"
)

// Params configures which peaks are eligible and how the merged
// collection is split into resolution shells.
type Params struct {
	Friedel bool

	// FrameMin/FrameMax restrict merging to peaks whose frame centre
	// falls in [FrameMin, FrameMax]. FrameMax <= FrameMin disables the
	// restriction.
	FrameMin, FrameMax int

	DMin, DMax float64
	NShells    int

	// UseProfile selects profile-fit intensities over pixel-sum
	// intensities for every contributing measurement.
	UseProfile bool

	// ReferenceCell supplies the cell used only to enumerate the
	// space group's expected unique reflections per shell, for the
	// completeness denominator; it need not be any contributing
	// peak's own cell.
	ReferenceCell *cell.UnitCell
}

func DefaultParams() Params {
	return Params{
		DMin:    1.0,
		DMax:    50.0,
		NShells: 10,
	}
}

func (p Params) Validate() error {
	if p.DMin <= 0 || p.DMax <= p.DMin {
		return fmt.Errorf("merge: need 0 < DMin < DMax")
	}
	if p.NShells < 1 {
		return fmt.Errorf("merge: NShells must be >= 1")
	}
	return nil
}

func (p Params) frameRestricted() bool { return p.FrameMax > p.FrameMin }
