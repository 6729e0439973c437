package finder

import "fmt"

// Params configures the frame-by-frame blob finder.
type Params struct {
	// Threshold is the minimum background-subtracted intensity, in units
	// of the local background's standard deviation estimate, for a pixel
	// to seed or extend a blob.
	Threshold float64

	// InnerRadius/OuterRadius define the annular kernel used to estimate
	// local background: the mean of the square ring between the two
	// radii, excluding the inner square.
	InnerRadius, OuterRadius int

	MinSize, MaxSize           int
	MinFrameSpan, MaxFrameSpan int

	// PeakEnd scales the accumulated covariance ellipsoid to the
	// reported peak boundary (values >1 enlarge it).
	PeakEnd float64
}

// DefaultParams returns settings reasonable for a first pass over a
// typical single-crystal data set.
func DefaultParams() Params {
	return Params{
		Threshold:    3.0,
		InnerRadius:  3,
		OuterRadius:  7,
		MinSize:      10,
		MaxSize:      10000,
		MinFrameSpan: 1,
		MaxFrameSpan: 60,
		PeakEnd:      3.0,
	}
}

func (p Params) Validate() error {
	if p.Threshold <= 0 {
		return fmt.Errorf("finder: threshold must be positive")
	}
	if p.InnerRadius <= 0 || p.OuterRadius <= p.InnerRadius {
		return fmt.Errorf("finder: need 0 < InnerRadius < OuterRadius")
	}
	if p.MinSize <= 0 || p.MaxSize < p.MinSize {
		return fmt.Errorf("finder: need 0 < MinSize <= MaxSize")
	}
	if p.MinFrameSpan <= 0 || p.MaxFrameSpan < p.MinFrameSpan {
		return fmt.Errorf("finder: need 0 < MinFrameSpan <= MaxFrameSpan")
	}
	if p.PeakEnd <= 0 {
		return fmt.Errorf("finder: PeakEnd must be positive")
	}
	return nil
}
