package integrate

import (
	"github.com/openhkl-project/ohkl/internal/peak"
	"github.com/openhkl-project/ohkl/internal/region"
)

// ISigma wraps another integrator and additionally rejects any peak
// whose resulting I/sigma falls below a minimum significance, the gate
// applied before a peak is allowed into a merge.
type ISigma struct {
	Inner interface {
		Compute(events []Event, r *region.Region) ComputeResult
	}
	MinIOverSigma float64
}

func (ISigma) Name() string { return "i-sigma" }

func (s ISigma) Compute(events []Event, r *region.Region) ComputeResult {
	result := s.Inner.Compute(events, r)
	if result.Rejection != peak.NotRejected {
		return result
	}
	if result.Sigma <= 0 || result.Intensity/result.Sigma < s.MinIOverSigma {
		result.Rejection = peak.InvalidSigma
	}
	return result
}
