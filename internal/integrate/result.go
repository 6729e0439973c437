package integrate

import "github.com/openhkl-project/ohkl/internal/peak"

// ComputeResult is the shared contract every integrator returns:
// intensity and its sigma, the subtracted background level and its
// sigma, and a rejection flag recording any integrator-level failure.
type ComputeResult struct {
	Intensity, Sigma        float64
	Background, BackgroundSigma float64
	Rejection               peak.RejectionFlag
}

// Apply writes the result onto a peak, keeping the more severe of any
// existing rejection and this integrator's verdict.
func (r ComputeResult) Apply(p *peak.Peak3D, profile bool) {
	if profile {
		p.ProfileIntensity, p.ProfileSigma = r.Intensity, r.Sigma
	} else {
		p.SumIntensity, p.SumSigma = r.Intensity, r.Sigma
	}
	p.Background, p.BackgroundSigma = r.Background, r.BackgroundSigma
	if r.Rejection != peak.NotRejected {
		p.Reject(r.Rejection)
	}
}
