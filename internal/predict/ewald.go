package predict

import (
	"math"

	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/instrument"
)

// ewaldResidual returns |ki+qLab| - |ki|, zero exactly on the Ewald
// sphere. Its sign tells which side of the sphere a reflection sits on at
// a given instrument state.
func ewaldResidual(ki, qLab geom.Vec3) float64 {
	return ki.Add(qLab).Norm() - ki.Norm()
}

func residualAt(s instrument.State, qSample geom.Vec3) float64 {
	return ewaldResidual(s.Ki(), s.LabQ(qSample))
}

// solveFrame scans the dataset's recorded states for a sign change in the
// Ewald residual and bisects the sample orientation between the
// bracketing frames to locate the sub-frame crossing. It returns the
// fractional frame index and the interpolated state at the crossing.
func solveFrame(states []instrument.State, qSample geom.Vec3, params Params) (frameFrac float64, at instrument.State, ok bool) {
	if len(states) == 0 {
		return 0, instrument.State{}, false
	}
	prevResidual := residualAt(states[0], qSample)
	if math.Abs(prevResidual) <= params.Tolerance {
		return 0, states[0], true
	}

	for i := 0; i < len(states)-1; i++ {
		curResidual := residualAt(states[i+1], qSample)
		if math.Abs(curResidual) <= params.Tolerance {
			return float64(i + 1), states[i+1], true
		}
		if (prevResidual < 0) == (curResidual < 0) {
			prevResidual = curResidual
			continue
		}

		lo, hi := 0.0, 1.0
		loResNegative := prevResidual < 0
		var mid instrument.State
		for step := 0; step < params.bisectionSteps(); step++ {
			t := (lo + hi) / 2
			mid = states[i].InterpolateOrientation(states[i+1], t)
			midResidual := residualAt(mid, qSample)
			if (midResidual < 0) == loResNegative {
				lo = t
			} else {
				hi = t
			}
		}
		return float64(i) + (lo+hi)/2, mid, true
	}
	return 0, instrument.State{}, false
}
