package shapemodel

import (
	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/peak"
)

// BuildFromPeaks builds a Model from a collection of strong found peaks:
// each valid peak with a positive-definite shape contributes its
// detector-space covariance, position and sum intensity as one
// Reference (simplified to the covariance
// accumulation; no histogram profile is accumulated here).
func BuildFromPeaks(peaks []*peak.Peak3D, minNeighbors int) *Model {
	m := New(minNeighbors)
	for _, p := range peaks {
		if !p.Valid() {
			continue
		}
		cov, err := p.Shape.Covariance()
		if err != nil {
			continue
		}
		m.Add(Reference{Position: p.Shape.Center, Covariance: cov, Intensity: p.SumIntensity})
	}
	return m
}

// AssignShapes replaces every predicted peak's shape metric with the
// model's neighbour-interpolated covariance at its current centre. A
// peak whose neighbourhood
// cannot satisfy minNeighbors is flagged TooFewNeighbours rather than
// left with its nominal placeholder shape.
func AssignShapes(model *Model, peaks []*peak.Peak3D, mode Interpolation, k int) {
	for _, p := range peaks {
		cov, err := model.MeanCovariance(p.Shape.Center, mode, k)
		if err != nil {
			p.Reject(peak.TooFewNeighbours)
			continue
		}
		metric, err := geom.MetricFromCovariance(cov)
		if err != nil {
			p.Reject(peak.InvalidSigma)
			continue
		}
		shape, err := geom.NewEllipsoid(p.Shape.Center, metric)
		if err != nil {
			p.Reject(peak.InvalidSigma)
			continue
		}
		p.Shape = shape
	}
}
