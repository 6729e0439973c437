package shapemodel

import (
	"testing"

	"github.com/openhkl-project/ohkl/internal/geom"
	"github.com/openhkl-project/ohkl/internal/peak"
)

func shapeAt(t *testing.T, center geom.Vec3, variance float64) geom.Ellipsoid {
	t.Helper()
	metric, err := geom.MetricFromCovariance(diagCov(variance))
	if err != nil {
		t.Fatal(err)
	}
	e, err := geom.NewEllipsoid(center, metric)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestBuildFromPeaksSkipsDisabledPeaks(t *testing.T) {
	p1 := peak.NewPeak(1, 0, shapeAt(t, geom.Vec3{X: 1}, 1))
	p1.SumIntensity = 100
	p2 := peak.NewPeak(2, 0, shapeAt(t, geom.Vec3{X: 2}, 1))
	p2.Reject(peak.IntegrationFailure)

	m := BuildFromPeaks([]*peak.Peak3D{p1, p2}, 1)
	if m.Len() != 1 {
		t.Fatalf("got %d references, want 1 (disabled peak must be skipped)", m.Len())
	}
}

func TestAssignShapesReplacesMetricFromNeighbours(t *testing.T) {
	m := New(1)
	m.Add(Reference{Position: geom.Vec3{X: 0}, Covariance: diagCov(4), Intensity: 10})

	predicted := peak.NewPeak(1, 0, shapeAt(t, geom.Vec3{X: 0.5}, 1))
	AssignShapes(m, []*peak.Peak3D{predicted}, None, 1)

	if !predicted.Valid() {
		t.Fatal("expected predicted peak to remain valid after assignment")
	}
	cov, err := predicted.Shape.Covariance()
	if err != nil {
		t.Fatal(err)
	}
	if cov.At(0, 0) < 3.9 || cov.At(0, 0) > 4.1 {
		t.Fatalf("assigned covariance(0,0) = %g, want ~4", cov.At(0, 0))
	}
}

func TestAssignShapesFlagsTooFewNeighbours(t *testing.T) {
	m := New(5)
	m.Add(Reference{Position: geom.Vec3{X: 0}, Covariance: diagCov(4), Intensity: 10})

	predicted := peak.NewPeak(1, 0, shapeAt(t, geom.Vec3{X: 0.5}, 1))
	AssignShapes(m, []*peak.Peak3D{predicted}, None, 1)

	if predicted.Rejection != peak.TooFewNeighbours {
		t.Fatalf("rejection = %v, want TooFewNeighbours", predicted.Rejection)
	}
}
