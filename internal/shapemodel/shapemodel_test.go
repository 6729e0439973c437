package shapemodel

import (
	"testing"

	"github.com/openhkl-project/ohkl/internal/geom"
	"gonum.org/v1/gonum/mat"
)

func diagCov(v float64) *mat.SymDense {
	return mat.NewSymDense(3, []float64{v, 0, 0, 0, v, 0, 0, 0, v})
}

func TestMeanCovarianceRequiresMinNeighbours(t *testing.T) {
	m := New(3)
	m.Add(Reference{Position: geom.Vec3{X: 1}, Covariance: diagCov(1), Intensity: 10})
	_, err := m.MeanCovariance(geom.Vec3{}, None, 5)
	if err != ErrTooFewNeighbours {
		t.Fatalf("expected ErrTooFewNeighbours, got %v", err)
	}
}

func TestMeanCovarianceAveragesEqualWeights(t *testing.T) {
	m := New(2)
	m.Add(Reference{Position: geom.Vec3{X: 1}, Covariance: diagCov(1), Intensity: 10})
	m.Add(Reference{Position: geom.Vec3{X: -1}, Covariance: diagCov(3), Intensity: 10})
	cov, err := m.MeanCovariance(geom.Vec3{}, None, 2)
	if err != nil {
		t.Fatal(err)
	}
	if cov.At(0, 0) != 2 {
		t.Fatalf("mean covariance(0,0) = %g, want 2", cov.At(0, 0))
	}
}

func TestMeanCovarianceInverseDistanceFavoursCloserNeighbour(t *testing.T) {
	m := New(2)
	m.Add(Reference{Position: geom.Vec3{X: 0.1}, Covariance: diagCov(1), Intensity: 10})
	m.Add(Reference{Position: geom.Vec3{X: 10}, Covariance: diagCov(100), Intensity: 10})
	cov, err := m.MeanCovariance(geom.Vec3{}, InverseDistance, 2)
	if err != nil {
		t.Fatal(err)
	}
	if cov.At(0, 0) > 10 {
		t.Fatalf("expected closer neighbour to dominate, got %g", cov.At(0, 0))
	}
}

func TestRadialProfileAccumulateAndMean(t *testing.T) {
	p := NewRadialProfile(4, 1.0)
	p.Accumulate(0.1, 10)
	p.Accumulate(0.1, 20)
	p.Accumulate(0.9, 5)
	mean := p.Mean()
	if mean[0] != 15 {
		t.Fatalf("bin 0 mean = %g, want 15", mean[0])
	}
	if mean[3] != 5 {
		t.Fatalf("bin 3 mean = %g, want 5", mean[3])
	}
}
