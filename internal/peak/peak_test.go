package peak

import (
	"testing"

	"github.com/openhkl-project/ohkl/internal/geom"
	"gonum.org/v1/gonum/mat"
)

func unitShape() geom.Ellipsoid {
	m := mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	e, err := geom.NewEllipsoid(geom.Vec3{X: 1, Y: 2, Z: 3}, m)
	if err != nil {
		panic(err)
	}
	return e
}

func TestRejectKeepsMoreSevereFlag(t *testing.T) {
	p := NewPeak(1, 0, unitShape())
	p.Reject(MaskedByUser)
	p.Reject(TooFewNeighbours)
	if p.Rejection != MaskedByUser {
		t.Fatalf("rejection = %v, want %v (more severe should stick)", p.Rejection, MaskedByUser)
	}
	if p.Enabled {
		t.Fatal("expected peak disabled after rejection")
	}
}

func TestValidRequiresEnabledAndNotRejected(t *testing.T) {
	p := NewPeak(1, 0, unitShape())
	if !p.Valid() {
		t.Fatal("freshly built peak should be valid")
	}
	p.Reject(TooFewNeighbours)
	if p.Valid() {
		t.Fatal("rejected peak should not be valid")
	}
}

func TestIntensityOverSigmaRequiresComputedSigma(t *testing.T) {
	p := NewPeak(1, 0, unitShape())
	if _, err := p.IntensityOverSigma(false); err == nil {
		t.Fatal("expected error before sigma is computed")
	}
	p.SumIntensity, p.SumSigma = 100, 10
	got, err := p.IntensityOverSigma(false)
	if err != nil {
		t.Fatal(err)
	}
	if got != 10 {
		t.Fatalf("I/sigma = %g, want 10", got)
	}
}

func TestCollectionValidAndSelected(t *testing.T) {
	c := NewCollection("found-peaks", Found)
	a := NewPeak(1, 0, unitShape())
	b := NewPeak(2, 0, unitShape())
	b.Reject(InvalidSigma)
	a.Selected = true
	c.Add(a)
	c.Add(b)

	valid := c.Valid()
	if len(valid) != 1 || valid[0] != a {
		t.Fatalf("expected only peak a to be valid, got %d peaks", len(valid))
	}
	sel := c.Selected()
	if len(sel) != 1 || sel[0] != a {
		t.Fatalf("expected only peak a selected")
	}
}

func TestCollectionSortByIntensity(t *testing.T) {
	c := NewCollection("found-peaks", Found)
	low := NewPeak(1, 0, unitShape())
	low.SumIntensity = 10
	high := NewPeak(2, 0, unitShape())
	high.SumIntensity = 100
	c.Add(low)
	c.Add(high)
	c.SortByIntensity()
	if c.Peaks()[0] != high {
		t.Fatal("expected highest-intensity peak first after sort")
	}
}
