package region

import (
	"testing"

	"github.com/openhkl-project/ohkl/internal/geom"
	"gonum.org/v1/gonum/mat"
)

func unitShape(t *testing.T) geom.Ellipsoid {
	t.Helper()
	m := mat.NewSymDense(3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	e, err := geom.NewEllipsoid(geom.Vec3{}, m)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestNewRejectsUnorderedScales(t *testing.T) {
	if _, err := New(unitShape(t), VariableEllipsoid, 3, 2, 1); err == nil {
		t.Fatal("expected error for unordered scale factors")
	}
}

func TestClassifyNestedShells(t *testing.T) {
	r, err := New(unitShape(t), VariableEllipsoid, 1, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Classify(geom.Vec3{X: 0.5}); got != PeakEvent {
		t.Fatalf("got %v, want PeakEvent", got)
	}
	if got := r.Classify(geom.Vec3{X: 1.5}); got != ForbiddenEvent {
		t.Fatalf("got %v, want ForbiddenEvent", got)
	}
	if got := r.Classify(geom.Vec3{X: 2.5}); got != BackgroundEvent {
		t.Fatalf("got %v, want BackgroundEvent", got)
	}
	if got := r.Classify(geom.Vec3{X: 10}); got != ExcludedEvent {
		t.Fatalf("got %v, want ExcludedEvent", got)
	}
}

func TestAdvanceFollowsOrder(t *testing.T) {
	r, _ := New(unitShape(t), VariableEllipsoid, 1, 2, 3)
	if err := r.Advance(Ready); err == nil {
		t.Fatal("expected error skipping Accumulating")
	}
	if err := r.Advance(Accumulating); err != nil {
		t.Fatal(err)
	}
	if err := r.Advance(Ready); err != nil {
		t.Fatal(err)
	}
	if err := r.Advance(Computed); err != nil {
		t.Fatal(err)
	}
	if err := r.Advance(Reset); err != nil {
		t.Fatal(err)
	}
	if r.CurrentState() != Unseen {
		t.Fatalf("state = %v, want Unseen after reset", r.CurrentState())
	}
}
