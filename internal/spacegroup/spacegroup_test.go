package spacegroup

import "testing"

func TestLookupUnknownFails(t *testing.T) {
	if _, err := Lookup("nonexistent"); err == nil {
		t.Fatal("expected error for unknown space group")
	}
}

func TestP1CanonicalIsIdentity(t *testing.T) {
	g, err := Lookup("P1")
	if err != nil {
		t.Fatal(err)
	}
	h, k, l := g.Canonical(3, -1, 2, false)
	if h != 3 || k != -1 || l != 2 {
		t.Fatalf("P1 canonical changed indices: got (%d,%d,%d)", h, k, l)
	}
}

func TestFriedelMergesInverseIndices(t *testing.T) {
	g, err := Lookup("P1")
	if err != nil {
		t.Fatal(err)
	}
	a, b, c := g.Canonical(1, 2, 3, true)
	d, e, f := g.Canonical(-1, -2, -3, true)
	if a != d || b != e || c != f {
		t.Fatalf("Friedel pair not canonicalised to same triple: (%d,%d,%d) vs (%d,%d,%d)", a, b, c, d, e, f)
	}
}

func TestP212121Multiplicity(t *testing.T) {
	g, err := Lookup("P212121")
	if err != nil {
		t.Fatal(err)
	}
	if g.Multiplicity(false) != 4 {
		t.Fatalf("multiplicity = %d, want 4", g.Multiplicity(false))
	}
	if g.Multiplicity(true) != 8 {
		t.Fatalf("multiplicity with Friedel = %d, want 8", g.Multiplicity(true))
	}
}

func TestP212121CanonicalDeterministic(t *testing.T) {
	g, err := Lookup("P212121")
	if err != nil {
		t.Fatal(err)
	}
	h1, k1, l1 := g.Canonical(1, 2, 3, false)
	h2, k2, l2 := g.Canonical(1, -2, -3, false)
	if h1 != h2 || k1 != k2 || l1 != l2 {
		t.Fatalf("symmetry-equivalent indices canonicalised differently: (%d,%d,%d) vs (%d,%d,%d)", h1, k1, l1, h2, k2, l2)
	}
}
