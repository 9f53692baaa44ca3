package objects

import "testing"

func TestSubsetViewContainsRespectsBounds(t *testing.T) {
	z := NewSortedSet()
	z.Add("a", 1, AddFlags{})
	z.Add("b", 5, AddFlags{})
	z.Add("c", 10, AddFlags{})

	v := NewSubsetView(z, 2, 9)
	if v.Contains("a") {
		t.Fatal("a (score 1) should be outside [2,9]")
	}
	if !v.Contains("b") {
		t.Fatal("b (score 5) should be inside [2,9]")
	}
	if v.Contains("c") {
		t.Fatal("c (score 10) should be outside [2,9]")
	}
}

func TestSubsetViewReflectsMutationsAfterCreation(t *testing.T) {
	z := NewSortedSet()
	z.Add("a", 1, AddFlags{})
	v := NewSubsetView(z, 0, 100)

	if v.Count() != 1 {
		t.Fatalf("Count = %d, want 1", v.Count())
	}
	z.Add("b", 50, AddFlags{})
	if v.Count() != 2 {
		t.Fatalf("Count after mutation = %d, want 2 (view must see live set)", v.Count())
	}
	if !v.Contains("b") {
		t.Fatal("expected view to see newly added member within bounds")
	}
}

func TestSubsetViewStaleFlag(t *testing.T) {
	z := NewSortedSet()
	z.Add("a", 1, AddFlags{})
	v := NewSubsetView(z, 0, 100)
	if v.Stale() {
		t.Fatal("freshly created view should not be stale")
	}
	z.Add("b", 2, AddFlags{})
	if !v.Stale() {
		t.Fatal("expected view to report stale after underlying mutation")
	}
}
