package hashindex

import "testing"

func TestLookupMissOnEmpty(t *testing.T) {
	idx := New(8)
	if _, found := idx.Lookup(Hash64([]byte("nope"))); found {
		t.Fatal("expected miss on empty index")
	}
}

func TestUpdateThenLookup(t *testing.T) {
	idx := New(8)
	h := Hash64([]byte("foo"))
	prev := idx.Update(h, 100)
	if prev != InvalidAddress {
		t.Fatalf("expected no previous address, got %d", prev)
	}
	addr, found := idx.Lookup(h)
	if !found || addr != 100 {
		t.Fatalf("Lookup = (%d, %v), want (100, true)", addr, found)
	}
}

func TestUpdateReturnsPreviousChainHead(t *testing.T) {
	idx := New(8)
	h := Hash64([]byte("bar"))
	idx.Update(h, 10)
	prev := idx.Update(h, 20)
	if prev != 10 {
		t.Fatalf("expected previous chain head 10, got %d", prev)
	}
	addr, found := idx.Lookup(h)
	if !found || addr != 20 {
		t.Fatalf("Lookup = (%d, %v), want (20, true)", addr, found)
	}
}

func TestDifferentKeysSameBucketDifferentTag(t *testing.T) {
	idx := New(1) // 2 buckets, forces collisions
	h1 := Hash64([]byte("key-one"))
	h2 := Hash64([]byte("key-two-long-enough-to-differ"))

	idx.Update(h1, 111)
	// Only overwritten if h2 lands in the same bucket AND shares h1's tag;
	// otherwise h2's Update reports no previous address since the
	// occupant's tag differs from h2's tag.
	prev := idx.Update(h2, 222)
	if h1&idx.mask == h2&idx.mask && tagFor(h1) != tagFor(h2) {
		if prev != InvalidAddress {
			t.Fatalf("expected InvalidAddress when tags differ, got %d", prev)
		}
	}
}

func TestDeleteClearsMatchingBucket(t *testing.T) {
	idx := New(8)
	h := Hash64([]byte("baz"))
	idx.Update(h, 55)
	idx.Delete(h, 55)
	if _, found := idx.Lookup(h); found {
		t.Fatal("expected miss after delete")
	}
}

func TestDeleteIgnoresStaleAddress(t *testing.T) {
	idx := New(8)
	h := Hash64([]byte("qux"))
	idx.Update(h, 1)
	idx.Update(h, 2)
	idx.Delete(h, 1) // stale: bucket now holds 2, not 1
	addr, found := idx.Lookup(h)
	if !found || addr != 2 {
		t.Fatalf("stale Delete corrupted bucket: Lookup = (%d, %v)", addr, found)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	idx := New(6)
	h := Hash64([]byte("snap"))
	idx.Update(h, 77)

	raw := idx.Snapshot()
	idx2 := New(6)
	idx2.Restore(raw)

	addr, found := idx2.Lookup(h)
	if !found || addr != 77 {
		t.Fatalf("restored index Lookup = (%d, %v), want (77, true)", addr, found)
	}
}

func TestResetClearsAllBuckets(t *testing.T) {
	idx := New(8)
	idx.Update(Hash64([]byte("a")), 1)
	idx.Update(Hash64([]byte("b")), 2)

	idx.Reset()

	if _, found := idx.Lookup(Hash64([]byte("a"))); found {
		t.Fatal("expected miss after Reset")
	}
	if _, found := idx.Lookup(Hash64([]byte("b"))); found {
		t.Fatal("expected miss after Reset")
	}
}

func TestNumBuckets(t *testing.T) {
	idx := New(10)
	if idx.NumBuckets() != 1<<10 {
		t.Fatalf("NumBuckets() = %d, want %d", idx.NumBuckets(), 1<<10)
	}
}
