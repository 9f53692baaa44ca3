package kernel

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/nodekv/nodekv/internal/device"
	"github.com/nodekv/nodekv/internal/hashindex"
	"github.com/nodekv/nodekv/internal/walog"
)

func newTestKernel(t *testing.T) *Kernel {
	t.Helper()
	dir := t.TempDir()
	dev, err := device.NewFileDevice(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })
	log := walog.Open(dev, 4096, 0, 0)
	idx := hashindex.New(8)
	return New(log, idx)
}

func TestUpsertThenRead(t *testing.T) {
	k := newTestKernel(t)
	tracker := NewTracker()

	if _, err := k.Upsert([]byte("foo"), []byte("bar")); err != nil {
		t.Fatal(err)
	}
	out := k.Read([]byte("foo"), tracker)
	if out.Status != Found || !bytes.Equal(out.Value, []byte("bar")) {
		t.Fatalf("Read = %+v", out)
	}
}

func TestReadMissingKey(t *testing.T) {
	k := newTestKernel(t)
	tracker := NewTracker()
	out := k.Read([]byte("nope"), tracker)
	if out.Status != NotFound {
		t.Fatalf("Read = %+v, want NotFound", out)
	}
}

func TestUpsertOverwritesPreviousValue(t *testing.T) {
	k := newTestKernel(t)
	tracker := NewTracker()

	k.Upsert([]byte("k"), []byte("v1"))
	k.Upsert([]byte("k"), []byte("v2"))

	out := k.Read([]byte("k"), tracker)
	if out.Status != Found || !bytes.Equal(out.Value, []byte("v2")) {
		t.Fatalf("Read = %+v, want v2", out)
	}
}

func TestDeleteThenRead(t *testing.T) {
	k := newTestKernel(t)
	tracker := NewTracker()

	k.Upsert([]byte("k"), []byte("v"))
	out, err := k.Delete([]byte("k"))
	if err != nil || out.Status != Ok {
		t.Fatalf("Delete = %+v, %v", out, err)
	}

	read := k.Read([]byte("k"), tracker)
	if read.Status != NotFound {
		t.Fatalf("Read after delete = %+v", read)
	}
}

func TestDeleteMissingKeyReportsNotFound(t *testing.T) {
	k := newTestKernel(t)
	out, err := k.Delete([]byte("ghost"))
	if err != nil || out.Status != NotFound {
		t.Fatalf("Delete = %+v, %v", out, err)
	}
}

func TestDeleteTwiceReportsNotFoundSecondTime(t *testing.T) {
	k := newTestKernel(t)

	k.Upsert([]byte("k"), []byte("v"))
	before := k.KeyCount()

	out, err := k.Delete([]byte("k"))
	if err != nil || out.Status != Ok {
		t.Fatalf("first Delete = %+v, %v", out, err)
	}
	out, err = k.Delete([]byte("k"))
	if err != nil || out.Status != NotFound {
		t.Fatalf("second Delete = %+v, %v, want NotFound", out, err)
	}
	if got, want := k.KeyCount(), before-1; got != want {
		t.Fatalf("KeyCount = %d, want %d", got, want)
	}
}

func TestDeleteExpiredKeyReportsNotFound(t *testing.T) {
	k := newTestKernel(t)
	k.now = func() time.Time { return time.Unix(1000, 0) }

	k.UpsertWithExpiry([]byte("k"), []byte("v"), time.Unix(500, 0))

	out, err := k.Delete([]byte("k"))
	if err != nil || out.Status != NotFound {
		t.Fatalf("Delete of expired key = %+v, %v, want NotFound", out, err)
	}
}

func TestRMWAppliesUpdater(t *testing.T) {
	k := newTestKernel(t)
	tracker := NewTracker()

	k.Upsert([]byte("counter"), []byte{0})
	out := k.RMW([]byte("counter"), func(cur []byte, found bool) ([]byte, bool) {
		if !found {
			return []byte{1}, false
		}
		return []byte{cur[0] + 1}, false
	}, tracker)
	if out.Status != Ok || out.Value[0] != 1 {
		t.Fatalf("RMW = %+v", out)
	}

	read := k.Read([]byte("counter"), tracker)
	if read.Status != Found || read.Value[0] != 1 {
		t.Fatalf("Read after RMW = %+v", read)
	}
}

func TestRMWOnMissingKeyInitializes(t *testing.T) {
	k := newTestKernel(t)
	tracker := NewTracker()

	out := k.RMW([]byte("fresh"), func(cur []byte, found bool) ([]byte, bool) {
		if found {
			t.Fatal("expected not found")
		}
		return []byte("initial"), false
	}, tracker)
	if out.Status != Ok || !bytes.Equal(out.Value, []byte("initial")) {
		t.Fatalf("RMW = %+v", out)
	}
}

func TestRMWCanDelete(t *testing.T) {
	k := newTestKernel(t)
	tracker := NewTracker()

	k.Upsert([]byte("k"), []byte("v"))
	k.RMW([]byte("k"), func(cur []byte, found bool) ([]byte, bool) {
		return nil, true
	}, tracker)

	read := k.Read([]byte("k"), tracker)
	if read.Status != NotFound {
		t.Fatalf("Read after RMW-delete = %+v", read)
	}
}

func TestRMWSerializesConcurrentUpdatesToSameKey(t *testing.T) {
	k := newTestKernel(t)
	k.Upsert([]byte("counter"), []byte{0})

	const goroutines = 8
	const incrementsEach = 20
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			tracker := NewTracker()
			for j := 0; j < incrementsEach; j++ {
				k.RMW([]byte("counter"), func(cur []byte, found bool) ([]byte, bool) {
					return []byte{cur[0] + 1}, false
				}, tracker)
			}
		}()
	}
	wg.Wait()

	read := k.Read([]byte("counter"), NewTracker())
	if read.Status != Found || read.Value[0] != goroutines*incrementsEach {
		t.Fatalf("Read after concurrent RMWs = %+v, want %d", read, goroutines*incrementsEach)
	}
}

func TestExpiredRecordReadsAsNotFound(t *testing.T) {
	k := newTestKernel(t)
	tracker := NewTracker()
	k.now = func() time.Time { return time.Unix(1000, 0) }

	k.UpsertWithExpiry([]byte("k"), []byte("v"), time.Unix(500, 0))

	out := k.Read([]byte("k"), tracker)
	if out.Status != NotFound {
		t.Fatalf("Read of expired key = %+v, want NotFound", out)
	}
}

func TestCollisionChainResolvesToNewestMatchingKey(t *testing.T) {
	k := newTestKernel(t)
	tracker := NewTracker()

	for i := 0; i < 50; i++ {
		k.Upsert([]byte("shared-prefix-key"), []byte{byte(i)})
	}
	out := k.Read([]byte("shared-prefix-key"), tracker)
	if out.Status != Found || out.Value[0] != 49 {
		t.Fatalf("Read = %+v, want newest value 49", out)
	}
}

func TestTrackerCompletePendingNonBlockingWithNoWork(t *testing.T) {
	tracker := NewTracker()
	if out := tracker.CompletePending(false); out != nil {
		t.Fatalf("expected nil, got %v", out)
	}
}

func TestKeyVersionAdvancesOnWriteAndDelete(t *testing.T) {
	k := newTestKernel(t)
	if got := k.KeyVersion([]byte("k")); got != 0 {
		t.Fatalf("KeyVersion of untouched key = %d, want 0", got)
	}
	k.Upsert([]byte("k"), []byte("v1"))
	v1 := k.KeyVersion([]byte("k"))
	if v1 == 0 {
		t.Fatal("expected KeyVersion to advance past 0 after Upsert")
	}
	k.Upsert([]byte("k"), []byte("v2"))
	if got := k.KeyVersion([]byte("k")); got <= v1 {
		t.Fatalf("KeyVersion after second Upsert = %d, want > %d", got, v1)
	}
	v2 := k.KeyVersion([]byte("k"))
	k.Delete([]byte("k"))
	if got := k.KeyVersion([]byte("k")); got <= v2 {
		t.Fatalf("KeyVersion after Delete = %d, want > %d", got, v2)
	}
}

func TestFlushClearsAllKeys(t *testing.T) {
	k := newTestKernel(t)
	tracker := NewTracker()
	k.Upsert([]byte("a"), []byte("1"))
	k.Upsert([]byte("b"), []byte("2"))

	k.Flush()

	if got := k.KeyCount(); got != 0 {
		t.Fatalf("KeyCount after Flush = %d, want 0", got)
	}
	if out := k.Read([]byte("a"), tracker); out.Status != NotFound {
		t.Fatalf("Read after Flush = %+v, want NotFound", out)
	}
}

func TestKeyCountTracksDistinctKeys(t *testing.T) {
	k := newTestKernel(t)
	k.Upsert([]byte("a"), []byte("1"))
	k.Upsert([]byte("b"), []byte("2"))
	k.Upsert([]byte("a"), []byte("3")) // overwrite, not a new key
	if got := k.KeyCount(); got != 2 {
		t.Fatalf("KeyCount = %d, want 2", got)
	}
	k.Delete([]byte("a"))
	if got := k.KeyCount(); got != 1 {
		t.Fatalf("KeyCount after delete = %d, want 1", got)
	}
}
