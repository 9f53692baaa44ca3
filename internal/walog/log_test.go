package walog

import (
	"bytes"
	"testing"

	"github.com/nodekv/nodekv/internal/device"
)

func newTestLog(t *testing.T) (*Log, func()) {
	t.Helper()
	dir := t.TempDir()
	dev, err := device.NewFileDevice(dir)
	if err != nil {
		t.Fatal(err)
	}
	l := Open(dev, 4096, 0, 0)
	return l, func() { dev.Close() }
}

func TestAppendAndReadBack(t *testing.T) {
	l, cleanup := newTestLog(t)
	defer cleanup()

	entries := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma-gamma")}
	addrs := make([]uint64, len(entries))
	for i, e := range entries {
		addr, err := l.Append(e)
		if err != nil {
			t.Fatal(err)
		}
		addrs[i] = addr
	}

	for i, addr := range addrs {
		got, _, err := l.ReadEntry(addr)
		if err != nil {
			t.Fatalf("ReadEntry(%d): %v", addr, err)
		}
		if !bytes.Equal(got, entries[i]) {
			t.Fatalf("entry %d: got %q want %q", i, got, entries[i])
		}
	}
}

func TestScanOrder(t *testing.T) {
	l, cleanup := newTestLog(t)
	defer cleanup()

	want := [][]byte{[]byte("one"), []byte("two"), []byte("three"), []byte("four")}
	for _, e := range want {
		if _, err := l.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	it := l.Scan(0, l.HeadAddress())
	var got [][]byte
	for it.Next() {
		got = append(got, append([]byte(nil), it.Entry()...))
	}
	if err := it.Err(); err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("entry %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestFlushAdvancesTail(t *testing.T) {
	l, cleanup := newTestLog(t)
	defer cleanup()

	addr, _ := l.Append([]byte("durable-me"))
	if l.TailAddress() > addr {
		t.Fatalf("tail advanced before flush")
	}
	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}
	if l.TailAddress() < l.HeadAddress() {
		t.Fatalf("tail did not reach head after flush: tail=%d head=%d", l.TailAddress(), l.HeadAddress())
	}
}

func TestTruncateRejectsOldReads(t *testing.T) {
	l, cleanup := newTestLog(t)
	defer cleanup()

	addr1, _ := l.Append([]byte("first"))
	addr2, _ := l.Append([]byte("second"))
	l.Flush()

	l.Truncate(addr2)
	if _, _, err := l.ReadEntry(addr1); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if got, _, err := l.ReadEntry(addr2); err != nil || !bytes.Equal(got, []byte("second")) {
		t.Fatalf("ReadEntry(addr2) = %q, %v", got, err)
	}
}

func TestCrossPageRotation(t *testing.T) {
	dir := t.TempDir()
	dev, err := device.NewFileDevice(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	l := Open(dev, 64, 0, 0) // tiny pages to force rotation

	var addrs []uint64
	for i := 0; i < 20; i++ {
		addr, err := l.Append([]byte("payload-of-some-length"))
		if err != nil {
			t.Fatal(err)
		}
		addrs = append(addrs, addr)
	}
	l.Flush()
	for i, addr := range addrs {
		got, _, err := l.ReadEntry(addr)
		if err != nil {
			t.Fatalf("entry %d at %d: %v", i, addr, err)
		}
		if string(got) != "payload-of-some-length" {
			t.Fatalf("entry %d: got %q", i, got)
		}
	}
}
