package aof

import (
	"testing"

	"github.com/nodekv/nodekv/internal/device"
	"github.com/nodekv/nodekv/internal/kernel"
	"github.com/nodekv/nodekv/internal/hashindex"
	"github.com/nodekv/nodekv/internal/walog"
)

func newTestWriter(t *testing.T) (*Writer, *walog.Log) {
	t.Helper()
	dir := t.TempDir()
	dev, err := device.NewFileDevice(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })
	log := walog.Open(dev, 4096, 0, 0)
	return NewWriter(log), log
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{OpType: StoreUpsert, SubType: 3, Version: 42, SessionID: 7}
	buf := encodeHeader(h)
	got, err := decodeHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("got %+v, want %+v", got, h)
	}
}

func TestWriterAppendUpsertAndDecode(t *testing.T) {
	w, log := newTestWriter(t)
	addr, err := w.AppendUpsert(StoreUpsert, 1, 9, []byte("key"), []byte("value"))
	if err != nil {
		t.Fatal(err)
	}
	raw, _, err := log.ReadEntry(addr)
	if err != nil {
		t.Fatal(err)
	}
	h, err := decodeHeader(raw)
	if err != nil {
		t.Fatal(err)
	}
	key, value, err := DecodeUpsertPayload(raw[headerSize:])
	if err != nil {
		t.Fatal(err)
	}
	if h.OpType != StoreUpsert || string(key) != "key" || string(value) != "value" {
		t.Fatalf("decoded %+v key=%q value=%q", h, key, value)
	}
}

func newTestKernel(t *testing.T) *kernel.Kernel {
	t.Helper()
	dir := t.TempDir()
	dev, err := device.NewFileDevice(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })
	log := walog.Open(dev, 4096, 0, 0)
	return kernel.New(log, hashindex.New(6))
}

func TestReplayAppliesUpsertsInOrder(t *testing.T) {
	w, log := newTestWriter(t)
	w.AppendUpsert(StoreUpsert, 1, 1, []byte("a"), []byte("1"))
	w.AppendUpsert(StoreUpsert, 1, 1, []byte("a"), []byte("2"))
	w.AppendDelete(StoreDelete, 1, 1, []byte("a"))
	w.AppendUpsert(StoreUpsert, 1, 1, []byte("b"), []byte("only"))

	k := newTestKernel(t)
	replayer := NewReplayer(log, kernel.Applier{K: k}, kernel.Applier{K: k}, nil)
	if err := replayer.Replay(0, log.HeadAddress(), 0); err != nil {
		t.Fatal(err)
	}

	tracker := kernel.NewTracker()
	if out := k.Read([]byte("a"), tracker); out.Status != kernel.NotFound {
		t.Fatalf("Read(a) = %+v, want NotFound after replayed delete", out)
	}
	if out := k.Read([]byte("b"), tracker); out.Status != kernel.Found || string(out.Value) != "only" {
		t.Fatalf("Read(b) = %+v", out)
	}
}

func TestReplaySkipsRecordsCoveredByCheckpoint(t *testing.T) {
	w, log := newTestWriter(t)
	w.AppendUpsert(StoreUpsert, 1, 1, []byte("old"), []byte("should-be-skipped"))
	w.AppendUpsert(StoreUpsert, 5, 1, []byte("new"), []byte("should-apply"))

	k := newTestKernel(t)
	replayer := NewReplayer(log, kernel.Applier{K: k}, kernel.Applier{K: k}, nil)
	if err := replayer.Replay(0, log.HeadAddress(), 5); err != nil {
		t.Fatal(err)
	}

	tracker := kernel.NewTracker()
	if out := k.Read([]byte("old"), tracker); out.Status != kernel.NotFound {
		t.Fatalf("Read(old) = %+v, want NotFound (should have been skipped)", out)
	}
	if out := k.Read([]byte("new"), tracker); out.Status != kernel.Found {
		t.Fatalf("Read(new) = %+v, want Found", out)
	}
}

func TestReplayBuffersTransactionUntilCommit(t *testing.T) {
	w, log := newTestWriter(t)
	w.AppendTxnBoundary(TxnStart, 1, 2)
	w.AppendUpsert(StoreUpsert, 1, 2, []byte("x"), []byte("1"))
	w.AppendUpsert(StoreUpsert, 1, 2, []byte("y"), []byte("2"))
	w.AppendTxnBoundary(TxnCommit, 1, 2)

	k := newTestKernel(t)
	replayer := NewReplayer(log, kernel.Applier{K: k}, kernel.Applier{K: k}, nil)
	if err := replayer.Replay(0, log.HeadAddress(), 0); err != nil {
		t.Fatal(err)
	}

	tracker := kernel.NewTracker()
	if out := k.Read([]byte("x"), tracker); out.Status != kernel.Found {
		t.Fatalf("Read(x) = %+v, want Found (txn committed)", out)
	}
	if out := k.Read([]byte("y"), tracker); out.Status != kernel.Found {
		t.Fatalf("Read(y) = %+v, want Found (txn committed)", out)
	}
}

func TestReplayDiscardsAbortedTransaction(t *testing.T) {
	w, log := newTestWriter(t)
	w.AppendTxnBoundary(TxnStart, 1, 3)
	w.AppendUpsert(StoreUpsert, 1, 3, []byte("z"), []byte("never"))
	w.AppendTxnBoundary(TxnAbort, 1, 3)

	k := newTestKernel(t)
	replayer := NewReplayer(log, kernel.Applier{K: k}, kernel.Applier{K: k}, nil)
	if err := replayer.Replay(0, log.HeadAddress(), 0); err != nil {
		t.Fatal(err)
	}

	tracker := kernel.NewTracker()
	if out := k.Read([]byte("z"), tracker); out.Status != kernel.NotFound {
		t.Fatalf("Read(z) = %+v, want NotFound (txn aborted)", out)
	}
}

func TestReplayInvokesCheckpointCommitHook(t *testing.T) {
	w, log := newTestWriter(t)
	w.AppendCheckpointCommit(MainStoreCheckpointCommit, 3, []byte("token-bytes"))

	var gotOp OpType
	var gotVersion int64
	var gotToken []byte
	hook := func(op OpType, version int64, token []byte) {
		gotOp, gotVersion, gotToken = op, version, token
	}

	k := newTestKernel(t)
	replayer := NewReplayer(log, kernel.Applier{K: k}, kernel.Applier{K: k}, hook)
	if err := replayer.Replay(0, log.HeadAddress(), 0); err != nil {
		t.Fatal(err)
	}
	if gotOp != MainStoreCheckpointCommit || gotVersion != 3 || string(gotToken) != "token-bytes" {
		t.Fatalf("hook got op=%v version=%d token=%q", gotOp, gotVersion, gotToken)
	}
}
