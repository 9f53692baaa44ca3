package kernel

import (
	"testing"

	"github.com/nodekv/nodekv/internal/device"
	"github.com/nodekv/nodekv/internal/hashindex"
	"github.com/nodekv/nodekv/internal/walog"
)

func TestCheckpointFoldOverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dataDev, err := device.NewFileDevice(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer dataDev.Close()

	indexDir := t.TempDir()
	indexDev, err := device.NewFileDevice(indexDir)
	if err != nil {
		t.Fatal(err)
	}
	defer indexDev.Close()

	log := walog.Open(dataDev, 4096, 0, 0)
	idx := hashindex.New(6)
	k := New(log, idx)
	cm := NewCheckpointManager(k, indexDev, nil)

	k.Upsert([]byte("a"), []byte("1"))
	k.Upsert([]byte("b"), []byte("2"))

	meta, err := cm.Run(FoldOver)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if meta.CoveredAddress != log.TailAddress() {
		t.Fatalf("CoveredAddress = %d, want %d", meta.CoveredAddress, log.TailAddress())
	}

	idx2 := hashindex.New(6)
	k2 := New(log, idx2)
	cm2 := NewCheckpointManager(k2, indexDev, nil)
	if err := cm2.Recover(meta); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	tracker := NewTracker()
	out := k2.Read([]byte("a"), tracker)
	if out.Status != Found || string(out.Value) != "1" {
		t.Fatalf("Read after recover = %+v", out)
	}
}
