package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != Defaults {
		t.Fatalf("Load of missing file = %+v, want Defaults %+v", got, Defaults)
	}
}

func TestParseOverridesOnlyMentionedFields(t *testing.T) {
	data := []byte(`{"gossip_delay": 5, "checkpoint_mode": "snapshot"}`)
	got, err := Parse(data, Defaults)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.GossipDelay != 5*time.Second {
		t.Fatalf("GossipDelay = %v, want 5s", got.GossipDelay)
	}
	if got.CheckpointMode != CheckpointSnapshot {
		t.Fatalf("CheckpointMode = %v, want snapshot", got.CheckpointMode)
	}
	// Everything else still matches the base.
	if got.SamplingFrequency != Defaults.SamplingFrequency {
		t.Fatalf("SamplingFrequency = %v, want unchanged default %v", got.SamplingFrequency, Defaults.SamplingFrequency)
	}
	if got.BindAddress != Defaults.BindAddress {
		t.Fatalf("BindAddress = %q, want unchanged default %q", got.BindAddress, Defaults.BindAddress)
	}
}

func TestParseRejectsUnknownCheckpointMode(t *testing.T) {
	_, err := Parse([]byte(`{"checkpoint_mode": "explode"}`), Defaults)
	if err == nil {
		t.Fatal("expected an error for an unrecognized checkpoint_mode")
	}
}

func TestParseAcceptsHumanReadableSizes(t *testing.T) {
	got, err := Parse([]byte(`{"page_size": "8MiB", "device_segment_size": "2GiB"}`), Defaults)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.PageSize != 8<<20 {
		t.Fatalf("PageSize = %d, want %d", got.PageSize, 8<<20)
	}
	if got.DeviceSegmentSize != 2<<30 {
		t.Fatalf("DeviceSegmentSize = %d, want %d", got.DeviceSegmentSize, 2<<30)
	}
}

func TestParseRejectsMalformedSize(t *testing.T) {
	_, err := Parse([]byte(`{"page_size": "not-a-size"}`), Defaults)
	if err == nil {
		t.Fatal("expected an error for a malformed page_size")
	}
}

func TestStoreGetSwap(t *testing.T) {
	s := NewStore(Defaults)
	if got := s.Get(); got != Defaults {
		t.Fatalf("initial Get() = %+v, want Defaults", got)
	}
	next := Defaults
	next.ClusterEnabled = true
	s.Swap(next)
	if got := s.Get(); !got.ClusterEnabled {
		t.Fatal("Get() after Swap did not observe the new value")
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestWatchFileReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodekv.json")
	writeFile(t, path, `{"gossip_delay": 1}`)

	initial, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	store := NewStore(initial)

	w, err := WatchFile(path, store)
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer w.Close()

	writeFile(t, path, `{"gossip_delay": 9}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Get().GossipDelay == 9*time.Second {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("GossipDelay after reload = %v, want 9s", store.Get().GossipDelay)
}

func TestWatchFilePreservesTLSFieldsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodekv.json")
	writeFile(t, path, `{}`)

	base := Defaults
	base.TLSCertFile = "/etc/nodekv/tls.crt"
	base.TLSKeyFile = "/etc/nodekv/tls.key"
	store := NewStore(base)

	w, err := WatchFile(path, store)
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer w.Close()

	writeFile(t, path, `{"gossip_delay": 3}`)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Get().GossipDelay == 3*time.Second {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	got := store.Get()
	if got.TLSCertFile != "/etc/nodekv/tls.crt" || got.TLSKeyFile != "/etc/nodekv/tls.key" {
		t.Fatalf("TLS fields after reload = %q/%q, want preserved", got.TLSCertFile, got.TLSKeyFile)
	}
}
