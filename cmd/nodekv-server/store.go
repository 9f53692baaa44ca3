/*
Copyright (C) 2026  nodekv contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package main

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"github.com/nodekv/nodekv/internal/aof"
	"github.com/nodekv/nodekv/internal/config"
	"github.com/nodekv/nodekv/internal/device"
	"github.com/nodekv/nodekv/internal/hashindex"
	"github.com/nodekv/nodekv/internal/kernel"
	"github.com/nodekv/nodekv/internal/walog"
)

// recoveryState is the one fact that must survive a restart for the AOF
// log to keep appending in the right place: its head address. The main
// store's own log needs no such state — it is rebuilt from scratch on
// every start by replaying the AOF (see replayMain below), so only the
// AOF log's own on-disk position needs to persist.
type recoveryState struct {
	AOFHead uint64 `json:"aof_head"`
}

func recoveryStatePath(dataDir string) string {
	return filepath.Join(dataDir, "recovery.json")
}

func loadRecoveryState(dataDir string) recoveryState {
	data, err := os.ReadFile(recoveryStatePath(dataDir))
	if err != nil {
		return recoveryState{}
	}
	var s recoveryState
	if err := json.Unmarshal(data, &s); err != nil {
		log.Printf("nodekv: ignoring corrupt recovery state: %v", err)
		return recoveryState{}
	}
	return s
}

func saveRecoveryState(dataDir string, s recoveryState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	tmp := recoveryStatePath(dataDir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return err
	}
	return os.Rename(tmp, recoveryStatePath(dataDir))
}

// noopApplier satisfies aof.Applier without doing anything. The object
// store (internal/objects.Store) is an in-memory map with no byte-wire
// encoding of its own yet, so resp/commands.go never actually emits
// ObjectStoreUpsert/ObjectStoreDelete AOF records (see DESIGN.md) — the
// replayer's object-store argument exists for when that lands, but is
// unreachable today.
type noopApplier struct{}

func (noopApplier) Upsert(key, value []byte) error { return nil }
func (noopApplier) Delete(key []byte) error         { return nil }

// stores bundles the main-store kernel (spec §4.4) with the AOF it
// replays from and the checkpoint manager that periodically snapshots
// its hash index (spec §4.4's five-step Run).
type stores struct {
	main      *kernel.Kernel
	mainCkpt  *kernel.CheckpointManager
	aofWriter *aof.Writer
	aofLog    *walog.Log

	closers []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Printf("nodekv: close error: %v", err)
		}
	}
}

// openStores builds the main-store kernel and the AOF writer/log under
// dataDir, and replays the AOF into the kernel to reconstruct its
// in-memory hash index (spec §4.5's crash-recovery contract). The main
// store's own log starts empty on every run: it exists to let Kernel
// chain collisions and serve reads, not as the durability mechanism —
// that is the AOF's job, per spec §4.5's "AOF ... is the durability
// boundary".
func openStores(cfg config.T, dataDir string) (*stores, error) {
	st := &stores{}

	mainLogDev, err := device.NewFileDevice(filepath.Join(dataDir, "main", "log"))
	if err != nil {
		return nil, err
	}
	st.closers = append(st.closers, mainLogDev.Close)
	mainIndexDev, err := device.NewFileDevice(filepath.Join(dataDir, "main", "index"))
	if err != nil {
		return nil, err
	}
	st.closers = append(st.closers, mainIndexDev.Close)
	mainLog := walog.Open(mainLogDev, int(cfg.PageSize), 0, 0)
	st.main = kernel.New(mainLog, hashindex.New(20))
	st.mainCkpt = kernel.NewCheckpointManager(st.main, mainIndexDev, nil)

	aofDev, err := device.NewFileDevice(filepath.Join(dataDir, "aof"))
	if err != nil {
		return nil, err
	}
	st.closers = append(st.closers, aofDev.Close)
	recovered := loadRecoveryState(dataDir)
	aofLog := walog.Open(aofDev, int(cfg.PageSize), 0, recovered.AOFHead)
	st.aofLog = aofLog
	st.aofWriter = aof.NewWriter(aofLog)

	if err := replayMain(aofLog, st.main); err != nil {
		return nil, err
	}

	return st, nil
}

// replayMain replays the whole AOF log from its current begin address
// (0 on a fresh log; wherever Truncate last moved it to otherwise) into
// the main-store kernel. The kernel starts at version 0, so every
// record in the log applies — this is a full rebuild, not an
// incremental catch-up, matching the "the log is rebuildable, the AOF
// is durable" design noted on stores above.
func replayMain(aofLog *walog.Log, main *kernel.Kernel) error {
	replayer := aof.NewReplayer(aofLog, kernel.Applier{K: main}, noopApplier{}, nil)
	return replayer.Replay(aofLog.BeginAddress(), aofLog.HeadAddress(), 0)
}
