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

package kernel

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"

	"github.com/nodekv/nodekv/internal/device"
)

// Mode selects how InitializeLogCheckpoint materializes the checkpoint.
type Mode int

const (
	// FoldOver makes the log itself the snapshot: only the index is
	// persisted, and recovery replays the log from begin_address.
	FoldOver Mode = iota
	// Snapshot copies the in-memory log range out to a separate device
	// before the index, so the primary log can be truncated immediately.
	Snapshot
)

var (
	// ErrCheckpointAborted is returned when an I/O error during
	// checkpointing forces the kernel to retain the prior checkpoint,
	// per spec §4.4's failure semantics.
	ErrCheckpointAborted = errors.New("kernel: checkpoint aborted")
)

// Metadata is the opaque-to-callers commit record spec §6 describes:
// "Commit metadata is an opaque blob provided to the checkpoint
// manager; the manager returns it on recovery." Concretely it is just
// enough to resume: the token, the frozen version, and the log address
// the checkpoint covers.
type Metadata struct {
	Token          uuid.UUID
	Version        uint64
	CoveredAddress uint64
	Mode           Mode
}

// indexDevice and snapshotDevice are where a checkpoint's bucket-array
// dump and (Snapshot-mode) log-range copy land; both are optional —
// a kernel running AOF-only, checkpoint-less durability passes nil.
type CheckpointManager struct {
	kernel         *Kernel
	indexDevice    device.Device
	snapshotDevice device.Device // used only in Snapshot mode
}

// NewCheckpointManager wires a kernel to the devices its checkpoints
// are written to.
func NewCheckpointManager(k *Kernel, indexDevice, snapshotDevice device.Device) *CheckpointManager {
	return &CheckpointManager{kernel: k, indexDevice: indexDevice, snapshotDevice: snapshotDevice}
}

func encodeBuckets(buckets []uint64) []byte {
	out := make([]byte, 8*len(buckets))
	for i, b := range buckets {
		binary.LittleEndian.PutUint64(out[i*8:i*8+8], b)
	}
	return out
}

func decodeBuckets(buf []byte) []uint64 {
	out := make([]uint64, len(buf)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}
	return out
}

// Run executes the five-step checkpoint flow from spec §4.4:
//  1. freeze a new version
//  2. flush outstanding appends, obtaining tail address A
//  3. snapshot the index to the index device
//  4. (Snapshot mode only) copy the log range [head, A) to the snapshot device
//  5. return commit metadata {token, version, A} for the caller to persist
//     via the AOF's MainStoreCheckpointCommit / ObjectStoreCheckpointCommit record
//
// The AOF covered by A becomes eligible for truncation once this
// returns successfully — the caller (typically the AOF writer) does
// that truncation after durably recording the commit metadata.
func (cm *CheckpointManager) Run(mode Mode) (Metadata, error) {
	token := uuid.New()
	version := cm.kernel.version.Add(1)

	if err := cm.kernel.log.Flush(); err != nil {
		return Metadata{}, ErrCheckpointAborted
	}
	coveredAddress := cm.kernel.log.TailAddress()

	if cm.indexDevice != nil {
		buckets := cm.kernel.index.Snapshot()
		if err := cm.writeBlocking(cm.indexDevice, 0, encodeBuckets(buckets)); err != nil {
			return Metadata{}, ErrCheckpointAborted
		}
	}

	if mode == Snapshot && cm.snapshotDevice != nil {
		beginAddr := cm.kernel.log.BeginAddress()
		it := cm.kernel.log.Scan(beginAddr, coveredAddress)
		var buf []byte
		for it.Next() {
			buf = append(buf, it.Entry()...)
		}
		if err := it.Err(); err != nil {
			return Metadata{}, ErrCheckpointAborted
		}
		if err := cm.writeBlocking(cm.snapshotDevice, 1, buf); err != nil {
			return Metadata{}, ErrCheckpointAborted
		}
	}

	return Metadata{Token: token, Version: version, CoveredAddress: coveredAddress, Mode: mode}, nil
}

func (cm *CheckpointManager) writeBlocking(dev device.Device, segmentID uint64, buf []byte) error {
	errc := make(chan error, 1)
	dev.Write(buf, segmentID, 0, func(err error) { errc <- err })
	return <-errc
}

// Recover rehydrates the index from the index device for a previously
// committed checkpoint. The caller is responsible for then replaying
// the AOF forward from meta.CoveredAddress (spec §4.4: "Recovery walks
// the newest valid checkpoint, rehydrates the index, then replays the
// AOF from the checkpoint's covered address forward").
func (cm *CheckpointManager) Recover(meta Metadata) error {
	if cm.indexDevice == nil {
		return nil
	}
	errc := make(chan error, 1)
	var data []byte
	cm.indexDevice.Read(0, 0, int64(8*cm.kernel.index.NumBuckets()), func(buf []byte, err error) {
		data = buf
		errc <- err
	})
	if err := <-errc; err != nil {
		return err
	}
	cm.kernel.index.Restore(decodeBuckets(data))
	cm.kernel.version.Store(meta.Version)
	return nil
}
