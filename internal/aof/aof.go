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

// Package aof is the append-only-file writer/replayer from spec §4.5: a
// framed command log, written on every mutating store op and replayed
// on recovery or by a freshly attached replica.
package aof

import (
	"encoding/binary"
	"errors"

	"github.com/nodekv/nodekv/internal/walog"
)

// OpType enumerates spec §3's AOF record op-types.
type OpType uint8

const (
	StoreUpsert OpType = iota
	StoreRMW
	StoreDelete
	ObjectStoreUpsert
	ObjectStoreRMW
	ObjectStoreDelete
	TxnStart
	TxnCommit
	TxnAbort
	StoredProcedure
	MainStoreCheckpointCommit
	ObjectStoreCheckpointCommit
)

const headerSize = 1 + 1 + 8 + 4 // op_type, sub_type, version(i64 LE), session_id(i32 LE)

var ErrShortHeader = errors.New("aof: record shorter than header")

// Header is the fixed 14-byte AOF record header from spec §3/§6.
type Header struct {
	OpType    OpType
	SubType   uint8
	Version   int64
	SessionID int32
}

// Record is one decoded AOF entry: its header plus the raw payload
// bytes (interpretation of which is op-type specific — see Payload
// helpers below).
type Record struct {
	Header  Header
	Payload []byte
}

func encodeHeader(h Header) []byte {
	out := make([]byte, headerSize)
	out[0] = byte(h.OpType)
	out[1] = h.SubType
	binary.LittleEndian.PutUint64(out[2:10], uint64(h.Version))
	binary.LittleEndian.PutUint32(out[10:14], uint32(h.SessionID))
	return out
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, ErrShortHeader
	}
	return Header{
		OpType:    OpType(buf[0]),
		SubType:   buf[1],
		Version:   int64(binary.LittleEndian.Uint64(buf[2:10])),
		SessionID: int32(binary.LittleEndian.Uint32(buf[10:14])),
	}, nil
}

// encodeField frames a key/value byte string as {i32 length, bytes},
// matching spec §6's payload schema.
func encodeField(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(b)))
	copy(out[4:], b)
	return out
}

func decodeField(buf []byte) (field []byte, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, ErrShortHeader
	}
	n := binary.LittleEndian.Uint32(buf[0:4])
	if uint32(len(buf)-4) < n {
		return nil, nil, ErrShortHeader
	}
	return buf[4 : 4+n], buf[4+n:], nil
}

// Writer appends framed AOF records to a dedicated log, distinct from
// the main store's record log.
type Writer struct {
	log *walog.Log
}

// NewWriter wraps an already-open log as an AOF writer.
func NewWriter(log *walog.Log) *Writer {
	return &Writer{log: log}
}

// TailAddress is the AOF log's durability watermark, reported to the
// cluster as this node's replication offset (spec §4.10's
// failreplicationoffset/PauseWritesAndOffset handshake).
func (w *Writer) TailAddress() uint64 { return w.log.TailAddress() }

// Append writes one AOF record and returns its address.
func (w *Writer) Append(h Header, payload []byte) (uint64, error) {
	buf := make([]byte, 0, headerSize+len(payload))
	buf = append(buf, encodeHeader(h)...)
	buf = append(buf, payload...)
	return w.log.Append(buf)
}

// AppendUpsert frames a StoreUpsert/ObjectStoreUpsert record: key and
// value as length-prefixed fields.
func (w *Writer) AppendUpsert(op OpType, version int64, sessionID int32, key, value []byte) (uint64, error) {
	payload := append(encodeField(key), encodeField(value)...)
	return w.Append(Header{OpType: op, Version: version, SessionID: sessionID}, payload)
}

// AppendDelete frames a StoreDelete/ObjectStoreDelete record: key only.
func (w *Writer) AppendDelete(op OpType, version int64, sessionID int32, key []byte) (uint64, error) {
	return w.Append(Header{OpType: op, Version: version, SessionID: sessionID}, encodeField(key))
}

// AppendTxnBoundary frames TxnStart/TxnCommit/TxnAbort, which carry no
// payload beyond the session-id already in the header.
func (w *Writer) AppendTxnBoundary(op OpType, version int64, sessionID int32) (uint64, error) {
	return w.Append(Header{OpType: op, Version: version, SessionID: sessionID}, nil)
}

// AppendCheckpointCommit frames MainStoreCheckpointCommit /
// ObjectStoreCheckpointCommit: the checkpoint token as payload.
func (w *Writer) AppendCheckpointCommit(op OpType, version int64, token []byte) (uint64, error) {
	return w.Append(Header{OpType: op, Version: version}, encodeField(token))
}

// AppendUpsertFrame is AppendUpsert with the op-type selected by
// objectStore, structurally satisfying resp.AppendOnlyLog without that
// package importing internal/aof's OpType enum.
func (w *Writer) AppendUpsertFrame(version int64, sessionID int32, objectStore bool, key, value []byte) error {
	op := StoreUpsert
	if objectStore {
		op = ObjectStoreUpsert
	}
	_, err := w.AppendUpsert(op, version, sessionID, key, value)
	return err
}

// AppendDeleteFrame is AppendDelete with the op-type selected by
// objectStore; see AppendUpsertFrame.
func (w *Writer) AppendDeleteFrame(version int64, sessionID int32, objectStore bool, key []byte) error {
	op := StoreDelete
	if objectStore {
		op = ObjectStoreDelete
	}
	_, err := w.AppendDelete(op, version, sessionID, key)
	return err
}

// DecodeUpsertPayload splits an upsert record's payload back into key
// and value.
func DecodeUpsertPayload(payload []byte) (key, value []byte, err error) {
	key, rest, err := decodeField(payload)
	if err != nil {
		return nil, nil, err
	}
	value, _, err = decodeField(rest)
	return key, value, err
}

// DecodeKeyPayload extracts the key field from a delete-style payload.
func DecodeKeyPayload(payload []byte) (key []byte, err error) {
	key, _, err = decodeField(payload)
	return key, err
}
