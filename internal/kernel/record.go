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
)

// ErrRecordCorrupt is returned when a log entry cannot be parsed as a
// record frame (distinct from walog.ErrCorrupt, which covers the
// lower-level CRC framing).
var ErrRecordCorrupt = errors.New("kernel: corrupt record")

const recordFixedSize = 1 + 8 + 8 + 8 + 4 + 4 // flags,prev,expireAt,version,keyLen,valueLen

const tombstoneFlag = 1 << 0

// record is the main-store record shape stored inline in the log: a
// key, a value (empty for tombstones), and the metadata block spec §3
// calls for (expiration tick, version) plus the prev-address chain
// pointer used by hash index collision resolution.
type record struct {
	key       []byte
	value     []byte
	prev      uint64
	expireAt  uint64 // unix nanoseconds; 0 = no expiry
	version   uint64
	tombstone bool
}

func encodeRecord(r record) []byte {
	out := make([]byte, recordFixedSize+len(r.key)+len(r.value))
	var flags byte
	if r.tombstone {
		flags |= tombstoneFlag
	}
	out[0] = flags
	binary.LittleEndian.PutUint64(out[1:9], r.prev)
	binary.LittleEndian.PutUint64(out[9:17], r.expireAt)
	binary.LittleEndian.PutUint64(out[17:25], r.version)
	binary.LittleEndian.PutUint32(out[25:29], uint32(len(r.key)))
	binary.LittleEndian.PutUint32(out[29:33], uint32(len(r.value)))
	off := recordFixedSize
	off += copy(out[off:], r.key)
	copy(out[off:], r.value)
	return out
}

func decodeRecord(buf []byte) (record, error) {
	if len(buf) < recordFixedSize {
		return record{}, ErrRecordCorrupt
	}
	flags := buf[0]
	prev := binary.LittleEndian.Uint64(buf[1:9])
	expireAt := binary.LittleEndian.Uint64(buf[9:17])
	version := binary.LittleEndian.Uint64(buf[17:25])
	keyLen := binary.LittleEndian.Uint32(buf[25:29])
	valueLen := binary.LittleEndian.Uint32(buf[29:33])
	want := recordFixedSize + int(keyLen) + int(valueLen)
	if want != len(buf) {
		return record{}, ErrRecordCorrupt
	}
	off := recordFixedSize
	key := buf[off : off+int(keyLen)]
	off += int(keyLen)
	value := buf[off : off+int(valueLen)]
	return record{
		key:       key,
		value:     value,
		prev:      prev,
		expireAt:  expireAt,
		version:   version,
		tombstone: flags&tombstoneFlag != 0,
	}, nil
}
