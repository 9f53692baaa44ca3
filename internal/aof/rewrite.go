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

package aof

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec names a cold-storage compression scheme for rewritten AOF
// segments once they're no longer the active write target — a segment
// covered by a checkpoint is never appended to again, so compressing it
// before archival trades CPU for disk, the same trade memcp's
// `(stream ... gzip|xz)` scripting helpers expose to its users.
type Codec int

const (
	// NoCodec leaves the segment bytes untouched.
	NoCodec Codec = iota
	// LZ4 favors decompression speed — the default for segments that
	// might still be read by a lagging replica catching up.
	LZ4
	// XZ favors compression ratio — for segments old enough that
	// access is rare and archival size matters more than CPU.
	XZ
)

// CompressSegment compresses raw AOF bytes under the given codec, for
// writing to cold storage ahead of the primary log's segment removal.
func CompressSegment(codec Codec, raw []byte) ([]byte, error) {
	switch codec {
	case NoCodec:
		return raw, nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case XZ:
		var buf bytes.Buffer
		w, err := xz.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return raw, nil
	}
}

// DecompressSegment reverses CompressSegment.
func DecompressSegment(codec Codec, compressed []byte) ([]byte, error) {
	switch codec {
	case NoCodec:
		return compressed, nil
	case LZ4:
		r := lz4.NewReader(bytes.NewReader(compressed))
		return io.ReadAll(r)
	case XZ:
		r, err := xz.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(r)
	default:
		return compressed, nil
	}
}
