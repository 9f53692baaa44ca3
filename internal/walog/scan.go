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

package walog

import (
	"encoding/binary"
	"hash/crc32"
)

// pageBytes returns the bytes for the segment addr falls in, fetching
// from the device (blocking) if the page has been evicted from memory.
// This implements the "single/double-page buffering" contract loosely:
// a page fetched off-device is cached back into the ring so a
// sequential scan re-reads the device at most once per segment.
func (l *Log) pageBytes(addr uint64) ([]byte, error) {
	seg := l.segmentOf(addr)

	l.mu.Lock()
	if p, ok := l.pages[seg]; ok {
		buf := p.buf
		l.mu.Unlock()
		return buf, nil
	}
	l.mu.Unlock()

	errc := make(chan error, 1)
	var data []byte
	l.dev.Read(seg, 0, int64(l.pageSize), func(buf []byte, err error) {
		data = buf
		errc <- err
	})
	if err := <-errc; err != nil {
		return nil, err
	}

	l.mu.Lock()
	if _, ok := l.pages[seg]; !ok {
		l.pages[seg] = &page{base: seg * uint64(l.pageSize), buf: data, segmentID: seg, flushed: true}
	}
	l.mu.Unlock()
	return data, nil
}

// Cached reports whether addr's page is currently held in memory. The
// store kernel uses this to decide whether a chain hop can be resolved
// synchronously or must be handed off to ReadEntryAsync and tracked as
// pending, per spec §4.3/§4.4's pending-I/O model.
func (l *Log) Cached(addr uint64) bool {
	seg := l.segmentOf(addr)
	l.mu.Lock()
	_, ok := l.pages[seg]
	l.mu.Unlock()
	return ok
}

// ReadEntryAsync resolves addr the same way ReadEntry does, but never
// blocks the calling goroutine on device I/O: if the page is already
// resident it invokes cb synchronously and returns true; otherwise it
// kicks off the device read and invokes cb from the read's own
// completion goroutine once it lands, returning false. Callers use the
// return value only to decide whether cb already ran.
func (l *Log) ReadEntryAsync(addr uint64, cb func(entry []byte, next uint64, err error)) bool {
	if addr < l.BeginAddress() {
		cb(nil, 0, ErrTruncated)
		return true
	}
	if l.Cached(addr) {
		entry, next, err := l.ReadEntry(addr)
		cb(entry, next, err)
		return true
	}
	seg := l.segmentOf(addr)
	l.dev.Read(seg, 0, int64(l.pageSize), func(buf []byte, err error) {
		if err != nil {
			cb(nil, 0, err)
			return
		}
		l.mu.Lock()
		if _, ok := l.pages[seg]; !ok {
			l.pages[seg] = &page{base: seg * uint64(l.pageSize), buf: buf, segmentID: seg, flushed: true}
		}
		l.mu.Unlock()
		entry, next, rerr := l.ReadEntry(addr)
		cb(entry, next, rerr)
	})
	return false
}

// ReadEntry returns the entry stored at addr and the address of the
// entry immediately following it. It returns ErrCorrupt if the frame's
// checksum does not match (the tail beyond a corrupt frame must be
// truncated by the caller, per §4.4's failure semantics) and
// ErrTruncated if addr is below BeginAddress.
func (l *Log) ReadEntry(addr uint64) (entry []byte, next uint64, err error) {
	if addr < l.BeginAddress() {
		return nil, 0, ErrTruncated
	}
	buf, err := l.pageBytes(addr)
	if err != nil {
		return nil, 0, err
	}
	off := l.offsetOf(addr)
	if off+frameHeaderSize > len(buf) {
		return nil, 0, ErrCorrupt
	}
	length := binary.LittleEndian.Uint32(buf[off : off+4])
	sum := binary.LittleEndian.Uint32(buf[off+4 : off+8])
	dataStart := off + frameHeaderSize
	dataEnd := dataStart + int(length)
	if length == 0 || dataEnd > len(buf) {
		return nil, 0, ErrCorrupt
	}
	payload := buf[dataStart:dataEnd]
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, 0, ErrCorrupt
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, addr + uint64(frameHeaderSize+int(length)), nil
}

// Iterator yields log entries in address order over [begin, end).
type Iterator struct {
	l       *Log
	cur     uint64
	end     uint64
	err     error
	current []byte
}

// Scan returns an iterator over [begin, end). end may equal HeadAddress
// to scan up to the most recently appended (not necessarily durable)
// entry — an in-memory scan per §4.2's visibility rule; pass
// TailAddress as end for a durable-only scan.
func (l *Log) Scan(begin, end uint64) *Iterator {
	return &Iterator{l: l, cur: begin, end: end}
}

// Next advances the iterator. It returns false at end of range or on
// error (check Err).
func (it *Iterator) Next() bool {
	if it.err != nil || it.cur >= it.end {
		return false
	}
	entry, next, err := it.l.ReadEntry(it.cur)
	if err != nil {
		it.err = err
		return false
	}
	it.current = entry
	it.cur = next
	return true
}

// Entry returns the entry most recently yielded by Next.
func (it *Iterator) Entry() []byte { return it.current }

// Address returns the address of the entry most recently yielded.
func (it *Iterator) Address() uint64 {
	entryLen := len(it.current)
	return it.cur - uint64(frameHeaderSize+entryLen)
}

// Err returns the error that stopped iteration, if any. ErrCorrupt means
// the scan hit a torn write at the tail of the log; callers replaying
// for recovery treat this as end-of-log rather than a fatal error.
func (it *Iterator) Err() error { return it.err }
