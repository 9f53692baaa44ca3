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

package device

import "errors"

// ErrPoolExhausted is returned by TryAcquire when no buffer is free.
var ErrPoolExhausted = errors.New("device: buffer pool exhausted")

// PinnedBuffer is a sector-aligned buffer handed out by a BufferPool. Its
// backing array is guaranteed not to move for the lifetime of an async
// call, so it can be threaded through a Device callback. Callers must
// call Release exactly once, on every exit path (including panics
// recovered upstream).
type PinnedBuffer struct {
	Bytes []byte
	pool  *BufferPool
}

func (b *PinnedBuffer) Release() {
	if b.pool == nil {
		return
	}
	p := b.pool
	b.pool = nil
	p.put(b)
}

// BufferPool hands out fixed-size, sector-aligned buffers from a fixed
// capacity. It is concurrent-safe. Exhaustion returns ErrPoolExhausted
// from TryAcquire; Acquire blocks until a buffer is returned.
type BufferPool struct {
	bufSize int
	free    chan *PinnedBuffer
}

// NewBufferPool preallocates capacity buffers of bufSize bytes each,
// rounded up to the sector size.
func NewBufferPool(capacity int, bufSize int) *BufferPool {
	if bufSize%SectorSize != 0 {
		bufSize = int(Align(int64(bufSize)))
	}
	p := &BufferPool{
		bufSize: bufSize,
		free:    make(chan *PinnedBuffer, capacity),
	}
	for i := 0; i < capacity; i++ {
		buf := &PinnedBuffer{Bytes: make([]byte, bufSize), pool: p}
		p.free <- buf
	}
	return p
}

func (p *BufferPool) put(buf *PinnedBuffer) {
	buf.pool = p
	select {
	case p.free <- buf:
	default:
		// pool already at capacity (buffer was allocated transiently); drop it
	}
}

// TryAcquire returns a pinned buffer without blocking, or
// ErrPoolExhausted if none is free. Callers that cannot wait allocate a
// transient buffer instead (AcquireTransient).
func (p *BufferPool) TryAcquire() (*PinnedBuffer, error) {
	select {
	case b := <-p.free:
		return b, nil
	default:
		return nil, ErrPoolExhausted
	}
}

// Acquire blocks until a buffer is available.
func (p *BufferPool) Acquire() *PinnedBuffer {
	return <-p.free
}

// AcquireTransient allocates a one-off buffer outside the fixed capacity
// for callers that would rather pay a GC allocation than block. Its
// Release is a no-op: the garbage collector reclaims it.
func (p *BufferPool) AcquireTransient() *PinnedBuffer {
	return &PinnedBuffer{Bytes: make([]byte, p.bufSize), pool: nil}
}

func (p *BufferPool) BufferSize() int { return p.bufSize }
