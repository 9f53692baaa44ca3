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

import (
	"fmt"
	"os"
	"sync"
)

// FileDevice backs each segment with its own file under a directory,
// e.g. <dir>/seg.0000000001. Async semantics are simulated with a
// per-call goroutine over ReadAt/WriteAt; real deployments that need
// true kernel-level async I/O swap this for io_uring/AIO without
// touching the log allocator above it.
type FileDevice struct {
	dir string

	mu     sync.Mutex
	files  map[uint64]*os.File
	closed bool
}

func NewFileDevice(dir string) (*FileDevice, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	return &FileDevice{dir: dir, files: make(map[uint64]*os.File)}, nil
}

func (d *FileDevice) segmentPath(segmentID uint64) string {
	return fmt.Sprintf("%s/seg.%010d", d.dir, segmentID)
}

func (d *FileDevice) fileFor(segmentID uint64) (*os.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if f, ok := d.files[segmentID]; ok {
		return f, nil
	}
	f, err := os.OpenFile(d.segmentPath(segmentID), os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, err
	}
	d.files[segmentID] = f
	return f, nil
}

func (d *FileDevice) Read(segmentID uint64, offset int64, length int64, cb ReadCallback) {
	if err := CheckAligned(offset, length); err != nil {
		cb(nil, err)
		return
	}
	f, err := d.fileFor(segmentID)
	if err != nil {
		cb(nil, err)
		return
	}
	go func() {
		buf := make([]byte, length)
		n, err := f.ReadAt(buf, offset)
		if err != nil && n == 0 {
			cb(nil, err)
			return
		}
		cb(buf[:n], nil)
	}()
}

func (d *FileDevice) Write(buf []byte, segmentID uint64, offset int64, cb WriteCallback) {
	if err := CheckAligned(offset, int64(len(buf))); err != nil {
		cb(err)
		return
	}
	f, err := d.fileFor(segmentID)
	if err != nil {
		cb(err)
		return
	}
	go func() {
		_, err := f.WriteAt(buf, offset)
		if err == nil {
			err = f.Sync()
		}
		cb(err)
	}()
}

func (d *FileDevice) RemoveSegment(segmentID uint64) error {
	d.mu.Lock()
	f, ok := d.files[segmentID]
	if ok {
		delete(d.files, segmentID)
	}
	d.mu.Unlock()
	if ok {
		f.Close()
	}
	return os.Remove(d.segmentPath(segmentID))
}

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var first error
	for _, f := range d.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	d.files = nil
	return first
}
