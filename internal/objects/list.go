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

package objects

import (
	"bytes"
	"container/list"
)

// List is a doubly-linked sequence of byte strings (spec §4.6's List
// variant), backed by the standard library's container/list — no
// linked-list library appears anywhere in the retrieval pack, and a
// doubly-linked list is exactly what container/list already is, so
// reaching for anything else would be reinventing stdlib.
type List struct {
	l    *list.List
	size int64
}

// NewList returns an empty list.
func NewList() *List {
	return &List{l: list.New()}
}

func (l *List) Kind() Kind { return KindList }
func (l *List) Size() int64 {
	return l.size
}
func (l *List) Len() int { return l.l.Len() }

// PushLeft/PushRight prepend/append values, in argument order (so
// PushLeft(a, b, c) leaves the list as c, b, a, ... matching LPUSH's
// reverse-argument convention).
func (l *List) PushLeft(values ...[]byte) int {
	for _, v := range values {
		l.l.PushFront(append([]byte(nil), v...))
		l.size += int64(len(v))
	}
	return l.l.Len()
}

func (l *List) PushRight(values ...[]byte) int {
	for _, v := range values {
		l.l.PushBack(append([]byte(nil), v...))
		l.size += int64(len(v))
	}
	return l.l.Len()
}

func (l *List) PopLeft() ([]byte, bool) {
	e := l.l.Front()
	if e == nil {
		return nil, false
	}
	l.l.Remove(e)
	v := e.Value.([]byte)
	l.size -= int64(len(v))
	return v, true
}

func (l *List) PopRight() ([]byte, bool) {
	e := l.l.Back()
	if e == nil {
		return nil, false
	}
	l.l.Remove(e)
	v := e.Value.([]byte)
	l.size -= int64(len(v))
	return v, true
}

func (l *List) elementAt(index int) *list.Element {
	n := l.l.Len()
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return nil
	}
	if index <= n/2 {
		e := l.l.Front()
		for i := 0; i < index; i++ {
			e = e.Next()
		}
		return e
	}
	e := l.l.Back()
	for i := n - 1; i > index; i-- {
		e = e.Prev()
	}
	return e
}

// Index returns the value at index (negative indexes from the tail);
// ok is false if |index| is out of range.
func (l *List) Index(index int) (value []byte, ok bool) {
	e := l.elementAt(index)
	if e == nil {
		return nil, false
	}
	return e.Value.([]byte), true
}

// SetIndex overwrites the value at index; ok is false if out of range.
func (l *List) SetIndex(index int, value []byte) bool {
	e := l.elementAt(index)
	if e == nil {
		return false
	}
	old := e.Value.([]byte)
	l.size += int64(len(value)) - int64(len(old))
	e.Value = append([]byte(nil), value...)
	return true
}

// Range returns a copy of the values in [start, stop] inclusive, with
// Redis-style negative indexing and clamping.
func (l *List) Range(start, stop int) [][]byte {
	n := l.l.Len()
	if n == 0 {
		return nil
	}
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil
	}
	out := make([][]byte, 0, stop-start+1)
	e := l.elementAt(start)
	for i := start; i <= stop && e != nil; i++ {
		out = append(out, e.Value.([]byte))
		e = e.Next()
	}
	return out
}

// InsertBefore/InsertAfter locate the first element equal to pivot and
// insert value there; ok is false if pivot wasn't found.
func (l *List) InsertBefore(pivot, value []byte) bool {
	for e := l.l.Front(); e != nil; e = e.Next() {
		if bytes.Equal(e.Value.([]byte), pivot) {
			l.l.InsertBefore(append([]byte(nil), value...), e)
			l.size += int64(len(value))
			return true
		}
	}
	return false
}

func (l *List) InsertAfter(pivot, value []byte) bool {
	for e := l.l.Front(); e != nil; e = e.Next() {
		if bytes.Equal(e.Value.([]byte), pivot) {
			l.l.InsertAfter(append([]byte(nil), value...), e)
			l.size += int64(len(value))
			return true
		}
	}
	return false
}

// RemoveByValue removes occurrences of value. count > 0 removes the
// first count occurrences scanning from the head; count < 0 scans from
// the tail; count == 0 removes all occurrences. Returns the number
// removed.
func (l *List) RemoveByValue(value []byte, count int) int {
	removed := 0
	limit := count
	if limit < 0 {
		limit = -limit
	}
	unbounded := count == 0

	if count >= 0 {
		for e := l.l.Front(); e != nil; {
			next := e.Next()
			if (unbounded || removed < limit) && bytes.Equal(e.Value.([]byte), value) {
				l.size -= int64(len(e.Value.([]byte)))
				l.l.Remove(e)
				removed++
			}
			e = next
		}
	} else {
		for e := l.l.Back(); e != nil; {
			prev := e.Prev()
			if removed < limit && bytes.Equal(e.Value.([]byte), value) {
				l.size -= int64(len(e.Value.([]byte)))
				l.l.Remove(e)
				removed++
			}
			e = prev
		}
	}
	return removed
}
