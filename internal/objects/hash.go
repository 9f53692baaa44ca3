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

// Hash is a field -> value map (HSET/HGET/HDEL family). A plain Go map
// guarded by the store kernel's record-level concurrency control, the
// same shape memcp's own storage/cachemap.go uses for its key -> value
// table.
type Hash struct {
	fields map[string][]byte
	size   int64
}

func NewHash() *Hash {
	return &Hash{fields: make(map[string][]byte)}
}

func (h *Hash) Kind() Kind  { return KindHash }
func (h *Hash) Size() int64 { return h.size }
func (h *Hash) Len() int    { return len(h.fields) }

func (h *Hash) Get(field string) ([]byte, bool) {
	v, ok := h.fields[field]
	return v, ok
}

// Set writes field=value, returning whether the field was newly created.
func (h *Hash) Set(field string, value []byte) bool {
	old, existed := h.fields[field]
	h.fields[field] = append([]byte(nil), value...)
	if existed {
		h.size += int64(len(value)) - int64(len(old))
	} else {
		h.size += int64(len(field)) + int64(len(value))
	}
	return !existed
}

func (h *Hash) Delete(field string) bool {
	old, ok := h.fields[field]
	if !ok {
		return false
	}
	delete(h.fields, field)
	h.size -= int64(len(field)) + int64(len(old))
	return true
}

func (h *Hash) Fields() map[string][]byte { return h.fields }
