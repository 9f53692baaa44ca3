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

// Package objects implements the typed-object store from spec §4.6:
// List, SortedSet (with a Geo view over it), Hash and Set. Operations
// are methods that mutate the object in place and return their output;
// they are not pure functions of (current object, input), and the main
// store kernel's copy-on-RMW model does not apply to this layer.
package objects

// Kind discriminates the polymorphic value variant a key maps to.
type Kind int

const (
	KindList Kind = iota
	KindSortedSet
	KindHash
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindList:
		return "list"
	case KindSortedSet:
		return "zset"
	case KindHash:
		return "hash"
	case KindSet:
		return "set"
	default:
		return "unknown"
	}
}

// ErrWrongType is returned when a command operates on a key holding a
// different Kind than the command expects, matching RESP's WRONGTYPE
// error convention.
type ErrWrongType struct {
	Want, Got Kind
}

func (e ErrWrongType) Error() string {
	return "WRONGTYPE Operation against a key holding the wrong kind of value"
}

// Value is any typed object stored under a key in the object store.
// Size backs the incremental cache-eviction accounting spec §4.6 calls
// for.
type Value interface {
	Kind() Kind
	Size() int64
}
