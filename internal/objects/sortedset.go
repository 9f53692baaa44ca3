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
	"github.com/google/btree"
)

const sortedSetDegree = 8

type zitem struct {
	score  float64
	member string
}

// Member and ScoreValue expose a zitem's fields to callers outside the
// package, since RangeByRank/RangeByScore/RangeByLex return []zitem but
// the type itself stays unexported.
func (it zitem) Member() string     { return it.member }
func (it zitem) ScoreValue() float64 { return it.score }

func zitemLess(a, b zitem) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.member < b.member
}

// AddFlags carries ZADD's NX/XX/GT/LT/CH modifiers.
type AddFlags struct {
	NX, XX bool
	GT, LT bool
	CH     bool // count changed elements (not just added) in the return value
}

// SortedSet is an ordered collection of (score, member) pairs with
// member uniqueness, backed by google/btree for ordered storage, plus a
// side map for O(1) member->score lookup. Rank is not O(log n): it walks
// the tree in ascending order up to the member, so its cost grows with
// the member's rank.
type SortedSet struct {
	tree    *btree.BTreeG[zitem]
	scores  map[string]float64
	size    int64
	version uint64
}

// NewSortedSet returns an empty sorted set.
func NewSortedSet() *SortedSet {
	return &SortedSet{
		tree:   btree.NewG(sortedSetDegree, zitemLess),
		scores: make(map[string]float64),
	}
}

func (z *SortedSet) Kind() Kind   { return KindSortedSet }
func (z *SortedSet) Size() int64  { return z.size }
func (z *SortedSet) Len() int     { return z.tree.Len() }
func (z *SortedSet) Version() uint64 { return z.version }

// Score returns member's score, if present.
func (z *SortedSet) Score(member string) (float64, bool) {
	s, ok := z.scores[member]
	return s, ok
}

// Add inserts or updates member with score, honoring flags. Returns
// (added, changed): added counts brand-new members; changed counts
// brand-new members plus score updates to existing members. flags.CH is
// not consulted here; the caller picks which count to report.
func (z *SortedSet) Add(member string, score float64, flags AddFlags) (added int, changed int) {
	old, exists := z.scores[member]
	if exists {
		if flags.NX {
			return 0, 0
		}
		if flags.GT && score <= old {
			return 0, 0
		}
		if flags.LT && score >= old {
			return 0, 0
		}
		if score == old {
			return 0, 0
		}
		z.tree.Delete(zitem{score: old, member: member})
		z.tree.ReplaceOrInsert(zitem{score: score, member: member})
		z.scores[member] = score
		z.version++
		return 0, 1
	}
	if flags.XX {
		return 0, 0
	}
	z.tree.ReplaceOrInsert(zitem{score: score, member: member})
	z.scores[member] = score
	z.size += int64(len(member))
	z.version++
	return 1, 1
}

// Remove deletes member, returning whether it was present.
func (z *SortedSet) Remove(member string) bool {
	score, ok := z.scores[member]
	if !ok {
		return false
	}
	z.tree.Delete(zitem{score: score, member: member})
	delete(z.scores, member)
	z.size -= int64(len(member))
	z.version++
	return true
}

// Rank returns member's 0-based rank in ascending score order.
func (z *SortedSet) Rank(member string) (rank int, ok bool) {
	score, exists := z.scores[member]
	if !exists {
		return 0, false
	}
	target := zitem{score: score, member: member}
	r := 0
	z.tree.Ascend(func(it zitem) bool {
		if it == target {
			return false
		}
		r++
		return true
	})
	return r, true
}

// RangeByRank returns members in [start, stop] rank order (inclusive,
// Redis-style negative indexing from the tail).
func (z *SortedSet) RangeByRank(start, stop int) []zitem {
	n := z.tree.Len()
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
	out := make([]zitem, 0, stop-start+1)
	i := 0
	z.tree.Ascend(func(it zitem) bool {
		if i > stop {
			return false
		}
		if i >= start {
			out = append(out, it)
		}
		i++
		return true
	})
	return out
}

// RangeByScore returns members with score in [min, max].
func (z *SortedSet) RangeByScore(min, max float64) []zitem {
	var out []zitem
	z.tree.AscendGreaterOrEqual(zitem{score: min}, func(it zitem) bool {
		if it.score > max {
			return false
		}
		out = append(out, it)
		return true
	})
	return out
}

// RangeByLex returns members between min and max lexically, inclusive,
// for members sharing a common score (ZRANGEBYLEX's documented
// precondition).
func (z *SortedSet) RangeByLex(min, max string) []zitem {
	var out []zitem
	z.tree.Ascend(func(it zitem) bool {
		if it.member >= min && it.member <= max {
			out = append(out, it)
		}
		return true
	})
	return out
}
