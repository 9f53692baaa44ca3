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

// SubsetView is a range-bounded, lazily-revalidated view over a
// SortedSet (spec §4.6's "sorted-set subset view"). It carries the
// underlying set's version at the time of the last revalidation and
// re-checks membership against the live set on every access rather than
// caching a stale copy of the range — so
// `V.contains(x) <=> U.contains(x) && lo <= score(x) <= hi` holds
// regardless of how many mutations happened on U after V was created
// (spec §8's testable property for this type).
type SubsetView struct {
	underlying     *SortedSet
	lo, hi         float64
	versionAtCheck uint64
}

// NewSubsetView creates a view over u bounded to scores in [lo, hi].
func NewSubsetView(u *SortedSet, lo, hi float64) *SubsetView {
	return &SubsetView{underlying: u, lo: lo, hi: hi, versionAtCheck: u.Version()}
}

// revalidate only records the underlying set's current version in
// versionAtCheck: there is no cached root to re-locate
// because every accessor below reads the live tree directly. The
// version field exists so callers can detect "did anything change
// since I last looked" without re-deriving Contains/Count themselves
// (spec's "re-locates the root of the range" describes an
// implementation strategy for languages with persistent trees; this
// package's btree is mutated in place, so the cheaper equivalent is
// simply always reading through).
func (v *SubsetView) revalidate() {
	v.versionAtCheck = v.underlying.Version()
}

// Stale reports whether the underlying set has mutated since the view
// was created or last revalidated.
func (v *SubsetView) Stale() bool {
	return v.underlying.Version() != v.versionAtCheck
}

// Contains reports whether member is both present in the underlying set
// and within this view's score bounds.
func (v *SubsetView) Contains(member string) bool {
	v.revalidate()
	score, ok := v.underlying.Score(member)
	if !ok {
		return false
	}
	return score >= v.lo && score <= v.hi
}

// Count recomputes, on demand, how many members fall within the view's
// bounds (spec: "counts are recomputed on demand").
func (v *SubsetView) Count() int {
	v.revalidate()
	return len(v.underlying.RangeByScore(v.lo, v.hi))
}

// Members returns the members within the view's bounds, in score order.
func (v *SubsetView) Members() []zitem {
	v.revalidate()
	return v.underlying.RangeByScore(v.lo, v.hi)
}
