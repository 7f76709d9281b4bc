// Package rangeset tracks which absolute indices of a canonical buffer are populated.
//
// A Set is a sorted slice of closed integer intervals that is always maximally merged:
// no two ranges overlap or touch. Every operation returns a new Set and never mutates
// its receiver, so callers can keep the previous value around for rollback.
package rangeset

import (
	"fmt"
	"sort"
)

// Range is a closed interval [Start, End] of absolute buffer indices.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of indices in the range.
func (r Range) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Valid reports whether the range holds at least one index.
func (r Range) Valid() bool {
	return r.Start >= 0 && r.End >= r.Start
}

// Contains reports whether i belongs to the range.
func (r Range) Contains(i int) bool {
	return i >= r.Start && i <= r.End
}

// Overlaps reports whether the two ranges share at least one index.
func (r Range) Overlaps(o Range) bool {
	return r.Start <= o.End && o.Start <= r.End
}

// Intersect returns the common part of the two ranges.
func (r Range) Intersect(o Range) (Range, bool) {
	out := Range{Start: max(r.Start, o.Start), End: min(r.End, o.End)}
	return out, out.End >= out.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}

// Set is a maximally merged, sorted list of ranges.
type Set []Range

// Merge sorts the given ranges by start and fuses every range whose start is
// at most the previous end + 1. Invalid ranges are dropped.
func Merge(ranges ...Range) Set {
	in := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if r.Valid() {
			in = append(in, r)
		}
	}
	if len(in) == 0 {
		return nil
	}

	sort.Slice(in, func(i, j int) bool {
		if in[i].Start == in[j].Start {
			return in[i].End < in[j].End
		}
		return in[i].Start < in[j].Start
	})

	out := Set{in[0]}
	for _, r := range in[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End+1 {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Add returns the set with r merged in.
func (s Set) Add(r Range) Set {
	all := make([]Range, 0, len(s)+1)
	all = append(all, s...)
	all = append(all, r)
	return Merge(all...)
}

// Covers reports whether a single range of the set fully contains want.
func (s Set) Covers(want Range) bool {
	if !want.Valid() {
		return true
	}
	i := s.search(want.Start)
	return i < len(s) && s[i].Start <= want.Start && s[i].End >= want.End
}

// Has reports whether index i is covered.
func (s Set) Has(i int) bool {
	return s.Covers(Range{Start: i, End: i})
}

// Subtract returns the ordered pieces of want that no range of the set covers.
func (s Set) Subtract(want Range) []Range {
	if !want.Valid() {
		return nil
	}

	var out []Range
	cursor := want.Start
	for _, r := range s {
		if r.End < cursor {
			continue
		}
		if r.Start > want.End {
			break
		}
		if r.Start > cursor {
			out = append(out, Range{Start: cursor, End: r.Start - 1})
		}
		cursor = r.End + 1
		if cursor > want.End {
			return out
		}
	}
	return append(out, Range{Start: cursor, End: want.End})
}

// Remove returns the set without the indices of r.
func (s Set) Remove(r Range) Set {
	if !r.Valid() {
		return s.clone()
	}
	out := make(Set, 0, len(s)+1)
	for _, cur := range s {
		if !cur.Overlaps(r) {
			out = append(out, cur)
			continue
		}
		if cur.Start < r.Start {
			out = append(out, Range{Start: cur.Start, End: r.Start - 1})
		}
		if cur.End > r.End {
			out = append(out, Range{Start: r.End + 1, End: cur.End})
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ShiftFrom moves every covered index >= from by delta. A negative delta
// collapses the indices [from, from-delta-1] first, which is what compaction
// after a removal needs; a positive delta opens a gap of delta indices at from.
func (s Set) ShiftFrom(from, delta int) Set {
	if delta == 0 {
		return s.clone()
	}

	base := s
	if delta < 0 {
		base = s.Remove(Range{Start: from, End: from - delta - 1})
	}

	out := make([]Range, 0, len(base)+1)
	for _, r := range base {
		switch {
		case r.End < from:
			out = append(out, r)
		case r.Start >= from:
			out = append(out, Range{Start: r.Start + delta, End: r.End + delta})
		default:
			out = append(out, Range{Start: r.Start, End: from - 1})
			out = append(out, Range{Start: from + delta, End: r.End + delta})
		}
	}
	return Merge(out...)
}

// Count returns the number of covered indices.
func (s Set) Count() int {
	n := 0
	for _, r := range s {
		n += r.Len()
	}
	return n
}

// Bounds returns the smallest range containing every covered index.
func (s Set) Bounds() (Range, bool) {
	if len(s) == 0 {
		return Range{}, false
	}
	return Range{Start: s[0].Start, End: s[len(s)-1].End}, true
}

// search returns the index of the first range whose end is >= i.
func (s Set) search(i int) int {
	return sort.Search(len(s), func(k int) bool { return s[k].End >= i })
}

func (s Set) clone() Set {
	if len(s) == 0 {
		return nil
	}
	return append(Set(nil), s...)
}
