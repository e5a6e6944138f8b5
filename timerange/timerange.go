// Package timerange implements the sorted, disjoint half-open interval
// algebra used throughout the playback engine to represent buffered,
// played, and seekable time: union, intersect, subtract, invert, find, and
// containment, all defined over real-valued seconds.
package timerange

import "sort"

// Range is a single half-open interval [Start, End) in seconds. A valid
// Range satisfies Start < End.
type Range struct {
	Start float64
	End   float64
}

// Ranges is a sorted, disjoint sequence of Range, ordered by Start.
// The zero value is an empty set of ranges.
type Ranges []Range

// Single returns a Ranges containing exactly [start, end), or an empty
// Ranges if end <= start.
func Single(start, end float64) Ranges {
	if end <= start {
		return nil
	}
	return Ranges{{Start: start, End: end}}
}

// Len implements the read side of the TimeRanges surface (§6): the number
// of disjoint ranges.
func (r Ranges) Len() int { return len(r) }

// Start returns the start of the i'th range. Indexing out of bounds is a
// programmer error, matching §4.1's "precondition violation" rule.
func (r Ranges) Start(i int) float64 { return r[i].Start }

// End returns the end of the i'th range.
func (r Ranges) End(i int) float64 { return r[i].End }

// IsEmpty reports whether there are no ranges.
func (r Ranges) IsEmpty() bool { return len(r) == 0 }

// Contains reports whether t falls within any range.
func (r Ranges) Contains(t float64) bool {
	_, ok := r.Find(t)
	return ok
}

// ContainsRange reports whether some single range fully covers [a, b).
func (r Ranges) ContainsRange(a, b float64) bool {
	for _, rg := range r {
		if rg.Start <= a && b <= rg.End {
			return true
		}
	}
	return false
}

// Find returns the range containing t, and true, or the zero Range and
// false if no range contains t. Linear scan: §4.1 notes typical range
// counts are small (tens), so a linear scan is preferred over a binary
// search for simplicity.
func (r Ranges) Find(t float64) (Range, bool) {
	for _, rg := range r {
		if t >= rg.Start && t < rg.End {
			return rg, true
		}
	}
	return Range{}, false
}

// FindIndex is like Find but returns the index, or -1.
func (r Ranges) FindIndex(t float64) int {
	for i, rg := range r {
		if t >= rg.Start && t < rg.End {
			return i
		}
	}
	return -1
}

// Union merges r and other into a new sorted, disjoint Ranges. Ranges
// separated by at most tol merge into a single range; tol must be
// non-negative.
func (r Ranges) Union(other Ranges, tol float64) Ranges {
	merged := make([]Range, 0, len(r)+len(other))
	merged = append(merged, r...)
	merged = append(merged, other...)
	if len(merged) == 0 {
		return nil
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Start != merged[j].Start {
			return merged[i].Start < merged[j].Start
		}
		return merged[i].End < merged[j].End
	})

	out := make(Ranges, 0, len(merged))
	cur := merged[0]
	for _, next := range merged[1:] {
		if cur.End+tol >= next.Start {
			if next.End > cur.End {
				cur.End = next.End
			}
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	return out
}

// Intersect returns the pointwise intersection of r and other via a
// two-pointer walk.
func (r Ranges) Intersect(other Ranges) Ranges {
	var out Ranges
	i, j := 0, 0
	for i < len(r) && j < len(other) {
		a, b := r[i], other[j]
		start := max(a.Start, b.Start)
		end := min(a.End, b.End)
		if start < end {
			out = append(out, Range{Start: start, End: end})
		}
		if a.End == b.End {
			i++
			j++
		} else if a.End < b.End {
			i++
		} else {
			j++
		}
	}
	return out
}

// sentinel bounds used by Invert to represent unbounded ends. Invert
// returns them to its callers as-is; Subtract intersects them away, so they
// never appear in its result.
const (
	negInf = -1e18
	posInf = 1e18
)

// Invert returns the complement of r over (-inf, +inf), represented with
// the negInf/posInf sentinels.
func (r Ranges) Invert() Ranges {
	if len(r) == 0 {
		return Ranges{{Start: negInf, End: posInf}}
	}
	var out Ranges
	cursor := negInf
	for _, rg := range r {
		if rg.Start > cursor {
			out = append(out, Range{Start: cursor, End: rg.Start})
		}
		cursor = rg.End
	}
	if cursor < posInf {
		out = append(out, Range{Start: cursor, End: posInf})
	}
	return out
}

// Subtract returns r with every interval of other removed, defined as
// r.Intersect(other.Invert()).
func (r Ranges) Subtract(other Ranges) Ranges {
	return r.Intersect(other.Invert())
}

// Clamp intersects r with [lo, hi], clipping partial overlaps rather than
// dropping them outright.
func (r Ranges) Clamp(lo, hi float64) Ranges {
	var out Ranges
	for _, rg := range r {
		start := max(rg.Start, lo)
		end := min(rg.End, hi)
		if start < end {
			out = append(out, Range{Start: start, End: end})
		}
	}
	return out
}

// HighestEnd returns the maximum End across all ranges, or 0 if empty.
func (r Ranges) HighestEnd() float64 {
	var h float64
	for _, rg := range r {
		if rg.End > h {
			h = rg.End
		}
	}
	return h
}

// WithLastStretchedTo returns a copy of r whose final range's End is
// extended to h, used when a SourceBuffer's parent MediaSource has
// reached readyState Ended (§4.4, §4.5).
func (r Ranges) WithLastStretchedTo(h float64) Ranges {
	if len(r) == 0 || h <= r[len(r)-1].End {
		return r
	}
	out := make(Ranges, len(r))
	copy(out, r)
	out[len(out)-1].End = h
	return out
}
