package sync

import (
	"sort"
	"time"
)

// ShouldSkipPagination reports whether target is already covered by an
// existing synced range. Pagination against the upstream API is the
// expensive, rate-limited operation; once a contiguous span has been
// fully walked it never needs walking again.
func ShouldSkipPagination(ranges []DateRange, target time.Time) bool {
	for _, r := range ranges {
		if r.Contains(target) {
			return true
		}
	}
	return false
}

// MergeRanges inserts nr into ranges, then coalesces any ranges whose
// spans overlap or abut into a single range, summing doc_count and
// keeping the latest verified_at. The result is sorted by start and
// pairwise non-overlapping.
func MergeRanges(ranges []DateRange, nr DateRange) []DateRange {
	all := make([]DateRange, 0, len(ranges)+1)
	all = append(all, ranges...)
	all = append(all, nr)

	sort.Slice(all, func(i, j int) bool {
		return all[i].Start.Before(all[j].Start)
	})

	merged := make([]DateRange, 0, len(all))
	for _, r := range all {
		if len(merged) == 0 {
			merged = append(merged, r)
			continue
		}

		cur := &merged[len(merged)-1]
		if r.Start.After(cur.End) {
			// Disjoint: keep both
			merged = append(merged, r)
			continue
		}

		// Overlapping or abutting: coalesce
		if r.End.After(cur.End) {
			cur.End = r.End
		}
		cur.DocCount += r.DocCount
		if r.VerifiedAt.After(cur.VerifiedAt) {
			cur.VerifiedAt = r.VerifiedAt
		}
	}

	return merged
}
