package purchase

import (
	"cmp"
	"slices"
	"strings"
)

// ListLimit caps how many purchases a listing returns
const ListLimit = 200

// Filter selects purchases by text and date range. Zero values match everything.
type Filter struct {
	Q    string // case-insensitive substring of supplier, rut or raw_text
	From string // inclusive YYYY-MM-DD
	To   string // inclusive YYYY-MM-DD
}

// Empty reports whether the filter selects every purchase
func (f Filter) Empty() bool {
	return strings.TrimSpace(f.Q) == "" && f.From == "" && f.To == ""
}

// Match reports whether p satisfies the filter.
// A purchase without a date never matches a date bound.
func (f Filter) Match(p *Purchase) bool {
	if q := strings.ToLower(strings.TrimSpace(f.Q)); q != "" {
		if !containsFold(p.Supplier, q) && !containsFold(p.RUT, q) && !containsFold(p.RawText, q) {
			return false
		}
	}
	if f.From != "" && (p.Date == nil || *p.Date < f.From) {
		return false
	}
	if f.To != "" && (p.Date == nil || *p.Date > f.To) {
		return false
	}
	return true
}

func containsFold(s *string, lowerQ string) bool {
	return s != nil && strings.Contains(strings.ToLower(*s), lowerQ)
}

// Apply filters, sorts (date desc, then created_at desc, undated last) and limits purchases.
// limit <= 0 means no limit.
func (f Filter) Apply(purchases []*Purchase, limit int) []*Purchase {
	out := make([]*Purchase, 0, len(purchases))
	for _, p := range purchases {
		if f.Match(p) {
			out = append(out, p)
		}
	}

	slices.SortStableFunc(out, func(a, b *Purchase) int {
		switch {
		case a.Date == nil && b.Date != nil:
			return 1
		case a.Date != nil && b.Date == nil:
			return -1
		case a.Date != nil && b.Date != nil && *a.Date != *b.Date:
			return cmp.Compare(*b.Date, *a.Date)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// sumTotals adds up the totals of the given purchases, skipping absent ones
func sumTotals(purchases []*Purchase) float64 {
	var sum float64
	for _, p := range purchases {
		if p.Total != nil {
			sum += *p.Total
		}
	}
	return roundCents(sum)
}
