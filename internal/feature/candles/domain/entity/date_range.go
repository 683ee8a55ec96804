package entity

import (
	"errors"
	"fmt"
	"sort"
)

// ErrRangeReversed is returned by DateRange.Validate when From is after To.
var ErrRangeReversed = errors.New("from date is after to date")

// DateRange は両端を含む暦日の範囲 [From, To] です。
type DateRange struct {
	From Date `json:"from"`
	To   Date `json:"to"`
}

// NewDateRange builds [from, to].
func NewDateRange(from, to Date) DateRange {
	return DateRange{From: from, To: to}
}

// Validate checks that both ends are set and From <= To.
func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return errors.New("date range has an empty bound")
	}
	if r.From.After(r.To) {
		return fmt.Errorf("%w: %s > %s", ErrRangeReversed, r.From, r.To)
	}
	return nil
}

// Days returns the inclusive number of calendar days in the range.
func (r DateRange) Days() int {
	return r.From.DaysUntil(r.To) + 1
}

// Contains reports whether d falls inside the range.
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.From) && !d.After(r.To)
}

// Overlaps reports whether r and o share at least one day.
func (r DateRange) Overlaps(o DateRange) bool {
	return !r.To.Before(o.From) && !o.To.Before(r.From)
}

// Clip returns the intersection of r and o. ok is false when they do not overlap.
func (r DateRange) Clip(o DateRange) (DateRange, bool) {
	if !r.Overlaps(o) {
		return DateRange{}, false
	}
	return DateRange{From: MaxDate(r.From, o.From), To: MinDate(r.To, o.To)}, true
}

func (r DateRange) String() string {
	return r.From.String() + ".." + r.To.String()
}

// MergeRanges sorts spans and coalesces overlapping or day-adjacent ones.
// Invalid spans are ignored.
func MergeRanges(spans []DateRange) []DateRange {
	valid := make([]DateRange, 0, len(spans))
	for _, s := range spans {
		if s.Validate() == nil {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return []DateRange{}
	}
	sort.Slice(valid, func(i, j int) bool {
		return valid[i].From.Before(valid[j].From)
	})

	out := []DateRange{valid[0]}
	for _, s := range valid[1:] {
		last := &out[len(out)-1]
		if !s.From.After(last.To.AddDays(1)) {
			last.To = MaxDate(last.To, s.To)
			continue
		}
		out = append(out, s)
	}
	return out
}

// SubtractRanges returns the parts of req not covered by any span, ascending.
func SubtractRanges(req DateRange, covered []DateRange) []DateRange {
	missing := []DateRange{}
	cursor := req.From
	for _, c := range MergeRanges(covered) {
		if c.To.Before(cursor) {
			continue
		}
		if c.From.After(req.To) {
			break
		}
		if c.From.After(cursor) {
			missing = append(missing, DateRange{From: cursor, To: c.From.AddDays(-1)})
		}
		cursor = c.To.AddDays(1)
		if cursor.After(req.To) {
			return missing
		}
	}
	if !cursor.After(req.To) {
		missing = append(missing, DateRange{From: cursor, To: req.To})
	}
	return missing
}
