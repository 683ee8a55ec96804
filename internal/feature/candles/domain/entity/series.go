package entity

import "time"

// Series は1銘柄分の永続化単位（SymbolSeries）です。
// Candles は日付昇順・重複なし、Spans は取得済みとして記録された暦日範囲（取得来歴）です。
type Series struct {
	Symbol  string
	Candles []Candle
	Spans   []DateRange
}

// IsEmpty reports whether the series holds no candles and no provenance.
func (s Series) IsEmpty() bool {
	return len(s.Candles) == 0 && len(s.Spans) == 0
}

// Bounds returns the first and last candle dates. ok is false for an empty series.
func (s Series) Bounds() (DateRange, bool) {
	if len(s.Candles) == 0 {
		return DateRange{}, false
	}
	return DateRange{From: s.Candles[0].Date, To: s.Candles[len(s.Candles)-1].Date}, true
}

// Coverage returns the calendar spans known to be fully fetched.
// 取得来歴があればそれを正とし、無い場合（旧形式のCSVなど）は中身から推定します。
func (s Series) Coverage() []DateRange {
	if len(s.Spans) > 0 {
		return MergeRanges(s.Spans)
	}
	return DeriveCoverage(s.Candles)
}

// Gaps returns the uncovered spans between the series bounds.
func (s Series) Gaps() []DateRange {
	b, ok := s.Bounds()
	if !ok {
		return []DateRange{}
	}
	return SubtractRanges(b, s.Coverage())
}

// Slice returns the candles inside r, ascending.
func (s Series) Slice(r DateRange) []Candle {
	out := make([]Candle, 0)
	for _, c := range s.Candles {
		if r.Contains(c.Date) {
			out = append(out, c)
		}
	}
	return out
}

// DeriveCoverage builds spans from candle dates alone. Two consecutive rows stay in the
// same span when only a weekend separates them; any other missing weekday breaks it.
func DeriveCoverage(candles []Candle) []DateRange {
	if len(candles) == 0 {
		return []DateRange{}
	}
	spans := []DateRange{{From: candles[0].Date, To: candles[0].Date}}
	for _, c := range candles[1:] {
		last := &spans[len(spans)-1]
		if !c.Date.After(last.To) {
			continue
		}
		if !c.Date.After(nextWeekday(last.To)) {
			last.To = c.Date
			continue
		}
		spans = append(spans, DateRange{From: c.Date, To: c.Date})
	}
	return spans
}

func nextWeekday(d Date) Date {
	n := d.AddDays(1)
	for n.Weekday() == time.Saturday || n.Weekday() == time.Sunday {
		n = n.AddDays(1)
	}
	return n
}
