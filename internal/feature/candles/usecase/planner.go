package usecase

import (
	"fmt"

	"twstock_backend/internal/feature/candles/domain/entity"
)

// DefaultMaxSpanDays は上流APIが1回の呼び出しで受け付ける最大日数です。
const DefaultMaxSpanDays = 365

// PlanFetches は要求範囲のうち coverage に含まれない部分を求め、
// それぞれを maxSpanDays 日以下の連続した区間に分割して昇順で返します。
// 営業日かどうかは考慮せず、暦日のみで判断します。
func PlanFetches(req entity.DateRange, coverage []entity.DateRange, maxSpanDays int) ([]entity.DateRange, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	if maxSpanDays <= 0 {
		maxSpanDays = DefaultMaxSpanDays
	}

	plan := []entity.DateRange{}
	for _, missing := range entity.SubtractRanges(req, coverage) {
		plan = append(plan, splitRange(missing, maxSpanDays)...)
	}
	return plan, nil
}

// splitRange は r を最大 maxDays 日の隙間・重なりのない区間に分割します。
func splitRange(r entity.DateRange, maxDays int) []entity.DateRange {
	out := make([]entity.DateRange, 0, r.Days()/maxDays+1)
	for from := r.From; !from.After(r.To); {
		to := entity.MinDate(from.AddDays(maxDays-1), r.To)
		out = append(out, entity.DateRange{From: from, To: to})
		from = to.AddDays(1)
	}
	return out
}
