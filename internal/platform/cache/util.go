package cache

import (
	"time"

	"twstock_backend/internal/feature/candles/usecase"
)

// TimeUntilNext8AM は次の午前8時（台湾時間）までの期間を返します。
// 前営業日の日足はこの時刻までに確定しているため、キャッシュの自然な有効期限になります。
func TimeUntilNext8AM() time.Duration {
	return timeUntilNext8AM(time.Now())
}

func timeUntilNext8AM(now time.Time) time.Duration {
	loc := usecase.TaipeiLocation()
	now = now.In(loc)

	// 次の午前8時を計算
	next8am := time.Date(now.Year(), now.Month(), now.Day(), 8, 0, 0, 0, loc)

	// 今日の午前8時を過ぎている（ちょうどを含む）場合は翌日の午前8時を使用
	if !now.Before(next8am) {
		next8am = next8am.AddDate(0, 0, 1)
	}

	return next8am.Sub(now)
}
