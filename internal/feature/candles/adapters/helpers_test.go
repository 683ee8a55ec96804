package adapters

import (
	"twstock_backend/internal/feature/candles/domain/entity"
)

func day(s string) entity.Date {
	d, err := entity.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func rng(from, to string) entity.DateRange {
	return entity.DateRange{From: day(from), To: day(to)}
}

// bar は終値 px、出来高1000株、売買代金 px*1000 の日足を返します。
func bar(date string, px float64) entity.Candle {
	return entity.Candle{
		Symbol:   "2330",
		Date:     day(date),
		Open:     px - 1,
		High:     px + 1,
		Low:      px - 2,
		Close:    px,
		Volume:   1000,
		Turnover: entity.Float64Ptr(px * 1000),
	}
}
