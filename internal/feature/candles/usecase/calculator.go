package usecase

import (
	"github.com/shopspring/decimal"

	"twstock_backend/internal/feature/candles/domain/entity"
)

const changePctPlaces = 4

var hundred = decimal.NewFromInt(100)

// Enrich は日付昇順の1銘柄分のローソク足に成交值・漲跌・漲跌幅を付与した新しいスライスを返します。
// 先頭行は前日終値が無いため Change / ChangePct は nil のままです。入力は変更しません。
func Enrich(candles []entity.Candle) []entity.Candle {
	out := make([]entity.Candle, len(candles))
	copy(out, candles)

	for i := range out {
		c := &out[i]
		closePx := decimal.NewFromFloat(c.Close)

		if c.Turnover == nil {
			turnover, _ := closePx.Mul(decimal.NewFromInt(c.Volume)).Float64()
			c.Turnover = &turnover
		}

		c.Change = nil
		c.ChangePct = nil
		if i == 0 {
			continue
		}
		prev := decimal.NewFromFloat(out[i-1].Close)
		change := closePx.Sub(prev)
		chg, _ := change.Float64()
		c.Change = &chg
		if prev.IsZero() {
			continue
		}
		pct, _ := change.Div(prev).Mul(hundred).Round(changePctPlaces).Float64()
		c.ChangePct = &pct
	}
	return out
}
