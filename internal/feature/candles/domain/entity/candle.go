// Package entity は日足ローソク足のドメインモデルを定義します。
package entity

import (
	"fmt"
	"regexp"
	"sort"
)

// Candle は1銘柄・1営業日分の四本値と出来高、および派生フィールドを表します。
// Change / ChangePct は前日終値が存在しない場合 nil（ゼロではない）です。
type Candle struct {
	Symbol string
	Date   Date

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64

	// Turnover は成交值（売買代金）。上流が返した値があればそれを保持します。
	Turnover  *float64
	Change    *float64
	ChangePct *float64
}

var symbolPattern = regexp.MustCompile(`^[0-9A-Za-z._-]{1,16}$`)

// ValidateSymbol は銘柄コード（例: 2330, 00878, 006208）の形式を検証します。
// コードはファイル名やキャッシュキーにも使われるため、パス区切り文字は許可しません。
func ValidateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("invalid symbol %q", symbol)
	}
	return nil
}

// DedupeByDate は日付ごとに重複を除去し、日付昇順に並べ替えた新しいスライスを返します。
// 同じ日付が複数ある場合は後勝ち（最後に現れたレコードを採用）です。
func DedupeByDate(candles []Candle) []Candle {
	if len(candles) == 0 {
		return []Candle{}
	}
	byDate := make(map[Date]Candle, len(candles))
	for _, c := range candles {
		byDate[c.Date] = c
	}
	out := make([]Candle, 0, len(byDate))
	for _, c := range byDate {
		out = append(out, c)
	}
	SortByDate(out)
	return out
}

// SortByDate は日付昇順にインプレースで並べ替えます。
func SortByDate(candles []Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Date.Before(candles[j].Date)
	})
}

// MergeCandles は既存系列に新規レコードを後勝ちでマージします。
func MergeCandles(existing, incoming []Candle) []Candle {
	all := make([]Candle, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)
	return DedupeByDate(all)
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}
