// Package dto はcandlesフィーチャーのHTTP入出力モデルを定義します。
package dto

// CandleResponse は日足1本分のレスポンスDTOです。前日終値が無い場合 Change / ChangePct は null です。
type CandleResponse struct {
	Date      string   `json:"date"`       // YYYY-MM-DD
	Open      float64  `json:"open"`       // 始値
	High      float64  `json:"high"`       // 高値
	Low       float64  `json:"low"`        // 安値
	Close     float64  `json:"close"`      // 終値
	Volume    int64    `json:"volume"`     // 出来高
	Turnover  *float64 `json:"turnover"`   // 売買代金
	Change    *float64 `json:"change"`     // 前日比
	ChangePct *float64 `json:"change_pct"` // 前日比（%）
}

// Envelope は全エンドポイント共通のレスポンス形式です。
type Envelope struct {
	Status    string `json:"status"` // "success" | "error"
	Data      any    `json:"data"`
	Message   string `json:"message"`
	ErrorKind string `json:"error_kind,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)
