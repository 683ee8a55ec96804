// Package dto defines data transfer objects for the Fubon market data REST API.
package dto

// HistoricalCandlesResponse represents the JSON response from the historical/candles endpoint.
type HistoricalCandlesResponse struct {
	Symbol    string      `json:"symbol"`
	Type      string      `json:"type"`
	Exchange  string      `json:"exchange"`
	Market    string      `json:"market"`
	Timeframe string      `json:"timeframe"`
	Data      []CandleRow `json:"data"`
}

// CandleRow is one daily bar. Turnover and Change are omitted by upstream for some instruments.
type CandleRow struct {
	Date     string   `json:"date"`
	Open     float64  `json:"open"`
	High     float64  `json:"high"`
	Low      float64  `json:"low"`
	Close    float64  `json:"close"`
	Volume   int64    `json:"volume"`
	Turnover *float64 `json:"turnover,omitempty"`
	Change   *float64 `json:"change,omitempty"`
}

// ErrorResponse is the body upstream returns alongside 4xx/5xx statuses.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// LoginRequest is posted to the login endpoint over mutual TLS.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token for subsequent market data calls.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}
