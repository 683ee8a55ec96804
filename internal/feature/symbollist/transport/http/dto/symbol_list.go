// Package dto defines data transfer objects for the watchlist HTTP API.
package dto

// SymbolItem represents a watchlist entry in the API response.
type SymbolItem struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Market string `json:"market"`
}

// SymbolListResponse uses the same status/data/message envelope as the candle endpoints.
type SymbolListResponse struct {
	Status  string       `json:"status"`
	Data    []SymbolItem `json:"data"`
	Message string       `json:"message"`
}
