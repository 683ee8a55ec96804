// Package entity defines the domain models for the watchlist.
package entity

import "time"

const (
	MarketTWSE = "TWSE" // 上市
	MarketTPEx = "TPEx" // 上櫃
)

// Symbol is a tracked Taiwan equity or ETF. Active symbols are warmed by the
// ingest command and listed by GET /symbols.
type Symbol struct {
	ID        uint      `gorm:"primaryKey"`
	Code      string    `gorm:"size:16;not null;uniqueIndex"`
	Name      string    `gorm:"size:255;not null"`
	Market    string    `gorm:"size:16;not null"`
	IsActive  bool      `gorm:"not null;default:true"`
	SortKey   int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
