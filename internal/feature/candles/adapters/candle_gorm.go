package adapters

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"twstock_backend/internal/feature/candles/domain/entity"
	"twstock_backend/internal/feature/candles/usecase"
)

const upsertBatchSize = 500

type candleGorm struct {
	db *gorm.DB
}

var _ usecase.CandleStore = (*candleGorm)(nil)

// NewCandleGormStore はSQLデータベース（PostgreSQL / SQLite）をバックエンドとするCandleStoreを生成します。
func NewCandleGormStore(db *gorm.DB) *candleGorm {
	return &candleGorm{db: db}
}

// CandleModel は日足1本を表す行です。日付は暦日そのものなので "YYYY-MM-DD" の文字列で保持し、
// ドライバごとのタイムゾーン変換を避けます。
type CandleModel struct {
	ID        uint   `gorm:"primaryKey"`
	Symbol    string `gorm:"size:16;not null;uniqueIndex:candle_sym_date,priority:1"`
	TradeDate string `gorm:"size:10;not null;uniqueIndex:candle_sym_date,priority:2"`

	Open     float64 `gorm:"not null"`
	High     float64 `gorm:"not null"`
	Low      float64 `gorm:"not null"`
	Close    float64 `gorm:"not null"`
	Volume   int64   `gorm:"not null;default:0"`
	Turnover *float64

	UpdatedAt time.Time
}

func (CandleModel) TableName() string {
	return "candles"
}

// CandleSpanModel は取得済み暦日範囲（取得来歴）の1区間です。銘柄ごとに常に正規化済みの集合を保持します。
type CandleSpanModel struct {
	ID       uint   `gorm:"primaryKey"`
	Symbol   string `gorm:"size:16;not null;index"`
	FromDate string `gorm:"size:10;not null"`
	ToDate   string `gorm:"size:10;not null"`

	FetchedAt time.Time `gorm:"autoCreateTime"`
}

func (CandleSpanModel) TableName() string {
	return "candle_spans"
}

// Models はマイグレーション対象のモデルを返します。
func Models() []any {
	return []any{&CandleModel{}, &CandleSpanModel{}}
}

func toModel(e entity.Candle) CandleModel {
	return CandleModel{
		Symbol:    e.Symbol,
		TradeDate: e.Date.String(),
		Open:      e.Open,
		High:      e.High,
		Low:       e.Low,
		Close:     e.Close,
		Volume:    e.Volume,
		Turnover:  e.Turnover,
	}
}

func toEntity(m CandleModel) (entity.Candle, error) {
	d, err := entity.ParseDate(m.TradeDate)
	if err != nil {
		return entity.Candle{}, fmt.Errorf("%w: %s: %v", usecase.ErrStoreCorrupt, m.Symbol, err)
	}
	return entity.Candle{
		Symbol:   m.Symbol,
		Date:     d,
		Open:     m.Open,
		High:     m.High,
		Low:      m.Low,
		Close:    m.Close,
		Volume:   m.Volume,
		Turnover: m.Turnover,
	}, nil
}

// Merge は (symbol, trade_date) をキーに upsert し、fetched を来歴へ統合します。
// 1回のマージは1トランザクションで、途中で失敗しても既存データは変わりません。
func (r *candleGorm) Merge(ctx context.Context, symbol string, fetched entity.DateRange, candles []entity.Candle) error {
	if err := entity.ValidateSymbol(symbol); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrInvalidSymbol, err)
	}

	// 同一バッチ内の重複日付は ON CONFLICT が扱えないため、先に後勝ちで畳み込みます。
	deduped := entity.DedupeByDate(candles)
	ms := make([]CandleModel, 0, len(deduped))
	for _, e := range deduped {
		e.Symbol = symbol
		ms = append(ms, toModel(e))
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(ms) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "symbol"}, {Name: "trade_date"}},
				DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "turnover", "updated_at"}),
			}).CreateInBatches(&ms, upsertBatchSize).Error
			if err != nil {
				return err
			}
		}

		if fetched.Validate() != nil || fetched.From.IsZero() {
			return nil
		}
		spans, err := loadSpans(tx, symbol)
		if err != nil {
			return err
		}
		merged := entity.MergeRanges(append(spans, fetched))

		if err := tx.Where("symbol = ?", symbol).Delete(&CandleSpanModel{}).Error; err != nil {
			return err
		}
		rows := make([]CandleSpanModel, 0, len(merged))
		for _, s := range merged {
			rows = append(rows, CandleSpanModel{Symbol: symbol, FromDate: s.From.String(), ToDate: s.To.String()})
		}
		return tx.Create(&rows).Error
	})
}

func (r *candleGorm) ReadRange(ctx context.Context, symbol string, rg entity.DateRange) ([]entity.Candle, error) {
	var rows []CandleModel
	err := r.db.WithContext(ctx).
		Where("symbol = ? AND trade_date >= ? AND trade_date <= ?", symbol, rg.From.String(), rg.To.String()).
		Order("trade_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rowsToEntities(rows)
}

func (r *candleGorm) Load(ctx context.Context, symbol string) (entity.Series, error) {
	series := entity.Series{Symbol: symbol}

	var rows []CandleModel
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("trade_date ASC").
		Find(&rows).Error
	if err != nil {
		return series, err
	}
	candles, err := rowsToEntities(rows)
	if err != nil {
		return series, err
	}
	spans, err := loadSpans(r.db.WithContext(ctx), symbol)
	if err != nil {
		return series, err
	}
	series.Candles = candles
	series.Spans = spans
	return series, nil
}

func (r *candleGorm) Coverage(ctx context.Context, symbol string) ([]entity.DateRange, error) {
	db := r.db.WithContext(ctx)
	spans, err := loadSpans(db, symbol)
	if err != nil {
		return nil, err
	}
	if len(spans) > 0 {
		return spans, nil
	}

	// 来歴が無い銘柄（旧データの取り込みなど）は日付列から推定します。
	var dates []string
	err = db.Model(&CandleModel{}).
		Where("symbol = ?", symbol).
		Order("trade_date ASC").
		Pluck("trade_date", &dates).Error
	if err != nil {
		return nil, err
	}
	candles := make([]entity.Candle, 0, len(dates))
	for _, s := range dates {
		d, err := entity.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", usecase.ErrStoreCorrupt, symbol, err)
		}
		candles = append(candles, entity.Candle{Date: d})
	}
	return entity.DeriveCoverage(candles), nil
}

func loadSpans(db *gorm.DB, symbol string) ([]entity.DateRange, error) {
	var rows []CandleSpanModel
	if err := db.Where("symbol = ?", symbol).Order("from_date ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]entity.DateRange, 0, len(rows))
	for _, m := range rows {
		from, err := entity.ParseDate(m.FromDate)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", usecase.ErrStoreCorrupt, symbol, err)
		}
		to, err := entity.ParseDate(m.ToDate)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", usecase.ErrStoreCorrupt, symbol, err)
		}
		out = append(out, entity.DateRange{From: from, To: to})
	}
	return entity.MergeRanges(out), nil
}

func rowsToEntities(rows []CandleModel) ([]entity.Candle, error) {
	out := make([]entity.Candle, 0, len(rows))
	for _, m := range rows {
		c, err := toEntity(m)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
