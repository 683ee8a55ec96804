// Package usecase は日足ローソク足のキャッシュと分割取得のビジネスロジックを実装します。
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"twstock_backend/internal/feature/candles/domain/entity"
	"twstock_backend/internal/shared/ratelimiter"
)

const (
	// DefaultContextLookbackDays は先頭行の漲跌計算のために from より前へ広げる暦日数です。
	// 台湾市場の最長休場（春節）をまたいでも前営業日を含められる幅にしています。
	DefaultContextLookbackDays = 14

	// DefaultSettleCutoff は当日の日足が確定したとみなす現地時刻（午前0時からの経過時間）です。
	DefaultSettleCutoff = 14*time.Hour + 30*time.Minute
)

// CandleStore はローソク足のローカル永続化レイヤーを抽象化します。
// Following Go convention: interfaces are defined by the consumer (usecase), not the provider (adapters).
type CandleStore interface {
	// Load は銘柄の全系列を返します。未保存なら空の系列、解析不能なら ErrStoreCorrupt を返します。
	Load(ctx context.Context, symbol string) (entity.Series, error)
	// Merge は candles を後勝ちでマージし、fetched を取得済み範囲として記録します。
	// fetched がゼロ値（無効な範囲）の場合、取得来歴は記録しません。
	Merge(ctx context.Context, symbol string, fetched entity.DateRange, candles []entity.Candle) error
	// ReadRange は r に含まれるローソク足を日付昇順で返します。
	ReadRange(ctx context.Context, symbol string, r entity.DateRange) ([]entity.Candle, error)
	// Coverage は取得済みとみなせる暦日範囲を昇順で返します。
	Coverage(ctx context.Context, symbol string) ([]entity.DateRange, error)
}

// FetchClient は上流の日足APIから1区間分のローソク足を取得します。
// 呼び出し側は max span を超える区間を渡しません。
type FetchClient interface {
	FetchRange(ctx context.Context, symbol string, r entity.DateRange) ([]entity.Candle, error)
}

// HistoricalConfig は HistoricalUsecase の調整パラメータです。
type HistoricalConfig struct {
	MaxSpanDays int
	// ContextLookbackDays が負の場合は前日コンテキストを取得しません。
	ContextLookbackDays int
	// Location は取引所の現地タイムゾーン（Asia/Taipei）です。
	Location     *time.Location
	SettleCutoff time.Duration
}

func (c HistoricalConfig) withDefaults() HistoricalConfig {
	if c.MaxSpanDays <= 0 {
		c.MaxSpanDays = DefaultMaxSpanDays
	}
	switch {
	case c.ContextLookbackDays == 0:
		c.ContextLookbackDays = DefaultContextLookbackDays
	case c.ContextLookbackDays < 0:
		c.ContextLookbackDays = 0
	}
	if c.Location == nil {
		c.Location = TaipeiLocation()
	}
	if c.SettleCutoff <= 0 {
		c.SettleCutoff = DefaultSettleCutoff
	}
	return c
}

// HistoricalUsecase は (symbol, from, to) の要求を、ローカルキャッシュと上流取得を組み合わせて
// 重複なし・日付昇順の系列に変換します。
type HistoricalUsecase struct {
	store       CandleStore
	fetcher     FetchClient
	rateLimiter ratelimiter.RateLimiterInterface
	cfg         HistoricalConfig
	now         func() time.Time
	group       singleflight.Group
}

// NewHistoricalUsecase は新しい HistoricalUsecase を作成します。
func NewHistoricalUsecase(store CandleStore, fetcher FetchClient, rateLimiter ratelimiter.RateLimiterInterface, cfg HistoricalConfig) *HistoricalUsecase {
	return &HistoricalUsecase{
		store:       store,
		fetcher:     fetcher,
		rateLimiter: rateLimiter,
		cfg:         cfg.withDefaults(),
		now:         time.Now,
	}
}

// GetHistorical は不足区間のみを上流から順番に取得してストアへマージし、
// 要求範囲を読み戻して派生フィールドを付与した結果を返します。
// いずれかの区間の取得に失敗した場合はリクエスト全体を失敗させます（それ以前のマージは保持されます）。
func (u *HistoricalUsecase) GetHistorical(ctx context.Context, symbol string, from, to entity.Date) ([]entity.Candle, error) {
	req, err := validateRequest(symbol, from, to)
	if err != nil {
		return nil, err
	}

	// 共有される取得は最初の呼び出し元のキャンセルに巻き込まれないよう切り離して実行し、
	// 各呼び出し元は自分の ctx でのみ待機を打ち切ります。
	key := symbol + "|" + req.String()
	ch := u.group.DoChan(key, func() (any, error) {
		return u.getHistorical(context.WithoutCancel(ctx), symbol, req)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("historical %s %s: %w: %w", symbol, req, ErrNetwork, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]entity.Candle), nil
	}
}

func (u *HistoricalUsecase) getHistorical(ctx context.Context, symbol string, req entity.DateRange) ([]entity.Candle, error) {
	window := u.contextWindow(req)

	coverage, err := u.store.Coverage(ctx, symbol)
	if err != nil {
		if !errors.Is(err, ErrStoreCorrupt) {
			return nil, fmt.Errorf("coverage %s: %w", symbol, err)
		}
		slog.Warn("candle store corrupt, treating symbol as uncached", "symbol", symbol, "error", err)
		coverage = nil
	}

	plan, err := PlanFetches(window, coverage, u.cfg.MaxSpanDays)
	if err != nil {
		return nil, err
	}

	settled := u.settledRange()
	for i, sub := range plan {
		if err := u.fetchAndMerge(ctx, symbol, sub, settled); err != nil {
			slog.Error("historical fetch aborted",
				"symbol", symbol, "range", sub.String(), "chunk", i+1, "chunks", len(plan), "error", err)
			return nil, err
		}
	}

	rows, err := u.store.ReadRange(ctx, symbol, window)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", symbol, window, err)
	}
	out := trim(Enrich(rows), req)

	slog.Info("historical candles served",
		"symbol", symbol,
		"from", req.From.String(),
		"to", req.To.String(),
		"fetches", len(plan),
		"cache", cacheOutcome(plan, window),
		"rows", len(out),
	)
	return out, nil
}

// fetchAndMerge は1区間を取得してマージします。取得に失敗した区間はストアに書き込みません。
func (u *HistoricalUsecase) fetchAndMerge(ctx context.Context, symbol string, sub, settled entity.DateRange) error {
	if u.rateLimiter != nil {
		if err := u.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("fetch %s %s: %w: %w", symbol, sub, ErrNetwork, err)
		}
	}

	rows, err := u.fetcher.FetchRange(ctx, symbol, sub)
	if err != nil {
		return fmt.Errorf("fetch %s %s: %w", symbol, sub, err)
	}
	for i := range rows {
		rows[i].Symbol = symbol
	}
	rows = entity.DedupeByDate(rows)

	// 未確定の当日分や未来日は取得済みとして記録しない
	provenance, _ := sub.Clip(settled)
	if err := u.store.Merge(ctx, symbol, provenance, rows); err != nil {
		return fmt.Errorf("merge %s %s: %w", symbol, sub, err)
	}
	slog.Debug("merged upstream chunk", "symbol", symbol, "range", sub.String(), "rows", len(rows))
	return nil
}

// GetCached はストアのみを参照し、上流への取得は一切行いません。
// from / to がゼロ値の場合は保存済み系列の先頭・末尾を使います。
func (u *HistoricalUsecase) GetCached(ctx context.Context, symbol string, from, to entity.Date) ([]entity.Candle, error) {
	if err := entity.ValidateSymbol(symbol); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
	}

	if !from.IsZero() && !to.IsZero() {
		req, err := validateRequest(symbol, from, to)
		if err != nil {
			return nil, err
		}
		rows, err := u.store.ReadRange(ctx, symbol, u.contextWindow(req))
		if err != nil {
			return nil, fmt.Errorf("read %s %s: %w", symbol, req, err)
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("%w: %s %s", ErrNotCached, symbol, req)
		}
		return trim(Enrich(rows), req), nil
	}

	series, err := u.store.Load(ctx, symbol)
	if err != nil {
		if !errors.Is(err, ErrStoreCorrupt) {
			return nil, fmt.Errorf("load %s: %w", symbol, err)
		}
		slog.Warn("candle store corrupt, treating symbol as uncached", "symbol", symbol, "error", err)
		series = entity.Series{Symbol: symbol}
	}
	bounds, ok := series.Bounds()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, symbol)
	}
	if !from.IsZero() {
		bounds.From = from
	}
	if !to.IsZero() {
		bounds.To = to
	}
	if bounds.Validate() != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRange, bounds)
	}
	return trim(Enrich(series.Slice(u.contextWindow(bounds))), bounds), nil
}

func (u *HistoricalUsecase) contextWindow(req entity.DateRange) entity.DateRange {
	return entity.DateRange{From: req.From.AddDays(-u.cfg.ContextLookbackDays), To: req.To}
}

// settledRange は日足が確定済みとみなせる最終日までの範囲を返します。
func (u *HistoricalUsecase) settledRange() entity.DateRange {
	now := u.now().In(u.cfg.Location)
	today := entity.DateOf(now)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, u.cfg.Location)
	last := today
	if now.Sub(midnight) < u.cfg.SettleCutoff {
		last = today.AddDays(-1)
	}
	return entity.DateRange{From: entity.NewDate(1, time.January, 1), To: last}
}

func validateRequest(symbol string, from, to entity.Date) (entity.DateRange, error) {
	if err := entity.ValidateSymbol(symbol); err != nil {
		return entity.DateRange{}, fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
	}
	req := entity.DateRange{From: from, To: to}
	if err := req.Validate(); err != nil {
		return entity.DateRange{}, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	return req, nil
}

func trim(candles []entity.Candle, r entity.DateRange) []entity.Candle {
	out := make([]entity.Candle, 0, len(candles))
	for _, c := range candles {
		if r.Contains(c.Date) {
			out = append(out, c)
		}
	}
	return out
}

func cacheOutcome(plan []entity.DateRange, window entity.DateRange) string {
	if len(plan) == 0 {
		return "hit"
	}
	days := 0
	for _, p := range plan {
		days += p.Days()
	}
	if days == window.Days() {
		return "miss"
	}
	return "partial"
}

// TaipeiLocation returns Asia/Taipei, falling back to a fixed UTC+8 zone when tzdata is missing.
func TaipeiLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}
