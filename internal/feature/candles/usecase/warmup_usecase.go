package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"twstock_backend/internal/feature/candles/domain/entity"
)

const defaultWarmConcurrency = 2

// HistoricalFetcher は1銘柄分の範囲をキャッシュへ取り込む処理です。
// HistoricalUsecase が実装します。
type HistoricalFetcher interface {
	GetHistorical(ctx context.Context, symbol string, from, to entity.Date) ([]entity.Candle, error)
}

// WarmReport は WarmAll の実行結果です。
type WarmReport struct {
	Succeeded []string
	Failed    map[string]error
}

// WarmupUsecase はウォッチリストの銘柄について事前にキャッシュを温めるユースケースです。
type WarmupUsecase struct {
	historical  HistoricalFetcher
	concurrency int
}

// NewWarmupUsecase は新しい WarmupUsecase を作成します。
// 銘柄ごとの取得は HistoricalUsecase 側のレートリミッターを共有します。
func NewWarmupUsecase(historical HistoricalFetcher, concurrency int) *WarmupUsecase {
	if concurrency <= 0 {
		concurrency = defaultWarmConcurrency
	}
	return &WarmupUsecase{historical: historical, concurrency: concurrency}
}

// WarmAll は全銘柄について window の範囲を取得します。
// 1つの銘柄でエラーが発生しても処理を止めずにログに出力し、次の銘柄を続けます。
func (wu *WarmupUsecase) WarmAll(ctx context.Context, symbols []string, window entity.DateRange) WarmReport {
	report := WarmReport{Failed: map[string]error{}}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(wu.concurrency)
	for _, s := range symbols {
		g.Go(func() error {
			_, err := wu.historical.GetHistorical(ctx, s, window.From, window.To)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Error("failed to warm symbol", "symbol", s, "range", window.String(), "error", err)
				report.Failed[s] = err
				return nil
			}
			report.Succeeded = append(report.Succeeded, s)
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("warm-up finished", "symbols", len(symbols), "succeeded", len(report.Succeeded), "failed", len(report.Failed))
	return report
}

// LookbackWindow は台北時間の now を終端とする days 暦日分の範囲を返します（両端含む）。
func LookbackWindow(now time.Time, days int) entity.DateRange {
	if days < 1 {
		days = 1
	}
	today := entity.DateOf(now.In(TaipeiLocation()))
	return entity.DateRange{From: today.AddDays(-(days - 1)), To: today}
}
