package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"twstock_backend/internal/feature/candles/domain/entity"
)

// ErrDB はモックと期待値の間で共有されるセンチネルエラーです。
var ErrDB = errors.New("database error")

// memoryStore はCandleStoreのインメモリ実装です。マージの意味論は本物のストアと同じです。
type memoryStore struct {
	mu     sync.Mutex
	series map[string]entity.Series

	MergeFunc    func(symbol string, fetched entity.DateRange, candles []entity.Candle) error
	CoverageErr  error
	LoadErr      error
	MergeCalls   int
	MergedRanges []entity.DateRange
}

func newMemoryStore() *memoryStore {
	return &memoryStore{series: map[string]entity.Series{}}
}

func (m *memoryStore) seed(symbol string, span entity.DateRange, candles []entity.Candle) {
	s := m.series[symbol]
	s.Symbol = symbol
	s.Candles = entity.MergeCandles(s.Candles, candles)
	if span.Validate() == nil {
		s.Spans = entity.MergeRanges(append(s.Spans, span))
	}
	m.series[symbol] = s
}

func (m *memoryStore) Load(ctx context.Context, symbol string) (entity.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return entity.Series{Symbol: symbol}, m.LoadErr
	}
	return m.series[symbol], nil
}

func (m *memoryStore) Merge(ctx context.Context, symbol string, fetched entity.DateRange, candles []entity.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MergeCalls++
	if m.MergeFunc != nil {
		if err := m.MergeFunc(symbol, fetched, candles); err != nil {
			return err
		}
	}
	m.MergedRanges = append(m.MergedRanges, fetched)
	m.seed(symbol, fetched, candles)
	return nil
}

func (m *memoryStore) ReadRange(ctx context.Context, symbol string, r entity.DateRange) ([]entity.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.series[symbol].Slice(r), nil
}

func (m *memoryStore) Coverage(ctx context.Context, symbol string) ([]entity.DateRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CoverageErr != nil {
		return nil, m.CoverageErr
	}
	return m.series[symbol].Coverage(), nil
}

// mockFetchClient はFetchClientインターフェースのモック実装です。
type mockFetchClient struct {
	mu             sync.Mutex
	FetchRangeFunc func(ctx context.Context, symbol string, r entity.DateRange) ([]entity.Candle, error)
	Calls          []entity.DateRange
}

func (m *mockFetchClient) FetchRange(ctx context.Context, symbol string, r entity.DateRange) ([]entity.Candle, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, r)
	m.mu.Unlock()
	if m.FetchRangeFunc != nil {
		return m.FetchRangeFunc(ctx, symbol, r)
	}
	return weekdayCandles(symbol, r), nil
}

// mockRateLimiter はRateLimiterInterfaceのモック実装です。
type mockRateLimiter struct {
	WaitCalls int
	Err       error
}

func (m *mockRateLimiter) Wait(ctx context.Context) error {
	m.WaitCalls++
	// For testing purposes, return immediately without waiting
	return m.Err
}

// weekdayCandles は r 内の平日ごとに1本ずつ、終値が日ごとに1ずつ増えるローソク足を生成します。
func weekdayCandles(symbol string, r entity.DateRange) []entity.Candle {
	out := []entity.Candle{}
	for d := r.From; !d.After(r.To); d = d.AddDays(1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		px := 100 + float64(d.Time().YearDay())
		out = append(out, entity.Candle{
			Symbol: symbol,
			Date:   d,
			Open:   px - 1,
			High:   px + 1,
			Low:    px - 2,
			Close:  px,
			Volume: 1000,
		})
	}
	return out
}

func date(s string) entity.Date {
	d, err := entity.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func span(from, to string) entity.DateRange {
	return entity.DateRange{From: date(from), To: date(to)}
}

// farFuture は全ての日足が確定済みとみなされる時刻です。
func farFuture() time.Time {
	return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
}
