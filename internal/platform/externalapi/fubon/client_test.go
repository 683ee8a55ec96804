package fubon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twstock_backend/internal/feature/candles/domain/entity"
	"twstock_backend/internal/feature/candles/usecase"
)

// stubTokens はTokenSourceのモック実装です。
type stubTokens struct {
	mu              sync.Mutex
	TokenFunc       func(ctx context.Context) (string, error)
	InvalidateCalls int
}

func (s *stubTokens) Token(ctx context.Context) (string, error) {
	if s.TokenFunc != nil {
		return s.TokenFunc(ctx)
	}
	return "test-token", nil
}

func (s *stubTokens) Invalidate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InvalidateCalls++
}

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) (*Client, *stubTokens, *[]time.Duration) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tokens := &stubTokens{}
	c := NewClient(Config{BaseURL: server.URL, MaxRetries: retries, RetryBackoff: 100 * time.Millisecond}, server.Client(), tokens)
	waits := []time.Duration{}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return c, tokens, &waits
}

func mustRange(t *testing.T, from, to string) entity.DateRange {
	t.Helper()
	f, err := entity.ParseDate(from)
	require.NoError(t, err)
	tt, err := entity.ParseDate(to)
	require.NoError(t, err)
	return entity.DateRange{From: f, To: tt}
}

const okBody = `{
	"symbol": "2330",
	"type": "EQUITY",
	"exchange": "TWSE",
	"market": "TSE",
	"timeframe": "D",
	"data": [
		{"date": "2024-01-03", "open": 590, "high": 593, "low": 589, "close": 593, "volume": 26054000, "turnover": 15401216000, "change": 0},
		{"date": "2024-01-02", "open": 590, "high": 593, "low": 589, "close": 593, "volume": 26059058},
		{"date": "2023-12-29", "open": 589, "high": 593, "low": 589, "close": 593, "volume": 21161970}
	]
}`

func TestNewClient(t *testing.T) {
	t.Parallel()

	cfg := Config{BaseURL: "https://api.test.com", Timeout: 10 * time.Second}
	client := NewClient(cfg, &http.Client{}, &stubTokens{})

	require.NotNil(t, client)
	assert.Equal(t, cfg.BaseURL, client.cfg.BaseURL)
}

func TestClient_FetchRange_Success(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// Verify request
		assert.Equal(t, "/historical/candles/2330", r.URL.Path)
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("from"))
		assert.Equal(t, "2024-01-05", r.URL.Query().Get("to"))
		assert.Contains(t, r.URL.Query().Get("fields"), "turnover")
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody))
	}, 0)

	candles, err := c.FetchRange(context.Background(), "2330", mustRange(t, "2024-01-01", "2024-01-05"))
	require.NoError(t, err)

	// 範囲外（2023-12-29）の行は捨てられます。
	require.Len(t, candles, 2)
	assert.Equal(t, "2024-01-03", candles[0].Date.String())
	assert.Equal(t, "2330", candles[0].Symbol)
	assert.Equal(t, 593.0, candles[0].Close)
	assert.Equal(t, int64(26054000), candles[0].Volume)
	require.NotNil(t, candles[0].Turnover)
	assert.Equal(t, 15401216000.0, *candles[0].Turnover)
	assert.Nil(t, candles[1].Turnover, "missing turnover stays undefined")
	assert.Nil(t, candles[0].Change, "derived fields are computed downstream")
}

func TestClient_FetchRange_EmptyData(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"00878","data":[]}`))
	}, 0)

	candles, err := c.FetchRange(context.Background(), "00878", mustRange(t, "2024-02-08", "2024-02-14"))
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestClient_FetchRange_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		body       string
		wantErr    error
	}{
		{name: "error: unauthorized", statusCode: http.StatusUnauthorized, body: `{"statusCode":401,"message":"Unauthorized"}`, wantErr: usecase.ErrAuth},
		{name: "error: forbidden", statusCode: http.StatusForbidden, wantErr: usecase.ErrAuth},
		{name: "error: too many requests", statusCode: http.StatusTooManyRequests, body: `{"statusCode":429,"message":"Rate limit exceeded"}`, wantErr: usecase.ErrRateLimit},
		{name: "error: internal server error", statusCode: http.StatusInternalServerError, wantErr: usecase.ErrNetwork},
		{name: "error: service unavailable", statusCode: http.StatusServiceUnavailable, wantErr: usecase.ErrNetwork},
		{name: "error: bad request", statusCode: http.StatusBadRequest, wantErr: usecase.ErrUpstreamData},
		{name: "error: undecodable json", statusCode: http.StatusOK, body: `{"data": [`, wantErr: usecase.ErrUpstreamData},
		{name: "error: bad row date", statusCode: http.StatusOK, body: `{"data":[{"date":"20240102","open":1,"high":1,"low":1,"close":1,"volume":1}]}`, wantErr: usecase.ErrUpstreamData},
		{name: "error: non-positive price", statusCode: http.StatusOK, body: `{"data":[{"date":"2024-01-02","open":0,"high":1,"low":1,"close":1,"volume":1}]}`, wantErr: usecase.ErrUpstreamData},
		{name: "error: negative volume", statusCode: http.StatusOK, body: `{"data":[{"date":"2024-01-02","open":1,"high":1,"low":1,"close":1,"volume":-5}]}`, wantErr: usecase.ErrUpstreamData},
		{name: "error: high below low", statusCode: http.StatusOK, body: `{"data":[{"date":"2024-01-02","open":1,"high":1,"low":2,"close":1,"volume":1}]}`, wantErr: usecase.ErrUpstreamData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}, 0)

			_, err := c.FetchRange(context.Background(), "2330", mustRange(t, "2024-01-01", "2024-01-05"))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.True(t, strings.HasPrefix(err.Error(), "fetch 2330 2024-01-01..2024-01-05"), "got %v", err)
		})
	}
}

func TestClient_FetchRange_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	var calls int32
	c, _, waits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}, 2)

	candles, err := c.FetchRange(context.Background(), "2330", mustRange(t, "2024-01-01", "2024-01-05"))
	require.NoError(t, err)
	assert.Len(t, candles, 2)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *waits, "exponential backoff")
}

func TestClient_FetchRange_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	var calls int32
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 2)

	_, err := c.FetchRange(context.Background(), "2330", mustRange(t, "2024-01-01", "2024-01-05"))
	assert.True(t, errors.Is(err, usecase.ErrNetwork))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "one call plus two retries")
}

func TestClient_FetchRange_HonorsRetryAfter(t *testing.T) {
	t.Parallel()

	var calls int32
	c, _, waits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}, 1)

	_, err := c.FetchRange(context.Background(), "2330", mustRange(t, "2024-01-01", "2024-01-05"))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{7 * time.Second}, *waits)
}

func TestClient_FetchRange_ReauthenticatesOnce(t *testing.T) {
	t.Parallel()

	var calls int32
	c, tokens, waits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}, 0)

	_, err := c.FetchRange(context.Background(), "2330", mustRange(t, "2024-01-01", "2024-01-05"))
	require.NoError(t, err)
	assert.Equal(t, 1, tokens.InvalidateCalls)
	assert.Empty(t, *waits, "re-login does not back off")
}

func TestClient_FetchRange_AuthIsNotRetriedTwice(t *testing.T) {
	t.Parallel()

	var calls int32
	c, tokens, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}, 3)

	_, err := c.FetchRange(context.Background(), "2330", mustRange(t, "2024-01-01", "2024-01-05"))
	assert.True(t, errors.Is(err, usecase.ErrAuth))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, tokens.InvalidateCalls)
}

func TestClient_FetchRange_TokenError(t *testing.T) {
	t.Parallel()

	var calls int32
	c, tokens, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}, 0)
	tokens.TokenFunc = func(ctx context.Context) (string, error) {
		return "", usecase.ErrAuth
	}

	_, err := c.FetchRange(context.Background(), "2330", mustRange(t, "2024-01-01", "2024-01-05"))
	assert.True(t, errors.Is(err, usecase.ErrAuth))
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "no market data call without a token")
}

func TestClient_FetchRange_ContextCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL, MaxRetries: 2}, server.Client(), &stubTokens{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.FetchRange(ctx, "2330", mustRange(t, "2024-01-01", "2024-01-05"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, usecase.ErrNetwork))
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Minute, parseRetryAfter("3600"), "capped")
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
}
