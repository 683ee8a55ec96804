package fubon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"twstock_backend/internal/feature/candles/domain/entity"
	"twstock_backend/internal/feature/candles/usecase"
	"twstock_backend/internal/platform/externalapi/fubon/dto"
)

const (
	candleFields  = "open,high,low,close,volume,turnover,change"
	maxRetryAfter = time.Minute
)

// TokenSource は認証済みトークンを供給します。*Session が実装します。
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(ctx context.Context)
}

// Client は富邦マーケットデータAPIから日足を取得するFetchClient実装です。
type Client struct {
	cfg    Config
	client *http.Client
	tokens TokenSource
	sleep  func(ctx context.Context, d time.Duration) error
}

// ClientがFetchClientを実装していることをコンパイル時に検証します。
var _ usecase.FetchClient = (*Client)(nil)

// NewClient は指定された設定とHTTPクライアントでClientの新しいインスタンスを生成します。
func NewClient(cfg Config, client *http.Client, tokens TokenSource) *Client {
	return &Client{cfg: cfg, client: client, tokens: tokens, sleep: sleepCtx}
}

// retryAfterError はサーバーが Retry-After で待機時間を指定したエラーです。
type retryAfterError struct {
	err   error
	after time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }
func (e *retryAfterError) Unwrap() error { return e.err }

// FetchRange は r の日足を1回の論理呼び出しで取得します。r は呼び出し側で上流の最大期間以下に分割済みです。
// 再試行可能なエラー（ネットワーク・レート制限・不正データ）は設定回数まで指数バックオフで再試行し、
// 認証エラーはトークンを破棄して1度だけ再ログインを試みます。
func (c *Client) FetchRange(ctx context.Context, symbol string, r entity.DateRange) ([]entity.Candle, error) {
	var lastErr error
	reauthed := false

	for attempt := 0; attempt <= c.cfg.MaxRetries; {
		candles, err := c.fetchOnce(ctx, symbol, r)
		if err == nil {
			return candles, nil
		}
		lastErr = err

		if errors.Is(err, usecase.ErrAuth) && !reauthed {
			reauthed = true
			c.tokens.Invalidate(ctx)
			slog.Warn("upstream rejected token, logging in again", "symbol", symbol, "range", r.String())
			continue
		}
		if !usecase.IsRetryable(err) || attempt == c.cfg.MaxRetries {
			break
		}

		wait := c.backoff(attempt, err)
		slog.Warn("retrying historical candles fetch",
			"symbol", symbol, "range", r.String(), "attempt", attempt+1, "wait", wait, "error", err)
		if serr := c.sleep(ctx, wait); serr != nil {
			return nil, fmt.Errorf("fetch %s %s: %w: %w", symbol, r, usecase.ErrNetwork, serr)
		}
		attempt++
	}

	slog.Error("historical candles fetch failed", "symbol", symbol, "range", r.String(), "error", lastErr)
	return nil, fmt.Errorf("fetch %s %s: %w", symbol, r, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, symbol string, r entity.DateRange) ([]entity.Candle, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("from", r.From.String())
	q.Set("to", r.To.String())
	q.Set("fields", candleFields)
	u := fmt.Sprintf("%s/historical/candles/%s?%s", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", usecase.ErrNetwork, err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			slog.Warn("failed to close response body", "error", err)
		}
	}()

	if err := classifyStatus(res); err != nil {
		return nil, err
	}

	var body dto.HistoricalCandlesResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", usecase.ErrUpstreamData, err)
	}
	return toCandles(symbol, r, body)
}

func classifyStatus(res *http.Response) error {
	if res.StatusCode < 400 {
		return nil
	}
	msg := upstreamMessage(res.Body)
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: http %d %s", usecase.ErrAuth, res.StatusCode, msg)
	case res.StatusCode == http.StatusTooManyRequests:
		return &retryAfterError{
			err:   fmt.Errorf("%w: http %d %s", usecase.ErrRateLimit, res.StatusCode, msg),
			after: parseRetryAfter(res.Header.Get("Retry-After")),
		}
	case res.StatusCode >= 500:
		return fmt.Errorf("%w: http %d %s", usecase.ErrNetwork, res.StatusCode, msg)
	default:
		return fmt.Errorf("%w: http %d %s", usecase.ErrUpstreamData, res.StatusCode, msg)
	}
}

// upstreamMessage はエラーレスポンスの message を取り出します。読めなければ空文字です。
func upstreamMessage(body io.Reader) string {
	var e dto.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&e); err != nil {
		return ""
	}
	return e.Message
}

// toCandles はDTOをドメインエンティティへ変換し、境界で値を検証します。
// 要求範囲外の行は捨てます。
func toCandles(symbol string, r entity.DateRange, body dto.HistoricalCandlesResponse) ([]entity.Candle, error) {
	candles := make([]entity.Candle, 0, len(body.Data))
	for i, row := range body.Data {
		d, err := entity.ParseDate(row.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", usecase.ErrUpstreamData, i, err)
		}
		if !r.Contains(d) {
			continue
		}
		if row.Open <= 0 || row.High <= 0 || row.Low <= 0 || row.Close <= 0 {
			return nil, fmt.Errorf("%w: row %d (%s): non-positive price", usecase.ErrUpstreamData, i, row.Date)
		}
		if row.High < row.Low {
			return nil, fmt.Errorf("%w: row %d (%s): high below low", usecase.ErrUpstreamData, i, row.Date)
		}
		if row.Volume < 0 {
			return nil, fmt.Errorf("%w: row %d (%s): negative volume", usecase.ErrUpstreamData, i, row.Date)
		}
		candles = append(candles, entity.Candle{
			Symbol:   symbol,
			Date:     d,
			Open:     row.Open,
			High:     row.High,
			Low:      row.Low,
			Close:    row.Close,
			Volume:   row.Volume,
			Turnover: row.Turnover,
		})
	}
	return candles, nil
}

func (c *Client) backoff(attempt int, err error) time.Duration {
	var ra *retryAfterError
	if errors.As(err, &ra) && ra.after > 0 {
		return ra.after
	}
	base := c.cfg.RetryBackoff
	if base <= 0 {
		base = defaultRetryBackoff
	}
	return base << attempt
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return min(time.Duration(secs)*time.Second, maxRetryAfter)
	}
	if t, err := http.ParseTime(v); err == nil {
		return min(max(time.Until(t), 0), maxRetryAfter)
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
