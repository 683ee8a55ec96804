package ratelimiter

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterInterface は、API呼び出しなどの操作の頻度を制限するインターフェースです。
type RateLimiterInterface interface {
	Wait(ctx context.Context) error
}

// RateLimiter は interval あたり limit 回までに上流呼び出しを制限します。
// 複数のゴルーチンから同時に利用できます。
type RateLimiter struct {
	limiter  *rate.Limiter
	limit    int
	interval time.Duration
}

// NewRateLimiter は新しいRateLimiterのインスタンスを生成します。
// limit <= 0 の場合は制限しません。
func NewRateLimiter(limit int, interval time.Duration) *RateLimiter {
	if limit <= 0 || interval <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	every := rate.Every(interval / time.Duration(limit))
	return &RateLimiter{
		limiter:  rate.NewLimiter(every, limit),
		limit:    limit,
		interval: interval,
	}
}

// NewPerMinute は1分あたり perMinute 回のRateLimiterを生成します。
func NewPerMinute(perMinute int) *RateLimiter {
	return NewRateLimiter(perMinute, time.Minute)
}

// Wait はトークンが得られるまで待機します。ctx がキャンセルされた場合はエラーを返します。
func (rl *RateLimiter) Wait(ctx context.Context) error {
	r := rl.limiter.Reserve()
	if !r.OK() {
		return rl.limiter.Wait(ctx)
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}

	slog.Debug("rate limit hit, waiting", "limit", rl.limit, "interval", rl.interval, "delay", delay)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
