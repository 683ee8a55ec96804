// Package scheduler runs the daily post-close warm-up on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job は1回分の処理です。ctx はスケジューラ停止時にキャンセルされます。
type Job func(ctx context.Context)

// Scheduler manages the warm-up cron entry.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	stop context.CancelFunc
}

// New creates a scheduler evaluating specs (seconds field included) in loc.
func New(ctx context.Context, loc *time.Location) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		ctx:  ctx,
		stop: cancel,
	}
}

// Register adds job under spec. Overlapping runs are skipped.
func (s *Scheduler) Register(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		slog.Info("scheduled job started", "job", name)
		job(s.ctx)
		slog.Info("scheduled job finished", "job", name, "elapsed", time.Since(start).String())
	})
	if err != nil {
		return fmt.Errorf("register %s %q: %w", name, spec, err)
	}
	return nil
}

// Next は次回実行時刻を返します。エントリが無い場合はゼロ値です。
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "next", s.Next())
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.stop()
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}
