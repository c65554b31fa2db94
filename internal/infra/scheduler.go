package infra

// Cron driver for the tick engine. Each job is a short-lived, stateless
// invocation; the engine tolerates a tick overlapping the previous one of
// the same job, so no skip-if-running wrapper is needed.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jcortes/mirrorbot/internal/application/engine"
)

// Intervals holds the firing periods for the four jobs.
type Intervals struct {
	Sync    time.Duration
	Execute time.Duration
	Resolve time.Duration
	Redeem  time.Duration
}

// Scheduler fires the engine's ticks on their configured intervals.
type Scheduler struct {
	cron   *cron.Cron
	engine *engine.Engine
	token  string
	ivals  Intervals
}

// NewScheduler creates the cron driver. The token is handed to the engine
// on every tick; the engine rejects ticks carrying the wrong one.
func NewScheduler(eng *engine.Engine, token string, ivals Intervals) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		engine: eng,
		token:  token,
		ivals:  ivals,
	}
}

// Start registers the four jobs and starts the cron loop. ctx bounds each
// individual tick, not the loop; call Stop to end the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name  string
		every time.Duration
		run   func(context.Context, string) (int, error)
	}{
		{"sync", s.ivals.Sync, s.engine.SyncTick},
		{"execute", s.ivals.Execute, s.engine.ExecuteTick},
		{"resolve", s.ivals.Resolve, s.engine.ResolveTick},
		{"redeem", s.ivals.Redeem, s.engine.RedeemTick},
	}

	for _, j := range jobs {
		j := j
		spec := fmt.Sprintf("@every %s", j.every)
		_, err := s.cron.AddFunc(spec, func() {
			if _, err := j.run(ctx, s.token); err != nil {
				slog.Error("scheduler: tick failed", "job", j.name, "err", err)
			}
		})
		if err != nil {
			return fmt.Errorf("infra.Scheduler: register %s: %w", j.name, err)
		}
		slog.Info("scheduler: job registered", "job", j.name, "every", j.every.String())
	}

	s.cron.Start()
	return nil
}

// Stop ends the cron loop and waits for in-flight jobs to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler: stopped")
}
