// Package jobs runs periodic maintenance such as the seller_stats rollup.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const SellerStatsJob = "seller_stats_refresh"

type StatsRefresher interface {
	RefreshSellerStats(ctx context.Context) (int64, error)
}

type Observer interface {
	JobRun(job string, success bool)
}

type Scheduler struct {
	cron     *cron.Cron
	stats    StatsRefresher
	log      *zap.Logger
	observer Observer
	timeout  time.Duration
}

func NewScheduler(stats StatsRefresher, log *zap.Logger, observer Observer) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		// a run still in progress makes the next tick skip
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		stats:    stats,
		log:      log,
		observer: observer,
		timeout:  5 * time.Minute,
	}
}

// Schedule runs fn on a standard five-field cron spec (descriptors such as
// "@every 10m" work too). An empty spec disables the job.
func (s *Scheduler) Schedule(name, spec string, fn func(ctx context.Context) error) error {
	if spec == "" {
		s.log.Info("job disabled", zap.String("job", name))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		s.run(context.Background(), name, fn)
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.log.Info("job scheduled", zap.String("job", name), zap.String("schedule", spec))
	return nil
}

func (s *Scheduler) ScheduleSellerStats(spec string) error {
	return s.Schedule(SellerStatsJob, spec, s.refreshSellerStats)
}

// RefreshSellerStats runs one refresh immediately.
func (s *Scheduler) RefreshSellerStats(ctx context.Context) error {
	return s.run(ctx, SellerStatsJob, s.refreshSellerStats)
}

func (s *Scheduler) refreshSellerStats(ctx context.Context) error {
	n, err := s.stats.RefreshSellerStats(ctx)
	if err != nil {
		return err
	}
	s.log.Info("seller stats refreshed", zap.Int64("shops", n))
	return nil
}

func (s *Scheduler) run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if s.observer != nil {
		s.observer.JobRun(name, err == nil)
	}
	if err != nil {
		s.log.Error("job failed", zap.String("job", name), zap.Error(err))
		return err
	}
	s.log.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
