// Package scheduler runs the periodic sweeps: session expiry, impersonation
// expiry, activity retention and session retention.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/config"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/metrics"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
)

const (
	JobSessionExpiry       = "session_expiry"
	JobImpersonationExpiry = "impersonation_expiry"
	JobActivityRetention   = "activity_retention"
	JobSessionRetention    = "session_retention"
)

// Job is one idempotent sweep. Run returns the number of affected rows.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

type SessionSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
	SweepOld(ctx context.Context, retentionDays int) (int64, error)
}

type ActivitySweeper interface {
	SweepOld(ctx context.Context, retentionDays int) (int64, error)
}

type ImpersonationSweeper interface {
	CleanupExpired(ctx context.Context, maxDuration time.Duration) (int64, error)
}

// SweepJobs wires the four sweeps to their owners using the tracking
// settings.
func SweepJobs(sessions SessionSweeper, activity ActivitySweeper, impersonations ImpersonationSweeper, cfg config.TrackingConfig) []Job {
	return []Job{
		{Name: JobSessionExpiry, Run: sessions.SweepExpired},
		{Name: JobImpersonationExpiry, Run: func(ctx context.Context) (int64, error) {
			return impersonations.CleanupExpired(ctx, cfg.MaxImpersonationDuration)
		}},
		{Name: JobActivityRetention, Run: func(ctx context.Context) (int64, error) {
			return activity.SweepOld(ctx, cfg.ActivityRetentionDays)
		}},
		{Name: JobSessionRetention, Run: func(ctx context.Context) (int64, error) {
			return sessions.SweepOld(ctx, cfg.SessionRetentionDays)
		}},
	}
}

// Result is the outcome of one job run.
type Result struct {
	Job   string `json:"job" yaml:"job"`
	Rows  int64  `json:"rows" yaml:"rows"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Scheduler runs every job on a fixed interval.
type Scheduler struct {
	jobs     []Job
	interval time.Duration
	logger   *logging.Logger
	stop     chan struct{}
	stopped  chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

func NewScheduler(jobs []Job, interval time.Duration, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		interval: interval,
		logger:   logging.OrDefault(logger).Component("scheduler"),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start runs the loop until Stop or ctx is done. Call it in a goroutine.
// Only the first call runs the loop, and a Start after Stop returns at once.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	defer close(s.stopped)

	select {
	case <-s.stop:
		return
	default:
	}

	s.logger.InfoContext(ctx, "sweep scheduler started", "interval", s.interval.String(), logging.Count(int64(len(s.jobs))))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stop:
			s.logger.InfoContext(ctx, "sweep scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweep scheduler context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit and waits for it if it was started. It is
// safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.stopped
	}
}

// RunOnce runs the named jobs, or all of them when names is empty. A failing
// job does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context, names ...string) []Result {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var results []Result
	for _, job := range s.jobs {
		if len(want) > 0 && !want[job.Name] {
			continue
		}
		results = append(results, s.run(ctx, job))
	}
	return results
}

func (s *Scheduler) run(ctx context.Context, job Job) (res Result) {
	res.Job = job.Name
	defer func() {
		if r := recover(); r != nil {
			res.Error = fmt.Sprint("panic: ", r)
			metrics.SweepErrors.WithLabelValues(job.Name).Inc()
			s.logger.ErrorContext(ctx, "sweep panicked", logging.Sweep(job.Name), "panic", res.Error)
		}
	}()

	start := time.Now()
	n, err := job.Run(ctx)
	if err != nil {
		res.Error = err.Error()
		metrics.SweepErrors.WithLabelValues(job.Name).Inc()
		s.logger.ErrorContext(ctx, "sweep failed", logging.Sweep(job.Name), logging.Error(err))
		return res
	}

	res.Rows = n
	metrics.SweepRows.WithLabelValues(job.Name).Add(float64(n))
	s.logger.DebugContext(ctx, "sweep finished",
		logging.Sweep(job.Name), logging.Count(n), logging.Duration(time.Since(start).Milliseconds()))
	return res
}
