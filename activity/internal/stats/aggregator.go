// Package stats computes dashboard aggregates over sessions and activity.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/repository"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
)

// CurrentlyActiveWindow bounds "currently active": an ACTIVE session whose
// last activity is at most this old, inclusive.
const CurrentlyActiveWindow = 15 * time.Minute

const DefaultRecentlyActiveWindow = 24 * time.Hour

// Overview is the admin dashboard summary. Trends compare the current
// calendar month (UTC, to date) with the same elapsed span of the previous
// month; nil means no baseline.
type Overview struct {
	CurrentlyActive  int64                 `json:"currently_active" yaml:"currently_active"`
	RecentlyActive   int64                 `json:"recently_active" yaml:"recently_active"`
	Sessions         *models.SessionStats  `json:"sessions" yaml:"sessions"`
	Activity         *models.ActivityStats `json:"activity" yaml:"activity"`
	SessionsTrend    *int                  `json:"sessions_trend" yaml:"sessions_trend"`
	ActivityTrend    *int                  `json:"activity_trend" yaml:"activity_trend"`
	PreviousSessions int64                 `json:"previous_sessions" yaml:"previous_sessions"`
	PreviousActivity int64                 `json:"previous_activity" yaml:"previous_activity"`
	Period           models.TimeRange      `json:"period" yaml:"period"`
	PreviousPeriod   models.TimeRange      `json:"previous_period" yaml:"previous_period"`
	GeneratedAt      time.Time             `json:"generated_at" yaml:"generated_at"`
}

type Aggregator struct {
	sessions     repository.SessionRepository
	activity     repository.ActivityRepository
	recentWindow time.Duration
	logger       *logging.Logger
	now          func() time.Time
}

type Option func(*Aggregator)

func WithRecentlyActiveWindow(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.recentWindow = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func NewAggregator(sessions repository.SessionRepository, activity repository.ActivityRepository, logger *logging.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		sessions:     sessions,
		activity:     activity,
		recentWindow: DefaultRecentlyActiveWindow,
		logger:       logging.OrDefault(logger).Component("stats"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CurrentlyActive counts distinct principals with an ACTIVE session used in
// the last 15 minutes.
func (a *Aggregator) CurrentlyActive(ctx context.Context) (int64, error) {
	return a.sessions.CountActivePrincipalsSince(ctx, a.now().UTC().Add(-CurrentlyActiveWindow))
}

// RecentlyActive counts distinct principals with any activity inside the
// recently-active window.
func (a *Aggregator) RecentlyActive(ctx context.Context) (int64, error) {
	return a.activity.CountPrincipalsWithActivitySince(ctx, a.now().UTC().Add(-a.recentWindow))
}

// Sessions aggregates sessions whose login falls in tr.
func (a *Aggregator) Sessions(ctx context.Context, tr models.TimeRange) (*models.SessionStats, error) {
	if err := validRange(tr); err != nil {
		return nil, err
	}
	return a.sessions.SessionStats(ctx, tr)
}

// Activity aggregates events created in [start, end).
func (a *Aggregator) Activity(ctx context.Context, start, end time.Time) (*models.ActivityStats, error) {
	tr := models.TimeRange{Start: start, End: end}
	if err := validRange(tr); err != nil {
		return nil, err
	}
	return a.activity.ActivityStats(ctx, tr)
}

// Overview runs every dashboard query concurrently.
func (a *Aggregator) Overview(ctx context.Context) (*Overview, error) {
	now := a.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	current := models.TimeRange{Start: monthStart, End: now}
	previous := previousSpan(monthStart, now)

	ov := &Overview{Period: current, PreviousPeriod: previous, GeneratedAt: now}
	var prevSessions *models.SessionStats
	var prevActivity *models.ActivityStats

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ov.CurrentlyActive, err = a.CurrentlyActive(gctx)
		return err
	})
	g.Go(func() (err error) {
		ov.RecentlyActive, err = a.RecentlyActive(gctx)
		return err
	})
	g.Go(func() (err error) {
		ov.Sessions, err = a.sessions.SessionStats(gctx, current)
		return err
	})
	g.Go(func() (err error) {
		prevSessions, err = a.sessions.SessionStats(gctx, previous)
		return err
	})
	g.Go(func() (err error) {
		ov.Activity, err = a.activity.ActivityStats(gctx, current)
		return err
	})
	g.Go(func() (err error) {
		prevActivity, err = a.activity.ActivityStats(gctx, previous)
		return err
	})
	if err := g.Wait(); err != nil {
		a.logger.ErrorContext(ctx, "overview query failed", logging.Error(err))
		return nil, fmt.Errorf("build overview: %w", err)
	}

	ov.PreviousSessions = prevSessions.Total
	ov.PreviousActivity = prevActivity.Total
	ov.SessionsTrend = CalcTrend(ov.Sessions.Total, prevSessions.Total)
	ov.ActivityTrend = CalcTrend(ov.Activity.Total, prevActivity.Total)
	return ov, nil
}

// previousSpan is the first now-monthStart of the previous month, cut off
// at monthStart when the previous month is shorter.
func previousSpan(monthStart, now time.Time) models.TimeRange {
	start := monthStart.AddDate(0, -1, 0)
	end := start.Add(now.Sub(monthStart))
	if end.After(monthStart) {
		end = monthStart
	}
	return models.TimeRange{Start: start, End: end}
}

// CalcTrend returns the percentage change from previous to current, rounded
// to the nearest integer. With no previous value the trend is 100 when
// current is positive and nil when both are zero.
func CalcTrend(current, previous int64) *int {
	if previous == 0 {
		if current == 0 {
			return nil
		}
		v := 100
		return &v
	}
	v := int(math.Round(float64(current-previous) / float64(previous) * 100))
	return &v
}

func validRange(tr models.TimeRange) error {
	if !tr.Start.IsZero() && !tr.End.IsZero() && !tr.Start.Before(tr.End) {
		return fmt.Errorf("start must be before end: %w", models.ErrValidation)
	}
	return nil
}
