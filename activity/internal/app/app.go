// Package app assembles the activity components from configuration.
// Both the service binary and activityctl build their object graph here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/cache"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/config"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/impersonation"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/pipeline"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/recorder"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/repository"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/scheduler"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/sessions"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/stats"
	"github.com/telhawk-systems/telhawk-activity/activity/migrations"
	"github.com/telhawk-systems/telhawk-activity/activity/pkg/tokens"
	"github.com/telhawk-systems/telhawk-activity/common/audit"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
	natsclient "github.com/telhawk-systems/telhawk-activity/common/messaging/nats"
)

// Components is the wired object graph. Close releases every connection
// opened by Build, in reverse order.
type Components struct {
	Repo          repository.Repository
	Sessions      *sessions.Store
	Recorder      *recorder.Recorder
	Tokens        *tokens.TokenGenerator
	Impersonation *impersonation.Controller
	Stats         *stats.Aggregator
	Pipeline      *pipeline.Pipeline
	Scheduler     *scheduler.Scheduler
	NATS          *natsclient.Client
	Logger        *logging.Logger

	closers []func() error
}

// Options toggles the optional collaborators. The CLI skips the sinks so a
// sweep never republishes history.
type Options struct {
	Migrate bool
	Sinks   bool
}

// Build opens the repository and constructs every component.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts Options) (*Components, error) {
	c := &Components{Logger: logger}

	repo, err := OpenRepository(ctx, cfg, logger, opts.Migrate)
	if err != nil {
		return nil, err
	}
	c.Repo = repo
	c.closers = append(c.closers, func() error { repo.Close(); return nil })

	storeOpts := []sessions.Option{sessions.WithTTL(cfg.Auth.SessionTTL, cfg.Auth.RememberMeTTL)}
	if cfg.Redis.Enabled {
		client, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		sessionCache := cache.NewSessionCache(client, cfg.Redis.TTL)
		c.closers = append(c.closers, sessionCache.Close)
		storeOpts = append(storeOpts, sessions.WithCache(sessionCache))
		logger.Info("session cache enabled", "url", config.RedactURL(cfg.Redis.URL))
	}
	c.Sessions = sessions.NewStore(repo, logger, storeOpts...)

	recOpts := []recorder.Option{recorder.WithSigner(audit.NewEventSigner(cfg.Auth.SigningSecret))}
	if opts.Sinks {
		sinkOpts, err := c.openSinks(cfg, logger)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		recOpts = append(recOpts, sinkOpts...)
	}
	c.Recorder = recorder.New(repo, logger, recOpts...)

	c.Tokens = tokens.NewTokenGenerator(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	ctrlOpts := []impersonation.Option{impersonation.WithMaxDuration(cfg.Tracking.MaxImpersonationDuration)}
	if c.NATS != nil {
		ctrlOpts = append(ctrlOpts, impersonation.WithPublisher(c.NATS))
	}
	c.Impersonation = impersonation.NewController(repo, repo, c.Sessions, c.Tokens, c.Recorder, logger, ctrlOpts...)

	c.Stats = stats.NewAggregator(repo, repo, logger, stats.WithRecentlyActiveWindow(cfg.Tracking.RecentlyActiveWindow))

	c.Pipeline = pipeline.New(c.Sessions, c.Recorder, logger,
		pipeline.WithAdminPrefix(cfg.Tracking.AdminPathPrefix),
		pipeline.WithAsyncCompletion(cfg.Tracking.AsyncCompletion))

	jobs := scheduler.SweepJobs(c.Sessions, c.Recorder, c.Impersonation, cfg.Tracking)
	c.Scheduler = scheduler.NewScheduler(jobs, cfg.Tracking.SweepInterval, logger)

	return c, nil
}

func (c *Components) openSinks(cfg *config.Config, logger *logging.Logger) ([]recorder.Option, error) {
	var opts []recorder.Option

	if cfg.NATS.Enabled {
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Token = cfg.NATS.Token
		natsCfg.Logger = logger
		client, err := natsclient.NewClient(natsCfg)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		c.NATS = client
		c.closers = append(c.closers, client.Drain)
		opts = append(opts, recorder.WithSinks(recorder.NewNATSSink(client)))
	}

	if cfg.OpenSearch.Enabled {
		osCfg := recorder.OpenSearchConfig{
			URL:           cfg.OpenSearch.URL,
			Username:      cfg.OpenSearch.Username,
			Password:      cfg.OpenSearch.Password,
			Insecure:      cfg.OpenSearch.Insecure,
			IndexPrefix:   cfg.OpenSearch.Index,
			FlushInterval: cfg.OpenSearch.FlushInterval,
		}
		client, err := recorder.NewOpenSearchClient(osCfg)
		if err != nil {
			return nil, err
		}
		sink, err := recorder.NewOpenSearchSink(client, osCfg, logger)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return sink.Close(ctx)
		})
		opts = append(opts, recorder.WithSinks(sink))
	}

	return opts, nil
}

// Close flushes sinks and closes connections.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// OpenRepository returns the configured store. Postgres migrations run first
// when migrate is set.
func OpenRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger, migrate bool) (repository.Repository, error) {
	if cfg.Database.Type != "postgres" {
		logger.Warn("using in-memory repository; data is lost on restart")
		return repository.NewInMemoryRepository(), nil
	}

	connString := cfg.Database.Postgres.ConnString()

	if migrate {
		logger.Info("running database migrations")
		version, dirty, err := migrations.Run(connString, "up")
		if err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed", "version", version, "dirty", dirty)
	}

	repo, err := repository.NewPostgresRepository(ctx, connString,
		repository.WithTimeouts(cfg.Database.Postgres.Timeouts()))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return repo, nil
}
