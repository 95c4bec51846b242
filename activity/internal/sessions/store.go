// Package sessions implements the session lifecycle: registration, lookup,
// last-activity tracking, termination and the expiry/retention sweeps.
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/cache"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/metrics"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/repository"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/sanitize"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/useragent"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
)

const (
	DefaultSessionTTL    = 24 * time.Hour
	DefaultRememberMeTTL = 30 * 24 * time.Hour
)

type Store struct {
	repo          repository.SessionRepository
	cache         *cache.SessionCache
	logger        *logging.Logger
	now           func() time.Time
	sessionTTL    time.Duration
	rememberMeTTL time.Duration
}

type Option func(*Store)

// WithCache enables the Redis read-through cache for token lookups.
func WithCache(c *cache.SessionCache) Option {
	return func(s *Store) { s.cache = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTTL sets the default lifetimes applied when a request carries no expiry.
func WithTTL(session, rememberMe time.Duration) Option {
	return func(s *Store) {
		if session > 0 {
			s.sessionTTL = session
		}
		if rememberMe > 0 {
			s.rememberMeTTL = rememberMe
		}
	}
}

func NewStore(repo repository.SessionRepository, logger *logging.Logger, opts ...Option) *Store {
	s := &Store{
		repo:          repo,
		logger:        logging.OrDefault(logger).Component("sessions"),
		now:           time.Now,
		sessionTTL:    DefaultSessionTTL,
		rememberMeTTL: DefaultRememberMeTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock, shared with collaborators so validity checks
// agree with the timestamps the store writes.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// IsValid is the session validity predicate:
// status == ACTIVE, expiresAt > now and logoutAt unset.
func IsValid(session *models.Session, now time.Time) bool {
	return session.IsValid(now)
}

// IsValid evaluates the validity predicate against the store clock.
func (s *Store) IsValid(session *models.Session) bool {
	return IsValid(session, s.Now())
}

// CreateSession persists a new ACTIVE session.
func (s *Store) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	if req.PrincipalID == "" {
		return nil, fmt.Errorf("principal id is required: %w", models.ErrValidation)
	}
	if req.SessionToken == "" {
		return nil, fmt.Errorf("session token is required: %w", models.ErrValidation)
	}

	now := s.Now()
	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		ttl := s.sessionTTL
		if req.RememberMe {
			ttl = s.rememberMeTTL
		}
		expiresAt = now.Add(ttl)
	}
	if !expiresAt.After(now) {
		return nil, fmt.Errorf("expiry must be in the future: %w", models.ErrValidation)
	}

	ua := useragent.Parse(req.UserAgent)
	session := &models.Session{
		ID:             uuid.Must(uuid.NewV7()).String(),
		PrincipalID:    req.PrincipalID,
		SessionToken:   req.SessionToken,
		Status:         models.SessionActive,
		DeviceType:     firstNonEmpty(req.DeviceType, ua.DeviceType),
		Browser:        firstNonEmpty(req.Browser, ua.Browser),
		OS:             firstNonEmpty(req.OS, ua.OS),
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		LoginAt:        now,
		LastActivityAt: now,
		ExpiresAt:      expiresAt.UTC(),
		RememberMe:     req.RememberMe,
		Metadata:       sanitize.Strings(req.Metadata),
	}
	if req.RefreshToken != "" {
		rt := req.RefreshToken
		session.RefreshToken = &rt
	}
	if session.Metadata == nil {
		session.Metadata = map[string]string{}
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	metrics.SessionsCreated.Inc()
	s.logger.InfoContext(ctx, "session created",
		logging.SessionID(session.ID),
		logging.PrincipalID(session.PrincipalID),
		slog.Bool("remember_me", session.RememberMe),
	)
	return session, nil
}

// FindByToken returns the session for token or models.ErrSessionNotFound.
func (s *Store) FindByToken(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, models.ErrSessionNotFound
	}

	if cached, err := s.cache.Get(ctx, token); err != nil {
		metrics.SessionCacheLookups.WithLabelValues("error").Inc()
		s.logger.WarnContext(ctx, "session cache read failed", logging.Error(err))
	} else if cached != nil {
		metrics.SessionCacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	} else if s.cache.IsEnabled() {
		metrics.SessionCacheLookups.WithLabelValues("miss").Inc()
	}

	var (
		session *models.Session
		loadErr error
		loaded  bool
	)
	load := func(ctx context.Context) (*models.Session, error) {
		session, loadErr = s.repo.GetSessionByToken(ctx, token)
		loaded = true
		return session, loadErr
	}
	if err := s.cache.Fill(ctx, token, s.Now(), load); err != nil {
		s.logger.WarnContext(ctx, "session cache write failed", logging.Error(err))
	}
	if !loaded {
		return s.repo.GetSessionByToken(ctx, token)
	}
	return session, loadErr
}

// FindByRefreshToken returns the session for a refresh token.
func (s *Store) FindByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	if refreshToken == "" {
		return nil, models.ErrSessionNotFound
	}
	return s.repo.GetSessionByRefreshToken(ctx, refreshToken)
}

// ListForPrincipal returns a principal's sessions, newest login first.
func (s *Store) ListForPrincipal(ctx context.Context, principalID string, activeOnly bool) ([]*models.Session, error) {
	return s.repo.ListSessionsByPrincipal(ctx, principalID, activeOnly)
}

// UpdateLastActivity bumps lastActivityAt. Failures are logged and swallowed
// so the caller's request is never affected.
func (s *Store) UpdateLastActivity(ctx context.Context, token string) {
	if token == "" {
		return
	}
	if err := s.repo.TouchSession(ctx, token, s.Now()); err != nil {
		metrics.LastActivityFailures.Inc()
		s.logger.WarnContext(ctx, "failed to update session last activity", logging.Error(err))
	}
}

// Terminate ends an ACTIVE session with status TERMINATED or LOGGED_OUT.
// Terminating a session that is no longer ACTIVE is a no-op.
func (s *Store) Terminate(ctx context.Context, token string, status models.SessionStatus) error {
	if status != models.SessionTerminated && status != models.SessionLoggedOut {
		return fmt.Errorf("cannot terminate with status %q: %w", status, models.ErrValidation)
	}

	changed, err := s.repo.TerminateSession(ctx, token, status, s.Now())
	if err != nil {
		return err
	}
	s.invalidate(ctx, token)

	if changed {
		metrics.SessionTransitions.WithLabelValues(string(status)).Inc()
		s.logger.InfoContext(ctx, "session terminated", slog.String("status", string(status)))
	}
	return nil
}

// TerminateAllForPrincipal ends every ACTIVE session of a principal except
// exceptToken (which may be empty) and returns how many were ended.
func (s *Store) TerminateAllForPrincipal(ctx context.Context, principalID, exceptToken string) (int64, error) {
	if principalID == "" {
		return 0, fmt.Errorf("principal id is required: %w", models.ErrValidation)
	}

	n, err := s.repo.TerminatePrincipalSessions(ctx, principalID, exceptToken, s.Now())
	if err != nil {
		return 0, err
	}
	if err := s.cache.InvalidatePrincipal(ctx, principalID, s.Now()); err != nil {
		s.logger.WarnContext(ctx, "session cache invalidation failed", logging.Error(err))
	}

	metrics.SessionTransitions.WithLabelValues(string(models.SessionTerminated)).Add(float64(n))
	s.logger.InfoContext(ctx, "principal sessions terminated",
		logging.PrincipalID(principalID), logging.Count(n))
	return n, nil
}

// MergeMetadata adds keys to a session's metadata. Sensitive keys are
// redacted like activity metadata.
func (s *Store) MergeMetadata(ctx context.Context, token string, kv map[string]string) error {
	if len(kv) == 0 {
		return nil
	}
	if err := s.repo.MergeSessionMetadata(ctx, token, sanitize.Strings(kv)); err != nil {
		return err
	}
	s.invalidate(ctx, token)
	return nil
}

// SweepExpired moves ACTIVE sessions past their expiry to EXPIRED.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireSessions(ctx, s.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired sessions: %w", err)
	}
	if n > 0 {
		metrics.SessionTransitions.WithLabelValues(string(models.SessionExpired)).Add(float64(n))
	}
	return n, nil
}

// SweepOld deletes non-ACTIVE sessions that ended more than retentionDays ago.
func (s *Store) SweepOld(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive: %w", models.ErrValidation)
	}
	cutoff := s.Now().AddDate(0, 0, -retentionDays)
	n, err := s.repo.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep old sessions: %w", err)
	}
	return n, nil
}

func (s *Store) invalidate(ctx context.Context, token string) {
	if err := s.cache.Invalidate(ctx, token); err != nil {
		s.logger.WarnContext(ctx, "session cache invalidation failed", logging.Error(err))
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
