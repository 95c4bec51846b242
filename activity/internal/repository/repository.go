package repository

import (
	"context"
	"time"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
)

// SessionRepository persists sessions. Status transitions only ever move a
// row out of ACTIVE, and always set logout_at together with the new status.
type SessionRepository interface {
	// CreateSession returns models.ErrSessionTokenExists on a duplicate token.
	CreateSession(ctx context.Context, session *models.Session) error
	GetSessionByToken(ctx context.Context, token string) (*models.Session, error)
	GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error)
	ListSessionsByPrincipal(ctx context.Context, principalID string, activeOnly bool) ([]*models.Session, error)
	// TouchSession bumps last_activity_at on an ACTIVE session.
	TouchSession(ctx context.Context, token string, at time.Time) error
	// TerminateSession moves an ACTIVE session to status and reports whether
	// a transition happened. A missing token is models.ErrSessionNotFound.
	TerminateSession(ctx context.Context, token string, status models.SessionStatus, at time.Time) (bool, error)
	TerminatePrincipalSessions(ctx context.Context, principalID, exceptToken string, at time.Time) (int64, error)
	MergeSessionMetadata(ctx context.Context, token string, kv map[string]string) error
	ExpireSessions(ctx context.Context, now time.Time) (int64, error)
	// DeleteSessionsBefore removes non-ACTIVE sessions that ended before cutoff.
	DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	CountActivePrincipalsSince(ctx context.Context, since time.Time) (int64, error)
	SessionStats(ctx context.Context, r models.TimeRange) (*models.SessionStats, error)
}

// ActivityRepository is append-only apart from the retention purge.
type ActivityRepository interface {
	InsertEvent(ctx context.Context, event *models.ActivityEvent) error
	InsertEvents(ctx context.Context, events []*models.ActivityEvent) error
	QueryEvents(ctx context.Context, filter models.ActivityFilter) (*models.Page[*models.ActivityEvent], error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	CountPrincipalsWithActivitySince(ctx context.Context, since time.Time) (int64, error)
	ActivityStats(ctx context.Context, r models.TimeRange) (*models.ActivityStats, error)
}

// ImpersonationRepository enforces at most one ACTIVE log per admin.
type ImpersonationRepository interface {
	// CreateImpersonation returns models.ErrImpersonationActive when the admin
	// already has an ACTIVE log and models.ErrImpersonationToken on a
	// duplicate session token.
	CreateImpersonation(ctx context.Context, log *models.ImpersonationLog) error
	GetImpersonationByToken(ctx context.Context, token string) (*models.ImpersonationLog, error)
	GetActiveImpersonation(ctx context.Context, adminID string) (*models.ImpersonationLog, error)
	// FinishImpersonation moves an ACTIVE log to status and reports whether a
	// transition happened.
	FinishImpersonation(ctx context.Context, id string, status models.ImpersonationStatus, at time.Time) (bool, error)
	// ExpireImpersonations moves ACTIVE logs started before cutoff to EXPIRED
	// and returns the transitioned rows.
	ExpireImpersonations(ctx context.Context, cutoff, at time.Time) ([]*models.ImpersonationLog, error)
	ListImpersonations(ctx context.Context, filter models.ImpersonationFilter) (*models.Page[*models.ImpersonationLog], error)
}

// PrincipalRepository is the local directory of principals known from the
// authentication service.
type PrincipalRepository interface {
	GetPrincipal(ctx context.Context, id string) (*models.Principal, error)
	UpsertPrincipal(ctx context.Context, p *models.Principal) error
	ListPrincipals(ctx context.Context) ([]*models.Principal, error)
}

// Repository bundles every store; both backends implement it.
type Repository interface {
	SessionRepository
	ActivityRepository
	ImpersonationRepository
	PrincipalRepository

	Ping(ctx context.Context) error
	Close()
}

const defaultPageLimit = 50

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
