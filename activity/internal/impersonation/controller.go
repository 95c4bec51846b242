// Package impersonation lets super admins act as another principal with a
// full audit trail. Each admin has at most one ACTIVE impersonation.
package impersonation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/metrics"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/repository"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/sanitize"
	"github.com/telhawk-systems/telhawk-activity/activity/pkg/tokens"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
	"github.com/telhawk-systems/telhawk-activity/common/messaging"
)

const DefaultMaxDuration = 24 * time.Hour

// TokenIssuer mints the impersonation credentials.
type TokenIssuer interface {
	IssueTokenPair(principalID, role string, opts tokens.IssueOptions) (*tokens.TokenPair, error)
}

// SessionManager is the part of the session store the controller uses.
type SessionManager interface {
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error)
	Terminate(ctx context.Context, token string, status models.SessionStatus) error
}

// EventRecorder persists audit events.
type EventRecorder interface {
	Log(ctx context.Context, event *models.ActivityEvent) (*models.ActivityEvent, error)
}

// StartResult is handed back to the admin that started an impersonation.
type StartResult struct {
	AccessToken        string
	RefreshToken       string
	SessionToken       string
	ImpersonationLogID string
	ExpiresAt          time.Time
}

// Lifecycle is published on the impersonation subjects.
type Lifecycle struct {
	ImpersonationLogID      string                     `json:"impersonation_log_id"`
	AdminPrincipalID        string                     `json:"admin_principal_id"`
	ImpersonatedPrincipalID string                     `json:"impersonated_principal_id"`
	Status                  models.ImpersonationStatus `json:"status"`
	At                      time.Time                  `json:"at"`
}

type Controller struct {
	logs        repository.ImpersonationRepository
	principals  repository.PrincipalRepository
	sessions    SessionManager
	tokens      TokenIssuer
	recorder    EventRecorder
	publisher   messaging.Publisher
	locks       *keyedMutex
	maxDuration time.Duration
	logger      *logging.Logger
	now         func() time.Time
}

type Option func(*Controller)

func WithPublisher(p messaging.Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

func WithMaxDuration(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.maxDuration = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func NewController(
	logs repository.ImpersonationRepository,
	principals repository.PrincipalRepository,
	sessions SessionManager,
	issuer TokenIssuer,
	recorder EventRecorder,
	logger *logging.Logger,
	opts ...Option,
) *Controller {
	c := &Controller{
		logs:        logs,
		principals:  principals,
		sessions:    sessions,
		tokens:      issuer,
		recorder:    recorder,
		locks:       newKeyedMutex(),
		maxDuration: DefaultMaxDuration,
		logger:      logging.OrDefault(logger).Component("impersonation"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins impersonating req.TargetPrincipalID. The ACTIVE log is
// persisted before the session exists, so no usable impersonation session
// is ever missing its audit record.
func (c *Controller) Start(ctx context.Context, admin *models.Principal, req models.StartImpersonationRequest) (*StartResult, error) {
	target, err := c.authorize(ctx, admin, req.TargetPrincipalID)
	if err != nil {
		metrics.ImpersonationsRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	unlock := c.locks.Lock(admin.ID)
	defer unlock()

	if _, err := c.logs.GetActiveImpersonation(ctx, admin.ID); err == nil {
		metrics.ImpersonationsRejected.WithLabelValues("active").Inc()
		return nil, models.ErrImpersonationActive
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("check active impersonation: %w", err)
	}

	pair, err := c.tokens.IssueTokenPair(target.ID, string(target.Role), tokens.IssueOptions{
		TTL:          c.maxDuration,
		Impersonator: admin.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("issue impersonation tokens: %w", err)
	}

	now := c.now().UTC()
	entry := &models.ImpersonationLog{
		ID:                      uuid.Must(uuid.NewV7()).String(),
		AdminPrincipalID:        admin.ID,
		ImpersonatedPrincipalID: target.ID,
		StartedAt:               now,
		IPAddress:               req.IPAddress,
		UserAgent:               req.UserAgent,
		SessionToken:            pair.SessionToken,
		Status:                  models.ImpersonationActive,
	}
	if req.Reason != "" {
		reason := req.Reason
		entry.Reason = &reason
	}

	if err := c.logs.CreateImpersonation(ctx, entry); err != nil {
		if errors.Is(err, models.ErrConflict) {
			metrics.ImpersonationsRejected.WithLabelValues("active").Inc()
		}
		return nil, err
	}

	_, err = c.sessions.CreateSession(ctx, models.CreateSessionRequest{
		PrincipalID:  target.ID,
		SessionToken: pair.SessionToken,
		RefreshToken: pair.RefreshToken,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		ExpiresAt:    pair.ExpiresAt,
		Metadata: map[string]string{
			models.MetaIsImpersonating: "true",
			models.MetaOriginalAdminID: admin.ID,
			models.MetaImpersonationID: entry.ID,
		},
	})
	if err != nil {
		if _, ferr := c.logs.FinishImpersonation(ctx, entry.ID, models.ImpersonationEnded, c.now().UTC()); ferr != nil {
			c.logger.ErrorContext(ctx, "failed to close impersonation log after session error",
				logging.ImpersonationID(entry.ID), logging.Error(ferr))
		}
		return nil, fmt.Errorf("create impersonation session: %w", err)
	}

	metrics.ImpersonationsStarted.Inc()
	c.logger.InfoContext(ctx, "impersonation started",
		logging.AdminID(admin.ID), logging.PrincipalID(target.ID), logging.ImpersonationID(entry.ID))

	// Recorded against the target so it shows up in their trail.
	c.audit(ctx, &models.ActivityEvent{
		PrincipalID:  target.ID,
		ActivityType: models.ActivityImpersonationStart,
		Description:  "Started impersonating " + displayName(target),
		ResourceType: strPtr("principal"),
		ResourceID:   strPtr(target.ID),
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		IsSuccessful: true,
		Metadata: map[string]any{
			"adminPrincipalId":   admin.ID,
			"adminEmail":         admin.Email,
			"targetPrincipalId":  target.ID,
			"impersonationLogId": entry.ID,
			"reason":             req.Reason,
		},
	})
	c.publish(ctx, messaging.SubjectImpersonationStarted, entry, now)

	return &StartResult{
		AccessToken:        pair.AccessToken,
		RefreshToken:       pair.RefreshToken,
		SessionToken:       pair.SessionToken,
		ImpersonationLogID: entry.ID,
		ExpiresAt:          pair.ExpiresAt,
	}, nil
}

// End closes the impersonation bound to sessionToken. Ending a log that is
// no longer ACTIVE is a no-op; a token with no log is ErrNotFound.
func (c *Controller) End(ctx context.Context, sessionToken string, req models.EndImpersonationRequest) error {
	if sessionToken == "" {
		return models.ErrImpersonationNotFound
	}

	entry, err := c.logs.GetImpersonationByToken(ctx, sessionToken)
	if err != nil {
		return err
	}
	if !entry.IsActive() {
		return nil
	}

	now := c.now().UTC()
	changed, err := c.logs.FinishImpersonation(ctx, entry.ID, models.ImpersonationEnded, now)
	if err != nil {
		return fmt.Errorf("end impersonation: %w", err)
	}
	if !changed {
		return nil
	}

	metrics.ImpersonationsFinished.WithLabelValues(string(models.ImpersonationEnded)).Inc()
	c.terminateSession(ctx, entry)

	minutes := int64(math.Round(now.Sub(entry.StartedAt).Minutes()))
	c.logger.InfoContext(ctx, "impersonation ended",
		logging.AdminID(entry.AdminPrincipalID), logging.ImpersonationID(entry.ID), "duration_minutes", minutes)

	c.audit(ctx, &models.ActivityEvent{
		PrincipalID:  entry.AdminPrincipalID,
		ActivityType: models.ActivityImpersonationEnd,
		Description:  fmt.Sprintf("Ended impersonation after %d minutes", minutes),
		ResourceType: strPtr("principal"),
		ResourceID:   strPtr(entry.ImpersonatedPrincipalID),
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		IsSuccessful: true,
		Metadata: map[string]any{
			"targetPrincipalId":  entry.ImpersonatedPrincipalID,
			"impersonationLogId": entry.ID,
			"durationMinutes":    minutes,
		},
	})
	c.publish(ctx, messaging.SubjectImpersonationEnded, entry, now)
	return nil
}

// CleanupExpired moves ACTIVE impersonations older than maxDuration to
// EXPIRED and terminates their sessions. A non-positive maxDuration uses the
// configured limit.
func (c *Controller) CleanupExpired(ctx context.Context, maxDuration time.Duration) (int64, error) {
	if maxDuration <= 0 {
		maxDuration = c.maxDuration
	}
	now := c.now().UTC()

	expired, err := c.logs.ExpireImpersonations(ctx, now.Add(-maxDuration), now)
	if err != nil {
		return 0, fmt.Errorf("expire impersonations: %w", err)
	}

	for _, entry := range expired {
		c.terminateSession(ctx, entry)
		c.audit(ctx, &models.ActivityEvent{
			PrincipalID:  entry.AdminPrincipalID,
			ActivityType: models.ActivityImpersonationEnd,
			Description:  "Impersonation expired",
			ResourceType: strPtr("principal"),
			ResourceID:   strPtr(entry.ImpersonatedPrincipalID),
			IsSuccessful: true,
			Metadata: map[string]any{
				"targetPrincipalId":  entry.ImpersonatedPrincipalID,
				"impersonationLogId": entry.ID,
				"expired":            true,
			},
		})
		c.publish(ctx, messaging.SubjectImpersonationEnded, entry, now)
	}

	n := int64(len(expired))
	if n > 0 {
		metrics.ImpersonationsFinished.WithLabelValues(string(models.ImpersonationExpired)).Add(float64(n))
		c.logger.InfoContext(ctx, "expired impersonations", logging.Count(n))
	}
	return n, nil
}

// ActiveFor returns the admin's ACTIVE impersonation or ErrNotFound.
func (c *Controller) ActiveFor(ctx context.Context, adminID string) (*models.ImpersonationLog, error) {
	return c.logs.GetActiveImpersonation(ctx, adminID)
}

// History lists impersonation logs, newest first.
func (c *Controller) History(ctx context.Context, filter models.ImpersonationFilter) (*models.Page[*models.ImpersonationLog], error) {
	return c.logs.ListImpersonations(ctx, filter)
}

func (c *Controller) authorize(ctx context.Context, admin *models.Principal, targetID string) (*models.Principal, error) {
	if !admin.IsSuperAdmin() {
		return nil, models.ErrNotSuperAdmin
	}
	if targetID == "" {
		return nil, models.ErrMissingTarget
	}
	if targetID == admin.ID {
		return nil, models.ErrSelfImpersonation
	}

	target, err := c.principals.GetPrincipal(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if target.IsSuperAdmin() {
		return nil, models.ErrTargetSuperAdmin
	}
	return target, nil
}

func (c *Controller) terminateSession(ctx context.Context, entry *models.ImpersonationLog) {
	err := c.sessions.Terminate(ctx, entry.SessionToken, models.SessionTerminated)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		c.logger.WarnContext(ctx, "failed to terminate impersonation session",
			logging.ImpersonationID(entry.ID), logging.Error(err))
	}
}

func (c *Controller) audit(ctx context.Context, event *models.ActivityEvent) {
	if c.recorder == nil {
		return
	}
	event.Metadata = sanitize.Metadata(event.Metadata)
	if _, err := c.recorder.Log(ctx, event); err != nil {
		c.logger.WarnContext(ctx, "failed to record impersonation activity",
			logging.ActivityType(string(event.ActivityType)), logging.Error(err))
	}
}

func (c *Controller) publish(ctx context.Context, subject string, entry *models.ImpersonationLog, at time.Time) {
	if c.publisher == nil {
		return
	}
	data, err := json.Marshal(Lifecycle{
		ImpersonationLogID:      entry.ID,
		AdminPrincipalID:        entry.AdminPrincipalID,
		ImpersonatedPrincipalID: entry.ImpersonatedPrincipalID,
		Status:                  statusFor(subject, entry),
		At:                      at,
	})
	if err != nil {
		return
	}
	if err := c.publisher.Publish(ctx, subject, data); err != nil {
		c.logger.WarnContext(ctx, "failed to publish impersonation lifecycle",
			logging.ImpersonationID(entry.ID), logging.Error(err))
	}
}

func statusFor(subject string, entry *models.ImpersonationLog) models.ImpersonationStatus {
	if subject == messaging.SubjectImpersonationStarted {
		return models.ImpersonationActive
	}
	if entry.Status == models.ImpersonationActive {
		return models.ImpersonationEnded
	}
	return entry.Status
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, models.ErrNotSuperAdmin):
		return "not_super_admin"
	case errors.Is(err, models.ErrMissingTarget):
		return "missing_target"
	case errors.Is(err, models.ErrSelfImpersonation):
		return "self"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrTargetSuperAdmin):
		return "target_super_admin"
	default:
		return "error"
	}
}

func displayName(p *models.Principal) string {
	switch {
	case p.Email != "":
		return p.Email
	case p.DisplayName != "":
		return p.DisplayName
	default:
		return p.ID
	}
}

func strPtr(s string) *string { return &s }
