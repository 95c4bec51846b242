// Package pipeline tracks requests as an explicit chain of stages:
// session validation, context extraction and completion. Tracking never
// changes the outcome of the tracked action.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/metrics"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/sanitize"
	"github.com/telhawk-systems/telhawk-activity/common/httputil"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
)

// SessionLookup is the part of the session store the pipeline needs.
type SessionLookup interface {
	FindByToken(ctx context.Context, token string) (*models.Session, error)
	IsValid(session *models.Session) bool
	UpdateLastActivity(ctx context.Context, token string)
}

// EventRecorder persists one activity event.
type EventRecorder interface {
	Log(ctx context.Context, event *models.ActivityEvent) (*models.ActivityEvent, error)
}

// TrackedRequest describes the call being tracked.
type TrackedRequest struct {
	PrincipalID          string
	SessionToken         string
	Method               string
	Path                 string
	Action               string
	Header               http.Header
	RemoteAddr           string
	RequireActiveSession bool
}

// ActivityContext is built by the extraction stage.
type ActivityContext struct {
	PrincipalID string
	SessionID   string
	IPAddress   string
	UserAgent   string
	StartedAt   time.Time
}

// Tracking is the state handed from stage to stage.
type Tracking struct {
	Request      TrackedRequest
	Session      *models.Session
	SessionValid bool
	LookupErr    error
	Context      ActivityContext

	// Set by the caller before completion. Sensitive metadata keys are
	// redacted when the event is built.
	ResourceType *string
	ResourceID   *string
	Metadata     map[string]any
}

// Stage transforms the tracking state. A returned error stops the chain.
type Stage func(ctx context.Context, t *Tracking) (*Tracking, error)

// Pipeline is the Activity Pipeline.
type Pipeline struct {
	sessions   SessionLookup
	recorder   EventRecorder
	classifier Classifier
	logger     *logging.Logger
	now        func() time.Time
	async      bool
	stages     []Stage
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithAsyncCompletion runs the completion stage in its own goroutine.
// Events may be lost if the process exits before it finishes.
func WithAsyncCompletion(async bool) Option {
	return func(p *Pipeline) { p.async = async }
}

func WithAdminPrefix(prefix string) Option {
	return func(p *Pipeline) { p.classifier = NewClassifier(prefix) }
}

func New(sessions SessionLookup, recorder EventRecorder, logger *logging.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		sessions:   sessions,
		recorder:   recorder,
		classifier: NewClassifier("/admin"),
		logger:     logging.OrDefault(logger).Component("pipeline"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.stages = []Stage{p.validateSession, p.extractContext}
	return p
}

// Begin runs the pre-action stages. The only error it returns is an
// authorization failure for routes that require an active session.
func (p *Pipeline) Begin(ctx context.Context, req TrackedRequest) (*Tracking, error) {
	t := &Tracking{Request: req}
	for _, stage := range p.stages {
		var err error
		if t, err = stage(ctx, t); err != nil {
			return t, err
		}
	}
	return t, nil
}

// Complete records the outcome of the tracked action. It never fails and
// never panics; problems are logged.
func (p *Pipeline) Complete(ctx context.Context, t *Tracking, status int, actionErr error) {
	if t == nil {
		return
	}
	end := p.now()
	if !p.async {
		p.complete(ctx, t, status, actionErr, end)
		return
	}
	go p.complete(context.WithoutCancel(ctx), t, status, actionErr, end)
}

// Track wraps action with the full pipeline and returns exactly what
// action returned.
func Track[T any](ctx context.Context, p *Pipeline, req TrackedRequest, action func(context.Context) (T, error)) (T, error) {
	t, err := p.Begin(ctx, req)
	if err != nil {
		p.Complete(ctx, t, models.HTTPStatus(err), err)
		var zero T
		return zero, err
	}

	result, actionErr := action(ctx)
	p.Complete(ctx, t, models.HTTPStatus(actionErr), actionErr)
	return result, actionErr
}

func (p *Pipeline) validateSession(ctx context.Context, t *Tracking) (*Tracking, error) {
	req := t.Request
	if req.SessionToken != "" {
		session, err := p.sessions.FindByToken(ctx, req.SessionToken)
		switch {
		case err != nil && !errors.Is(err, models.ErrNotFound):
			t.LookupErr = err
			p.logger.WarnContext(ctx, "session lookup failed", logging.PrincipalID(req.PrincipalID), logging.Error(err))
		case err == nil:
			t.Session = session
			t.SessionValid = p.sessions.IsValid(session) &&
				(req.PrincipalID == "" || session.PrincipalID == req.PrincipalID)
		}
	}

	if req.RequireActiveSession && !t.SessionValid {
		return t, models.ErrSessionInvalid
	}
	return t, nil
}

func (p *Pipeline) extractContext(ctx context.Context, t *Tracking) (*Tracking, error) {
	ac := ActivityContext{
		PrincipalID: t.Request.PrincipalID,
		IPAddress:   httputil.ClientIP(t.Request.Header, t.Request.RemoteAddr),
		UserAgent:   t.Request.Header.Get("User-Agent"),
		StartedAt:   p.now(),
	}
	if t.Session != nil {
		ac.SessionID = t.Session.ID
		if ac.PrincipalID == "" {
			ac.PrincipalID = t.Session.PrincipalID
		}
	}
	t.Context = ac
	return t, nil
}

func (p *Pipeline) complete(ctx context.Context, t *Tracking, status int, actionErr error, end time.Time) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "activity tracking panicked", "panic", fmt.Sprint(r), logging.Path(t.Request.Path))
		}
	}()

	// A rejected request never reached extraction.
	if t.Context.StartedAt.IsZero() {
		t, _ = p.extractContext(ctx, t)
	}

	if t.SessionValid {
		p.sessions.UpdateLastActivity(ctx, t.Request.SessionToken)
	}

	event := p.buildEvent(t, status, actionErr, end)
	if event == nil {
		p.logger.DebugContext(ctx, "skipping anonymous request", logging.Method(t.Request.Method), logging.Path(t.Request.Path))
		return
	}

	metrics.TrackedRequestDuration.WithLabelValues(string(event.ActivityType)).Observe(end.Sub(t.Context.StartedAt).Seconds())

	if _, err := p.recorder.Log(ctx, event); err != nil {
		p.logger.WarnContext(ctx, "failed to record activity",
			logging.PrincipalID(event.PrincipalID),
			logging.ActivityType(string(event.ActivityType)),
			logging.Error(err))
	}
}

func (p *Pipeline) buildEvent(t *Tracking, status int, actionErr error, end time.Time) *models.ActivityEvent {
	ac := t.Context
	if ac.PrincipalID == "" {
		return nil
	}

	cl := p.classifier.Classify(t.Request.Method, t.Request.Path, t.Request.Action)

	metadata := sanitize.Metadata(t.Metadata)
	if metadata == nil {
		metadata = make(map[string]any, 2)
	}
	metadata["sessionValid"] = t.SessionValid
	if cl.AdminPanel {
		metadata["adminPanel"] = true
	}

	duration := end.Sub(ac.StartedAt)
	if duration < 0 {
		duration = 0
	}

	event := &models.ActivityEvent{
		PrincipalID:    ac.PrincipalID,
		ActivityType:   cl.Type,
		Description:    cl.Description,
		ResourceType:   t.ResourceType,
		ResourceID:     t.ResourceID,
		IPAddress:      ac.IPAddress,
		UserAgent:      ac.UserAgent,
		RequestPath:    t.Request.Path,
		RequestMethod:  t.Request.Method,
		ResponseStatus: status,
		DurationMs:     duration.Milliseconds(),
		Metadata:       metadata,
		IsSuccessful:   actionErr == nil && status < http.StatusBadRequest,
	}
	if ac.SessionID != "" {
		id := ac.SessionID
		event.SessionID = &id
	}

	switch {
	case actionErr != nil:
		msg := actionErr.Error()
		event.ErrorMessage = &msg
	case status >= http.StatusBadRequest:
		msg := http.StatusText(status)
		event.ErrorMessage = &msg
	}
	return event
}
