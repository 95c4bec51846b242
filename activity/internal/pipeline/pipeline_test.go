package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/recorder"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/repository"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/sanitize"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/sessions"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	repo     *repository.InMemoryRepository
	store    *sessions.Store
	pipeline *Pipeline
	now      time.Time
}

func newHarness(t *testing.T, rec EventRecorder) *harness {
	t.Helper()
	h := &harness{repo: repository.NewInMemoryRepository(), now: epoch}
	clock := func() time.Time { return h.now }

	h.store = sessions.NewStore(h.repo, logging.Discard(), sessions.WithClock(clock))
	if rec == nil {
		rec = recorder.New(h.repo, logging.Discard(), recorder.WithClock(clock))
	}
	h.pipeline = New(h.store, rec, logging.Discard(), WithClock(clock))
	return h
}

func (h *harness) session(t *testing.T, principalID, token string) *models.Session {
	t.Helper()
	s, err := h.store.CreateSession(context.Background(), models.CreateSessionRequest{
		PrincipalID:  principalID,
		SessionToken: token,
		ExpiresAt:    h.now.Add(time.Hour),
	})
	require.NoError(t, err)
	return s
}

func (h *harness) events(t *testing.T) []*models.ActivityEvent {
	t.Helper()
	page, err := h.repo.QueryEvents(context.Background(), models.ActivityFilter{})
	require.NoError(t, err)
	return page.Items
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Log(ctx context.Context, e *models.ActivityEvent) (*models.ActivityEvent, error) {
	f.calls++
	return nil, errors.New("database unavailable")
}

type capturingRecorder struct{ events []*models.ActivityEvent }

func (c *capturingRecorder) Log(ctx context.Context, e *models.ActivityEvent) (*models.ActivityEvent, error) {
	c.events = append(c.events, e)
	return e, nil
}

type panickingRecorder struct{}

func (panickingRecorder) Log(ctx context.Context, e *models.ActivityEvent) (*models.ActivityEvent, error) {
	panic("recorder exploded")
}

func TestTrack_RecordsSuccess(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.session(t, "user-1", "tok-1")

	header := http.Header{}
	header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	header.Set("User-Agent", "curl/8.4.0")

	got, err := Track(context.Background(), h.pipeline, TrackedRequest{
		PrincipalID:  "user-1",
		SessionToken: "tok-1",
		Method:       http.MethodPost,
		Path:         "/api/v1/reports",
		Header:       header,
	}, func(ctx context.Context) (string, error) {
		h.now = h.now.Add(250 * time.Millisecond)
		return "created", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "created", got)

	events := h.events(t)
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, models.ActivityCreate, e.ActivityType)
	assert.Equal(t, "203.0.113.5", e.IPAddress)
	assert.Equal(t, "curl/8.4.0", e.UserAgent)
	assert.Equal(t, int64(250), e.DurationMs)
	assert.Equal(t, http.StatusOK, e.ResponseStatus)
	assert.True(t, e.IsSuccessful)
	require.NotNil(t, e.SessionID)
	assert.Equal(t, sess.ID, *e.SessionID)
	assert.Equal(t, true, e.Metadata["sessionValid"])

	touched, err := h.store.FindByToken(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(250*time.Millisecond), touched.LastActivityAt)
}

func TestTrack_RecordsFailureAndReturnsOriginalError(t *testing.T) {
	h := newHarness(t, nil)
	h.session(t, "user-1", "tok-1")

	actionErr := errors.New("report not found")
	wrapped := errors.Join(actionErr, models.ErrNotFound)

	_, err := Track(context.Background(), h.pipeline, TrackedRequest{
		PrincipalID:  "user-1",
		SessionToken: "tok-1",
		Method:       http.MethodDelete,
		Path:         "/api/v1/reports/9",
	}, func(ctx context.Context) (int, error) {
		return 0, wrapped
	})
	assert.Same(t, wrapped, err)

	events := h.events(t)
	require.Len(t, events, 1)
	assert.False(t, events[0].IsSuccessful)
	assert.Equal(t, http.StatusNotFound, events[0].ResponseStatus)
	require.NotNil(t, events[0].ErrorMessage)
	assert.Contains(t, *events[0].ErrorMessage, "report not found")
}

func TestTrack_FailingRecorderDoesNotChangeOutcome(t *testing.T) {
	rec := &failingRecorder{}
	h := newHarness(t, rec)

	got, err := Track(context.Background(), h.pipeline, TrackedRequest{PrincipalID: "user-1", Method: "GET", Path: "/x"},
		func(ctx context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	actionErr := errors.New("boom")
	_, err = Track(context.Background(), h.pipeline, TrackedRequest{PrincipalID: "user-1", Method: "GET", Path: "/x"},
		func(ctx context.Context) (int, error) { return 0, actionErr })
	assert.Same(t, actionErr, err)
	assert.Equal(t, 2, rec.calls)
}

func TestTrack_PanickingRecorderIsContained(t *testing.T) {
	h := newHarness(t, panickingRecorder{})

	got, err := Track(context.Background(), h.pipeline, TrackedRequest{PrincipalID: "user-1", Method: "GET", Path: "/x"},
		func(ctx context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestTrack_RequireActiveSession(t *testing.T) {
	h := newHarness(t, nil)
	h.session(t, "user-1", "tok-1")
	require.NoError(t, h.store.Terminate(context.Background(), "tok-1", models.SessionLoggedOut))

	called := false
	_, err := Track(context.Background(), h.pipeline, TrackedRequest{
		PrincipalID:          "user-1",
		SessionToken:         "tok-1",
		Method:               "GET",
		Path:                 "/api/v1/sessions",
		RequireActiveSession: true,
	}, func(ctx context.Context) (bool, error) {
		called = true
		return true, nil
	})
	require.ErrorIs(t, err, models.ErrAuthorization)
	assert.False(t, called)

	events := h.events(t)
	require.Len(t, events, 1)
	assert.False(t, events[0].IsSuccessful)
	assert.Equal(t, http.StatusUnauthorized, events[0].ResponseStatus)
}

func TestTrack_InvalidSessionProceedsWhenNotRequired(t *testing.T) {
	h := newHarness(t, nil)

	got, err := Track(context.Background(), h.pipeline, TrackedRequest{
		PrincipalID:  "user-1",
		SessionToken: "missing",
		Method:       "GET",
		Path:         "/api/v1/reports",
	}, func(ctx context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	events := h.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, false, events[0].Metadata["sessionValid"])
	assert.Nil(t, events[0].SessionID)
}

func TestBegin_SessionOfAnotherPrincipalIsInvalid(t *testing.T) {
	h := newHarness(t, nil)
	h.session(t, "user-2", "tok-2")

	_, err := h.pipeline.Begin(context.Background(), TrackedRequest{
		PrincipalID:          "user-1",
		SessionToken:         "tok-2",
		RequireActiveSession: true,
	})
	assert.ErrorIs(t, err, models.ErrAuthorization)
}

func TestTrack_AnonymousIsNotRecorded(t *testing.T) {
	h := newHarness(t, nil)

	_, err := Track(context.Background(), h.pipeline, TrackedRequest{Method: "GET", Path: "/healthz"},
		func(ctx context.Context) (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.Empty(t, h.events(t))
}

func TestTrack_AdminPanelMetadata(t *testing.T) {
	h := newHarness(t, nil)

	_, err := Track(context.Background(), h.pipeline, TrackedRequest{PrincipalID: "admin-1", Method: "POST", Path: "/admin/login"},
		func(ctx context.Context) (bool, error) { return true, nil })
	require.NoError(t, err)

	events := h.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, models.ActivityLogin, events[0].ActivityType)
	assert.Equal(t, "Admin login", events[0].Description)
	assert.Equal(t, true, events[0].Metadata["adminPanel"])
}

func TestComplete_RedactsMetadataBeforeRecording(t *testing.T) {
	rec := &capturingRecorder{}
	h := newHarness(t, rec)
	ctx := context.Background()

	tr, err := h.pipeline.Begin(ctx, TrackedRequest{PrincipalID: "user-1", Method: "PUT", Path: "/api/v1/profile"})
	require.NoError(t, err)
	tr.Metadata = map[string]any{
		"password": "hunter2",
		"form":     map[string]any{"creditCard": "4111111111111111", "name": "Alice"},
		"field":    "email",
	}
	h.pipeline.Complete(ctx, tr, http.StatusOK, nil)

	require.Len(t, rec.events, 1)
	md := rec.events[0].Metadata
	assert.Equal(t, sanitize.Redacted, md["password"])
	assert.Equal(t, "email", md["field"])
	form, ok := md["form"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, sanitize.Redacted, form["creditCard"])
	assert.Equal(t, "Alice", form["name"])
	assert.True(t, sanitize.IsClean(md))
	assert.Equal(t, "hunter2", tr.Metadata["password"])
}

func TestExtractContext_UnknownIP(t *testing.T) {
	h := newHarness(t, nil)
	tr, err := h.pipeline.Begin(context.Background(), TrackedRequest{PrincipalID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "unknown", tr.Context.IPAddress)
	assert.Equal(t, epoch, tr.Context.StartedAt)
}

func identifyFromHeaders(r *http.Request) (string, string) {
	return r.Header.Get("X-Principal"), r.Header.Get("X-Session")
}

func TestMiddleware_CapturesStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.session(t, "user-1", "tok-1")

	handler := h.pipeline.Middleware(identifyFromHeaders, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/things", nil)
	req.Header.Set("X-Principal", "user-1")
	req.Header.Set("X-Session", "tok-1")
	req.RemoteAddr = "198.51.100.7:51234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	events := h.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, http.StatusConflict, events[0].ResponseStatus)
	assert.False(t, events[0].IsSuccessful)
	require.NotNil(t, events[0].ErrorMessage)
	assert.Equal(t, "Conflict", *events[0].ErrorMessage)
	assert.Equal(t, "198.51.100.7", events[0].IPAddress)
}

func TestMiddleware_ImplicitOK(t *testing.T) {
	h := newHarness(t, nil)

	handler := h.pipeline.Middleware(identifyFromHeaders, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hi"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/things", nil)
	req.Header.Set("X-Principal", "user-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	events := h.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, http.StatusOK, events[0].ResponseStatus)
	assert.True(t, events[0].IsSuccessful)
}

func TestMiddleware_RequireSessionRejects(t *testing.T) {
	h := newHarness(t, nil)

	called := false
	handler := h.pipeline.Middleware(identifyFromHeaders, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("X-Principal", "user-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)
}

func TestMiddleware_PanicIsRecordedAndRepanicked(t *testing.T) {
	h := newHarness(t, nil)

	handler := h.pipeline.Middleware(identifyFromHeaders, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler bug")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/things", nil)
	req.Header.Set("X-Principal", "user-1")

	assert.PanicsWithValue(t, "handler bug", func() {
		handler.ServeHTTP(httptest.NewRecorder(), req)
	})

	events := h.events(t)
	require.Len(t, events, 1)
	assert.False(t, events[0].IsSuccessful)
	assert.Equal(t, http.StatusInternalServerError, events[0].ResponseStatus)
	require.NotNil(t, events[0].ErrorMessage)
	assert.Equal(t, "panic: handler bug", *events[0].ErrorMessage)
}

func TestComplete_Async(t *testing.T) {
	repo := repository.NewInMemoryRepository()
	rec := recorder.New(repo, logging.Discard())
	store := sessions.NewStore(repo, logging.Discard())
	p := New(store, rec, logging.Discard(), WithAsyncCompletion(true))

	_, err := Track(context.Background(), p, TrackedRequest{PrincipalID: "user-1", Method: "GET", Path: "/x"},
		func(ctx context.Context) (bool, error) { return true, nil })
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		page, err := repo.QueryEvents(context.Background(), models.ActivityFilter{})
		return err == nil && page.Total == 1
	}, time.Second, 10*time.Millisecond)
}
