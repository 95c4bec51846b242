package impersonation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/recorder"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/repository"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/sessions"
	"github.com/telhawk-systems/telhawk-activity/activity/pkg/tokens"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
	"github.com/telhawk-systems/telhawk-activity/common/messaging"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

var (
	superAdmin = &models.Principal{ID: "root", Email: "root@telhawk.local", Role: models.RoleSuperAdmin}
	otherSuper = &models.Principal{ID: "root-2", Email: "root2@telhawk.local", Role: models.RoleSuperAdmin}
	plainAdmin = &models.Principal{ID: "admin-1", Email: "admin@telhawk.local", Role: models.RoleAdmin}
	alice      = &models.Principal{ID: "alice", Email: "alice@example.com", Role: models.RoleUser}
	bob        = &models.Principal{ID: "bob", Email: "bob@example.com", Role: models.RoleUser}
)

type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *capturePublisher) Publish(ctx context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *capturePublisher) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	return p.Publish(ctx, msg.Subject, msg.Data)
}

func (p *capturePublisher) Close() error { return nil }

type fixture struct {
	repo       *repository.InMemoryRepository
	store      *sessions.Store
	issuer     *tokens.TokenGenerator
	publisher  *capturePublisher
	controller *Controller
	now        time.Time
}

func newFixture(t *testing.T, sessionOverride SessionManager) *fixture {
	t.Helper()
	f := &fixture{repo: repository.NewInMemoryRepository(), now: epoch, publisher: &capturePublisher{}}
	clock := func() time.Time { return f.now }

	ctx := context.Background()
	for _, p := range []*models.Principal{superAdmin, otherSuper, plainAdmin, alice, bob} {
		require.NoError(t, f.repo.UpsertPrincipal(ctx, p))
	}

	f.store = sessions.NewStore(f.repo, logging.Discard(), sessions.WithClock(clock))
	f.issuer = tokens.NewTokenGenerator("test-secret", time.Hour).WithClock(clock)
	rec := recorder.New(f.repo, logging.Discard(), recorder.WithClock(clock))

	var sm SessionManager = f.store
	if sessionOverride != nil {
		sm = sessionOverride
	}
	f.controller = NewController(f.repo, f.repo, sm, f.issuer, rec, logging.Discard(),
		WithClock(clock), WithPublisher(f.publisher))
	return f
}

func (f *fixture) start(t *testing.T, admin *models.Principal, target string) *StartResult {
	t.Helper()
	res, err := f.controller.Start(context.Background(), admin, models.StartImpersonationRequest{
		TargetPrincipalID: target,
		Reason:            "support ticket 42",
		IPAddress:         "203.0.113.1",
		UserAgent:         "Mozilla/5.0",
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) eventsOfType(t *testing.T, typ models.ActivityType) []*models.ActivityEvent {
	t.Helper()
	page, err := f.repo.QueryEvents(context.Background(), models.ActivityFilter{ActivityType: typ})
	require.NoError(t, err)
	return page.Items
}

func TestStart_Success(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.start(t, superAdmin, "alice")
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.NotEmpty(t, res.ImpersonationLogID)
	assert.Equal(t, epoch.Add(DefaultMaxDuration), res.ExpiresAt)

	claims, err := f.issuer.ValidateAccessToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.PrincipalID())
	assert.Equal(t, "root", claims.Act)
	assert.Equal(t, res.SessionToken, claims.SessionID)

	entry, err := f.controller.ActiveFor(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, res.ImpersonationLogID, entry.ID)
	assert.Equal(t, "alice", entry.ImpersonatedPrincipalID)
	require.NotNil(t, entry.Reason)
	assert.Equal(t, "support ticket 42", *entry.Reason)

	session, err := f.store.FindByToken(ctx, res.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", session.PrincipalID)
	assert.True(t, session.IsImpersonation())
	assert.Equal(t, "root", session.Metadata[models.MetaOriginalAdminID])
	assert.Equal(t, res.ImpersonationLogID, session.Metadata[models.MetaImpersonationID])

	events := f.eventsOfType(t, models.ActivityImpersonationStart)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].PrincipalID)
	assert.Equal(t, "Started impersonating alice@example.com", events[0].Description)
	assert.Equal(t, "root", events[0].Metadata["adminPrincipalId"])
	assert.Equal(t, "alice", events[0].Metadata["targetPrincipalId"])
	assert.Equal(t, "support ticket 42", events[0].Metadata["reason"])

	assert.Equal(t, []string{messaging.SubjectImpersonationStarted}, f.publisher.subjects)
}

func TestStart_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t, otherSuper, "bob")

	tests := []struct {
		name    string
		admin   *models.Principal
		target  string
		wantErr error
		kind    error
	}{
		{"plain admin", plainAdmin, "alice", models.ErrNotSuperAdmin, models.ErrAuthorization},
		{"nil admin", nil, "alice", models.ErrNotSuperAdmin, models.ErrAuthorization},
		{"missing target", superAdmin, "", models.ErrMissingTarget, models.ErrValidation},
		{"self", superAdmin, "root", models.ErrSelfImpersonation, models.ErrValidation},
		{"unknown target", superAdmin, "nobody", models.ErrPrincipalNotFound, models.ErrNotFound},
		{"super admin target", superAdmin, "root-2", models.ErrTargetSuperAdmin, models.ErrForbidden},
		{"already impersonating", otherSuper, "alice", models.ErrImpersonationActive, models.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.controller.Start(context.Background(), tt.admin, models.StartImpersonationRequest{TargetPrincipalID: tt.target})
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestStart_ConcurrentAdmitsOne(t *testing.T) {
	f := newFixture(t, nil)

	var wg sync.WaitGroup
	var ok, conflict atomic.Int32
	for _, target := range []string{"alice", "bob", "alice", "bob", "alice", "bob"} {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			_, err := f.controller.Start(context.Background(), superAdmin, models.StartImpersonationRequest{TargetPrincipalID: target})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, models.ErrConflict):
				conflict.Add(1)
			}
		}(target)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(5), conflict.Load())
	assert.Zero(t, f.controller.locks.size())
}

type failingSessions struct{}

func (failingSessions) CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	return nil, errors.New("session store down")
}

func (failingSessions) Terminate(ctx context.Context, token string, status models.SessionStatus) error {
	return nil
}

func TestStart_SessionFailureClosesLog(t *testing.T) {
	f := newFixture(t, failingSessions{})
	ctx := context.Background()

	_, err := f.controller.Start(ctx, superAdmin, models.StartImpersonationRequest{TargetPrincipalID: "alice"})
	require.Error(t, err)

	_, err = f.controller.ActiveFor(ctx, "root")
	assert.ErrorIs(t, err, models.ErrNotFound)

	history, err := f.controller.History(ctx, models.ImpersonationFilter{AdminPrincipalID: "root"})
	require.NoError(t, err)
	require.Len(t, history.Items, 1)
	assert.Equal(t, models.ImpersonationEnded, history.Items[0].Status)
	assert.Empty(t, f.eventsOfType(t, models.ActivityImpersonationStart))
}

func TestEnd(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.start(t, superAdmin, "alice")
	f.now = f.now.Add(90 * time.Minute)

	require.NoError(t, f.controller.End(ctx, res.SessionToken, models.EndImpersonationRequest{IPAddress: "203.0.113.1"}))

	history, err := f.controller.History(ctx, models.ImpersonationFilter{})
	require.NoError(t, err)
	require.Len(t, history.Items, 1)
	entry := history.Items[0]
	assert.Equal(t, models.ImpersonationEnded, entry.Status)
	require.NotNil(t, entry.EndedAt)
	assert.Equal(t, f.now, *entry.EndedAt)

	session, err := f.store.FindByToken(ctx, res.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, models.SessionTerminated, session.Status)

	events := f.eventsOfType(t, models.ActivityImpersonationEnd)
	require.Len(t, events, 1)
	assert.Equal(t, int64(90), events[0].Metadata["durationMinutes"])

	// Idempotent on an ended log.
	f.now = f.now.Add(time.Minute)
	require.NoError(t, f.controller.End(ctx, res.SessionToken, models.EndImpersonationRequest{}))
	again, err := f.controller.History(ctx, models.ImpersonationFilter{})
	require.NoError(t, err)
	assert.Equal(t, entry.EndedAt, again.Items[0].EndedAt)
	assert.Len(t, f.eventsOfType(t, models.ActivityImpersonationEnd), 1)

	// The admin may start again.
	f.start(t, superAdmin, "bob")
}

func TestEnd_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	err := f.controller.End(context.Background(), "no-such-token", models.EndImpersonationRequest{})
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = f.controller.End(context.Background(), "", models.EndImpersonationRequest{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	stale := f.start(t, superAdmin, "alice")
	f.now = f.now.Add(23 * time.Hour)
	fresh := f.start(t, otherSuper, "bob")

	f.now = epoch.Add(25 * time.Hour)
	n, err := f.controller.CleanupExpired(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.controller.ActiveFor(ctx, "root")
	assert.ErrorIs(t, err, models.ErrNotFound)
	active, err := f.controller.ActiveFor(ctx, "root-2")
	require.NoError(t, err)
	assert.Equal(t, fresh.ImpersonationLogID, active.ID)

	expired, err := f.controller.History(ctx, models.ImpersonationFilter{Status: models.ImpersonationExpired})
	require.NoError(t, err)
	require.Len(t, expired.Items, 1)
	assert.Equal(t, stale.ImpersonationLogID, expired.Items[0].ID)

	session, err := f.store.FindByToken(ctx, stale.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, models.SessionTerminated, session.Status)

	n, err = f.controller.CleanupExpired(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	// End on an expired log is a no-op.
	require.NoError(t, f.controller.End(ctx, stale.SessionToken, models.EndImpersonationRequest{}))
}

func TestCleanupExpired_CustomDuration(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t, superAdmin, "alice")
	f.now = f.now.Add(2 * time.Hour)

	n, err := f.controller.CleanupExpired(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestKeyedMutex_Serializes(t *testing.T) {
	km := newKeyedMutex()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("admin")
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Zero(t, km.size())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	km := newKeyedMutex()
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}
