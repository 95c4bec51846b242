package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
)

// runContract exercises behaviour both backends must share.
func runContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("session token uniqueness", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)

		require.NoError(t, repo.CreateSession(ctx, newSession("p1", "tok-unique", now)))
		err := repo.CreateSession(ctx, newSession("p2", "tok-unique", now))
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("terminate is idempotent and sets logout", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, repo.CreateSession(ctx, newSession("p1", "T1", now)))

		changed, err := repo.TerminateSession(ctx, "T1", models.SessionLoggedOut, now.Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, changed)

		s, err := repo.GetSessionByToken(ctx, "T1")
		require.NoError(t, err)
		assert.Equal(t, models.SessionLoggedOut, s.Status)
		require.NotNil(t, s.LogoutAt)
		firstLogout := *s.LogoutAt

		changed, err = repo.TerminateSession(ctx, "T1", models.SessionTerminated, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.False(t, changed)

		s, err = repo.GetSessionByToken(ctx, "T1")
		require.NoError(t, err)
		assert.Equal(t, models.SessionLoggedOut, s.Status)
		assert.True(t, firstLogout.Equal(*s.LogoutAt))

		_, err = repo.TerminateSession(ctx, "missing", models.SessionLoggedOut, now)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("terminate all except current", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)
		for _, tok := range []string{"a", "b", "c"} {
			require.NoError(t, repo.CreateSession(ctx, newSession("p1", tok, now)))
		}
		require.NoError(t, repo.CreateSession(ctx, newSession("p2", "other", now)))

		n, err := repo.TerminatePrincipalSessions(ctx, "p1", "b", now)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		active, err := repo.ListSessionsByPrincipal(ctx, "p1", true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "b", active[0].SessionToken)

		other, err := repo.GetSessionByToken(ctx, "other")
		require.NoError(t, err)
		assert.Equal(t, models.SessionActive, other.Status)
	})

	t.Run("expire sweep only touches expired active sessions", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)

		expired := newSession("p1", "old", now.Add(-2*time.Hour))
		expired.ExpiresAt = now.Add(-time.Hour)
		live := newSession("p1", "live", now)
		require.NoError(t, repo.CreateSession(ctx, expired))
		require.NoError(t, repo.CreateSession(ctx, live))

		n, err := repo.ExpireSessions(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		s, err := repo.GetSessionByToken(ctx, "old")
		require.NoError(t, err)
		assert.Equal(t, models.SessionExpired, s.Status)
		assert.NotNil(t, s.LogoutAt)

		n, err = repo.ExpireSessions(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("metadata merge and touch", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, repo.CreateSession(ctx, newSession("p1", "m", now)))

		require.NoError(t, repo.MergeSessionMetadata(ctx, "m", map[string]string{models.MetaIsImpersonating: "true"}))
		require.NoError(t, repo.TouchSession(ctx, "m", now.Add(5*time.Minute)))

		s, err := repo.GetSessionByToken(ctx, "m")
		require.NoError(t, err)
		assert.True(t, s.IsImpersonation())
		assert.True(t, s.LastActivityAt.Equal(now.Add(5*time.Minute)))

		assert.ErrorIs(t, repo.MergeSessionMetadata(ctx, "missing", map[string]string{"a": "b"}), models.ErrNotFound)
	})

	t.Run("currently active window is inclusive", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)
		since := now.Add(-15 * time.Minute)

		for i, ago := range []time.Duration{20 * time.Minute, 5 * time.Minute, 15 * time.Minute} {
			s := newSession(fmt.Sprintf("p%d", i), fmt.Sprintf("w%d", i), now.Add(-time.Hour))
			s.LastActivityAt = now.Add(-ago)
			require.NoError(t, repo.CreateSession(ctx, s))
		}

		n, err := repo.CountActivePrincipalsSince(ctx, since)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("activity query newest first with paging", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

		var events []*models.ActivityEvent
		for i := 0; i < 5; i++ {
			events = append(events, newEvent("p1", models.ActivityView, base.Add(time.Duration(i)*time.Minute)))
		}
		events = append(events, newEvent("p2", models.ActivityLogin, base))
		require.NoError(t, repo.InsertEvents(ctx, events))

		page, err := repo.QueryEvents(ctx, models.ActivityFilter{PrincipalID: "p1", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		require.Len(t, page.Items, 2)
		assert.True(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt))
		assert.True(t, page.Items[0].CreatedAt.Equal(base.Add(4*time.Minute)))

		page, err = repo.QueryEvents(ctx, models.ActivityFilter{ActivityType: models.ActivityLogin})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)

		page, err = repo.QueryEvents(ctx, models.ActivityFilter{Start: base.Add(time.Minute), End: base.Add(3 * time.Minute)})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
	})

	t.Run("activity stats buckets in UTC", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

		require.NoError(t, repo.InsertEvent(ctx, newEvent("p1", models.ActivityLogin, day.Add(9*time.Hour))))
		require.NoError(t, repo.InsertEvent(ctx, newEvent("p1", models.ActivityView, day.Add(9*time.Hour+30*time.Minute))))
		failed := newEvent("p2", models.ActivityCreate, day.Add(26*time.Hour))
		failed.IsSuccessful = false
		require.NoError(t, repo.InsertEvent(ctx, failed))
		require.NoError(t, repo.InsertEvent(ctx, newEvent("p3", models.ActivityView, day.Add(72*time.Hour))))

		stats, err := repo.ActivityStats(ctx, models.TimeRange{Start: day, End: day.Add(48 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.Total)
		assert.Equal(t, int64(2), stats.ByHour[9])
		assert.Equal(t, int64(1), stats.ByHour[2])
		assert.Equal(t, int64(2), stats.ByDay["2024-05-01"])
		assert.Equal(t, int64(1), stats.ByDay["2024-05-02"])
		assert.Equal(t, int64(1), stats.ByType[models.ActivityView])
		assert.Equal(t, int64(1), stats.Failures)

		n, err := repo.DeleteEventsBefore(ctx, day.Add(48*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("one active impersonation per admin", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)

		require.NoError(t, repo.CreateImpersonation(ctx, newImpersonation("admin", "u1", "imp-1", now)))

		err := repo.CreateImpersonation(ctx, newImpersonation("admin", "u2", "imp-2", now))
		assert.ErrorIs(t, err, models.ErrImpersonationActive)
		assert.ErrorIs(t, err, models.ErrConflict)

		err = repo.CreateImpersonation(ctx, newImpersonation("admin-2", "u2", "imp-1", now))
		assert.ErrorIs(t, err, models.ErrConflict)

		active, err := repo.GetActiveImpersonation(ctx, "admin")
		require.NoError(t, err)
		changed, err := repo.FinishImpersonation(ctx, active.ID, models.ImpersonationEnded, now)
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = repo.FinishImpersonation(ctx, active.ID, models.ImpersonationEnded, now)
		require.NoError(t, err)
		assert.False(t, changed)

		require.NoError(t, repo.CreateImpersonation(ctx, newImpersonation("admin", "u2", "imp-3", now)))
	})

	t.Run("concurrent impersonation inserts admit one", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)

		var wg sync.WaitGroup
		var mu sync.Mutex
		var successes, conflicts int
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := repo.CreateImpersonation(ctx, newImpersonation("racer", "u", fmt.Sprintf("race-%d", i), now))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, models.ErrImpersonationActive):
					conflicts++
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, 7, conflicts)
	})

	t.Run("expire impersonations returns transitioned rows", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Microsecond)

		require.NoError(t, repo.CreateImpersonation(ctx, newImpersonation("a1", "u1", "old", now.Add(-25*time.Hour))))
		require.NoError(t, repo.CreateImpersonation(ctx, newImpersonation("a2", "u2", "new", now.Add(-time.Hour))))

		expired, err := repo.ExpireImpersonations(ctx, now.Add(-24*time.Hour), now)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "old", expired[0].SessionToken)
		assert.Equal(t, models.ImpersonationExpired, expired[0].Status)
		assert.NotNil(t, expired[0].EndedAt)

		page, err := repo.ListImpersonations(ctx, models.ImpersonationFilter{Status: models.ImpersonationActive})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("principal directory", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		_, err := repo.GetPrincipal(ctx, "nobody")
		assert.ErrorIs(t, err, models.ErrNotFound)

		require.NoError(t, repo.UpsertPrincipal(ctx, &models.Principal{ID: "p1", Email: "a@x.io", Role: models.RoleUser}))
		require.NoError(t, repo.UpsertPrincipal(ctx, &models.Principal{ID: "p1", Email: "a@x.io", Role: models.RoleAdmin}))

		p, err := repo.GetPrincipal(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, p.Role)
	})
}

func newSession(principalID, token string, loginAt time.Time) *models.Session {
	return &models.Session{
		ID:             uuid.Must(uuid.NewV7()).String(),
		PrincipalID:    principalID,
		SessionToken:   token,
		Status:         models.SessionActive,
		DeviceType:     "desktop",
		Browser:        "Firefox",
		OS:             "Linux",
		IPAddress:      "10.0.0.1",
		LoginAt:        loginAt,
		LastActivityAt: loginAt,
		ExpiresAt:      loginAt.Add(24 * time.Hour),
		Metadata:       map[string]string{},
	}
}

func newEvent(principalID string, typ models.ActivityType, at time.Time) *models.ActivityEvent {
	return &models.ActivityEvent{
		ID:           uuid.Must(uuid.NewV7()).String(),
		PrincipalID:  principalID,
		ActivityType: typ,
		Description:  string(typ),
		IsSuccessful: true,
		Metadata:     map[string]any{"k": "v"},
		CreatedAt:    at,
	}
}

func newImpersonation(adminID, targetID, token string, startedAt time.Time) *models.ImpersonationLog {
	return &models.ImpersonationLog{
		ID:                      uuid.Must(uuid.NewV7()).String(),
		AdminPrincipalID:        adminID,
		ImpersonatedPrincipalID: targetID,
		StartedAt:               startedAt,
		SessionToken:            token,
		Status:                  models.ImpersonationActive,
	}
}
