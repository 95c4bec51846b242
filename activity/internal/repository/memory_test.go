package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
)

func TestInMemoryRepository_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Repository {
		return NewInMemoryRepository()
	})
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, repo.CreateSession(ctx, newSession("p1", "copy", now)))

	s, err := repo.GetSessionByToken(ctx, "copy")
	require.NoError(t, err)
	s.Status = models.SessionTerminated
	s.Metadata["x"] = "y"

	again, err := repo.GetSessionByToken(ctx, "copy")
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, again.Status)
	assert.NotContains(t, again.Metadata, "x")
}

func TestInMemoryRepository_RefreshTokenLookup(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	s := newSession("p1", "access", time.Now())
	rt := "refresh-1"
	s.RefreshToken = &rt
	require.NoError(t, repo.CreateSession(ctx, s))

	got, err := repo.GetSessionByRefreshToken(ctx, "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "access", got.SessionToken)

	_, err = repo.GetSessionByRefreshToken(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestInMemoryRepository_SessionRetention(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.CreateSession(ctx, newSession("p1", "ended", now.Add(-40*24*time.Hour))))
	require.NoError(t, repo.CreateSession(ctx, newSession("p1", "active-old", now.Add(-40*24*time.Hour))))
	_, err := repo.TerminateSession(ctx, "ended", models.SessionLoggedOut, now.Add(-39*24*time.Hour))
	require.NoError(t, err)

	n, err := repo.DeleteSessionsBefore(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetSessionByToken(ctx, "active-old")
	assert.NoError(t, err)
}

func TestInMemoryRepository_SessionStats(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	login := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	open := newSession("p1", "s1", login)
	open.LastActivityAt = login.Add(10 * time.Minute)
	closed := newSession("p2", "s2", login)
	closed.Browser = "Chrome"
	closed.DeviceType = "mobile"
	require.NoError(t, repo.CreateSession(ctx, open))
	require.NoError(t, repo.CreateSession(ctx, closed))
	_, err := repo.TerminateSession(ctx, "s2", models.SessionLoggedOut, login.Add(30*time.Minute))
	require.NoError(t, err)

	stats, err := repo.SessionStats(ctx, models.TimeRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Active)
	assert.InDelta(t, 20*60, stats.AverageDurationSeconds, 0.001)
	assert.Equal(t, int64(1), stats.ByBrowser["Chrome"])
	assert.Equal(t, int64(1), stats.ByDeviceType["desktop"])
}
