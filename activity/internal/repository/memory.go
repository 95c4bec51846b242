package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
)

type InMemoryRepository struct {
	sessions       map[string]*models.Session // by session token
	refreshTokens  map[string]string          // refresh token -> session token
	events         []*models.ActivityEvent
	impersonations map[string]*models.ImpersonationLog // by id
	impByToken     map[string]string                   // session token -> id
	principals     map[string]*models.Principal
	mu             sync.RWMutex
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		sessions:       make(map[string]*models.Session),
		refreshTokens:  make(map[string]string),
		impersonations: make(map[string]*models.ImpersonationLog),
		impByToken:     make(map[string]string),
		principals:     make(map[string]*models.Principal),
	}
}

func (r *InMemoryRepository) Ping(ctx context.Context) error { return nil }

func (r *InMemoryRepository) Close() {}

// =============================================================================
// SESSIONS
// =============================================================================

func (r *InMemoryRepository) CreateSession(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.SessionToken]; exists {
		return models.ErrSessionTokenExists
	}
	if session.RefreshToken != nil {
		if _, exists := r.refreshTokens[*session.RefreshToken]; exists {
			return models.ErrSessionTokenExists
		}
		r.refreshTokens[*session.RefreshToken] = session.SessionToken
	}

	r.sessions[session.SessionToken] = session.Clone()
	return nil
}

func (r *InMemoryRepository) GetSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[token]
	if !exists {
		return nil, models.ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (r *InMemoryRepository) GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	token, exists := r.refreshTokens[refreshToken]
	if !exists {
		return nil, models.ErrSessionNotFound
	}
	return r.sessions[token].Clone(), nil
}

func (r *InMemoryRepository) ListSessionsByPrincipal(ctx context.Context, principalID string, activeOnly bool) ([]*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Session
	for _, s := range r.sessions {
		if s.PrincipalID != principalID {
			continue
		}
		if activeOnly && s.Status != models.SessionActive {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoginAt.After(out[j].LoginAt) })
	return out, nil
}

func (r *InMemoryRepository) TouchSession(ctx context.Context, token string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[token]
	if !exists {
		return models.ErrSessionNotFound
	}
	if s.Status == models.SessionActive && at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	return nil
}

func (r *InMemoryRepository) TerminateSession(ctx context.Context, token string, status models.SessionStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[token]
	if !exists {
		return false, models.ErrSessionNotFound
	}
	if s.Status != models.SessionActive {
		return false, nil
	}
	end(s, status, at)
	return true, nil
}

func (r *InMemoryRepository) TerminatePrincipalSessions(ctx context.Context, principalID, exceptToken string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for token, s := range r.sessions {
		if s.PrincipalID != principalID || s.Status != models.SessionActive {
			continue
		}
		if exceptToken != "" && token == exceptToken {
			continue
		}
		end(s, models.SessionTerminated, at)
		n++
	}
	return n, nil
}

func (r *InMemoryRepository) MergeSessionMetadata(ctx context.Context, token string, kv map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[token]
	if !exists {
		return models.ErrSessionNotFound
	}
	if s.Metadata == nil {
		s.Metadata = make(map[string]string, len(kv))
	}
	for k, v := range kv {
		s.Metadata[k] = v
	}
	return nil
}

func (r *InMemoryRepository) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, s := range r.sessions {
		if s.Status == models.SessionActive && s.ExpiresAt.Before(now) {
			end(s, models.SessionExpired, s.ExpiresAt)
			n++
		}
	}
	return n, nil
}

func (r *InMemoryRepository) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for token, s := range r.sessions {
		if s.Status == models.SessionActive || s.LogoutAt == nil || !s.LogoutAt.Before(cutoff) {
			continue
		}
		if s.RefreshToken != nil {
			delete(r.refreshTokens, *s.RefreshToken)
		}
		delete(r.sessions, token)
		n++
	}
	return n, nil
}

func (r *InMemoryRepository) CountActivePrincipalsSince(ctx context.Context, since time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, s := range r.sessions {
		if s.Status == models.SessionActive && !s.LastActivityAt.Before(since) {
			seen[s.PrincipalID] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

func (r *InMemoryRepository) SessionStats(ctx context.Context, tr models.TimeRange) (*models.SessionStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &models.SessionStats{
		ByDeviceType: make(map[string]int64),
		ByBrowser:    make(map[string]int64),
	}
	var totalDuration time.Duration
	for _, s := range r.sessions {
		if !tr.Contains(s.LoginAt) {
			continue
		}
		stats.Total++
		if s.Status == models.SessionActive {
			stats.Active++
		}
		totalDuration += s.Duration()
		stats.ByDeviceType[s.DeviceType]++
		stats.ByBrowser[s.Browser]++
	}
	if stats.Total > 0 {
		stats.AverageDurationSeconds = totalDuration.Seconds() / float64(stats.Total)
	}
	return stats, nil
}

func end(s *models.Session, status models.SessionStatus, at time.Time) {
	s.Status = status
	logout := at
	s.LogoutAt = &logout
}

// =============================================================================
// ACTIVITY EVENTS (append-only)
// =============================================================================

func (r *InMemoryRepository) InsertEvent(ctx context.Context, event *models.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, cloneEvent(event))
	return nil
}

func (r *InMemoryRepository) InsertEvents(ctx context.Context, events []*models.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range events {
		r.events = append(r.events, cloneEvent(e))
	}
	return nil
}

func (r *InMemoryRepository) QueryEvents(ctx context.Context, filter models.ActivityFilter) (*models.Page[*models.ActivityEvent], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tr := models.TimeRange{Start: filter.Start, End: filter.End}
	var matched []*models.ActivityEvent
	for _, e := range r.events {
		if filter.PrincipalID != "" && e.PrincipalID != filter.PrincipalID {
			continue
		}
		if filter.ActivityType != "" && e.ActivityType != filter.ActivityType {
			continue
		}
		if !tr.Contains(e.CreatedAt) {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	page := &models.Page[*models.ActivityEvent]{Total: len(matched), Items: []*models.ActivityEvent{}}
	for i := offset; i < len(matched) && i < offset+limit; i++ {
		page.Items = append(page.Items, cloneEvent(matched[i]))
	}
	return page, nil
}

func (r *InMemoryRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	var n int64
	for _, e := range r.events {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return n, nil
}

func (r *InMemoryRepository) CountPrincipalsWithActivitySince(ctx context.Context, since time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, e := range r.events {
		if !e.CreatedAt.Before(since) {
			seen[e.PrincipalID] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

func (r *InMemoryRepository) ActivityStats(ctx context.Context, tr models.TimeRange) (*models.ActivityStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &models.ActivityStats{
		ByType: make(map[models.ActivityType]int64),
		ByDay:  make(map[string]int64),
	}
	for _, e := range r.events {
		if !tr.Contains(e.CreatedAt) {
			continue
		}
		stats.Total++
		stats.ByType[e.ActivityType]++
		stats.ByHour[e.CreatedAt.UTC().Hour()]++
		stats.ByDay[models.DayKey(e.CreatedAt)]++
		if e.IsSuccessful {
			stats.Successes++
		} else {
			stats.Failures++
		}
	}
	return stats, nil
}

func cloneEvent(e *models.ActivityEvent) *models.ActivityEvent {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// =============================================================================
// IMPERSONATION LOGS
// =============================================================================

func (r *InMemoryRepository) CreateImpersonation(ctx context.Context, log *models.ImpersonationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.impByToken[log.SessionToken]; exists {
		return models.ErrImpersonationToken
	}
	if log.Status == models.ImpersonationActive {
		for _, existing := range r.impersonations {
			if existing.AdminPrincipalID == log.AdminPrincipalID && existing.Status == models.ImpersonationActive {
				return models.ErrImpersonationActive
			}
		}
	}

	r.impersonations[log.ID] = log.Clone()
	r.impByToken[log.SessionToken] = log.ID
	return nil
}

func (r *InMemoryRepository) GetImpersonationByToken(ctx context.Context, token string) (*models.ImpersonationLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.impByToken[token]
	if !exists {
		return nil, models.ErrImpersonationNotFound
	}
	return r.impersonations[id].Clone(), nil
}

func (r *InMemoryRepository) GetActiveImpersonation(ctx context.Context, adminID string) (*models.ImpersonationLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, l := range r.impersonations {
		if l.AdminPrincipalID == adminID && l.Status == models.ImpersonationActive {
			return l.Clone(), nil
		}
	}
	return nil, models.ErrImpersonationNotFound
}

func (r *InMemoryRepository) FinishImpersonation(ctx context.Context, id string, status models.ImpersonationStatus, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, exists := r.impersonations[id]
	if !exists {
		return false, models.ErrImpersonationNotFound
	}
	if l.Status != models.ImpersonationActive {
		return false, nil
	}
	ended := at
	l.Status = status
	l.EndedAt = &ended
	return true, nil
}

func (r *InMemoryRepository) ExpireImpersonations(ctx context.Context, cutoff, at time.Time) ([]*models.ImpersonationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.ImpersonationLog
	for _, l := range r.impersonations {
		if l.Status != models.ImpersonationActive || !l.StartedAt.Before(cutoff) {
			continue
		}
		ended := at
		l.Status = models.ImpersonationExpired
		l.EndedAt = &ended
		out = append(out, l.Clone())
	}
	return out, nil
}

func (r *InMemoryRepository) ListImpersonations(ctx context.Context, filter models.ImpersonationFilter) (*models.Page[*models.ImpersonationLog], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*models.ImpersonationLog
	for _, l := range r.impersonations {
		if filter.AdminPrincipalID != "" && l.AdminPrincipalID != filter.AdminPrincipalID {
			continue
		}
		if filter.Status != "" && l.Status != filter.Status {
			continue
		}
		matched = append(matched, l)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartedAt.After(matched[j].StartedAt) })

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	page := &models.Page[*models.ImpersonationLog]{Total: len(matched), Items: []*models.ImpersonationLog{}}
	for i := offset; i < len(matched) && i < offset+limit; i++ {
		page.Items = append(page.Items, matched[i].Clone())
	}
	return page, nil
}

// =============================================================================
// PRINCIPALS
// =============================================================================

func (r *InMemoryRepository) GetPrincipal(ctx context.Context, id string) (*models.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.principals[id]
	if !exists {
		return nil, models.ErrPrincipalNotFound
	}
	c := *p
	return &c, nil
}

func (r *InMemoryRepository) UpsertPrincipal(ctx context.Context, p *models.Principal) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *p
	r.principals[p.ID] = &c
	return nil
}

func (r *InMemoryRepository) ListPrincipals(ctx context.Context) ([]*models.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Principal, 0, len(r.principals))
	for _, p := range r.principals {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

var _ Repository = (*InMemoryRepository)(nil)
