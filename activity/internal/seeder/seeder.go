// Package seeder fills a store with fake principals, sessions and activity
// so dashboards and sweeps can be exercised without real traffic.
package seeder

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/activity/internal/useragent"
	"github.com/telhawk-systems/telhawk-activity/common/logging"
)

// Store is the write surface the seeder needs.
type Store interface {
	UpsertPrincipal(ctx context.Context, p *models.Principal) error
	CreateSession(ctx context.Context, session *models.Session) error
	InsertEvents(ctx context.Context, events []*models.ActivityEvent) error
}

// Config controls how much data is generated.
type Config struct {
	Principals           int           `json:"principals" yaml:"principals"`
	SessionsPerPrincipal int           `json:"sessions_per_principal" yaml:"sessions_per_principal"`
	EventsPerPrincipal   int           `json:"events_per_principal" yaml:"events_per_principal"`
	TimeSpread           time.Duration `json:"time_spread" yaml:"time_spread"`
	BatchSize            int           `json:"batch_size" yaml:"batch_size"`
	// Seed makes a run reproducible. Zero picks a random seed.
	Seed int64 `json:"seed" yaml:"seed"`
}

// DefaultConfig returns a small data set spread over the last week.
func DefaultConfig() Config {
	return Config{
		Principals:           10,
		SessionsPerPrincipal: 3,
		EventsPerPrincipal:   25,
		TimeSpread:           7 * 24 * time.Hour,
		BatchSize:            100,
	}
}

// Result counts what was written.
type Result struct {
	Principals int `json:"principals" yaml:"principals"`
	Sessions   int `json:"sessions" yaml:"sessions"`
	Events     int `json:"events" yaml:"events"`
}

type Seeder struct {
	store  Store
	cfg    Config
	faker  *gofakeit.Faker
	rng    *rand.Rand
	now    func() time.Time
	logger *logging.Logger
}

func New(store Store, cfg Config, logger *logging.Logger) *Seeder {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Seeder{
		store:  store,
		cfg:    cfg,
		faker:  gofakeit.New(seed),
		rng:    rand.New(rand.NewSource(seed)),
		now:    time.Now,
		logger: logging.OrDefault(logger).Component("seeder"),
	}
}

// WithClock overrides the reference time. Used by tests.
func (s *Seeder) WithClock(now func() time.Time) *Seeder {
	s.now = now
	return s
}

// Run writes the data set. The first principal is a SUPER_ADMIN and the
// second an ADMIN; the rest are USERs.
func (s *Seeder) Run(ctx context.Context) (*Result, error) {
	if s.cfg.Principals <= 0 {
		return nil, fmt.Errorf("principals must be positive: %w", models.ErrValidation)
	}

	res := &Result{}
	now := s.now().UTC()
	var batch []*models.ActivityEvent

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.InsertEvents(ctx, batch); err != nil {
			return fmt.Errorf("insert events: %w", err)
		}
		res.Events += len(batch)
		batch = nil
		return nil
	}

	for i := 0; i < s.cfg.Principals; i++ {
		p := s.principal(i)
		if err := s.store.UpsertPrincipal(ctx, p); err != nil {
			return res, fmt.Errorf("upsert principal: %w", err)
		}
		res.Principals++

		var last *models.Session
		for j := 0; j < s.cfg.SessionsPerPrincipal; j++ {
			session := s.session(p.ID, j, s.cfg.SessionsPerPrincipal, now)
			if err := s.store.CreateSession(ctx, session); err != nil {
				return res, fmt.Errorf("create session: %w", err)
			}
			res.Sessions++
			last = session
		}

		for k := 0; k < s.cfg.EventsPerPrincipal; k++ {
			batch = append(batch, s.event(p, last, k, s.cfg.EventsPerPrincipal, now))
			if len(batch) >= s.cfg.BatchSize {
				if err := flush(); err != nil {
					return res, err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	s.logger.InfoContext(ctx, "seed complete",
		"principals", res.Principals, "sessions", res.Sessions, "events", res.Events)
	return res, nil
}

func (s *Seeder) principal(i int) *models.Principal {
	role := models.RoleUser
	switch i {
	case 0:
		role = models.RoleSuperAdmin
	case 1:
		role = models.RoleAdmin
	}
	first, last := s.faker.FirstName(), s.faker.LastName()
	return &models.Principal{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Email:       strings.ToLower(fmt.Sprintf("%s.%s@%s", first, last, s.faker.DomainName())),
		DisplayName: first + " " + last,
		Role:        role,
	}
}

// session returns the index-th of total sessions. The newest one stays ACTIVE
// with recent activity; older ones are logged out.
func (s *Seeder) session(principalID string, index, total int, now time.Time) *models.Session {
	ua := s.faker.UserAgent()
	info := useragent.Parse(ua)
	loginAt := s.spread(index, total, now)

	session := &models.Session{
		ID:           uuid.Must(uuid.NewV7()).String(),
		PrincipalID:  principalID,
		SessionToken: uuid.NewString(),
		DeviceType:   info.DeviceType,
		Browser:      info.Browser,
		OS:           info.OS,
		IPAddress:    s.faker.IPv4Address(),
		UserAgent:    ua,
		LoginAt:      loginAt,
		RememberMe:   s.faker.Bool(),
		Metadata:     map[string]string{"seeded": "true"},
	}

	if index == total-1 {
		session.Status = models.SessionActive
		session.LastActivityAt = now.Add(-time.Duration(s.rng.Int63n(int64(10 * time.Minute))))
		if session.LastActivityAt.Before(loginAt) {
			session.LastActivityAt = loginAt
		}
		session.ExpiresAt = now.Add(24 * time.Hour)
		return session
	}

	logout := loginAt.Add(time.Duration(5+s.rng.Intn(240)) * time.Minute)
	if logout.After(now) {
		logout = now
	}
	session.Status = models.SessionLoggedOut
	session.LastActivityAt = logout
	session.LogoutAt = &logout
	session.ExpiresAt = loginAt.Add(24 * time.Hour)
	return session
}

var seededActions = []struct {
	method string
	path   string
	typ    models.ActivityType
	desc   string
}{
	{"GET", "/dashboard", models.ActivityView, "Viewed dashboard"},
	{"GET", "/admin/users", models.ActivityView, "Admin viewed users"},
	{"POST", "/admin/users", models.ActivityCreate, "Admin created user"},
	{"PUT", "/settings/profile", models.ActivityUpdate, "Updated profile"},
	{"DELETE", "/admin/sessions", models.ActivityDelete, "Admin deleted session"},
	{"GET", "/search", models.ActivitySearch, "Searched records"},
	{"POST", "/reports/export", models.ActivityExport, "Exported report"},
	{"POST", "/data/import", models.ActivityImport, "Imported data"},
	{"POST", "/auth/login", models.ActivityLogin, "User login"},
	{"POST", "/auth/logout", models.ActivityLogout, "User logout"},
}

func (s *Seeder) event(p *models.Principal, session *models.Session, index, total int, now time.Time) *models.ActivityEvent {
	action := seededActions[s.rng.Intn(len(seededActions))]
	status := 200
	if action.method == "POST" {
		status = 201
	}
	successful := s.rng.Intn(10) != 0
	e := &models.ActivityEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		PrincipalID:    p.ID,
		ActivityType:   action.typ,
		Description:    action.desc,
		IPAddress:      s.faker.IPv4Address(),
		UserAgent:      s.faker.UserAgent(),
		RequestPath:    action.path,
		RequestMethod:  action.method,
		ResponseStatus: status,
		DurationMs:     int64(5 + s.rng.Intn(500)),
		Metadata:       map[string]any{"seeded": true, "adminPanel": strings.HasPrefix(action.path, "/admin")},
		IsSuccessful:   successful,
		CreatedAt:      s.spread(index, total, now),
	}
	if session != nil {
		id := session.ID
		e.SessionID = &id
		e.UserAgent = session.UserAgent
	}
	if !successful {
		e.ResponseStatus = 500
		msg := "Internal Server Error"
		e.ErrorMessage = &msg
	}
	return e
}

// spread places item index of total across TimeSpread ending at now, with
// ±40% jitter of the slot width. Items go from oldest to newest.
func (s *Seeder) spread(index, total int, now time.Time) time.Time {
	if s.cfg.TimeSpread <= 0 || total <= 0 {
		return now
	}
	slot := float64(s.cfg.TimeSpread) / float64(total)
	offset := float64(index) * slot
	offset += (s.rng.Float64()*2 - 1) * slot * 0.4
	if offset < 0 {
		offset = 0
	}
	if offset > float64(s.cfg.TimeSpread) {
		offset = float64(s.cfg.TimeSpread)
	}
	return now.Add(-s.cfg.TimeSpread + time.Duration(offset)).UTC()
}
