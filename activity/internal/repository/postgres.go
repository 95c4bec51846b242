package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/telhawk-activity/activity/internal/models"
	"github.com/telhawk-systems/telhawk-activity/common/database"
)

const pgUniqueViolation = "23505"

// Constraint names from migrations/001_init.up.sql.
const (
	constraintOneActivePerAdmin  = "impersonation_logs_one_active_per_admin"
	constraintImpersonationToken = "impersonation_logs_session_token_key"
)

type PostgresRepository struct {
	pool     *pgxpool.Pool
	timeouts database.Timeouts
}

type PostgresOption func(*PostgresRepository)

// WithTimeouts overrides the statement deadlines.
func WithTimeouts(t database.Timeouts) PostgresOption {
	return func(r *PostgresRepository) { r.timeouts = t.Resolved() }
}

func NewPostgresRepository(ctx context.Context, connString string, opts ...PostgresOption) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, timeouts: database.DefaultTimeouts()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.timeouts.ForQuery(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func uniqueViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr, true
	}
	return nil, false
}

// =============================================================================
// SESSIONS
// =============================================================================

const sessionColumns = `
	id, principal_id, session_token, refresh_token, status, device_type, browser, os,
	ip_address, user_agent, login_at, last_activity_at, logout_at, expires_at,
	remember_me, metadata`

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.PrincipalID, &s.SessionToken, &s.RefreshToken, &s.Status,
		&s.DeviceType, &s.Browser, &s.OS, &s.IPAddress, &s.UserAgent,
		&s.LoginAt, &s.LastActivityAt, &s.LogoutAt, &s.ExpiresAt,
		&s.RememberMe, &s.Metadata,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, session *models.Session) error {
	ctx, cancel := r.timeouts.ForWrite(ctx)
	defer cancel()

	metadata := session.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID, session.PrincipalID, session.SessionToken, session.RefreshToken, session.Status,
		session.DeviceType, session.Browser, session.OS, session.IPAddress, session.UserAgent,
		session.LoginAt, session.LastActivityAt, session.LogoutAt, session.ExpiresAt,
		session.RememberMe, metadata,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return models.ErrSessionTokenExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) getSession(ctx context.Context, column, value string) (*models.Session, error) {
	ctx, cancel := r.timeouts.ForQuery(ctx)
	defer cancel()

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE ` + column + ` = $1`

	s, err := scanSession(r.pool.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) GetSessionByToken(ctx context.Context, token string) (*models.Session, error) {
	return r.getSession(ctx, "session_token", token)
}

func (r *PostgresRepository) GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	return r.getSession(ctx, "refresh_token", refreshToken)
}

func (r *PostgresRepository) ListSessionsByPrincipal(ctx context.Context, principalID string, activeOnly bool) ([]*models.Session, error) {
	ctx, cancel := r.timeouts.ForQuery(ctx)
	defer cancel()

	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE principal_id = $1`
	if activeOnly {
		query += ` AND status = 'ACTIVE'`
	}
	query += ` ORDER BY login_at DESC`

	rows, err := r.pool.Query(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) TouchSession(ctx context.Context, token string, at time.Time) error {
	ctx, cancel := r.timeouts.ForWrite(ctx)
	defer cancel()

	query := `
		UPDATE sessions SET last_activity_at = GREATEST(last_activity_at, $2)
		WHERE session_token = $1 AND status = 'ACTIVE'
	`
	if _, err := r.pool.Exec(ctx, query, token, at); err != nil {
		return fmt.Errorf("failed to update last activity: %w", err)
	}
	return nil
}

func (r *PostgresRepository) TerminateSession(ctx context.Context, token string, status models.SessionStatus, at time.Time) (bool, error) {
	ctx, cancel := r.timeouts.ForWrite(ctx)
	defer cancel()

	query := `
		UPDATE sessions SET status = $2, logout_at = $3
		WHERE session_token = $1 AND status = 'ACTIVE'
	`
	result, err := r.pool.Exec(ctx, query, token, status, at)
	if err != nil {
		return false, fmt.Errorf("failed to terminate session: %w", err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE session_token = $1)`, token).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	if !exists {
		return false, models.ErrSessionNotFound
	}
	return false, nil
}

func (r *PostgresRepository) TerminatePrincipalSessions(ctx context.Context, principalID, exceptToken string, at time.Time) (int64, error) {
	ctx, cancel := r.timeouts.ForWrite(ctx)
	defer cancel()

	query := `
		UPDATE sessions SET status = 'TERMINATED', logout_at = $3
		WHERE principal_id = $1 AND status = 'ACTIVE' AND session_token <> $2
	`
	result, err := r.pool.Exec(ctx, query, principalID, exceptToken, at)
	if err != nil {
		return 0, fmt.Errorf("failed to terminate principal sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *PostgresRepository) MergeSessionMetadata(ctx context.Context, token string, kv map[string]string) error {
	ctx, cancel := r.timeouts.ForWrite(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx,
		`UPDATE sessions SET metadata = metadata || $2::jsonb WHERE session_token = $1`,
		token, kv,
	)
	if err != nil {
		return fmt.Errorf("failed to merge session metadata: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (r *PostgresRepository) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := r.timeouts.ForBulk(ctx)
	defer cancel()

	query := `
		UPDATE sessions SET status = 'EXPIRED', logout_at = expires_at
		WHERE status = 'ACTIVE' AND expires_at < $1
	`
	result, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *PostgresRepository) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.timeouts.ForBulk(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx,
		`DELETE FROM sessions WHERE status <> 'ACTIVE' AND logout_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *PostgresRepository) CountActivePrincipalsSince(ctx context.Context, since time.Time) (int64, error) {
	ctx, cancel := r.timeouts.ForQuery(ctx)
	defer cancel()

	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT principal_id) FROM sessions
		WHERE status = 'ACTIVE' AND last_activity_at >= $1
	`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active principals: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) SessionStats(ctx context.Context, tr models.TimeRange) (*models.SessionStats, error) {
	ctx, cancel := r.timeouts.ForQuery(ctx)
	defer cancel()

	where, args := rangeClause("login_at", tr, nil)

	stats := &models.SessionStats{
		ByDeviceType: make(map[string]int64),
		ByBrowser:    make(map[string]int64),
	}

	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'ACTIVE'),
		       COALESCE(AVG(GREATEST(EXTRACT(EPOCH FROM (COALESCE(logout_at, last_activity_at) - login_at)), 0)), 0)::float8
		FROM sessions`+where, args...).Scan(&stats.Total, &stats.Active, &stats.AverageDurationSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sessions: %w", err)
	}

	if err := r.groupCounts(ctx, "sessions", "device_type", where, args, stats.ByDeviceType); err != nil {
		return nil, err
	}
	if err := r.groupCounts(ctx, "sessions", "browser", where, args, stats.ByBrowser); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *PostgresRepository) groupCounts(ctx context.Context, table, column, where string, args []any, into map[string]int64) error {
	rows, err := r.pool.Query(ctx, `SELECT `+column+`, COUNT(*) FROM `+table+where+` GROUP BY `+column, args...)
	if err != nil {
		return fmt.Errorf("failed to group %s by %s: %w", table, column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan %s group: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

// rangeClause builds a WHERE clause for a half-open time range, appending
// to any existing conditions.
func rangeClause(column string, tr models.TimeRange, conds []string, args ...any) (string, []any) {
	if !tr.Start.IsZero() {
		args = append(args, tr.Start)
		conds = append(conds, fmt.Sprintf("%s >= $%d", column, len(args)))
	}
	if !tr.End.IsZero() {
		args = append(args, tr.End)
		conds = append(conds, fmt.Sprintf("%s < $%d", column, len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// =============================================================================
// ACTIVITY EVENTS (append-only)
// =============================================================================

const eventColumns = `
	id, principal_id, session_id, activity_type, description, resource_type, resource_id,
	ip_address, user_agent, request_path, request_method, response_status, duration_ms,
	metadata, is_successful, error_message, created_at`

func eventArgs(e *models.ActivityEvent) []any {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return []any{
		e.ID, e.PrincipalID, e.SessionID, e.ActivityType, e.Description, e.ResourceType, e.ResourceID,
		e.IPAddress, e.UserAgent, e.RequestPath, e.RequestMethod, e.ResponseStatus, e.DurationMs,
		metadata, e.IsSuccessful, e.ErrorMessage, e.CreatedAt,
	}
}

const insertEventQuery = `
	INSERT INTO activity_events (` + eventColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`

func (r *PostgresRepository) InsertEvent(ctx context.Context, event *models.ActivityEvent) error {
	ctx, cancel := r.timeouts.ForWrite(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, insertEventQuery, eventArgs(event)...); err != nil {
		return fmt.Errorf("failed to insert activity event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InsertEvents(ctx context.Context, events []*models.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx, cancel := r.timeouts.ForBulk(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(insertEventQuery, eventArgs(e)...)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert activity batch: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) QueryEvents(ctx context.Context, filter models.ActivityFilter) (*models.Page[*models.ActivityEvent], error) {
	ctx, cancel := r.timeouts.ForQuery(ctx)
	defer cancel()

	var conds []string
	var args []any
	if filter.PrincipalID != "" {
		args = append(args, filter.PrincipalID)
		conds = append(conds, fmt.Sprintf("principal_id = $%d", len(args)))
	}
	if filter.ActivityType != "" {
		args = append(args, filter.ActivityType)
		conds = append(conds, fmt.Sprintf("activity_type = $%d", len(args)))
	}
	where, args := rangeClause("created_at", models.TimeRange{Start: filter.Start, End: filter.End}, conds, args...)

	page := &models.Page[*models.ActivityEvent]{Items: []*models.ActivityEvent{}}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activity_events`+where, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count activity events: %w", err)
	}

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM activity_events%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		eventColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e models.ActivityEvent
		if err := rows.Scan(
			&e.ID, &e.PrincipalID, &e.SessionID, &e.ActivityType, &e.Description, &e.ResourceType, &e.ResourceID,
			&e.IPAddress, &e.UserAgent, &e.RequestPath, &e.RequestMethod, &e.ResponseStatus, &e.DurationMs,
			&e.Metadata, &e.IsSuccessful, &e.ErrorMessage, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity event: %w", err)
		}
		page.Items = append(page.Items, &e)
	}
	return page, rows.Err()
}

func (r *PostgresRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.timeouts.ForBulk(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx, `DELETE FROM activity_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old activity events: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *PostgresRepository) CountPrincipalsWithActivitySince(ctx context.Context, since time.Time) (int64, error) {
	ctx, cancel := r.timeouts.ForQuery(ctx)
	defer cancel()

	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT principal_id) FROM activity_events WHERE created_at >= $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count recently active principals: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) ActivityStats(ctx context.Context, tr models.TimeRange) (*models.ActivityStats, error) {
	ctx, cancel := r.timeouts.ForQuery(ctx)
	defer cancel()

	where, args := rangeClause("created_at", tr, nil)

	stats := &models.ActivityStats{
		ByType: make(map[models.ActivityType]int64),
		ByDay:  make(map[string]int64),
	}

	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_successful),
		       COUNT(*) FILTER (WHERE NOT is_successful)
		FROM activity_events`+where, args...).Scan(&stats.Total, &stats.Successes, &stats.Failures)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate activity: %w", err)
	}

	byType := make(map[string]int64)
	if err := r.groupCounts(ctx, "activity_events", "activity_type", where, args, byType); err != nil {
		return nil, err
	}
	for k, v := range byType {
		stats.ByType[models.ActivityType(k)] = v
	}

	if err := r.groupCounts(ctx, "activity_events",
		"to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')", where, args, stats.ByDay); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT EXTRACT(HOUR FROM created_at AT TIME ZONE 'UTC')::int AS hour, COUNT(*)
		FROM activity_events`+where+` GROUP BY hour`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group activity by hour: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var hour int
		var n int64
		if err := rows.Scan(&hour, &n); err != nil {
			return nil, fmt.Errorf("failed to scan hour bucket: %w", err)
		}
		if hour >= 0 && hour < 24 {
			stats.ByHour[hour] = n
		}
	}
	return stats, rows.Err()
}

// =============================================================================
// IMPERSONATION LOGS
// =============================================================================

const impersonationColumns = `
	id, admin_principal_id, impersonated_principal_id, started_at, ended_at,
	ip_address, user_agent, reason, session_token, status`

func scanImpersonation(row pgx.Row) (*models.ImpersonationLog, error) {
	var l models.ImpersonationLog
	err := row.Scan(
		&l.ID, &l.AdminPrincipalID, &l.ImpersonatedPrincipalID, &l.StartedAt, &l.EndedAt,
		&l.IPAddress, &l.UserAgent, &l.Reason, &l.SessionToken, &l.Status,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *PostgresRepository) CreateImpersonation(ctx context.Context, log *models.ImpersonationLog) error {
	ctx, cancel := r.timeouts.ForWrite(ctx)
	defer cancel()

	query := `
		INSERT INTO impersonation_logs (` + impersonationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		log.ID, log.AdminPrincipalID, log.ImpersonatedPrincipalID, log.StartedAt, log.EndedAt,
		log.IPAddress, log.UserAgent, log.Reason, log.SessionToken, log.Status,
	)
	if err != nil {
		if pgErr, ok := uniqueViolation(err); ok {
			switch pgErr.ConstraintName {
			case constraintOneActivePerAdmin:
				return models.ErrImpersonationActive
			case constraintImpersonationToken:
				return models.ErrImpersonationToken
			}
			return fmt.Errorf("failed to create impersonation log: %w", models.ErrConflict)
		}
		return fmt.Errorf("failed to create impersonation log: %w", err)
	}
	return nil
}

func (r *PostgresRepository) getImpersonation(ctx context.Context, where string, arg any) (*models.ImpersonationLog, error) {
	ctx, cancel := r.timeouts.ForQuery(ctx)
	defer cancel()

	l, err := scanImpersonation(r.pool.QueryRow(ctx,
		`SELECT `+impersonationColumns+` FROM impersonation_logs WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrImpersonationNotFound
		}
		return nil, fmt.Errorf("failed to get impersonation log: %w", err)
	}
	return l, nil
}

func (r *PostgresRepository) GetImpersonationByToken(ctx context.Context, token string) (*models.ImpersonationLog, error) {
	return r.getImpersonation(ctx, "session_token = $1", token)
}

func (r *PostgresRepository) GetActiveImpersonation(ctx context.Context, adminID string) (*models.ImpersonationLog, error) {
	return r.getImpersonation(ctx, "admin_principal_id = $1 AND status = 'ACTIVE'", adminID)
}

func (r *PostgresRepository) FinishImpersonation(ctx context.Context, id string, status models.ImpersonationStatus, at time.Time) (bool, error) {
	ctx, cancel := r.timeouts.ForWrite(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx, `
		UPDATE impersonation_logs SET status = $2, ended_at = $3
		WHERE id = $1 AND status = 'ACTIVE'
	`, id, status, at)
	if err != nil {
		return false, fmt.Errorf("failed to finish impersonation: %w", err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM impersonation_logs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check impersonation log: %w", err)
	}
	if !exists {
		return false, models.ErrImpersonationNotFound
	}
	return false, nil
}

func (r *PostgresRepository) ExpireImpersonations(ctx context.Context, cutoff, at time.Time) ([]*models.ImpersonationLog, error) {
	ctx, cancel := r.timeouts.ForBulk(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		UPDATE impersonation_logs SET status = 'EXPIRED', ended_at = $2
		WHERE status = 'ACTIVE' AND started_at < $1
		RETURNING `+impersonationColumns, cutoff, at)
	if err != nil {
		return nil, fmt.Errorf("failed to expire impersonations: %w", err)
	}
	defer rows.Close()

	var out []*models.ImpersonationLog
	for rows.Next() {
		l, err := scanImpersonation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan impersonation log: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListImpersonations(ctx context.Context, filter models.ImpersonationFilter) (*models.Page[*models.ImpersonationLog], error) {
	ctx, cancel := r.timeouts.ForQuery(ctx)
	defer cancel()

	var conds []string
	var args []any
	if filter.AdminPrincipalID != "" {
		args = append(args, filter.AdminPrincipalID)
		conds = append(conds, fmt.Sprintf("admin_principal_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := &models.Page[*models.ImpersonationLog]{Items: []*models.ImpersonationLog{}}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM impersonation_logs`+where, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count impersonation logs: %w", err)
	}

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM impersonation_logs%s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`,
		impersonationColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list impersonation logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanImpersonation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan impersonation log: %w", err)
		}
		page.Items = append(page.Items, l)
	}
	return page, rows.Err()
}

// =============================================================================
// PRINCIPALS
// =============================================================================

func (r *PostgresRepository) GetPrincipal(ctx context.Context, id string) (*models.Principal, error) {
	ctx, cancel := r.timeouts.ForQuery(ctx)
	defer cancel()

	var p models.Principal
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, display_name, role FROM principals WHERE id = $1`, id,
	).Scan(&p.ID, &p.Email, &p.DisplayName, &p.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) UpsertPrincipal(ctx context.Context, p *models.Principal) error {
	ctx, cancel := r.timeouts.ForWrite(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO principals (id, email, display_name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, display_name = EXCLUDED.display_name,
		    role = EXCLUDED.role, updated_at = NOW()
	`, p.ID, p.Email, p.DisplayName, p.Role)
	if err != nil {
		return fmt.Errorf("failed to upsert principal: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListPrincipals(ctx context.Context) ([]*models.Principal, error) {
	ctx, cancel := r.timeouts.ForQuery(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT id, email, display_name, role FROM principals ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var out []*models.Principal
	for rows.Next() {
		var p models.Principal
		if err := rows.Scan(&p.ID, &p.Email, &p.DisplayName, &p.Role); err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

var _ Repository = (*PostgresRepository)(nil)
