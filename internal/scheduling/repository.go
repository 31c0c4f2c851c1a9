package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AcquireParams describes one hold-acquire attempt.
type AcquireParams struct {
	OrgID       string
	TherapistID string
	ClientID    string
	StartTime   time.Time
	EndTime     time.Time
	SessionID   *string
	HoldTTL     time.Duration
	ActorID     string
	Now         time.Time
}

// ConfirmParams describes one hold-confirm attempt. TherapistID and
// ClientID come from the session patch and must match the hold.
type ConfirmParams struct {
	OrgID       string
	HoldKey     string
	TherapistID string
	ClientID    string
	Notes       *string
	ActorID     string
	Now         time.Time
}

// ClearanceQuery scopes the retry-after scan to the implicated
// dimension(s); an empty id skips that dimension. ExcludeHoldKey omits the
// caller's own hold, which would otherwise always win the minimum.
type ClearanceQuery struct {
	OrgID          string
	TherapistID    string
	ClientID       string
	ExcludeHoldKey string
	StartTime      time.Time
	EndTime        time.Time
	Now            time.Time
}

// SessionFilter selects sessions for batch cancellation. Filters compose;
// zero values are ignored.
type SessionFilter struct {
	IDs         []string
	Date        *time.Time
	TherapistID string
}

// Repository is the persistence boundary for the scheduling core. The
// acquire and confirm operations are atomic check-and-write transactions:
// two concurrent calls for overlapping windows must not both succeed.
type Repository interface {
	AcquireHold(ctx context.Context, p AcquireParams) (*Hold, error)
	GetHoldByKey(ctx context.Context, orgID, holdKey string) (*Hold, error)
	DeleteHoldsByKeys(ctx context.Context, orgID string, holdKeys []string) error
	ConfirmHold(ctx context.Context, p ConfirmParams) (*Session, error)
	EarliestClearance(ctx context.Context, q ClearanceQuery) (*time.Time, error)
	ReleaseHold(ctx context.Context, orgID, holdKey string) (*Hold, error)
	FindSessions(ctx context.Context, orgID string, f SessionFilter) ([]Session, error)
	CancelSessions(ctx context.Context, orgID string, ids []string, reason *string, actorID string) error
	DeleteExpiredHolds(ctx context.Context, now time.Time) ([]Hold, error)
}

type pgDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements Repository over Postgres. Overlap exclusion is
// enforced twice: by the in-transaction checks below and by gist exclusion
// constraints in the schema, so a lost race surfaces as SQLSTATE 23P01
// instead of a double booking.
type PGRepository struct {
	db pgDB
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return &PGRepository{db: pool}
}

func newPGRepositoryWithDB(db pgDB) *PGRepository {
	return &PGRepository{db: db}
}

const (
	therapistSessionOverlapQuery = `
		SELECT id FROM sessions
		WHERE org_id = $1 AND therapist_id = $2 AND status <> 'cancelled'
		  AND start_time < $4 AND end_time > $3
		LIMIT 1`

	clientSessionOverlapQuery = `
		SELECT id FROM sessions
		WHERE org_id = $1 AND client_id = $2 AND status <> 'cancelled'
		  AND start_time < $4 AND end_time > $3
		LIMIT 1`

	therapistHoldOverlapQuery = `
		SELECT hold_key, client_id, start_time, end_time, expires_at FROM session_holds
		WHERE org_id = $1 AND therapist_id = $2 AND expires_at > $3
		  AND start_time < $5 AND end_time > $4
		LIMIT 1`

	clientHoldOverlapQuery = `
		SELECT hold_key, therapist_id, start_time, end_time, expires_at FROM session_holds
		WHERE org_id = $1 AND client_id = $2 AND expires_at > $3
		  AND start_time < $5 AND end_time > $4
		LIMIT 1`

	insertHoldQuery = `
		INSERT INTO session_holds (id, hold_key, org_id, therapist_id, client_id, start_time, end_time, session_id, expires_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	selectHoldForUpdateQuery = `
		SELECT id, hold_key, org_id, therapist_id, client_id, start_time, end_time, session_id, expires_at, created_by, created_at
		FROM session_holds
		WHERE org_id = $1 AND hold_key = $2
		FOR UPDATE`

	insertSessionQuery = `
		INSERT INTO sessions (id, org_id, therapist_id, client_id, start_time, end_time, status, duration_minutes, notes, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	deleteHoldByIDQuery = `DELETE FROM session_holds WHERE id = $1`

	purgeExpiredOverlapQuery = `
		DELETE FROM session_holds
		WHERE org_id = $1 AND expires_at <= $2
		  AND start_time < $4 AND end_time > $3`

	earliestClearanceQuery = `
		SELECT MIN(candidate) FROM (
			SELECT expires_at AS candidate FROM session_holds
			WHERE org_id = $1 AND expires_at > $2
			  AND start_time < $4 AND end_time > $3
			  AND hold_key <> $7
			  AND (($5 <> '' AND therapist_id = $5) OR ($6 <> '' AND client_id = $6))
			UNION ALL
			SELECT end_time FROM sessions
			WHERE org_id = $1 AND status <> 'cancelled'
			  AND start_time < $4 AND end_time > $3
			  AND (($5 <> '' AND therapist_id = $5) OR ($6 <> '' AND client_id = $6))
		) candidates`
)

func (r *PGRepository) AcquireHold(ctx context.Context, p AcquireParams) (*Hold, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduling: begin acquire: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Expired holds are logically absent but still visible to the gist
	// exclusion constraint, so clear them from the window first.
	if _, err := tx.Exec(ctx, purgeExpiredOverlapQuery, p.OrgID, p.Now, p.StartTime, p.EndTime); err != nil {
		return nil, fmt.Errorf("scheduling: purge expired overlap: %w", err)
	}

	var existingID string
	err = tx.QueryRow(ctx, therapistSessionOverlapQuery, p.OrgID, p.TherapistID, p.StartTime, p.EndTime).Scan(&existingID)
	if err == nil {
		return nil, &ConflictError{Code: CodeTherapistConflict, Message: "therapist has a confirmed session in this window"}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scheduling: therapist session check: %w", err)
	}

	err = tx.QueryRow(ctx, clientSessionOverlapQuery, p.OrgID, p.ClientID, p.StartTime, p.EndTime).Scan(&existingID)
	if err == nil {
		return nil, &ConflictError{Code: CodeClientConflict, Message: "client has a confirmed session in this window"}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scheduling: client session check: %w", err)
	}

	var holdKey, otherParty string
	var hStart, hEnd, hExpires time.Time
	err = tx.QueryRow(ctx, therapistHoldOverlapQuery, p.OrgID, p.TherapistID, p.Now, p.StartTime, p.EndTime).
		Scan(&holdKey, &otherParty, &hStart, &hEnd, &hExpires)
	if err == nil {
		// The exact same (client, window) submission is an idempotent
		// duplicate, not a competing claim.
		if otherParty == p.ClientID && hStart.Equal(p.StartTime) && hEnd.Equal(p.EndTime) {
			return nil, &ConflictError{Code: CodeHoldExists, Message: "an identical hold already exists", RetryAfter: &hExpires}
		}
		return nil, &ConflictError{Code: CodeTherapistHoldConflict, Message: "therapist window is held by another request", RetryAfter: &hExpires}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scheduling: therapist hold check: %w", err)
	}

	err = tx.QueryRow(ctx, clientHoldOverlapQuery, p.OrgID, p.ClientID, p.Now, p.StartTime, p.EndTime).
		Scan(&holdKey, &otherParty, &hStart, &hEnd, &hExpires)
	if err == nil {
		return nil, &ConflictError{Code: CodeClientHoldConflict, Message: "client window is held by another request", RetryAfter: &hExpires}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scheduling: client hold check: %w", err)
	}

	hold := &Hold{
		ID:          uuid.NewString(),
		HoldKey:     uuid.NewString(),
		OrgID:       p.OrgID,
		TherapistID: p.TherapistID,
		ClientID:    p.ClientID,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
		SessionID:   p.SessionID,
		ExpiresAt:   p.Now.Add(p.HoldTTL),
		CreatedBy:   p.ActorID,
		CreatedAt:   p.Now,
	}
	_, err = tx.Exec(ctx, insertHoldQuery,
		hold.ID, hold.HoldKey, hold.OrgID, hold.TherapistID, hold.ClientID,
		hold.StartTime, hold.EndTime, hold.SessionID, hold.ExpiresAt, hold.CreatedBy, hold.CreatedAt)
	if err != nil {
		if conflict := exclusionConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("scheduling: insert hold: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if conflict := exclusionConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("scheduling: commit acquire: %w", err)
	}
	return hold, nil
}

// exclusionConflict maps a gist exclusion-constraint violation (a
// concurrent writer won the window) onto the conflict taxonomy.
func exclusionConflict(err error) *ConflictError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23P01" {
		return nil
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "holds_therapist"):
		return &ConflictError{Code: CodeTherapistHoldConflict, Message: "therapist window was claimed concurrently"}
	case strings.Contains(pgErr.ConstraintName, "holds_client"):
		return &ConflictError{Code: CodeClientHoldConflict, Message: "client window was claimed concurrently"}
	case strings.Contains(pgErr.ConstraintName, "sessions_therapist"):
		return &ConflictError{Code: CodeTherapistConflict, Message: "therapist window was booked concurrently"}
	case strings.Contains(pgErr.ConstraintName, "sessions_client"):
		return &ConflictError{Code: CodeClientConflict, Message: "client window was booked concurrently"}
	default:
		return &ConflictError{Code: CodeTherapistConflict, Message: "window was claimed concurrently"}
	}
}

func (r *PGRepository) GetHoldByKey(ctx context.Context, orgID, holdKey string) (*Hold, error) {
	query := `
		SELECT id, hold_key, org_id, therapist_id, client_id, start_time, end_time, session_id, expires_at, created_by, created_at
		FROM session_holds
		WHERE org_id = $1 AND hold_key = $2`
	hold, err := scanHold(r.db.QueryRow(ctx, query, orgID, holdKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scheduling: get hold: %w", err)
	}
	return hold, nil
}

func (r *PGRepository) DeleteHoldsByKeys(ctx context.Context, orgID string, holdKeys []string) error {
	if len(holdKeys) == 0 {
		return nil
	}
	query := `DELETE FROM session_holds WHERE org_id = $1 AND hold_key = ANY($2)`
	if _, err := r.db.Exec(ctx, query, orgID, holdKeys); err != nil {
		return fmt.Errorf("scheduling: delete holds: %w", err)
	}
	return nil
}

func (r *PGRepository) ConfirmHold(ctx context.Context, p ConfirmParams) (*Session, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduling: begin confirm: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	hold, err := scanHold(tx.QueryRow(ctx, selectHoldForUpdateQuery, p.OrgID, p.HoldKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ConflictError{Code: CodeHoldNotFound, Message: "hold not found"}
		}
		return nil, fmt.Errorf("scheduling: load hold: %w", err)
	}
	if hold.Expired(p.Now) {
		return nil, &ConflictError{Code: CodeHoldExpired, Message: "hold has expired"}
	}
	if p.TherapistID != "" && p.TherapistID != hold.TherapistID {
		return nil, &ConflictError{Code: CodeHoldMismatch, Message: "session therapist does not match the hold"}
	}
	if p.ClientID != "" && p.ClientID != hold.ClientID {
		return nil, &ConflictError{Code: CodeClientMismatch, Message: "session client does not match the hold"}
	}

	// Holds narrow but do not close the race window: a confirmed session may
	// have landed since the hold was taken, so re-check before converting.
	var existingID string
	err = tx.QueryRow(ctx, therapistSessionOverlapQuery, p.OrgID, hold.TherapistID, hold.StartTime, hold.EndTime).Scan(&existingID)
	if err == nil {
		return nil, &ConflictError{Code: CodeTherapistConflict, Message: "therapist window was booked after the hold was taken"}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scheduling: therapist recheck: %w", err)
	}
	err = tx.QueryRow(ctx, clientSessionOverlapQuery, p.OrgID, hold.ClientID, hold.StartTime, hold.EndTime).Scan(&existingID)
	if err == nil {
		return nil, &ConflictError{Code: CodeClientConflict, Message: "client window was booked after the hold was taken"}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("scheduling: client recheck: %w", err)
	}

	start, end := hold.StartTime, hold.EndTime
	session := &Session{
		ID:              uuid.NewString(),
		OrgID:           p.OrgID,
		TherapistID:     hold.TherapistID,
		ClientID:        hold.ClientID,
		StartTime:       start,
		EndTime:         end,
		Status:          StatusScheduled,
		DurationMinutes: ComputeDurationMinutes(&start, &end),
		Notes:           p.Notes,
		CreatedBy:       p.ActorID,
		UpdatedBy:       p.ActorID,
		CreatedAt:       p.Now,
		UpdatedAt:       p.Now,
	}
	if hold.SessionID != nil {
		session.ID = *hold.SessionID
	}

	_, err = tx.Exec(ctx, insertSessionQuery,
		session.ID, session.OrgID, session.TherapistID, session.ClientID,
		session.StartTime, session.EndTime, session.Status, session.DurationMinutes,
		session.Notes, session.CreatedBy, session.UpdatedBy, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		if conflict := exclusionConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("scheduling: insert session: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteHoldByIDQuery, hold.ID); err != nil {
		return nil, fmt.Errorf("scheduling: consume hold: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if conflict := exclusionConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("scheduling: commit confirm: %w", err)
	}
	return session, nil
}

func (r *PGRepository) EarliestClearance(ctx context.Context, q ClearanceQuery) (*time.Time, error) {
	var earliest *time.Time
	err := r.db.QueryRow(ctx, earliestClearanceQuery,
		q.OrgID, q.Now, q.StartTime, q.EndTime, q.TherapistID, q.ClientID, q.ExcludeHoldKey).Scan(&earliest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scheduling: clearance scan: %w", err)
	}
	return earliest, nil
}

func (r *PGRepository) ReleaseHold(ctx context.Context, orgID, holdKey string) (*Hold, error) {
	query := `
		DELETE FROM session_holds
		WHERE org_id = $1 AND hold_key = $2
		RETURNING id, hold_key, org_id, therapist_id, client_id, start_time, end_time, session_id, expires_at, created_by, created_at`
	hold, err := scanHold(r.db.QueryRow(ctx, query, orgID, holdKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scheduling: release hold: %w", err)
	}
	return hold, nil
}

func (r *PGRepository) FindSessions(ctx context.Context, orgID string, f SessionFilter) ([]Session, error) {
	query := `
		SELECT id, org_id, therapist_id, client_id, start_time, end_time, status, duration_minutes, notes, created_by, updated_by, created_at, updated_at
		FROM sessions
		WHERE org_id = $1
		  AND (cardinality($2::text[]) = 0 OR id = ANY($2))
		  AND ($3::timestamptz IS NULL OR (start_time >= $3 AND start_time < $3 + interval '1 day'))
		  AND ($4 = '' OR therapist_id = $4)
		ORDER BY start_time`
	ids := f.IDs
	if ids == nil {
		ids = []string{}
	}
	rows, err := r.db.Query(ctx, query, orgID, ids, f.Date, f.TherapistID)
	if err != nil {
		return nil, fmt.Errorf("scheduling: find sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.OrgID, &s.TherapistID, &s.ClientID, &s.StartTime, &s.EndTime,
			&s.Status, &s.DurationMinutes, &s.Notes, &s.CreatedBy, &s.UpdatedBy, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scheduling: scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *PGRepository) CancelSessions(ctx context.Context, orgID string, ids []string, reason *string, actorID string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE sessions
		SET status = 'cancelled',
		    notes = COALESCE($3, notes),
		    updated_by = $4,
		    updated_at = now()
		WHERE org_id = $1 AND id = ANY($2) AND status <> 'cancelled'`
	if _, err := r.db.Exec(ctx, query, orgID, ids, reason, actorID); err != nil {
		return fmt.Errorf("scheduling: cancel sessions: %w", err)
	}
	return nil
}

func (r *PGRepository) DeleteExpiredHolds(ctx context.Context, now time.Time) ([]Hold, error) {
	query := `
		DELETE FROM session_holds
		WHERE expires_at <= $1
		RETURNING id, hold_key, org_id, therapist_id, client_id, start_time, end_time, session_id, expires_at, created_by, created_at`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("scheduling: purge expired holds: %w", err)
	}
	defer rows.Close()

	var holds []Hold
	for rows.Next() {
		var h Hold
		if err := rows.Scan(&h.ID, &h.HoldKey, &h.OrgID, &h.TherapistID, &h.ClientID,
			&h.StartTime, &h.EndTime, &h.SessionID, &h.ExpiresAt, &h.CreatedBy, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scheduling: scan purged hold: %w", err)
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

func scanHold(row pgx.Row) (*Hold, error) {
	var h Hold
	if err := row.Scan(&h.ID, &h.HoldKey, &h.OrgID, &h.TherapistID, &h.ClientID,
		&h.StartTime, &h.EndTime, &h.SessionID, &h.ExpiresAt, &h.CreatedBy, &h.CreatedAt); err != nil {
		return nil, err
	}
	return &h, nil
}
