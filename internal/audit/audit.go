// Package audit appends structured events for every scheduling state
// transition. Writes are best-effort: scheduling correctness never depends
// on audit success, so failures are logged and swallowed.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Jeduardo622/allincompassing-api/pkg/logging"
)

// Event is an immutable scheduling audit record.
type Event struct {
	ID        string          `json:"id"`
	OrgID     string          `json:"org_id"`
	EventType string          `json:"event_type"`
	ActorID   string          `json:"actor_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Recorder writes scheduling audit events to the audit database.
type Recorder struct {
	db     *sql.DB
	logger *logging.Logger
	now    func() time.Time
}

func NewRecorder(db *sql.DB, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record appends one event. It satisfies the scheduling package's Auditor
// interface and never returns an error to the caller.
func (r *Recorder) Record(ctx context.Context, orgID, eventType, actorID string, payload map[string]any) {
	if r.db == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("audit payload marshal failed", "event_type", eventType, "error", err)
		data = []byte("null")
	}

	query := `
		INSERT INTO scheduling_audit_events (id, org_id, event_type, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.ExecContext(ctx, query,
		uuid.NewString(), orgID, eventType, actorID, data, r.now())
	if err != nil {
		r.logger.Error("audit write failed",
			"org_id", orgID,
			"event_type", eventType,
			"error", err,
		)
	}
}

// Recent returns the newest events for an organization, newest first.
func (r *Recorder) Recent(ctx context.Context, orgID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, org_id, event_type, actor_id, payload, created_at
		FROM scheduling_audit_events
		WHERE org_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.OrgID, &e.EventType, &e.ActorID, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = append([]byte(nil), payload...)
		events = append(events, e)
	}
	return events, rows.Err()
}
