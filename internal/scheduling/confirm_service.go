package scheduling

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Jeduardo622/allincompassing-api/internal/observability/metrics"
	"github.com/Jeduardo622/allincompassing-api/internal/tenancy"
	"github.com/Jeduardo622/allincompassing-api/pkg/logging"
)

// ConfirmService converts valid, unexpired holds into durable sessions.
type ConfirmService struct {
	repo    Repository
	auditor Auditor
	logger  *logging.Logger
	metrics *metrics.SchedulingMetrics
	now     func() time.Time
}

func NewConfirmService(repo Repository, auditor Auditor, logger *logging.Logger, m *metrics.SchedulingMetrics) *ConfirmService {
	if repo == nil {
		panic("scheduling: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ConfirmService{
		repo:    repo,
		auditor: auditor,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithConfirmClock overrides the time source, for tests.
func (s *ConfirmService) WithConfirmClock(now func() time.Time) *ConfirmService {
	if now != nil {
		s.now = now
	}
	return s
}

// SessionPatch carries the caller-supplied session fields applied at
// confirmation. Therapist and client ids, when present, must match the
// hold being confirmed.
type SessionPatch struct {
	TherapistID string
	ClientID    string
	Notes       *string
}

// ConfirmRequest confirms the hold named by HoldKey plus, for recurring
// bookings, one hold per additional occurrence.
type ConfirmRequest struct {
	HoldKey            string
	Session            SessionPatch
	OccurrenceHoldKeys []string
}

// ConfirmResult reports the created sessions. Session is the primary
// occurrence's session.
type ConfirmResult struct {
	Session                *Session
	Sessions               []Session
	RoundedDurationMinutes int
}

// ConfirmHolds atomically converts each hold into a session. Every
// occurrence must succeed; the first conflict aborts the batch and its
// diagnostic is returned immediately.
func (s *ConfirmService) ConfirmHolds(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.confirm_holds")
	defer span.End()

	orgID, ok := tenancy.OrgIDFromContext(ctx)
	if !ok {
		return nil, &ConflictError{Code: CodeForbidden, Message: "organization context required"}
	}
	actorID, _ := tenancy.UserIDFromContext(ctx)
	span.SetAttributes(attribute.String("allincompassing.org_id", orgID))

	if req.HoldKey == "" {
		return nil, &ConflictError{Code: CodeMissingFields, Message: "hold_key is required"}
	}

	holdKeys := append([]string{req.HoldKey}, req.OccurrenceHoldKeys...)
	now := s.now()

	// Role scope is checked against the primary hold before any conversion;
	// the repository re-validates ownership transactionally per occurrence.
	if role, ok := tenancy.RoleFromContext(ctx); ok && !role.CanManageOthers() {
		hold, err := s.repo.GetHoldByKey(ctx, orgID, req.HoldKey)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if hold != nil && hold.TherapistID != actorID {
			return nil, &ConflictError{Code: CodeForbidden, Message: "therapists may only confirm their own holds"}
		}
	}

	var sessions []Session
	for _, key := range holdKeys {
		session, err := s.repo.ConfirmHold(ctx, ConfirmParams{
			OrgID:       orgID,
			HoldKey:     key,
			TherapistID: req.Session.TherapistID,
			ClientID:    req.Session.ClientID,
			Notes:       req.Session.Notes,
			ActorID:     actorID,
			Now:         now,
		})
		if err != nil {
			var conflict *ConflictError
			if errors.As(err, &conflict) {
				s.resolveConfirmRetryAfter(ctx, conflict, orgID, req.Session, key, now)
				s.metrics.ObserveConflict(string(conflict.Code))
				s.metrics.ObserveConfirm("conflict")
				span.RecordError(conflict)
				return nil, conflict
			}
			span.RecordError(err)
			return nil, err
		}
		sessions = append(sessions, *session)
		if s.auditor != nil {
			s.auditor.Record(ctx, orgID, EventSessionConfirmed, actorID, map[string]any{
				"session_id":   session.ID,
				"hold_key":     key,
				"therapist_id": session.TherapistID,
				"client_id":    session.ClientID,
				"start_time":   session.StartTime,
				"end_time":     session.EndTime,
			})
		}
		s.metrics.ObserveConfirm("ok")
	}

	primary := &sessions[0]
	rounded := 0
	if primary.DurationMinutes != nil {
		rounded = *primary.DurationMinutes
	}
	s.logger.Info("holds confirmed",
		"org_id", orgID,
		"session_id", primary.ID,
		"count", len(sessions),
		"duration_minutes", rounded,
	)
	return &ConfirmResult{Session: primary, Sessions: sessions, RoundedDurationMinutes: rounded}, nil
}

func (s *ConfirmService) resolveConfirmRetryAfter(ctx context.Context, conflict *ConflictError, orgID string, patch SessionPatch, holdKey string, now time.Time) {
	if conflict.RetryAfter != nil {
		return
	}
	if conflict.Code != CodeTherapistConflict && conflict.Code != CodeClientConflict {
		return
	}
	hold, err := s.repo.GetHoldByKey(ctx, orgID, holdKey)
	if err != nil || hold == nil {
		return
	}
	// The hold being confirmed overlaps its own window and must not count
	// as a competing claim.
	q := ClearanceQuery{OrgID: orgID, ExcludeHoldKey: hold.HoldKey, StartTime: hold.StartTime, EndTime: hold.EndTime, Now: now}
	if conflict.Code == CodeTherapistConflict {
		q.TherapistID = hold.TherapistID
	} else {
		q.ClientID = hold.ClientID
	}
	retryAfter, err := s.repo.EarliestClearance(ctx, q)
	if err != nil {
		s.logger.Warn("confirm retry-after scan failed", "error", err, "code", conflict.Code)
		return
	}
	conflict.RetryAfter = retryAfter
}
