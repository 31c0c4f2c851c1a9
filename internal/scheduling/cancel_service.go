package scheduling

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Jeduardo622/allincompassing-api/internal/observability/metrics"
	"github.com/Jeduardo622/allincompassing-api/internal/tenancy"
	"github.com/Jeduardo622/allincompassing-api/pkg/logging"
)

// CancelService releases holds and cancels confirmed sessions, scoped by
// tenant and role.
type CancelService struct {
	repo    Repository
	auditor Auditor
	logger  *logging.Logger
	metrics *metrics.SchedulingMetrics
}

func NewCancelService(repo Repository, auditor Auditor, logger *logging.Logger, m *metrics.SchedulingMetrics) *CancelService {
	if repo == nil {
		panic("scheduling: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CancelService{repo: repo, auditor: auditor, logger: logger, metrics: m}
}

// ReleaseHold deletes the named hold. Therapists may only release their
// own holds; a hold linked to a session emits a hold_released audit event.
func (s *CancelService) ReleaseHold(ctx context.Context, holdKey string) (*Hold, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.release_hold")
	defer span.End()

	orgID, ok := tenancy.OrgIDFromContext(ctx)
	if !ok {
		return nil, &ConflictError{Code: CodeForbidden, Message: "organization context required"}
	}
	actorID, _ := tenancy.UserIDFromContext(ctx)
	span.SetAttributes(attribute.String("allincompassing.org_id", orgID))

	if holdKey == "" {
		return nil, &ConflictError{Code: CodeMissingFields, Message: "hold_key is required"}
	}

	if role, ok := tenancy.RoleFromContext(ctx); ok && !role.CanManageOthers() {
		hold, err := s.repo.GetHoldByKey(ctx, orgID, holdKey)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if hold != nil && hold.TherapistID != actorID {
			return nil, &ConflictError{Code: CodeForbidden, Message: "therapists may only release their own holds"}
		}
	}

	hold, err := s.repo.ReleaseHold(ctx, orgID, holdKey)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if hold == nil {
		return nil, &ConflictError{Code: CodeHoldNotFound, Message: "hold not found"}
	}

	if hold.SessionID != nil && s.auditor != nil {
		s.auditor.Record(ctx, orgID, EventHoldReleased, actorID, map[string]any{
			"hold_key":   hold.HoldKey,
			"session_id": *hold.SessionID,
		})
	}
	s.metrics.ObserveCancel("hold_release")
	s.logger.Info("hold released", "org_id", orgID, "hold_key", hold.HoldKey)
	return hold, nil
}

// CancelFilter selects the sessions to cancel. SessionIDs, Date and
// TherapistID compose; at least one must be supplied.
type CancelFilter struct {
	SessionIDs  []string
	Date        *time.Time
	TherapistID string
	Reason      *string
}

// CancelSummary reports the outcome of a batch cancellation.
type CancelSummary struct {
	CancelledSessionIDs        []string `json:"cancelledSessionIds"`
	AlreadyCancelledSessionIDs []string `json:"alreadyCancelledSessionIds"`
	TotalMatched               int      `json:"totalMatched"`
}

// CancelSessions cancels the in-scope sessions matching the filter.
// Sessions outside the caller's scope fail the whole batch with FORBIDDEN
// rather than being skipped, so callers cannot probe for out-of-scope
// sessions through partial success. Already-cancelled sessions are counted
// separately and are never an error.
func (s *CancelService) CancelSessions(ctx context.Context, f CancelFilter) (*CancelSummary, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.cancel_sessions")
	defer span.End()

	orgID, ok := tenancy.OrgIDFromContext(ctx)
	if !ok {
		return nil, &ConflictError{Code: CodeForbidden, Message: "organization context required"}
	}
	actorID, _ := tenancy.UserIDFromContext(ctx)
	span.SetAttributes(attribute.String("allincompassing.org_id", orgID))

	if len(f.SessionIDs) == 0 && f.Date == nil && f.TherapistID == "" {
		return nil, &ConflictError{Code: CodeMissingFields, Message: "session_ids, date or therapist_id is required"}
	}

	sessions, err := s.repo.FindSessions(ctx, orgID, SessionFilter{
		IDs:         f.SessionIDs,
		Date:        f.Date,
		TherapistID: f.TherapistID,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// An explicit id set must resolve completely inside the caller's org:
	// a shortfall means some id is out of scope (or nonexistent, which is
	// indistinguishable by design).
	if len(f.SessionIDs) > 0 && len(sessions) != len(f.SessionIDs) {
		return nil, &ConflictError{Code: CodeForbidden, Message: "one or more sessions are not accessible"}
	}

	if role, ok := tenancy.RoleFromContext(ctx); ok && !role.CanManageOthers() {
		for _, session := range sessions {
			if session.TherapistID != actorID {
				return nil, &ConflictError{Code: CodeForbidden, Message: "therapists may only cancel their own sessions"}
			}
		}
	}

	summary := &CancelSummary{
		CancelledSessionIDs:        []string{},
		AlreadyCancelledSessionIDs: []string{},
		TotalMatched:               len(sessions),
	}
	for _, session := range sessions {
		if session.Status == StatusCancelled {
			summary.AlreadyCancelledSessionIDs = append(summary.AlreadyCancelledSessionIDs, session.ID)
			continue
		}
		summary.CancelledSessionIDs = append(summary.CancelledSessionIDs, session.ID)
	}

	if len(summary.CancelledSessionIDs) > 0 {
		if err := s.repo.CancelSessions(ctx, orgID, summary.CancelledSessionIDs, f.Reason, actorID); err != nil {
			span.RecordError(err)
			return nil, err
		}
		if s.auditor != nil {
			s.auditor.Record(ctx, orgID, EventSessionCancelled, actorID, map[string]any{
				"session_ids": summary.CancelledSessionIDs,
				"reason":      f.Reason,
			})
		}
		s.metrics.ObserveCancel("session")
	}

	s.logger.Info("sessions cancelled",
		"org_id", orgID,
		"cancelled", len(summary.CancelledSessionIDs),
		"already_cancelled", len(summary.AlreadyCancelledSessionIDs),
	)
	return summary, nil
}
