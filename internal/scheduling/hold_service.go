package scheduling

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Jeduardo622/allincompassing-api/internal/observability/metrics"
	"github.com/Jeduardo622/allincompassing-api/internal/tenancy"
	"github.com/Jeduardo622/allincompassing-api/pkg/logging"
)

var schedulingTracer = otel.Tracer("allincompassing.internal.scheduling")

// Auditor records state-transition events. Implementations are best-effort:
// they log failures and never return them.
type Auditor interface {
	Record(ctx context.Context, orgID, eventType, actorID string, payload map[string]any)
}

const (
	EventHoldAcquired     = "hold_acquired"
	EventHoldReleased     = "hold_released"
	EventHoldExpired      = "hold_expired"
	EventSessionConfirmed = "session_confirmed"
	EventSessionCancelled = "session_cancelled"
)

// HoldService creates time-boxed provisional reservations with a
// single-writer-per-window guarantee.
type HoldService struct {
	repo    Repository
	auditor Auditor
	logger  *logging.Logger
	metrics *metrics.SchedulingMetrics

	defaultTTL time.Duration
	maxTTL     time.Duration
	now        func() time.Time
}

// HoldServiceOption configures a HoldService.
type HoldServiceOption func(*HoldService)

// WithHoldTTLBounds overrides the default and maximum hold lifetimes.
func WithHoldTTLBounds(def, max time.Duration) HoldServiceOption {
	return func(s *HoldService) {
		if def > 0 {
			s.defaultTTL = def
		}
		if max > 0 {
			s.maxTTL = max
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) HoldServiceOption {
	return func(s *HoldService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewHoldService(repo Repository, auditor Auditor, logger *logging.Logger, m *metrics.SchedulingMetrics, opts ...HoldServiceOption) *HoldService {
	if repo == nil {
		panic("scheduling: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &HoldService{
		repo:       repo,
		auditor:    auditor,
		logger:     logger,
		metrics:    m,
		defaultTTL: 5 * time.Minute,
		maxTTL:     30 * time.Minute,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AcquireRequest is one hold-acquire call, possibly covering multiple
// recurring occurrences.
type AcquireRequest struct {
	TherapistID string
	ClientID    string
	SessionID   *string
	HoldSeconds int
	Occurrences []Occurrence
}

// AcquireResult reports the created holds. Hold is the first occurrence's
// hold, kept for single-occurrence callers.
type AcquireResult struct {
	Hold  *Hold
	Holds []Hold
}

// AcquireHolds verifies authorization and window validity, then acquires
// one hold per occurrence. The batch is all-or-nothing: on any conflict,
// holds created earlier in the same batch are deleted before the conflict
// is returned, so no partial batch state remains visible.
func (s *HoldService) AcquireHolds(ctx context.Context, req AcquireRequest) (*AcquireResult, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.acquire_holds")
	defer span.End()

	orgID, ok := tenancy.OrgIDFromContext(ctx)
	if !ok {
		return nil, &ConflictError{Code: CodeForbidden, Message: "organization context required"}
	}
	actorID, _ := tenancy.UserIDFromContext(ctx)
	span.SetAttributes(
		attribute.String("allincompassing.org_id", orgID),
		attribute.Int("allincompassing.occurrences", len(req.Occurrences)),
	)

	if role, ok := tenancy.RoleFromContext(ctx); ok && !role.CanManageOthers() && req.TherapistID != actorID {
		return nil, &ConflictError{Code: CodeForbidden, Message: "therapists may only hold their own schedule"}
	}
	if req.TherapistID == "" || req.ClientID == "" || len(req.Occurrences) == 0 {
		return nil, &ConflictError{Code: CodeMissingFields, Message: "therapist_id, client_id and at least one occurrence are required"}
	}

	for _, occ := range req.Occurrences {
		if !occ.StartTime.Before(occ.EndTime) {
			return nil, &ConflictError{Code: CodeInvalidRange, Message: "start_time must precede end_time"}
		}
		if err := ValidateOffsets(occ); err != nil {
			return nil, &ConflictError{Code: CodeInvalidRange, Message: err.Error()}
		}
	}

	ttl := s.defaultTTL
	if req.HoldSeconds > 0 {
		ttl = time.Duration(req.HoldSeconds) * time.Second
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	now := s.now()
	var created []Hold
	var createdKeys []string
	for _, occ := range req.Occurrences {
		hold, err := s.repo.AcquireHold(ctx, AcquireParams{
			OrgID:       orgID,
			TherapistID: req.TherapistID,
			ClientID:    req.ClientID,
			StartTime:   occ.StartTime,
			EndTime:     occ.EndTime,
			SessionID:   req.SessionID,
			HoldTTL:     ttl,
			ActorID:     actorID,
			Now:         now,
		})
		if err != nil {
			var conflict *ConflictError
			if errors.As(err, &conflict) {
				s.resolveRetryAfter(ctx, conflict, orgID, req.TherapistID, req.ClientID, occ, now)
				s.rollbackBatch(ctx, orgID, createdKeys)
				s.metrics.ObserveConflict(string(conflict.Code))
				span.RecordError(conflict)
				return nil, conflict
			}
			s.rollbackBatch(ctx, orgID, createdKeys)
			span.RecordError(err)
			return nil, err
		}
		created = append(created, *hold)
		createdKeys = append(createdKeys, hold.HoldKey)
		if s.auditor != nil {
			s.auditor.Record(ctx, orgID, EventHoldAcquired, actorID, map[string]any{
				"hold_key":     hold.HoldKey,
				"therapist_id": hold.TherapistID,
				"client_id":    hold.ClientID,
				"start_time":   hold.StartTime,
				"end_time":     hold.EndTime,
				"expires_at":   hold.ExpiresAt,
			})
		}
		s.metrics.ObserveHoldAcquired()
	}

	s.logger.Info("holds acquired",
		"org_id", orgID,
		"therapist_id", req.TherapistID,
		"count", len(created),
		"expires_at", created[0].ExpiresAt,
	)
	return &AcquireResult{Hold: &created[0], Holds: created}, nil
}

// resolveRetryAfter fills in the earliest retry instant for conflicts the
// repository could not compute inline (confirmed-session conflicts).
func (s *HoldService) resolveRetryAfter(ctx context.Context, conflict *ConflictError, orgID, therapistID, clientID string, occ Occurrence, now time.Time) {
	if conflict.RetryAfter != nil {
		return
	}
	q := ClearanceQuery{OrgID: orgID, StartTime: occ.StartTime, EndTime: occ.EndTime, Now: now}
	switch conflict.Code {
	case CodeTherapistConflict, CodeTherapistHoldConflict:
		q.TherapistID = therapistID
	case CodeClientConflict, CodeClientHoldConflict:
		q.ClientID = clientID
	case CodeHoldExists:
		q.TherapistID = therapistID
		q.ClientID = clientID
	default:
		return
	}
	retryAfter, err := s.repo.EarliestClearance(ctx, q)
	if err != nil {
		s.logger.Warn("retry-after scan failed", "error", err, "code", conflict.Code)
		return
	}
	conflict.RetryAfter = retryAfter
}

// rollbackBatch deletes holds created earlier in a failed batch. Delete
// failures are logged with the hold keys; expiry makes stragglers
// self-healing.
func (s *HoldService) rollbackBatch(ctx context.Context, orgID string, holdKeys []string) {
	if len(holdKeys) == 0 {
		return
	}
	if err := s.repo.DeleteHoldsByKeys(ctx, orgID, holdKeys); err != nil {
		s.logger.Error("batch hold rollback failed", "error", err, "org_id", orgID, "hold_keys", holdKeys)
	}
}
