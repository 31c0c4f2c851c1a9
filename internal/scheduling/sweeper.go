package scheduling

import (
	"context"
	"time"

	"github.com/Jeduardo622/allincompassing-api/pkg/logging"
)

// ExpirySweeper eagerly purges expired hold rows. Conflict checks already
// ignore expired holds, so the sweep only keeps the table small and emits
// hold_expired audit events for observability.
type ExpirySweeper struct {
	repo     Repository
	auditor  Auditor
	logger   *logging.Logger
	interval time.Duration
	now      func() time.Time
}

func NewExpirySweeper(repo Repository, auditor Auditor, logger *logging.Logger, interval time.Duration) *ExpirySweeper {
	if repo == nil {
		panic("scheduling: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{
		repo:     repo,
		auditor:  auditor,
		logger:   logger,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep deletes holds whose expiry has passed and audits each one.
func (s *ExpirySweeper) Sweep(ctx context.Context) {
	holds, err := s.repo.DeleteExpiredHolds(ctx, s.now())
	if err != nil {
		s.logger.Error("expired hold sweep failed", "error", err)
		return
	}
	if len(holds) == 0 {
		return
	}
	for _, hold := range holds {
		if s.auditor != nil {
			s.auditor.Record(ctx, hold.OrgID, EventHoldExpired, hold.CreatedBy, map[string]any{
				"hold_key":   hold.HoldKey,
				"expired_at": hold.ExpiresAt,
			})
		}
	}
	s.logger.Info("expired holds purged", "count", len(holds))
}
