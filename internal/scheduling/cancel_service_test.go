package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeduardo622/allincompassing-api/pkg/logging"
)

func newCancelService(repo Repository, auditor Auditor) *CancelService {
	return NewCancelService(repo, auditor, logging.Default(), nil)
}

func TestReleaseHold(t *testing.T) {
	repo := newFakeRepo()
	auditor := &recordingAuditor{}
	sessionID := "sess-linked"
	repo.SeedHold(Hold{
		HoldKey:     "hold-1",
		OrgID:       "org-1",
		TherapistID: "th-1",
		ClientID:    "cl-1",
		SessionID:   &sessionID,
		StartTime:   mustParse(t, "2026-02-02T10:00:00Z"),
		EndTime:     mustParse(t, "2026-02-02T11:00:00Z"),
		ExpiresAt:   mustParse(t, "2026-02-02T09:10:00Z"),
	})
	svc := newCancelService(repo, auditor)

	hold, err := svc.ReleaseHold(schedulerCtx("org-1", "user-1"), "hold-1")
	require.NoError(t, err)
	assert.Equal(t, "hold-1", hold.HoldKey)
	assert.Empty(t, repo.holds)
	assert.Equal(t, []string{EventHoldReleased}, auditor.eventTypes())
}

func TestReleaseHoldNotFound(t *testing.T) {
	svc := newCancelService(newFakeRepo(), nil)

	_, err := svc.ReleaseHold(schedulerCtx("org-1", "user-1"), "no-such-hold")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, CodeHoldNotFound, conflict.Code)
}

func TestReleaseHoldTherapistRoleSelfOnly(t *testing.T) {
	repo := newFakeRepo()
	repo.SeedHold(Hold{
		HoldKey:     "hold-1",
		OrgID:       "org-1",
		TherapistID: "th-1",
		ClientID:    "cl-1",
		StartTime:   mustParse(t, "2026-02-02T10:00:00Z"),
		EndTime:     mustParse(t, "2026-02-02T11:00:00Z"),
		ExpiresAt:   mustParse(t, "2026-02-02T09:10:00Z"),
	})
	svc := newCancelService(repo, nil)

	_, err := svc.ReleaseHold(therapistCtx("org-1", "th-2"), "hold-1")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, CodeForbidden, conflict.Code)
	assert.Len(t, repo.holds, 1)
}

func seedScheduledSession(t *testing.T, repo *MemoryRepository, id, therapistID, start string) {
	t.Helper()
	startAt := mustParse(t, start)
	repo.SeedSession(Session{
		ID:          id,
		OrgID:       "org-1",
		TherapistID: therapistID,
		ClientID:    "cl-1",
		StartTime:   startAt,
		EndTime:     startAt.Add(time.Hour),
		Status:      StatusScheduled,
	})
}

func TestCancelSessionsByIDs(t *testing.T) {
	repo := newFakeRepo()
	auditor := &recordingAuditor{}
	seedScheduledSession(t, repo, "sess-1", "th-1", "2026-02-02T10:00:00Z")
	seedScheduledSession(t, repo, "sess-2", "th-1", "2026-02-02T12:00:00Z")
	svc := newCancelService(repo, auditor)

	summary, err := svc.CancelSessions(schedulerCtx("org-1", "user-1"), CancelFilter{SessionIDs: []string{"sess-1", "sess-2"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sess-1", "sess-2"}, summary.CancelledSessionIDs)
	assert.Empty(t, summary.AlreadyCancelledSessionIDs)
	assert.Equal(t, 2, summary.TotalMatched)
	assert.Equal(t, StatusCancelled, repo.sessions["sess-1"].Status)
	assert.Equal(t, []string{EventSessionCancelled}, auditor.eventTypes())
}

func TestCancelSessionsDoubleCancelIdempotent(t *testing.T) {
	repo := newFakeRepo()
	seedScheduledSession(t, repo, "sess-1", "th-1", "2026-02-02T10:00:00Z")
	svc := newCancelService(repo, nil)
	ctx := schedulerCtx("org-1", "user-1")
	filter := CancelFilter{SessionIDs: []string{"sess-1"}}

	first, err := svc.CancelSessions(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-1"}, first.CancelledSessionIDs)

	second, err := svc.CancelSessions(ctx, filter)
	require.NoError(t, err)
	assert.Empty(t, second.CancelledSessionIDs)
	assert.Equal(t, []string{"sess-1"}, second.AlreadyCancelledSessionIDs)
}

func TestCancelSessionsOutOfScopeIDFailsBatch(t *testing.T) {
	repo := newFakeRepo()
	seedScheduledSession(t, repo, "sess-1", "th-1", "2026-02-02T10:00:00Z")
	svc := newCancelService(repo, nil)

	_, err := svc.CancelSessions(schedulerCtx("org-1", "user-1"), CancelFilter{SessionIDs: []string{"sess-1", "sess-other-org"}})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, CodeForbidden, conflict.Code)
	assert.Equal(t, StatusScheduled, repo.sessions["sess-1"].Status, "nothing in the batch may be cancelled")
}

func TestCancelSessionsTherapistScope(t *testing.T) {
	repo := newFakeRepo()
	seedScheduledSession(t, repo, "sess-own", "th-1", "2026-02-02T10:00:00Z")
	seedScheduledSession(t, repo, "sess-other", "th-2", "2026-02-02T10:00:00Z")
	svc := newCancelService(repo, nil)

	_, err := svc.CancelSessions(therapistCtx("org-1", "th-1"), CancelFilter{SessionIDs: []string{"sess-own", "sess-other"}})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, CodeForbidden, conflict.Code)

	summary, err := svc.CancelSessions(therapistCtx("org-1", "th-1"), CancelFilter{SessionIDs: []string{"sess-own"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-own"}, summary.CancelledSessionIDs)
}

func TestCancelSessionsByDateAndTherapist(t *testing.T) {
	repo := newFakeRepo()
	seedScheduledSession(t, repo, "sess-1", "th-1", "2026-02-02T10:00:00Z")
	seedScheduledSession(t, repo, "sess-2", "th-1", "2026-02-02T14:00:00Z")
	seedScheduledSession(t, repo, "sess-next-day", "th-1", "2026-02-03T10:00:00Z")
	seedScheduledSession(t, repo, "sess-other-th", "th-2", "2026-02-02T10:00:00Z")
	svc := newCancelService(repo, nil)

	day := mustParse(t, "2026-02-02T00:00:00Z")
	reason := "clinic closure"
	summary, err := svc.CancelSessions(schedulerCtx("org-1", "user-1"), CancelFilter{
		Date:        &day,
		TherapistID: "th-1",
		Reason:      &reason,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"sess-1", "sess-2"}, summary.CancelledSessionIDs)
	assert.Equal(t, 2, summary.TotalMatched)
	assert.Equal(t, StatusScheduled, repo.sessions["sess-next-day"].Status)
	assert.Equal(t, StatusScheduled, repo.sessions["sess-other-th"].Status)
	require.NotNil(t, repo.sessions["sess-1"].Notes)
	assert.Equal(t, reason, *repo.sessions["sess-1"].Notes)
}

func TestCancelSessionsRequiresFilter(t *testing.T) {
	svc := newCancelService(newFakeRepo(), nil)

	_, err := svc.CancelSessions(schedulerCtx("org-1", "user-1"), CancelFilter{})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, CodeMissingFields, conflict.Code)
}

func TestSweeperPurgesAndAudits(t *testing.T) {
	repo := newFakeRepo()
	auditor := &recordingAuditor{}
	repo.SeedHold(Hold{
		HoldKey:     "stale",
		OrgID:       "org-1",
		TherapistID: "th-1",
		ClientID:    "cl-1",
		StartTime:   mustParse(t, "2026-02-02T10:00:00Z"),
		EndTime:     mustParse(t, "2026-02-02T11:00:00Z"),
		ExpiresAt:   mustParse(t, "2026-02-02T08:00:00Z"),
	})
	repo.SeedHold(Hold{
		HoldKey:     "live",
		OrgID:       "org-1",
		TherapistID: "th-2",
		ClientID:    "cl-2",
		StartTime:   mustParse(t, "2026-02-02T10:00:00Z"),
		EndTime:     mustParse(t, "2026-02-02T11:00:00Z"),
		ExpiresAt:   mustParse(t, "2026-02-02T10:00:00Z"),
	})

	sweeper := NewExpirySweeper(repo, auditor, logging.Default(), time.Minute)
	sweeper.now = fixedClock(t, "2026-02-02T09:00:00Z")
	sweeper.Sweep(schedulerCtx("org-1", "system"))

	assert.Len(t, repo.holds, 1)
	_, liveRemains := repo.holds["live"]
	assert.True(t, liveRemains)
	assert.Equal(t, []string{EventHoldExpired}, auditor.eventTypes())
}
