package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepositoryScopesChecksByOrg(t *testing.T) {
	repo := NewMemoryRepository()
	now := mustParse(t, "2026-02-02T09:00:00Z")
	start := mustParse(t, "2026-02-02T10:00:00Z")
	end := mustParse(t, "2026-02-02T11:00:00Z")

	// Another tenant owns the same therapist and client ids in the same
	// window; its records must be invisible to org-1.
	repo.SeedSession(Session{
		ID: "sess-other", OrgID: "org-2", TherapistID: "th-1", ClientID: "cl-1",
		StartTime: start, EndTime: end, Status: StatusScheduled,
	})
	repo.SeedHold(Hold{
		HoldKey: "hold-other", OrgID: "org-2", TherapistID: "th-1", ClientID: "cl-1",
		StartTime: start, EndTime: end, ExpiresAt: now.Add(10 * time.Minute),
	})

	hold, err := repo.AcquireHold(context.Background(), AcquireParams{
		OrgID: "org-1", TherapistID: "th-1", ClientID: "cl-1",
		StartTime: start, EndTime: end, HoldTTL: 5 * time.Minute, Now: now,
	})
	require.NoError(t, err)
	require.NotNil(t, hold)

	session, err := repo.ConfirmHold(context.Background(), ConfirmParams{
		OrgID: "org-1", HoldKey: hold.HoldKey, Now: now,
	})
	require.NoError(t, err)
	assert.Equal(t, "org-1", session.OrgID)

	clearance, err := repo.EarliestClearance(context.Background(), ClearanceQuery{
		OrgID: "org-1", TherapistID: "th-1", StartTime: start, EndTime: end, Now: now,
	})
	require.NoError(t, err)
	require.NotNil(t, clearance, "own org's confirmed session should count")
	assert.Equal(t, end, *clearance)
}

func TestMemoryRepositoryClearanceExcludesOwnHold(t *testing.T) {
	repo := NewMemoryRepository()
	now := mustParse(t, "2026-02-02T09:00:00Z")
	start := mustParse(t, "2026-02-02T10:00:00Z")
	end := mustParse(t, "2026-02-02T11:00:00Z")

	repo.SeedHold(Hold{
		HoldKey: "hold-mine", OrgID: "org-1", TherapistID: "th-1", ClientID: "cl-1",
		StartTime: start, EndTime: end, ExpiresAt: mustParse(t, "2026-02-02T09:10:00Z"),
	})
	repo.SeedSession(Session{
		ID: "sess-competing", OrgID: "org-1", TherapistID: "th-1", ClientID: "cl-2",
		StartTime: start, EndTime: end, Status: StatusScheduled,
	})

	clearance, err := repo.EarliestClearance(context.Background(), ClearanceQuery{
		OrgID: "org-1", TherapistID: "th-1", ExcludeHoldKey: "hold-mine",
		StartTime: start, EndTime: end, Now: now,
	})
	require.NoError(t, err)
	require.NotNil(t, clearance)
	assert.Equal(t, end, *clearance, "clearance is the competing session's end, not the caller's own expiry")
}
