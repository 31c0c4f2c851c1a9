package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestPGRunStoreInsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPGRunStoreWithExec(mock)
	run := Run{
		ID:           uuid.New(),
		OrgID:        "org-1",
		Workflow:     WorkflowHold,
		Status:       StatusOK,
		Input:        json.RawMessage(`{"hold_key":"hold-1"}`),
		RollbackPlan: json.RawMessage(`{"action":"retry_hold"}`),
		AIResponse:   json.RawMessage(`{"alternatives":[]}`),
		CreatedAt:    time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO orchestration_runs").
		WithArgs(run.ID, run.OrgID, run.Workflow, run.Status, run.Input, run.RollbackPlan, run.AIResponse, run.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryRunStoreConcurrentInserts(t *testing.T) {
	store := NewMemoryRunStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Insert(context.Background(), Run{ID: uuid.New(), OrgID: "org-1", Workflow: WorkflowHold, Status: StatusOK})
		}()
	}
	wg.Wait()

	require.Len(t, store.Runs(), 16)
}
