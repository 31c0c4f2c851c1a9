package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Run is one append-only record of a delegation attempt. Runs are written
// once and never mutated.
type Run struct {
	ID           uuid.UUID
	OrgID        string
	Workflow     Workflow
	Status       RunStatus
	Input        json.RawMessage
	RollbackPlan json.RawMessage
	AIResponse   json.RawMessage
	CreatedAt    time.Time
}

// RunStore persists orchestration runs.
type RunStore interface {
	Insert(ctx context.Context, run Run) error
}

type runExec interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PGRunStore writes runs to the orchestration_runs table.
type PGRunStore struct {
	db runExec
}

func NewPGRunStore(pool *pgxpool.Pool) *PGRunStore {
	if pool == nil {
		panic("orchestrator: pgx pool required")
	}
	return &PGRunStore{db: pool}
}

func newPGRunStoreWithExec(db runExec) *PGRunStore {
	return &PGRunStore{db: db}
}

func (s *PGRunStore) Insert(ctx context.Context, run Run) error {
	query := `
		INSERT INTO orchestration_runs (id, org_id, workflow, status, input, rollback_plan, ai_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := s.db.Exec(ctx, query,
		run.ID, run.OrgID, run.Workflow, run.Status,
		run.Input, run.RollbackPlan, run.AIResponse, run.CreatedAt); err != nil {
		return fmt.Errorf("orchestrator: insert run: %w", err)
	}
	return nil
}

// MemoryRunStore keeps runs in memory, for tests and single-process setups.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs []Run
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{}
}

func (s *MemoryRunStore) Insert(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

// Runs returns the recorded runs in insertion order.
func (s *MemoryRunStore) Runs() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, len(s.runs))
	copy(out, s.runs)
	return out
}
