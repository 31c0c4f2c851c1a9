// Package orchestrator wraps scheduling outcomes with a best-effort AI
// delegation step. It augments responses with rollback guidance and
// suggested alternatives but never alters the deterministic result already
// computed by the scheduling services.
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Jeduardo622/allincompassing-api/internal/observability/metrics"
	"github.com/Jeduardo622/allincompassing-api/internal/tenancy"
	"github.com/Jeduardo622/allincompassing-api/pkg/logging"
)

var orchestratorTracer = otel.Tracer("allincompassing.internal.orchestrator")

// Workflow names the scheduling operation being orchestrated.
type Workflow string

const (
	WorkflowHold       Workflow = "hold"
	WorkflowConfirm    Workflow = "confirm"
	WorkflowCancel     Workflow = "cancel"
	WorkflowReschedule Workflow = "reschedule"
)

// RunStatus is the outcome of one delegation attempt.
type RunStatus string

const (
	StatusOK      RunStatus = "ok"
	StatusSkipped RunStatus = "skipped"
	StatusBlocked RunStatus = "blocked"
	StatusError   RunStatus = "error"
)

// RollbackPlan is the workflow-specific corrective action suggested to the
// caller after a failed operation.
type RollbackPlan struct {
	Action       string     `json:"action"`
	HoldKey      string     `json:"holdKey,omitempty"`
	RetryAfter   *time.Time `json:"retryAfter,omitempty"`
	ConflictCode string     `json:"conflictCode,omitempty"`
}

// BuildRollbackPlan maps a workflow onto its corrective action: failed hold
// and confirm attempts retry the hold, cancellations reacquire it, and
// reschedules ask for alternatives.
func BuildRollbackPlan(workflow Workflow, conflictCode string, retryAfter *time.Time, holdKey string) *RollbackPlan {
	plan := &RollbackPlan{
		HoldKey:      holdKey,
		RetryAfter:   retryAfter,
		ConflictCode: conflictCode,
	}
	switch workflow {
	case WorkflowCancel:
		plan.Action = "reacquire_hold"
	case WorkflowReschedule:
		plan.Action = "propose_alternatives"
	default:
		plan.Action = "retry_hold"
	}
	return plan
}

// Input is the snapshot of a scheduling outcome handed to the orchestrator.
type Input struct {
	Workflow     Workflow
	HoldKey      string
	ConflictCode string
	RetryAfter   *time.Time
	Snapshot     map[string]any
}

// Result is attached to the HTTP response alongside the deterministic
// outcome.
type Result struct {
	Status       RunStatus           `json:"status"`
	RollbackPlan *RollbackPlan       `json:"rollbackPlan,omitempty"`
	Suggestions  *SuggestionResponse `json:"suggestions,omitempty"`
}

// Orchestrator runs the delegation step and records one Run per invocation.
type Orchestrator struct {
	suggester SuggestionClient
	runs      RunStore
	logger    *logging.Logger
	metrics   *metrics.SchedulingMetrics
	enabled   bool
	timeout   time.Duration
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout bounds the suggestion call.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func New(suggester SuggestionClient, runs RunStore, logger *logging.Logger, m *metrics.SchedulingMetrics, enabled bool, opts ...Option) *Orchestrator {
	if runs == nil {
		panic("orchestrator: run store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	o := &Orchestrator{
		suggester: suggester,
		runs:      runs,
		logger:    logger,
		metrics:   m,
		enabled:   enabled,
		timeout:   4 * time.Second,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Orchestrate executes the delegation step for one scheduling outcome. It
// always returns a usable Result and never an error: delegation failures
// degrade the status, not the caller's response. Exactly one Run record is
// written per invocation, whichever branch is taken.
func (o *Orchestrator) Orchestrate(ctx context.Context, input Input) *Result {
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.orchestrate")
	defer span.End()
	span.SetAttributes(attribute.String("allincompassing.workflow", string(input.Workflow)))

	result := &Result{
		RollbackPlan: BuildRollbackPlan(input.Workflow, input.ConflictCode, input.RetryAfter, input.HoldKey),
	}

	orgID, hasOrg := tenancy.OrgIDFromContext(ctx)
	switch {
	case !hasOrg:
		result.Status = StatusBlocked
	case !o.enabled || o.suggester == nil:
		result.Status = StatusSkipped
	default:
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		suggestions, err := o.suggester.Suggest(callCtx, SuggestionRequest{
			Workflow:     string(input.Workflow),
			ConflictCode: input.ConflictCode,
			HoldKey:      input.HoldKey,
			RetryAfter:   input.RetryAfter,
			Snapshot:     input.Snapshot,
		})
		cancel()
		if err != nil {
			result.Status = StatusError
			o.logger.Warn("suggestion delegation failed",
				"workflow", input.Workflow,
				"error", err,
			)
		} else {
			result.Status = StatusOK
			result.Suggestions = suggestions
		}
	}

	o.metrics.ObserveOrchestrationRun(string(input.Workflow), string(result.Status))
	o.record(ctx, orgID, input, result)
	return result
}

// record appends the run. Failures are logged, never escalated; the
// deterministic outcome has already been decided.
func (o *Orchestrator) record(ctx context.Context, orgID string, input Input, result *Result) {
	run := Run{
		ID:        uuid.New(),
		OrgID:     orgID,
		Workflow:  input.Workflow,
		Status:    result.Status,
		CreatedAt: o.now(),
	}
	run.Input = marshalOrNull(map[string]any{
		"hold_key":      input.HoldKey,
		"conflict_code": input.ConflictCode,
		"retry_after":   input.RetryAfter,
		"snapshot":      input.Snapshot,
	})
	run.RollbackPlan = marshalOrNull(result.RollbackPlan)
	if result.Suggestions != nil {
		run.AIResponse = marshalOrNull(result.Suggestions)
	}

	if err := o.runs.Insert(ctx, run); err != nil {
		o.logger.Error("orchestration run write failed",
			"workflow", input.Workflow,
			"status", result.Status,
			"error", err,
		)
	}
}

func marshalOrNull(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
