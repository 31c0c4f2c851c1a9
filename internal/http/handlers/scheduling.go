// Package handlers exposes the scheduling core as JSON-over-HTTP endpoints.
// Every endpoint shares a uniform envelope and runs behind the idempotency
// layer when the caller supplies an Idempotency-Key header.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Jeduardo622/allincompassing-api/internal/idempotency"
	"github.com/Jeduardo622/allincompassing-api/internal/observability/metrics"
	"github.com/Jeduardo622/allincompassing-api/internal/orchestrator"
	"github.com/Jeduardo622/allincompassing-api/internal/scheduling"
	"github.com/Jeduardo622/allincompassing-api/pkg/logging"
)

const (
	endpointHold    = "sessions-hold"
	endpointConfirm = "sessions-confirm"
	endpointCancel  = "sessions-cancel"

	headerIdempotencyKey = "Idempotency-Key"
	headerReplay         = "Idempotent-Replay"
)

// envelope is the uniform response shape for all scheduling endpoints.
type envelope struct {
	Success       bool                 `json:"success"`
	Data          any                  `json:"data,omitempty"`
	Error         string               `json:"error,omitempty"`
	Code          string               `json:"code,omitempty"`
	RetryAfter    *time.Time           `json:"retryAfter,omitempty"`
	Orchestration *orchestrator.Result `json:"orchestration,omitempty"`
}

// SchedulingHandler wires the hold/confirm/cancel services, the idempotency
// store and the orchestrator into HTTP endpoints.
type SchedulingHandler struct {
	holds    *scheduling.HoldService
	confirms *scheduling.ConfirmService
	cancels  *scheduling.CancelService
	idem     idempotency.Store
	orch     *orchestrator.Orchestrator
	logger   *logging.Logger
	metrics  *metrics.SchedulingMetrics
	now      func() time.Time
}

func NewSchedulingHandler(
	holds *scheduling.HoldService,
	confirms *scheduling.ConfirmService,
	cancels *scheduling.CancelService,
	idem idempotency.Store,
	orch *orchestrator.Orchestrator,
	logger *logging.Logger,
	m *metrics.SchedulingMetrics,
) *SchedulingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SchedulingHandler{
		holds:    holds,
		confirms: confirms,
		cancels:  cancels,
		idem:     idem,
		orch:     orch,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type occurrencePayload struct {
	StartTime              time.Time `json:"start_time"`
	EndTime                time.Time `json:"end_time"`
	StartTimeOffsetMinutes int       `json:"start_time_offset_minutes"`
	EndTimeOffsetMinutes   int       `json:"end_time_offset_minutes"`
	TimeZone               string    `json:"time_zone"`
}

func (p occurrencePayload) toOccurrence() scheduling.Occurrence {
	return scheduling.Occurrence{
		StartTime:              p.StartTime,
		EndTime:                p.EndTime,
		StartTimeOffsetMinutes: p.StartTimeOffsetMinutes,
		EndTimeOffsetMinutes:   p.EndTimeOffsetMinutes,
		TimeZone:               p.TimeZone,
	}
}

type holdRequest struct {
	occurrencePayload
	TherapistID string              `json:"therapist_id"`
	ClientID    string              `json:"client_id"`
	SessionID   *string             `json:"session_id,omitempty"`
	HoldSeconds int                 `json:"hold_seconds,omitempty"`
	Occurrences []occurrencePayload `json:"occurrences,omitempty"`
}

type holdResponse struct {
	HoldKey   string            `json:"holdKey"`
	HoldID    string            `json:"holdId"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Holds     []scheduling.Hold `json:"holds"`
}

// AcquireHold handles POST /sessions-hold.
func (h *SchedulingHandler) AcquireHold(w http.ResponseWriter, r *http.Request) {
	h.withIdempotency(w, r, endpointHold, func() (int, envelope) {
		var req holdRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return http.StatusBadRequest, envelope{Success: false, Error: "invalid JSON body", Code: string(scheduling.CodeMissingFields)}
		}

		occurrences := make([]scheduling.Occurrence, 0, len(req.Occurrences)+1)
		if !req.StartTime.IsZero() || !req.EndTime.IsZero() {
			occurrences = append(occurrences, req.occurrencePayload.toOccurrence())
		}
		for _, occ := range req.Occurrences {
			occurrences = append(occurrences, occ.toOccurrence())
		}

		result, err := h.holds.AcquireHolds(r.Context(), scheduling.AcquireRequest{
			TherapistID: req.TherapistID,
			ClientID:    req.ClientID,
			SessionID:   req.SessionID,
			HoldSeconds: req.HoldSeconds,
			Occurrences: occurrences,
		})
		if err != nil {
			status, env := h.classify(w, err)
			if isSchedulingConflict(err) {
				env.Orchestration = h.orchestrate(r, orchestrator.WorkflowHold, err, "")
			}
			return status, env
		}

		return http.StatusOK, envelope{Success: true, Data: holdResponse{
			HoldKey:   result.Hold.HoldKey,
			HoldID:    result.Hold.ID,
			ExpiresAt: result.Hold.ExpiresAt,
			Holds:     result.Holds,
		}}
	})
}

type confirmRequest struct {
	HoldKey string `json:"hold_key"`
	Session struct {
		TherapistID string  `json:"therapist_id,omitempty"`
		ClientID    string  `json:"client_id,omitempty"`
		Notes       *string `json:"notes,omitempty"`
	} `json:"session"`
	OccurrenceHoldKeys []string `json:"occurrence_hold_keys,omitempty"`
}

type confirmResponse struct {
	Session                *scheduling.Session  `json:"session"`
	Sessions               []scheduling.Session `json:"sessions"`
	RoundedDurationMinutes int                  `json:"roundedDurationMinutes"`
}

// ConfirmHold handles POST /sessions-confirm.
func (h *SchedulingHandler) ConfirmHold(w http.ResponseWriter, r *http.Request) {
	h.withIdempotency(w, r, endpointConfirm, func() (int, envelope) {
		var req confirmRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return http.StatusBadRequest, envelope{Success: false, Error: "invalid JSON body", Code: string(scheduling.CodeMissingFields)}
		}

		result, err := h.confirms.ConfirmHolds(r.Context(), scheduling.ConfirmRequest{
			HoldKey: req.HoldKey,
			Session: scheduling.SessionPatch{
				TherapistID: req.Session.TherapistID,
				ClientID:    req.Session.ClientID,
				Notes:       req.Session.Notes,
			},
			OccurrenceHoldKeys: req.OccurrenceHoldKeys,
		})
		if err != nil {
			status, env := h.classify(w, err)
			if isSchedulingConflict(err) {
				env.Orchestration = h.orchestrate(r, orchestrator.WorkflowConfirm, err, req.HoldKey)
			}
			return status, env
		}

		return http.StatusOK, envelope{Success: true, Data: confirmResponse{
			Session:                result.Session,
			Sessions:               result.Sessions,
			RoundedDurationMinutes: result.RoundedDurationMinutes,
		}}
	})
}

type cancelRequest struct {
	HoldKey     string   `json:"hold_key,omitempty"`
	SessionIDs  []string `json:"session_ids,omitempty"`
	Date        string   `json:"date,omitempty"`
	TherapistID string   `json:"therapist_id,omitempty"`
	Reason      *string  `json:"reason,omitempty"`
}

type releaseResponse struct {
	Released bool             `json:"released"`
	Hold     *scheduling.Hold `json:"hold"`
}

type cancelResponse struct {
	Summary *scheduling.CancelSummary `json:"summary"`
}

// Cancel handles POST /sessions-cancel. The two modes are dispatched by
// payload shape: a hold_key releases a hold, anything else cancels sessions.
func (h *SchedulingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withIdempotency(w, r, endpointCancel, func() (int, envelope) {
		var req cancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return http.StatusBadRequest, envelope{Success: false, Error: "invalid JSON body", Code: string(scheduling.CodeMissingFields)}
		}

		if req.HoldKey != "" {
			hold, err := h.cancels.ReleaseHold(r.Context(), req.HoldKey)
			if err != nil {
				status, env := h.classify(w, err)
				return status, env
			}
			env := envelope{Success: true, Data: releaseResponse{Released: true, Hold: hold}}
			env.Orchestration = h.orchestrate(r, orchestrator.WorkflowCancel, nil, req.HoldKey)
			return http.StatusOK, env
		}

		filter := scheduling.CancelFilter{
			SessionIDs:  req.SessionIDs,
			TherapistID: req.TherapistID,
			Reason:      req.Reason,
		}
		if req.Date != "" {
			date, err := parseDate(req.Date)
			if err != nil {
				return http.StatusBadRequest, envelope{Success: false, Error: "invalid date", Code: string(scheduling.CodeInvalidRange)}
			}
			filter.Date = &date
		}

		summary, err := h.cancels.CancelSessions(r.Context(), filter)
		if err != nil {
			status, env := h.classify(w, err)
			return status, env
		}
		env := envelope{Success: true, Data: cancelResponse{Summary: summary}}
		env.Orchestration = h.orchestrate(r, orchestrator.WorkflowCancel, nil, "")
		return http.StatusOK, env
	})
}

// withIdempotency replays a stored response when the caller's key has been
// seen, and persists the final response before returning it so a retried
// call after a timeout-but-succeeded request observes the effects once.
func (h *SchedulingHandler) withIdempotency(w http.ResponseWriter, r *http.Request, endpoint string, fn func() (int, envelope)) {
	started := h.now()
	defer func() {
		h.metrics.ObserveRequestLatency(endpoint, h.now().Sub(started).Seconds())
	}()

	key := r.Header.Get(headerIdempotencyKey)
	if key == "" || h.idem == nil {
		status, env := fn()
		writeJSON(w, status, env)
		return
	}

	if rec, err := h.idem.Find(r.Context(), key, endpoint); err != nil {
		h.logger.Error("idempotency lookup failed", "endpoint", endpoint, "error", err)
	} else if rec != nil {
		h.metrics.ObserveIdempotentReplay()
		w.Header().Set(headerReplay, "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rec.StatusCode)
		_, _ = w.Write(rec.Body)
		return
	}

	status, env := fn()
	body, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("response marshal failed", "endpoint", endpoint, "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "internal error"})
		return
	}

	rec, err := h.idem.Persist(r.Context(), key, endpoint, body, status)
	if err != nil {
		if errors.Is(err, idempotency.ErrConflict) {
			writeJSON(w, http.StatusConflict, envelope{
				Success: false,
				Error:   "idempotency key reused with a different payload",
				Code:    "IDEMPOTENCY_CONFLICT",
			})
			return
		}
		h.logger.Error("idempotency persist failed", "endpoint", endpoint, "error", err)
		// Serve the computed response anyway; only replay protection is lost.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
		return
	}

	// A lost insert race replays the winner's stored response.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.Body)
}

// classify maps service errors onto the envelope, setting the Retry-After
// header for conflicts that carry a retry instant.
func (h *SchedulingHandler) classify(w http.ResponseWriter, err error) (int, envelope) {
	var conflict *scheduling.ConflictError
	if errors.As(err, &conflict) {
		if conflict.RetryAfter != nil {
			w.Header().Set("Retry-After", strconv.Itoa(conflict.RetryAfterSeconds(h.now())))
		}
		return conflict.HTTPStatus(), envelope{
			Success:    false,
			Error:      conflict.Message,
			Code:       string(conflict.Code),
			RetryAfter: conflict.RetryAfter,
		}
	}
	h.logger.Error("scheduling request failed", "error", err)
	return http.StatusInternalServerError, envelope{Success: false, Error: "internal error"}
}

// orchestrate runs the best-effort delegation step. err carries the
// conflict for failed workflows; nil means the workflow succeeded.
func (h *SchedulingHandler) orchestrate(r *http.Request, workflow orchestrator.Workflow, err error, holdKey string) *orchestrator.Result {
	if h.orch == nil {
		return nil
	}
	input := orchestrator.Input{Workflow: workflow, HoldKey: holdKey}
	var conflict *scheduling.ConflictError
	if errors.As(err, &conflict) {
		input.ConflictCode = string(conflict.Code)
		input.RetryAfter = conflict.RetryAfter
	}
	return h.orch.Orchestrate(r.Context(), input)
}

func isSchedulingConflict(err error) bool {
	var conflict *scheduling.ConflictError
	if !errors.As(err, &conflict) {
		return false
	}
	switch conflict.Code {
	case scheduling.CodeTherapistConflict, scheduling.CodeClientConflict,
		scheduling.CodeTherapistHoldConflict, scheduling.CodeClientHoldConflict,
		scheduling.CodeHoldExists:
		return true
	}
	return false
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", value)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
