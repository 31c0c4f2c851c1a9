// Package scheduling implements the hold → confirm → cancel concurrency
// core that prevents double-booking of a therapist or client across
// overlapping time windows.
package scheduling

import (
	"fmt"
	"math"
	"net/http"
	"time"
)

// SessionStatus is the lifecycle state of a confirmed session.
type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
	StatusNoShow    SessionStatus = "no_show"
)

// Hold is a provisional, time-boxed claim on a (therapist, client, window)
// triple. A hold whose ExpiresAt is in the past is treated as absent by all
// conflict checks.
type Hold struct {
	ID          string     `json:"id"`
	HoldKey     string     `json:"holdKey"`
	OrgID       string     `json:"orgId"`
	TherapistID string     `json:"therapistId"`
	ClientID    string     `json:"clientId"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     time.Time  `json:"endTime"`
	SessionID   *string    `json:"sessionId,omitempty"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Expired reports whether the hold no longer claims its window.
func (h *Hold) Expired(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}

// Session is a durable, confirmed booking.
type Session struct {
	ID              string        `json:"id"`
	OrgID           string        `json:"orgId"`
	TherapistID     string        `json:"therapistId"`
	ClientID        string        `json:"clientId"`
	StartTime       time.Time     `json:"startTime"`
	EndTime         time.Time     `json:"endTime"`
	Status          SessionStatus `json:"status"`
	DurationMinutes *int          `json:"durationMinutes,omitempty"`
	Notes           *string       `json:"notes,omitempty"`
	CreatedBy       string        `json:"createdBy"`
	UpdatedBy       string        `json:"updatedBy"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// ConflictCode is the machine-readable reason a scheduling operation was
// rejected.
type ConflictCode string

const (
	CodeTherapistConflict     ConflictCode = "THERAPIST_CONFLICT"
	CodeClientConflict        ConflictCode = "CLIENT_CONFLICT"
	CodeTherapistHoldConflict ConflictCode = "THERAPIST_HOLD_CONFLICT"
	CodeClientHoldConflict    ConflictCode = "CLIENT_HOLD_CONFLICT"
	CodeHoldExists            ConflictCode = "HOLD_EXISTS"
	CodeInvalidRange          ConflictCode = "INVALID_RANGE"
	CodeMissingFields         ConflictCode = "MISSING_FIELDS"
	CodeHoldMismatch          ConflictCode = "HOLD_MISMATCH"
	CodeClientMismatch        ConflictCode = "CLIENT_MISMATCH"
	CodeHoldNotFound          ConflictCode = "HOLD_NOT_FOUND"
	CodeHoldExpired           ConflictCode = "HOLD_EXPIRED"
	CodeForbidden             ConflictCode = "FORBIDDEN"
)

// ConflictError carries a conflict code plus, where computable, the
// earliest instant at which retrying the same window could succeed.
type ConflictError struct {
	Code       ConflictCode
	Message    string
	RetryAfter *time.Time
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

// HTTPStatus maps the conflict taxonomy onto response codes:
// validation 400, authorization 403, scheduling conflicts and ownership
// mismatches 409, not-found/expired holds 410.
func (e *ConflictError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidRange, CodeMissingFields:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeHoldNotFound, CodeHoldExpired:
		return http.StatusGone
	default:
		return http.StatusConflict
	}
}

// RetryAfterSeconds converts the retry instant into a whole-second
// Retry-After duration (ceiling, floored at zero). Returns 0 when no retry
// instant was computed.
func (e *ConflictError) RetryAfterSeconds(now time.Time) int {
	if e.RetryAfter == nil {
		return 0
	}
	secs := int(math.Ceil(e.RetryAfter.Sub(now).Seconds()))
	if secs < 0 {
		return 0
	}
	return secs
}

// Occurrence is one requested time window inside a (possibly recurring)
// hold or confirm batch.
type Occurrence struct {
	StartTime              time.Time
	EndTime                time.Time
	StartTimeOffsetMinutes int
	EndTimeOffsetMinutes   int
	TimeZone               string
}

// ComputeDurationMinutes returns the window length in whole minutes,
// rounded to nearest. Nil when either bound is missing.
func ComputeDurationMinutes(start, end *time.Time) *int {
	if start == nil || end == nil {
		return nil
	}
	mins := int(math.Round(end.Sub(*start).Minutes()))
	return &mins
}
