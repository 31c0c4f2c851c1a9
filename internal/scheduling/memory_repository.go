package scheduling

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository with the same overlap
// semantics as the Postgres implementation, minus transactions. It backs
// tests and local development.
type MemoryRepository struct {
	mu       sync.Mutex
	holds    map[string]Hold
	sessions map[string]Session

	acquireErr    error
	failAcquireAt int
	acquireCalls  int
	deleteCalls   [][]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		holds:    make(map[string]Hold),
		sessions: make(map[string]Session),
	}
}

// SeedHold inserts a hold directly, bypassing conflict checks.
func (m *MemoryRepository) SeedHold(h Hold) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	m.holds[h.HoldKey] = h
}

// SeedSession inserts a session directly, bypassing conflict checks.
func (m *MemoryRepository) SeedSession(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.sessions[s.ID] = s
}

// Holds returns a snapshot of the stored holds.
func (m *MemoryRepository) Holds() []Hold {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Hold, 0, len(m.holds))
	for _, h := range m.holds {
		out = append(out, h)
	}
	return out
}

// Sessions returns a snapshot of the stored sessions.
func (m *MemoryRepository) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func (m *MemoryRepository) AcquireHold(_ context.Context, p AcquireParams) (*Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acquireCalls++
	if m.acquireErr != nil && (m.failAcquireAt == 0 || m.acquireCalls == m.failAcquireAt) {
		return nil, m.acquireErr
	}

	for _, s := range m.sessions {
		if s.OrgID != p.OrgID || s.Status == StatusCancelled || !overlaps(s.StartTime, s.EndTime, p.StartTime, p.EndTime) {
			continue
		}
		if s.TherapistID == p.TherapistID {
			return nil, &ConflictError{Code: CodeTherapistConflict, Message: "therapist has a confirmed session in this window"}
		}
		if s.ClientID == p.ClientID {
			return nil, &ConflictError{Code: CodeClientConflict, Message: "client has a confirmed session in this window"}
		}
	}
	for _, h := range m.holds {
		if h.OrgID != p.OrgID || h.Expired(p.Now) || !overlaps(h.StartTime, h.EndTime, p.StartTime, p.EndTime) {
			continue
		}
		if h.TherapistID == p.TherapistID {
			expires := h.ExpiresAt
			if h.ClientID == p.ClientID && h.StartTime.Equal(p.StartTime) && h.EndTime.Equal(p.EndTime) {
				return nil, &ConflictError{Code: CodeHoldExists, Message: "an identical hold already exists", RetryAfter: &expires}
			}
			return nil, &ConflictError{Code: CodeTherapistHoldConflict, Message: "therapist window is held by another request", RetryAfter: &expires}
		}
		if h.ClientID == p.ClientID {
			expires := h.ExpiresAt
			return nil, &ConflictError{Code: CodeClientHoldConflict, Message: "client window is held by another request", RetryAfter: &expires}
		}
	}

	hold := Hold{
		ID:          uuid.NewString(),
		HoldKey:     uuid.NewString(),
		OrgID:       p.OrgID,
		TherapistID: p.TherapistID,
		ClientID:    p.ClientID,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
		SessionID:   p.SessionID,
		ExpiresAt:   p.Now.Add(p.HoldTTL),
		CreatedBy:   p.ActorID,
		CreatedAt:   p.Now,
	}
	m.holds[hold.HoldKey] = hold
	return &hold, nil
}

func (m *MemoryRepository) GetHoldByKey(_ context.Context, orgID, holdKey string) (*Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.holds[holdKey]; ok && h.OrgID == orgID {
		return &h, nil
	}
	return nil, nil
}

func (m *MemoryRepository) DeleteHoldsByKeys(_ context.Context, orgID string, holdKeys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, holdKeys)
	for _, key := range holdKeys {
		if h, ok := m.holds[key]; ok && h.OrgID == orgID {
			delete(m.holds, key)
		}
	}
	return nil
}

func (m *MemoryRepository) ConfirmHold(_ context.Context, p ConfirmParams) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hold, ok := m.holds[p.HoldKey]
	if !ok || hold.OrgID != p.OrgID {
		return nil, &ConflictError{Code: CodeHoldNotFound, Message: "hold not found"}
	}
	if hold.Expired(p.Now) {
		return nil, &ConflictError{Code: CodeHoldExpired, Message: "hold has expired"}
	}
	if p.TherapistID != "" && p.TherapistID != hold.TherapistID {
		return nil, &ConflictError{Code: CodeHoldMismatch, Message: "session therapist does not match the hold"}
	}
	if p.ClientID != "" && p.ClientID != hold.ClientID {
		return nil, &ConflictError{Code: CodeClientMismatch, Message: "session client does not match the hold"}
	}
	for _, s := range m.sessions {
		if s.OrgID != p.OrgID || s.Status == StatusCancelled || !overlaps(s.StartTime, s.EndTime, hold.StartTime, hold.EndTime) {
			continue
		}
		if s.TherapistID == hold.TherapistID {
			return nil, &ConflictError{Code: CodeTherapistConflict, Message: "therapist window was booked after the hold was taken"}
		}
		if s.ClientID == hold.ClientID {
			return nil, &ConflictError{Code: CodeClientConflict, Message: "client window was booked after the hold was taken"}
		}
	}

	start, end := hold.StartTime, hold.EndTime
	session := Session{
		ID:              uuid.NewString(),
		OrgID:           p.OrgID,
		TherapistID:     hold.TherapistID,
		ClientID:        hold.ClientID,
		StartTime:       start,
		EndTime:         end,
		Status:          StatusScheduled,
		DurationMinutes: ComputeDurationMinutes(&start, &end),
		Notes:           p.Notes,
		CreatedBy:       p.ActorID,
		UpdatedBy:       p.ActorID,
		CreatedAt:       p.Now,
		UpdatedAt:       p.Now,
	}
	if hold.SessionID != nil {
		session.ID = *hold.SessionID
	}
	m.sessions[session.ID] = session
	delete(m.holds, p.HoldKey)
	return &session, nil
}

func (m *MemoryRepository) EarliestClearance(_ context.Context, q ClearanceQuery) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var earliest *time.Time
	consider := func(t time.Time) {
		if earliest == nil || t.Before(*earliest) {
			clone := t
			earliest = &clone
		}
	}
	for _, h := range m.holds {
		if h.OrgID != q.OrgID || h.Expired(q.Now) || !overlaps(h.StartTime, h.EndTime, q.StartTime, q.EndTime) {
			continue
		}
		if q.ExcludeHoldKey != "" && h.HoldKey == q.ExcludeHoldKey {
			continue
		}
		if (q.TherapistID != "" && h.TherapistID == q.TherapistID) || (q.ClientID != "" && h.ClientID == q.ClientID) {
			consider(h.ExpiresAt)
		}
	}
	for _, s := range m.sessions {
		if s.OrgID != q.OrgID || s.Status == StatusCancelled || !overlaps(s.StartTime, s.EndTime, q.StartTime, q.EndTime) {
			continue
		}
		if (q.TherapistID != "" && s.TherapistID == q.TherapistID) || (q.ClientID != "" && s.ClientID == q.ClientID) {
			consider(s.EndTime)
		}
	}
	return earliest, nil
}

func (m *MemoryRepository) ReleaseHold(_ context.Context, orgID, holdKey string) (*Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[holdKey]
	if !ok || h.OrgID != orgID {
		return nil, nil
	}
	delete(m.holds, holdKey)
	return &h, nil
}

func (m *MemoryRepository) FindSessions(_ context.Context, orgID string, filter SessionFilter) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.sessions {
		if s.OrgID != orgID {
			continue
		}
		if len(filter.IDs) > 0 {
			found := false
			for _, id := range filter.IDs {
				if id == s.ID {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if filter.Date != nil {
			day := filter.Date.Truncate(24 * time.Hour)
			if s.StartTime.Before(day) || !s.StartTime.Before(day.Add(24*time.Hour)) {
				continue
			}
		}
		if filter.TherapistID != "" && s.TherapistID != filter.TherapistID {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryRepository) CancelSessions(_ context.Context, orgID string, ids []string, reason *string, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		s, ok := m.sessions[id]
		if !ok || s.OrgID != orgID || s.Status == StatusCancelled {
			continue
		}
		s.Status = StatusCancelled
		if reason != nil {
			s.Notes = reason
		}
		s.UpdatedBy = actorID
		m.sessions[id] = s
	}
	return nil
}

func (m *MemoryRepository) DeleteExpiredHolds(_ context.Context, now time.Time) ([]Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var purged []Hold
	for key, h := range m.holds {
		if h.Expired(now) {
			purged = append(purged, h)
			delete(m.holds, key)
		}
	}
	return purged, nil
}
