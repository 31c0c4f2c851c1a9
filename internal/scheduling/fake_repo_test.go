package scheduling

import (
	"context"
	"sync"
)

func newFakeRepo() *MemoryRepository {
	return NewMemoryRepository()
}

// recordingAuditor captures audit events for assertions.
type recordingAuditor struct {
	mu     sync.Mutex
	events []auditEvent
}

type auditEvent struct {
	OrgID     string
	EventType string
	ActorID   string
	Payload   map[string]any
}

func (a *recordingAuditor) Record(_ context.Context, orgID, eventType, actorID string, payload map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, auditEvent{OrgID: orgID, EventType: eventType, ActorID: actorID, Payload: payload})
}

func (a *recordingAuditor) eventTypes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	types := make([]string, 0, len(a.events))
	for _, e := range a.events {
		types = append(types, e.EventType)
	}
	return types
}
