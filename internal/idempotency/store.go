package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrConflict is returned when an idempotency key is reused with a
// materially different response payload. This signals caller misuse, such
// as retrying with a changed request body.
var ErrConflict = errors.New("idempotency: key reused with different content")

// Record is the stored response for an (idempotency key, endpoint) pair.
type Record struct {
	Key         string          `json:"key"`
	Endpoint    string          `json:"endpoint"`
	StatusCode  int             `json:"status_code"`
	Body        json.RawMessage `json:"body"`
	ContentHash string          `json:"content_hash"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Store persists idempotency records. Find is a pure lookup; Persist is
// insert-or-replay: an existing record with the same content hash is
// returned unchanged, a different hash fails with ErrConflict. Insert
// races must be resolved by re-reading and re-comparing hashes, never by
// last-write-wins.
type Store interface {
	Find(ctx context.Context, key, endpoint string) (*Record, error)
	Persist(ctx context.Context, key, endpoint string, body []byte, statusCode int) (*Record, error)
}

// MemoryStore is the in-process Store used by tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func memKey(key, endpoint string) string {
	return endpoint + "\x00" + key
}

func (s *MemoryStore) Find(ctx context.Context, key, endpoint string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[memKey(key, endpoint)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Persist(ctx context.Context, key, endpoint string, body []byte, statusCode int) (*Record, error) {
	hash, err := HashResponse(body, statusCode)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[memKey(key, endpoint)]; ok {
		if existing.ContentHash != hash {
			return nil, ErrConflict
		}
		cp := *existing
		return &cp, nil
	}

	rec := &Record{
		Key:         key,
		Endpoint:    endpoint,
		StatusCode:  statusCode,
		Body:        append(json.RawMessage(nil), body...),
		ContentHash: hash,
		CreatedAt:   time.Now().UTC(),
	}
	s.records[memKey(key, endpoint)] = rec
	cp := *rec
	return &cp, nil
}
