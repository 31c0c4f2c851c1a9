package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMemoryStoreFindMissing(t *testing.T) {
	store := NewMemoryStore()
	rec, err := store.Find(context.Background(), "k1", "sessions-hold")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestMemoryStorePersistTwiceSameContent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	body := []byte(`{"holdKey": "h-1", "expiresAt": "2026-02-02T10:05:00Z"}`)

	first, err := store.Persist(ctx, "k1", "sessions-hold", body, 200)
	if err != nil {
		t.Fatalf("first persist: %v", err)
	}
	second, err := store.Persist(ctx, "k1", "sessions-hold", body, 200)
	if err != nil {
		t.Fatalf("second persist: %v", err)
	}
	if first.ContentHash != second.ContentHash || first.CreatedAt != second.CreatedAt {
		t.Error("second persist should return the original record")
	}
}

func TestMemoryStorePersistConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Persist(ctx, "k1", "sessions-hold", []byte(`{"a": 1}`), 200); err != nil {
		t.Fatalf("persist: %v", err)
	}
	_, err := store.Persist(ctx, "k1", "sessions-hold", []byte(`{"a": 2}`), 200)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestMemoryStoreKeyScopedByEndpoint(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Persist(ctx, "k1", "sessions-hold", []byte(`{"a": 1}`), 200); err != nil {
		t.Fatalf("persist hold: %v", err)
	}
	// Same key on a different endpoint is a distinct record.
	if _, err := store.Persist(ctx, "k1", "sessions-confirm", []byte(`{"b": 2}`), 200); err != nil {
		t.Fatalf("persist confirm: %v", err)
	}

	rec, err := store.Find(ctx, "k1", "sessions-confirm")
	if err != nil || rec == nil {
		t.Fatalf("find confirm: rec=%v err=%v", rec, err)
	}
	if string(rec.Body) != `{"b": 2}` {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestMemoryStoreConcurrentPersist(t *testing.T) {
	store := NewMemoryStore()
	body := []byte(`{"winner": true}`)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Persist(context.Background(), "race", "sessions-hold", body, 200)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("goroutine %d: %v", i, err)
		}
	}
}
