package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgClient interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the durable production Store.
type PostgresStore struct {
	db pgClient
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("idempotency: pgx pool required")
	}
	return &PostgresStore{db: pool}
}

func newPostgresStoreWithClient(db pgClient) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Find(ctx context.Context, key, endpoint string) (*Record, error) {
	query := `
		SELECT idempotency_key, endpoint, status_code, response_body, content_hash, created_at
		FROM idempotency_records
		WHERE idempotency_key = $1 AND endpoint = $2
	`
	rec, err := s.scanRecord(ctx, query, key, endpoint)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("idempotency: find record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Persist(ctx context.Context, key, endpoint string, body []byte, statusCode int) (*Record, error) {
	hash, err := HashResponse(body, statusCode)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	insert := `
		INSERT INTO idempotency_records (idempotency_key, endpoint, status_code, response_body, content_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key, endpoint) DO NOTHING
	`
	ct, err := s.db.Exec(ctx, insert, key, endpoint, statusCode, body, hash, now)
	if err != nil {
		return nil, fmt.Errorf("idempotency: insert record: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return &Record{
			Key:         key,
			Endpoint:    endpoint,
			StatusCode:  statusCode,
			Body:        append(json.RawMessage(nil), body...),
			ContentHash: hash,
			CreatedAt:   now,
		}, nil
	}

	// Lost an insert race or the record already existed. Re-read and compare
	// hashes rather than overwriting.
	existing, err := s.Find(ctx, key, endpoint)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("idempotency: record for %s/%s vanished after conflicting insert", endpoint, key)
	}
	if existing.ContentHash != hash {
		return nil, ErrConflict
	}
	return existing, nil
}

func (s *PostgresStore) scanRecord(ctx context.Context, query string, args ...any) (*Record, error) {
	var rec Record
	var body []byte
	row := s.db.QueryRow(ctx, query, args...)
	if err := row.Scan(&rec.Key, &rec.Endpoint, &rec.StatusCode, &body, &rec.ContentHash, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Body = append(json.RawMessage(nil), body...)
	return &rec, nil
}
