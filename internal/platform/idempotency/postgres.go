package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps claims in idempotency_keys. The primary key on
// (idempotency_key, user_id, endpoint) is what serialises concurrent claims.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Claim(ctx context.Context, req Request, now, expiresAt time.Time) (bool, Record, error) {
	const claim = `
INSERT INTO idempotency_keys (idempotency_key, user_id, endpoint, request_hash, state, expires_at)
VALUES ($1, $2, $3, $4, 'in_progress', $5)
ON CONFLICT (idempotency_key, user_id, endpoint) DO UPDATE SET
  request_hash = EXCLUDED.request_hash,
  state = 'in_progress',
  response_code = 0,
  response_body = NULL,
  created_at = NOW(),
  expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.expires_at <= $6
RETURNING idempotency_key
`
	var k string
	err := s.db.QueryRowContext(ctx, claim, req.Key, req.UserID, req.Endpoint, req.RequestHash, expiresAt.UTC(), now.UTC()).Scan(&k)
	if err == nil {
		return true, Record{}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, Record{}, fmt.Errorf("claim idempotency key: %w", err)
	}
	rec, ok, err := s.Lookup(ctx, req, now)
	if err != nil {
		return false, Record{}, err
	}
	if !ok {
		// The live row vanished between statements; treat as in flight so
		// the client retries instead of running the operation twice.
		return false, Record{Request: req, State: StateInProgress}, nil
	}
	return false, rec, nil
}

func (s *PostgresStore) Complete(ctx context.Context, req Request, resp Response, expiresAt time.Time) error {
	const q = `
UPDATE idempotency_keys
SET state = 'completed', response_code = $4, response_body = $5, expires_at = $6
WHERE idempotency_key = $1 AND user_id = $2 AND endpoint = $3
`
	_, err := s.db.ExecContext(ctx, q, req.Key, req.UserID, req.Endpoint, resp.Code, resp.Body, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("record idempotent response: %w", err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, req Request) error {
	const q = `
DELETE FROM idempotency_keys
WHERE idempotency_key = $1 AND user_id = $2 AND endpoint = $3 AND state = 'in_progress'
`
	_, err := s.db.ExecContext(ctx, q, req.Key, req.UserID, req.Endpoint)
	return err
}

func (s *PostgresStore) Lookup(ctx context.Context, req Request, now time.Time) (Record, bool, error) {
	const q = `
SELECT request_hash, state, response_code, response_body, expires_at
FROM idempotency_keys
WHERE idempotency_key = $1 AND user_id = $2 AND endpoint = $3 AND expires_at > $4
`
	rec := Record{Request: Request{Key: req.Key, UserID: req.UserID, Endpoint: req.Endpoint}}
	var state string
	err := s.db.QueryRowContext(ctx, q, req.Key, req.UserID, req.Endpoint, now.UTC()).
		Scan(&rec.RequestHash, &state, &rec.Response.Code, &rec.Response.Body, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	rec.State = State(state)
	return rec, true, nil
}

func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	const q = `
WITH doomed AS (
  SELECT ctid
  FROM idempotency_keys
  WHERE expires_at <= $1
  ORDER BY expires_at ASC
  LIMIT $2
)
DELETE FROM idempotency_keys
WHERE ctid IN (SELECT ctid FROM doomed)
`
	res, err := s.db.ExecContext(ctx, q, now.UTC(), batchSize)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Counts reports live rows by state.
func (s *PostgresStore) Counts(ctx context.Context) (map[State]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM idempotency_keys WHERE expires_at > NOW() GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[State]int64{StateInProgress: 0, StateCompleted: 0}
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[State(st)] = n
	}
	return out, rows.Err()
}
