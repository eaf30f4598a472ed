package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore persists the chain in audit_events. Appends are serialised
// with a transaction-scoped advisory lock so the chain stays linear across
// processes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func normalizeJSON(raw []byte) []byte {
	var tmp any
	if len(raw) == 0 || json.Unmarshal(raw, &tmp) != nil {
		return []byte(`{}`)
	}
	return raw
}

func (s *PostgresStore) Append(ctx context.Context, e Event) (Event, error) {
	e = prepare(e)
	e.Before = normalizeJSON(e.Before)
	e.After = normalizeJSON(e.After)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, fmt.Errorf("begin audit append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('audit_events'))`); err != nil {
		return Event{}, fmt.Errorf("lock audit chain: %w", err)
	}
	const lastQ = `
SELECT hash_curr
FROM audit_events
ORDER BY seq DESC
LIMIT 1
`
	prev := Genesis
	if err := tx.QueryRowContext(ctx, lastQ).Scan(&prev); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Event{}, fmt.Errorf("read audit chain head: %w", err)
	}
	e.HashPrev = prev
	e.HashCurr = ComputeHash(prev, e)

	const insQ = `
INSERT INTO audit_events (
  audit_id, recorded_at, actor_id, actor_role,
  object_type, object_id, action,
  before_state, after_state, result, reason,
  hash_prev, hash_curr
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10, $11, $12, $13)
`
	_, err = tx.ExecContext(ctx, insQ,
		e.ID, e.RecordedAt, e.ActorID, e.ActorRole,
		e.ObjectType, e.ObjectID, e.Action,
		string(e.Before), string(e.After), string(e.Result), e.Reason,
		e.HashPrev, e.HashCurr,
	)
	if err != nil {
		return Event{}, fmt.Errorf("insert audit event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Event{}, fmt.Errorf("commit audit event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT audit_id, recorded_at, actor_id, actor_role, object_type, object_id, action,
       before_state, after_state, result, reason, hash_prev, hash_curr
FROM audit_events
WHERE ($1 = '' OR object_type = $1)
  AND ($2 = '' OR object_id = $2)
ORDER BY seq DESC
LIMIT $3
`
	rows, err := s.db.QueryContext(ctx, q, f.ObjectType, f.ObjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Walk streams audit_events in append order.
func (s *PostgresStore) Walk(ctx context.Context, fn func(Event) error) error {
	const q = `
SELECT audit_id, recorded_at, actor_id, actor_role, object_type, object_id, action,
       before_state, after_state, result, reason, hash_prev, hash_curr
FROM audit_events
ORDER BY seq ASC
`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return fmt.Errorf("walk audit events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var e Event
	var result string
	if err := rows.Scan(&e.ID, &e.RecordedAt, &e.ActorID, &e.ActorRole, &e.ObjectType, &e.ObjectID, &e.Action,
		&e.Before, &e.After, &result, &e.Reason, &e.HashPrev, &e.HashCurr); err != nil {
		return Event{}, fmt.Errorf("scan audit event: %w", err)
	}
	e.RecordedAt = e.RecordedAt.UTC()
	e.Result = Result(result)
	return e, nil
}
