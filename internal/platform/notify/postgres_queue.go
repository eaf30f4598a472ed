package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresQueue is an outbox table drained with FOR UPDATE SKIP LOCKED, so
// several workers can share it.
type PostgresQueue struct {
	db *sql.DB
}

func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, j Job) error {
	const ins = `
INSERT INTO notification_jobs (id, kind, payload, status, attempts, next_run_at)
VALUES ($1, $2, $3::jsonb, 'pending', $4, $5)
ON CONFLICT (id) DO NOTHING
`
	_, err := q.db.ExecContext(ctx, ins, j.ID, string(j.Kind), string(j.Payload), j.Attempts, j.NextRunAt.UTC())
	return err
}

func (q *PostgresQueue) Claim(ctx context.Context, limit int, now time.Time) ([]Job, error) {
	const claim = `
UPDATE notification_jobs
SET status = 'processing', updated_at = NOW()
WHERE id IN (
  SELECT id
  FROM notification_jobs
  WHERE status = 'pending' AND next_run_at <= $1
  ORDER BY created_at ASC
  LIMIT $2
  FOR UPDATE SKIP LOCKED
)
RETURNING id, kind, payload, attempts, next_run_at, COALESCE(last_error, '')
`
	rows, err := q.db.QueryContext(ctx, claim, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Job, 0)
	for rows.Next() {
		var j Job
		var kind string
		var payload []byte
		if err := rows.Scan(&j.ID, &kind, &payload, &j.Attempts, &j.NextRunAt, &j.LastError); err != nil {
			return nil, fmt.Errorf("scan notification job: %w", err)
		}
		j.Kind = Kind(kind)
		j.Payload = payload
		out = append(out, j)
	}
	return out, rows.Err()
}

func (q *PostgresQueue) Complete(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE notification_jobs SET status = 'sent', updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (q *PostgresQueue) Retry(ctx context.Context, id string, nextRunAt time.Time, lastErr string) error {
	const upd = `
UPDATE notification_jobs
SET status = 'pending', attempts = attempts + 1, next_run_at = $2, last_error = $3, updated_at = NOW()
WHERE id = $1
`
	_, err := q.db.ExecContext(ctx, upd, id, nextRunAt.UTC(), lastErr)
	return err
}

func (q *PostgresQueue) Fail(ctx context.Context, id string, lastErr string) error {
	const upd = `
UPDATE notification_jobs
SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = NOW()
WHERE id = $1
`
	_, err := q.db.ExecContext(ctx, upd, id, lastErr)
	return err
}

// RequeueStale returns jobs stuck in processing (a worker died mid-delivery) to pending.
func (q *PostgresQueue) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	const upd = `
UPDATE notification_jobs
SET status = 'pending', updated_at = NOW()
WHERE status = 'processing' AND updated_at < NOW() - make_interval(secs => $1)
`
	res, err := q.db.ExecContext(ctx, upd, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
