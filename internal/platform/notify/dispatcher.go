package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/clock"
)

var ErrQueueFull = errors.New("notification queue full")

type Job struct {
	ID        string
	Kind      Kind
	Payload   json.RawMessage
	Attempts  int
	NextRunAt time.Time
	LastError string
}

// Queue stores pending notification jobs. Claimed jobs are invisible to other
// claimers until completed, retried or failed.
type Queue interface {
	Enqueue(ctx context.Context, j Job) error
	Claim(ctx context.Context, limit int, now time.Time) ([]Job, error)
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, nextRunAt time.Time, lastErr string) error
	Fail(ctx context.Context, id string, lastErr string) error
}

// Dispatcher accepts notifications as a Notifier, queues them, and delivers
// them to Sink from a background worker.
type Dispatcher struct {
	Queue       Queue
	Sink        Notifier
	Clock       clock.Clock
	Log         zerolog.Logger
	MaxAttempts int
	BatchSize   int
	// Observe is called once per delivery attempt with sent, retry or failed.
	Observe func(kind Kind, outcome string)

	wake chan struct{}
}

func NewDispatcher(q Queue, sink Notifier, clk clock.Clock, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		Queue:       q,
		Sink:        sink,
		Clock:       clk,
		Log:         log,
		MaxAttempts: 5,
		BatchSize:   20,
		wake:        make(chan struct{}, 1),
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, kind Kind, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	job := Job{ID: uuid.NewString(), Kind: kind, Payload: raw, NextRunAt: clock.NowOr(d.Clock)}
	if err := d.Queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

func (d *Dispatcher) SendOTP(ctx context.Context, m OTPMessage) error {
	return d.enqueue(ctx, KindOTP, m)
}

func (d *Dispatcher) SendTransferAlert(ctx context.Context, m TransferAlert) error {
	return d.enqueue(ctx, KindTransferAlert, m)
}

func (d *Dispatcher) SendDepositAlert(ctx context.Context, m DepositAlert) error {
	return d.enqueue(ctx, KindDepositAlert, m)
}

func (d *Dispatcher) SendWithdrawalAlert(ctx context.Context, m WithdrawalAlert) error {
	return d.enqueue(ctx, KindWithdrawalAlert, m)
}

func (d *Dispatcher) SendTopUpAlert(ctx context.Context, m TopUpAlert) error {
	return d.enqueue(ctx, KindTopUpAlert, m)
}

func decodeInto[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

func (d *Dispatcher) deliver(ctx context.Context, j Job) error {
	switch j.Kind {
	case KindOTP:
		m, err := decodeInto[OTPMessage](j.Payload)
		if err != nil {
			return err
		}
		return d.Sink.SendOTP(ctx, m)
	case KindTransferAlert:
		m, err := decodeInto[TransferAlert](j.Payload)
		if err != nil {
			return err
		}
		return d.Sink.SendTransferAlert(ctx, m)
	case KindDepositAlert:
		m, err := decodeInto[DepositAlert](j.Payload)
		if err != nil {
			return err
		}
		return d.Sink.SendDepositAlert(ctx, m)
	case KindWithdrawalAlert:
		m, err := decodeInto[WithdrawalAlert](j.Payload)
		if err != nil {
			return err
		}
		return d.Sink.SendWithdrawalAlert(ctx, m)
	case KindTopUpAlert:
		m, err := decodeInto[TopUpAlert](j.Payload)
		if err != nil {
			return err
		}
		return d.Sink.SendTopUpAlert(ctx, m)
	default:
		return fmt.Errorf("unknown notification kind %q", j.Kind)
	}
}

// backoff grows linearly: 10s, 20s, 30s...
func backoff(attempts int) time.Duration {
	return time.Duration(attempts*10+10) * time.Second
}

func (d *Dispatcher) observe(kind Kind, outcome string) {
	if d.Observe != nil {
		d.Observe(kind, outcome)
	}
}

// RunOnce claims and delivers one batch and reports how many jobs it handled.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	now := clock.NowOr(d.Clock)
	batch := d.BatchSize
	if batch <= 0 {
		batch = 20
	}
	jobs, err := d.Queue.Claim(ctx, batch, now)
	if err != nil {
		return 0, fmt.Errorf("claim notification jobs: %w", err)
	}
	for _, j := range jobs {
		sendErr := d.deliver(ctx, j)
		if sendErr == nil {
			if err := d.Queue.Complete(ctx, j.ID); err != nil {
				d.Log.Error().Err(err).Str("job_id", j.ID).Msg("mark notification sent")
			}
			d.observe(j.Kind, "sent")
			continue
		}
		attempts := j.Attempts + 1
		maxAttempts := d.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 5
		}
		if attempts >= maxAttempts {
			d.Log.Error().Err(sendErr).Str("job_id", j.ID).Str("kind", string(j.Kind)).Int("attempts", attempts).Msg("notification failed permanently")
			if err := d.Queue.Fail(ctx, j.ID, sendErr.Error()); err != nil {
				d.Log.Error().Err(err).Str("job_id", j.ID).Msg("mark notification failed")
			}
			d.observe(j.Kind, "failed")
			continue
		}
		next := now.Add(backoff(j.Attempts))
		d.Log.Warn().Err(sendErr).Str("job_id", j.ID).Str("kind", string(j.Kind)).Time("next_run_at", next).Msg("notification delivery failed, retrying")
		if err := d.Queue.Retry(ctx, j.ID, next, sendErr.Error()); err != nil {
			d.Log.Error().Err(err).Str("job_id", j.ID).Msg("schedule notification retry")
		}
		d.observe(j.Kind, "retry")
	}
	return len(jobs), nil
}

type staleRequeuer interface {
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

const staleProcessingAfter = 5 * time.Minute

// Start drains the queue until ctx is cancelled. Enqueues wake the worker early.
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if r, ok := d.Queue.(staleRequeuer); ok {
					if n, err := r.RequeueStale(ctx, staleProcessingAfter); err != nil {
						d.Log.Error().Err(err).Msg("requeue stale notification jobs")
					} else if n > 0 {
						d.Log.Warn().Int64("requeued", n).Msg("requeued stale notification jobs")
					}
				}
			case <-d.wake:
			}
			for {
				n, err := d.RunOnce(ctx)
				if err != nil {
					d.Log.Error().Err(err).Msg("notification dispatch failed")
					break
				}
				if n == 0 {
					break
				}
			}
		}
	}()
}
