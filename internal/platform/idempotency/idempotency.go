// Package idempotency guards retried write requests. A key is claimed before
// the operation runs, the response is recorded after it commits, and a
// replay with the same key returns the recorded response.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/clock"
)

const (
	EndpointTransferInitiate = "/transfer/initiate"
	EndpointWithdraw         = "/withdraw"
	EndpointTopUp            = "/virtual-card/top-up"

	DefaultTTL   = 24 * time.Hour
	DefaultLease = 5 * time.Minute
)

var (
	ErrInvalidKey      = errors.New("idempotency key must be a UUIDv4")
	ErrRequestMismatch = errors.New("idempotency key reused with a different request")
	ErrRequestInFlight = errors.New("request with this idempotency key is still in progress")
)

type State string

const (
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

type Request struct {
	Key         string
	UserID      string
	Endpoint    string
	RequestHash string
}

type Response struct {
	Code int
	Body []byte
}

type Record struct {
	Request
	State     State
	Response  Response
	ExpiresAt time.Time
}

// Store persists claims. Claim inserts an in-progress row, replacing one that
// has expired; when a live row exists it returns that row and false.
type Store interface {
	Claim(ctx context.Context, req Request, now, expiresAt time.Time) (bool, Record, error)
	Complete(ctx context.Context, req Request, resp Response, expiresAt time.Time) error
	Release(ctx context.Context, req Request) error
	Lookup(ctx context.Context, req Request, now time.Time) (Record, bool, error)
	CleanupExpired(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

// ValidateKey accepts only version 4 UUIDs.
func ValidateKey(key string) error {
	id, err := uuid.Parse(key)
	if err != nil || id.Version() != 4 {
		return ErrInvalidKey
	}
	return nil
}

// HashRequest fingerprints the request fields that must match on replay.
func HashRequest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Guard holds an in-progress claim for Lease. A process that dies mid-request
// leaves a claim that frees itself after the lease, not after the full TTL.
// Completed responses are kept for TTL.
type Guard struct {
	Store Store
	Clock clock.Clock
	TTL   time.Duration
	Lease time.Duration
	Log   zerolog.Logger
}

func NewGuard(store Store, clk clock.Clock, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{Store: store, Clock: clk, TTL: ttl, Lease: DefaultLease, Log: zerolog.Nop()}
}

func (g *Guard) lease() time.Duration {
	if g.Lease <= 0 || g.Lease > g.TTL {
		return min(DefaultLease, g.TTL)
	}
	return g.Lease
}

// Do runs fn at most once per (key, user, endpoint) within the TTL. The
// bool result reports whether the response is a replay. Errors from fn are
// never recorded; the claim is released so the client may retry.
func (g *Guard) Do(ctx context.Context, req Request, fn func(ctx context.Context) (Response, error)) (Response, bool, error) {
	if err := ValidateKey(req.Key); err != nil {
		return Response{}, false, err
	}
	now := clock.NowOr(g.Clock)
	claimed, existing, err := g.Store.Claim(ctx, req, now, now.Add(g.lease()))
	if err != nil {
		return Response{}, false, err
	}
	if !claimed {
		switch {
		case existing.RequestHash != req.RequestHash:
			return Response{}, false, ErrRequestMismatch
		case existing.State == StateInProgress:
			return Response{}, false, ErrRequestInFlight
		default:
			return existing.Response, true, nil
		}
	}

	resp, err := fn(ctx)
	if err != nil {
		if relErr := g.Store.Release(context.WithoutCancel(ctx), req); relErr != nil {
			g.Log.Error().Err(relErr).Str("endpoint", req.Endpoint).Msg("release idempotency claim")
		}
		return Response{}, false, err
	}
	done := clock.NowOr(g.Clock)
	if err := g.Store.Complete(context.WithoutCancel(ctx), req, resp, done.Add(g.TTL)); err != nil {
		// The operation committed; a lost record only weakens replay.
		g.Log.Error().Err(err).Str("endpoint", req.Endpoint).Msg("record idempotent response")
	}
	return resp, false, nil
}

func (g *Guard) CleanupExpired(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	return g.Store.CleanupExpired(ctx, clock.NowOr(g.Clock), batchSize)
}

func (g *Guard) StartCleanupWorker(ctx context.Context, interval time.Duration, batchSize int, observer func(deleted int64, err error)) {
	if interval <= 0 {
		return
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for {
					deleted, err := g.CleanupExpired(ctx, batchSize)
					if err != nil {
						if observer != nil {
							observer(0, err)
						}
						g.Log.Error().Err(err).Msg("idempotency cleanup failed")
						break
					}
					if observer != nil {
						observer(deleted, nil)
					}
					if deleted == 0 {
						break
					}
					g.Log.Info().Int64("deleted", deleted).Msg("idempotency cleanup removed expired keys")
					if deleted < int64(batchSize) {
						break
					}
				}
			}
		}
	}()
}
