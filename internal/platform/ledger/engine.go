package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/money"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/notify"
)

const maxReferenceAttempts = 5

type Config struct {
	OTPExpiry   time.Duration
	ReaperGrace time.Duration
	Rates       *money.RateTable
}

func (c Config) withDefaults() Config {
	if c.OTPExpiry <= 0 {
		c.OTPExpiry = 5 * time.Minute
	}
	if c.ReaperGrace < 0 {
		c.ReaperGrace = 0
	}
	if c.Rates == nil {
		c.Rates = money.DefaultRates()
	}
	return c
}

// Observer receives operation outcomes for metrics.
type Observer interface {
	ObserveOperation(op, outcome string)
	ObserveTransferFailure(reason string)
	ObserveReaped(count int)
}

// Engine owns every balance and transaction-status transition.
type Engine struct {
	Clock      clock.Clock
	Notifier   notify.Notifier
	AuditStore audit.Store
	Observer   Observer
	Log        zerolog.Logger

	store        Store
	cfg          Config
	newReference func(prefix string) (string, error)
	newOTP       func() (string, error)
}

func NewEngine(store Store, clk clock.Clock, cfg Config) *Engine {
	return &Engine{
		Clock:        clk,
		Log:          zerolog.Nop(),
		store:        store,
		cfg:          cfg.withDefaults(),
		newReference: NewReference,
		newOTP:       newOTP,
	}
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) now() time.Time {
	return clock.NowOr(e.Clock)
}

// Result is returned by the single-step operations so callers can drive side effects.
type Result struct {
	Transaction Transaction
	Account     Account
	User        User
}

func (e *Engine) insertTransaction(ctx context.Context, tx Tx, prefix string, t *Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		ref, err := e.newReference(prefix)
		if err != nil {
			return systemError("generate reference", err)
		}
		t.Reference = ref
		err = tx.InsertTransaction(ctx, *t)
		if errors.Is(err, ErrDuplicateReference) {
			e.Log.Warn().Str("reference", ref).Int("attempt", attempt+1).Msg("transaction reference collision")
			continue
		}
		return err
	}
	return systemError("could not allocate a unique reference", ErrDuplicateReference)
}

func validateAmount(amount decimal.Decimal) error {
	if err := money.ValidateAmount(amount); err != nil {
		return invalidArgument(err.Error(), err)
	}
	return nil
}

func (e *Engine) observe(op string, err error) {
	if e.Observer == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = CodeOf(err)
	}
	e.Observer.ObserveOperation(op, outcome)
}

func snapshot(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return raw
}

type accountSnapshot struct {
	AccountNumber string `json:"account_number"`
	Balance       string `json:"balance"`
	Status        string `json:"status"`
}

func accountState(a Account) []byte {
	return snapshot(accountSnapshot{AccountNumber: a.AccountNumber, Balance: money.Format(a.Balance), Status: string(a.Status)})
}

type transactionSnapshot struct {
	Reference     string            `json:"reference"`
	Status        string            `json:"status"`
	Amount        string            `json:"amount"`
	BalanceBefore string            `json:"balance_before"`
	BalanceAfter  string            `json:"balance_after"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func transactionState(t Transaction) []byte {
	return snapshot(transactionSnapshot{
		Reference:     t.Reference,
		Status:        string(t.Status),
		Amount:        money.Format(t.Amount),
		BalanceBefore: money.Format(t.BalanceBefore),
		BalanceAfter:  money.Format(t.BalanceAfter),
		FailureReason: string(t.FailureReason),
		Metadata:      t.Metadata,
	})
}

// appendAudit records a committed change. Audit failures are logged, never
// surfaced, because the money movement has already committed.
func (e *Engine) appendAudit(ctx context.Context, actorID uuid.UUID, actorRole, objectType, objectID, action string, before, after []byte, result audit.Result, reason string) {
	if e.AuditStore == nil {
		return
	}
	_, err := e.AuditStore.Append(ctx, audit.Event{
		ID:         uuid.NewString(),
		RecordedAt: e.now(),
		ActorID:    actorID.String(),
		ActorRole:  actorRole,
		ObjectType: objectType,
		ObjectID:   objectID,
		Action:     action,
		Before:     before,
		After:      after,
		Result:     result,
		Reason:     reason,
	})
	if err != nil {
		e.Log.Error().Err(err).Str("object_id", objectID).Str("action", action).Msg("append audit event")
	}
}

// notifyAfterCommit runs a notification send and only logs failures.
func (e *Engine) notifyAfterCommit(ctx context.Context, kind notify.Kind, reference string, send func(ctx context.Context, n notify.Notifier) error) {
	if e.Notifier == nil {
		return
	}
	// Detach from request cancellation; the commit already happened.
	ctx = context.WithoutCancel(ctx)
	if err := send(ctx, e.Notifier); err != nil {
		e.Log.Error().Err(err).Str("kind", string(kind)).Str("reference", reference).Msg("notification dispatch failed")
	}
}
