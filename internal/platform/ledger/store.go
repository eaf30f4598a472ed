package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the datastore behind the engine. All balance-affecting work runs
// inside WithinTx; the read methods outside it never lock.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	TransactionByReference(ctx context.Context, reference string) (Transaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, f HistoryFilter) ([]Transaction, int, error)
	AccountTransactionsSince(ctx context.Context, accountID uuid.UUID, since time.Time) ([]Transaction, error)
	ExpiredPendingTransfers(ctx context.Context, createdBefore time.Time, limit int) ([]string, error)
	AccountByNumber(ctx context.Context, number string) (Account, error)
	Account(ctx context.Context, id uuid.UUID) (Account, error)
	User(ctx context.Context, id uuid.UUID) (User, error)
}

// Tx is one unit of work. Lock methods take row locks held until commit or
// rollback. Lookups of missing rows return a NotFound *Error.
type Tx interface {
	User(ctx context.Context, id uuid.UUID) (User, error)
	LockUser(ctx context.Context, id uuid.UUID) (User, error)
	SetUserOTP(ctx context.Context, id uuid.UUID, otp string, expiresAt *time.Time) error

	Account(ctx context.Context, id uuid.UUID) (Account, error)
	AccountByNumber(ctx context.Context, number string) (Account, error)
	// LockAccounts locks the given accounts in ascending ID order and returns
	// those that exist.
	LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]Account, error)
	SetAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error

	LockCard(ctx context.Context, id uuid.UUID) (Card, error)
	UpdateCard(ctx context.Context, c Card) error

	// InsertTransaction returns ErrDuplicateReference on a reference collision
	// and leaves the unit of work usable.
	InsertTransaction(ctx context.Context, t Transaction) error
	LockTransaction(ctx context.Context, reference string) (Transaction, error)
	UpdateTransaction(ctx context.Context, t Transaction) error
}

type HistoryFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Type      TransactionType
	Category  TransactionCategory
	Status    TransactionStatus
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Skip      int
	Limit     int
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func (f HistoryFilter) normalized() HistoryFilter {
	if f.Skip < 0 {
		f.Skip = 0
	}
	if f.Limit <= 0 {
		f.Limit = defaultHistoryLimit
	}
	if f.Limit > maxHistoryLimit {
		f.Limit = maxHistoryLimit
	}
	return f
}

func (f HistoryFilter) matches(t Transaction) bool {
	if f.StartDate != nil && t.CreatedAt.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && t.CreatedAt.After(*f.EndDate) {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.MinAmount != nil && t.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && t.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	return true
}
