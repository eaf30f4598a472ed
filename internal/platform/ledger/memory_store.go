package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is a process-local Store. A unit of work holds the store lock
// for its whole duration and stages writes until commit.
type MemoryStore struct {
	mu sync.Mutex

	users            map[uuid.UUID]User
	accounts         map[uuid.UUID]Account
	accountsByNumber map[string]uuid.UUID
	cards            map[uuid.UUID]Card
	txs              map[string]Transaction
	txOrder          []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:            make(map[uuid.UUID]User),
		accounts:         make(map[uuid.UUID]Account),
		accountsByNumber: make(map[string]uuid.UUID),
		cards:            make(map[uuid.UUID]Card),
		txs:              make(map[string]Transaction),
	}
}

func (s *MemoryStore) PutUser(_ context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) PutAccount(_ context.Context, a Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	s.accountsByNumber[a.AccountNumber] = a.ID
	return nil
}

func (s *MemoryStore) PutCard(_ context.Context, c Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[c.ID] = c
	return nil
}

func (s *MemoryStore) Card(_ context.Context, id uuid.UUID) (Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return Card{}, notFound("card not found")
	}
	return c, nil
}

func (s *MemoryStore) User(_ context.Context, id uuid.UUID) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, notFound("user not found")
	}
	return u, nil
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		s:        s,
		users:    make(map[uuid.UUID]User),
		accounts: make(map[uuid.UUID]Account),
		cards:    make(map[uuid.UUID]Card),
		txs:      make(map[string]Transaction),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) TransactionByReference(_ context.Context, reference string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[reference]
	if !ok {
		return Transaction{}, notFound("transaction not found")
	}
	return t.clone(), nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID uuid.UUID, f HistoryFilter) ([]Transaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f = f.normalized()
	matched := make([]Transaction, 0)
	for i := len(s.txOrder) - 1; i >= 0; i-- {
		t := s.txs[s.txOrder[i]]
		if t.SenderID != userID && t.ReceiverID != userID {
			continue
		}
		if !f.matches(t) {
			continue
		}
		matched = append(matched, t.clone())
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	if f.Skip >= total {
		return []Transaction{}, total, nil
	}
	end := f.Skip + f.Limit
	if end > total {
		end = total
	}
	return matched[f.Skip:end], total, nil
}

func (s *MemoryStore) AccountTransactionsSince(_ context.Context, accountID uuid.UUID, since time.Time) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Transaction, 0)
	for _, ref := range s.txOrder {
		t := s.txs[ref]
		if t.Status != StatusCompleted || t.CompletedAt == nil || t.CompletedAt.Before(since) {
			continue
		}
		if t.SenderAccountID != accountID && t.ReceiverAccountID != accountID {
			continue
		}
		out = append(out, t.clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CompletedAt.Before(*out[j].CompletedAt) })
	return out, nil
}

func (s *MemoryStore) ExpiredPendingTransfers(_ context.Context, createdBefore time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0)
	for _, ref := range s.txOrder {
		t := s.txs[ref]
		if t.Type != TypeTransfer || t.Status != StatusPending || !t.CreatedAt.Before(createdBefore) {
			continue
		}
		out = append(out, ref)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) AccountByNumber(_ context.Context, number string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.accountsByNumber[number]
	if !ok {
		return Account{}, notFound("account not found")
	}
	return s.accounts[id], nil
}

func (s *MemoryStore) Account(_ context.Context, id uuid.UUID) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, notFound("account not found")
	}
	return a, nil
}

type memoryTx struct {
	s        *MemoryStore
	users    map[uuid.UUID]User
	accounts map[uuid.UUID]Account
	cards    map[uuid.UUID]Card
	txs      map[string]Transaction
	newTxs   []string
}

func (t *memoryTx) commit() {
	for id, u := range t.users {
		t.s.users[id] = u
	}
	for id, a := range t.accounts {
		t.s.accounts[id] = a
	}
	for id, c := range t.cards {
		t.s.cards[id] = c
	}
	for ref, tr := range t.txs {
		t.s.txs[ref] = tr
	}
	t.s.txOrder = append(t.s.txOrder, t.newTxs...)
}

func (t *memoryTx) User(_ context.Context, id uuid.UUID) (User, error) {
	if u, ok := t.users[id]; ok {
		return u, nil
	}
	u, ok := t.s.users[id]
	if !ok {
		return User{}, notFound("user not found")
	}
	return u, nil
}

func (t *memoryTx) LockUser(ctx context.Context, id uuid.UUID) (User, error) {
	return t.User(ctx, id)
}

func (t *memoryTx) SetUserOTP(ctx context.Context, id uuid.UUID, otp string, expiresAt *time.Time) error {
	u, err := t.User(ctx, id)
	if err != nil {
		return err
	}
	u.OTP = otp
	u.OTPExpiresAt = expiresAt
	t.users[id] = u
	return nil
}

func (t *memoryTx) Account(_ context.Context, id uuid.UUID) (Account, error) {
	if a, ok := t.accounts[id]; ok {
		return a, nil
	}
	a, ok := t.s.accounts[id]
	if !ok {
		return Account{}, notFound("account not found")
	}
	return a, nil
}

func (t *memoryTx) AccountByNumber(ctx context.Context, number string) (Account, error) {
	id, ok := t.s.accountsByNumber[number]
	if !ok {
		return Account{}, notFound("account not found")
	}
	return t.Account(ctx, id)
}

func (t *memoryTx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]Account, error) {
	out := make(map[uuid.UUID]Account, len(ids))
	for _, id := range sortedIDs(ids) {
		a, err := t.Account(ctx, id)
		if IsKind(err, KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

func (t *memoryTx) SetAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return newError(KindInsufficientFunds, CodeInsufficientFunds, "balance would become negative", nil)
	}
	a, err := t.Account(ctx, id)
	if err != nil {
		return err
	}
	a.Balance = balance
	t.accounts[id] = a
	return nil
}

func (t *memoryTx) LockCard(_ context.Context, id uuid.UUID) (Card, error) {
	if c, ok := t.cards[id]; ok {
		return c, nil
	}
	c, ok := t.s.cards[id]
	if !ok {
		return Card{}, notFound("card not found")
	}
	return c, nil
}

func (t *memoryTx) UpdateCard(ctx context.Context, c Card) error {
	if _, err := t.LockCard(ctx, c.ID); err != nil {
		return err
	}
	t.cards[c.ID] = c
	return nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, tr Transaction) error {
	if _, ok := t.txs[tr.Reference]; ok {
		return ErrDuplicateReference
	}
	if _, ok := t.s.txs[tr.Reference]; ok {
		return ErrDuplicateReference
	}
	t.txs[tr.Reference] = tr.clone()
	t.newTxs = append(t.newTxs, tr.Reference)
	return nil
}

func (t *memoryTx) LockTransaction(_ context.Context, reference string) (Transaction, error) {
	if tr, ok := t.txs[reference]; ok {
		return tr.clone(), nil
	}
	tr, ok := t.s.txs[reference]
	if !ok {
		return Transaction{}, notFound("transaction not found")
	}
	return tr.clone(), nil
}

func (t *memoryTx) UpdateTransaction(ctx context.Context, tr Transaction) error {
	if _, err := t.LockTransaction(ctx, tr.Reference); err != nil {
		return err
	}
	t.txs[tr.Reference] = tr.clone()
	return nil
}

func sortedIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
