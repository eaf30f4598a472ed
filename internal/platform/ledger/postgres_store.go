package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/money"
)

const pgUniqueViolation = "23505"

// PostgresStore keeps the ledger in postgres. Amounts are NUMERIC(18,2) and
// cross the wire as text so no float conversion ever happens.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	dbtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() {
		_ = dbtx.Rollback(ctx)
	}()
	if err := fn(ctx, &pgTx{tx: dbtx}); err != nil {
		return err
	}
	if err := dbtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) PutUser(ctx context.Context, u User) error {
	const q = `
INSERT INTO users (id, username, email, full_name, security_answer_hash, otp, otp_expires_at)
VALUES ($1::uuid, $2, $3, $4, $5, NULLIF($6, ''), $7)
ON CONFLICT (id) DO UPDATE SET
  username = EXCLUDED.username,
  email = EXCLUDED.email,
  full_name = EXCLUDED.full_name,
  security_answer_hash = EXCLUDED.security_answer_hash,
  otp = EXCLUDED.otp,
  otp_expires_at = EXCLUDED.otp_expires_at
`
	_, err := s.pool.Exec(ctx, q, u.ID.String(), u.Username, u.Email, u.FullName, u.SecurityAnswerHash, u.OTP, u.OTPExpiresAt)
	return err
}

func (s *PostgresStore) PutAccount(ctx context.Context, a Account) error {
	const q = `
INSERT INTO accounts (id, user_id, account_number, currency, status, balance, is_primary)
VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6::numeric, $7)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  balance = EXCLUDED.balance,
  is_primary = EXCLUDED.is_primary
`
	_, err := s.pool.Exec(ctx, q, a.ID.String(), a.UserID.String(), a.AccountNumber, string(a.Currency), string(a.Status), a.Balance.String(), a.IsPrimary)
	return err
}

func (s *PostgresStore) PutCard(ctx context.Context, c Card) error {
	const q = `
INSERT INTO cards (id, user_id, account_id, last_four, currency, status, available_balance, total_topped_up, last_top_up_at)
VALUES ($1::uuid, $2::uuid, $3::uuid, $4, $5, $6, $7::numeric, $8::numeric, $9)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  available_balance = EXCLUDED.available_balance,
  total_topped_up = EXCLUDED.total_topped_up,
  last_top_up_at = EXCLUDED.last_top_up_at
`
	_, err := s.pool.Exec(ctx, q, c.ID.String(), c.UserID.String(), c.AccountID.String(), c.LastFour, string(c.Currency), string(c.Status),
		c.AvailableBalance.String(), c.TotalToppedUp.String(), c.LastTopUpAt)
	return err
}

func (s *PostgresStore) Card(ctx context.Context, id uuid.UUID) (Card, error) {
	return scanCard(s.pool.QueryRow(ctx, selectCard+` WHERE id = $1::uuid`, id.String()))
}

func (s *PostgresStore) User(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(s.pool.QueryRow(ctx, selectUser+` WHERE id = $1::uuid`, id.String()))
}

func (s *PostgresStore) TransactionByReference(ctx context.Context, reference string) (Transaction, error) {
	return scanTransaction(s.pool.QueryRow(ctx, selectTransaction+` WHERE reference = $1`, reference))
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID uuid.UUID, f HistoryFilter) ([]Transaction, int, error) {
	f = f.normalized()
	var minAmount, maxAmount *string
	if f.MinAmount != nil {
		v := f.MinAmount.String()
		minAmount = &v
	}
	if f.MaxAmount != nil {
		v := f.MaxAmount.String()
		maxAmount = &v
	}
	const where = `
WHERE (sender_id = $1::uuid OR receiver_id = $1::uuid)
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at <= $3)
  AND ($4 = '' OR type = $4)
  AND ($5 = '' OR category = $5)
  AND ($6 = '' OR status = $6)
  AND ($7::numeric IS NULL OR amount >= $7::numeric)
  AND ($8::numeric IS NULL OR amount <= $8::numeric)
`
	args := []any{userID.String(), f.StartDate, f.EndDate, string(f.Type), string(f.Category), string(f.Status), minAmount, maxAmount}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}
	rows, err := s.pool.Query(ctx, selectTransaction+where+`ORDER BY created_at DESC, reference DESC LIMIT $9 OFFSET $10`,
		append(args, f.Limit, f.Skip)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	out, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *PostgresStore) AccountTransactionsSince(ctx context.Context, accountID uuid.UUID, since time.Time) ([]Transaction, error) {
	const where = `
WHERE status = 'Completed'
  AND completed_at >= $2
  AND (sender_account_id = $1::uuid OR receiver_account_id = $1::uuid)
ORDER BY completed_at ASC, reference ASC`
	rows, err := s.pool.Query(ctx, selectTransaction+where, accountID.String(), since)
	if err != nil {
		return nil, fmt.Errorf("list account transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (s *PostgresStore) ExpiredPendingTransfers(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT reference
FROM transactions
WHERE type = 'Transfer' AND status = 'Pending' AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`
	rows, err := s.pool.Query(ctx, q, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired transfers: %w", err)
	}
	refs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan expired transfers: %w", err)
	}
	return refs, nil
}

func (s *PostgresStore) AccountByNumber(ctx context.Context, number string) (Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, selectAccount+` WHERE account_number = $1`, number))
}

func (s *PostgresStore) Account(ctx context.Context, id uuid.UUID) (Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, selectAccount+` WHERE id = $1::uuid`, id.String()))
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) User(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(t.tx.QueryRow(ctx, selectUser+` WHERE id = $1::uuid`, id.String()))
}

func (t *pgTx) LockUser(ctx context.Context, id uuid.UUID) (User, error) {
	return scanUser(t.tx.QueryRow(ctx, selectUser+` WHERE id = $1::uuid FOR UPDATE`, id.String()))
}

func (t *pgTx) SetUserOTP(ctx context.Context, id uuid.UUID, otp string, expiresAt *time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users SET otp = NULLIF($2, ''), otp_expires_at = $3 WHERE id = $1::uuid`, id.String(), otp, expiresAt)
	if err != nil {
		return fmt.Errorf("update user otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("user not found")
	}
	return nil
}

func (t *pgTx) Account(ctx context.Context, id uuid.UUID) (Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, selectAccount+` WHERE id = $1::uuid`, id.String()))
}

func (t *pgTx) AccountByNumber(ctx context.Context, number string) (Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, selectAccount+` WHERE account_number = $1`, number))
}

func (t *pgTx) LockAccounts(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]Account, error) {
	sorted := sortedIDs(ids)
	raw := make([]string, 0, len(sorted))
	for _, id := range sorted {
		raw = append(raw, id.String())
	}
	rows, err := t.tx.Query(ctx, selectAccount+` WHERE id = ANY($1::text[]::uuid[]) ORDER BY id FOR UPDATE`, raw)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	defer rows.Close()
	out := make(map[uuid.UUID]Account, len(sorted))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	return out, nil
}

func (t *pgTx) SetAccountBalance(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $2::numeric, updated_at = NOW() WHERE id = $1::uuid`, id.String(), balance.String())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return newError(KindInsufficientFunds, CodeInsufficientFunds, "balance would become negative", err)
		}
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("account not found")
	}
	return nil
}

func (t *pgTx) LockCard(ctx context.Context, id uuid.UUID) (Card, error) {
	return scanCard(t.tx.QueryRow(ctx, selectCard+` WHERE id = $1::uuid FOR UPDATE`, id.String()))
}

func (t *pgTx) UpdateCard(ctx context.Context, c Card) error {
	const q = `
UPDATE cards
SET available_balance = $2::numeric,
    total_topped_up = $3::numeric,
    last_top_up_at = $4,
    status = $5,
    updated_at = NOW()
WHERE id = $1::uuid
`
	tag, err := t.tx.Exec(ctx, q, c.ID.String(), c.AvailableBalance.String(), c.TotalToppedUp.String(), c.LastTopUpAt, string(c.Status))
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("card not found")
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr Transaction) error {
	meta, err := json.Marshal(tr.Metadata)
	if err != nil {
		return fmt.Errorf("encode transaction metadata: %w", err)
	}
	const q = `
INSERT INTO transactions (
  id, reference, amount, description, type, category, status,
  balance_before, balance_after,
  sender_account_id, sender_id, receiver_account_id, receiver_id,
  metadata, failure_reason, created_at, completed_at
) VALUES (
  $1::uuid, $2, $3::numeric, $4, $5, $6, $7,
  $8::numeric, $9::numeric,
  $10::uuid, $11::uuid, $12::uuid, $13::uuid,
  $14::jsonb, NULLIF($15, ''), $16, $17
)
`
	// A savepoint keeps the outer unit of work alive when the reference collides.
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	_, err = sp.Exec(ctx, q,
		tr.ID.String(), tr.Reference, tr.Amount.String(), tr.Description, string(tr.Type), string(tr.Category), string(tr.Status),
		tr.BalanceBefore.String(), tr.BalanceAfter.String(),
		nullUUID(tr.SenderAccountID), nullUUID(tr.SenderID), nullUUID(tr.ReceiverAccountID), nullUUID(tr.ReceiverID),
		string(meta), string(tr.FailureReason), tr.CreatedAt, tr.CompletedAt,
	)
	if err != nil {
		_ = sp.Rollback(ctx)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "transactions_reference_key" {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return sp.Commit(ctx)
}

func (t *pgTx) LockTransaction(ctx context.Context, reference string) (Transaction, error) {
	return scanTransaction(t.tx.QueryRow(ctx, selectTransaction+` WHERE reference = $1 FOR UPDATE`, reference))
}

func (t *pgTx) UpdateTransaction(ctx context.Context, tr Transaction) error {
	meta, err := json.Marshal(tr.Metadata)
	if err != nil {
		return fmt.Errorf("encode transaction metadata: %w", err)
	}
	const q = `
UPDATE transactions
SET status = $2,
    balance_before = $3::numeric,
    balance_after = $4::numeric,
    metadata = $5::jsonb,
    failure_reason = NULLIF($6, ''),
    completed_at = $7
WHERE reference = $1
`
	tag, err := t.tx.Exec(ctx, q, tr.Reference, string(tr.Status), tr.BalanceBefore.String(), tr.BalanceAfter.String(),
		string(meta), string(tr.FailureReason), tr.CompletedAt)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("transaction not found")
	}
	return nil
}

const (
	selectUser = `
SELECT id::text, username, email, full_name, COALESCE(security_answer_hash, ''), COALESCE(otp, ''), otp_expires_at
FROM users`
	selectAccount = `
SELECT id::text, user_id::text, account_number, currency, status, balance::text, is_primary
FROM accounts`
	selectCard = `
SELECT id::text, user_id::text, account_id::text, last_four, currency, status,
       available_balance::text, total_topped_up::text, last_top_up_at
FROM cards`
	selectTransaction = `
SELECT id::text, reference, amount::text, description, type, category, status,
       balance_before::text, balance_after::text,
       sender_account_id::text, sender_id::text, receiver_account_id::text, receiver_id::text,
       metadata, COALESCE(failure_reason, ''), created_at, completed_at
FROM transactions`
)

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

func parseNullUUID(v *string) uuid.UUID {
	if v == nil {
		return uuid.Nil
	}
	id, err := uuid.Parse(*v)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func mapNoRows(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(what + " not found")
	}
	return fmt.Errorf("scan %s: %w", what, err)
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	var id string
	var expires *time.Time
	if err := row.Scan(&id, &u.Username, &u.Email, &u.FullName, &u.SecurityAnswerHash, &u.OTP, &expires); err != nil {
		return User{}, mapNoRows(err, "user")
	}
	u.ID = uuid.MustParse(id)
	if expires != nil {
		e := expires.UTC()
		u.OTPExpiresAt = &e
	}
	return u, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var id, userID, currency, status, balance string
	if err := row.Scan(&id, &userID, &a.AccountNumber, &currency, &status, &balance, &a.IsPrimary); err != nil {
		return Account{}, mapNoRows(err, "account")
	}
	a.ID = uuid.MustParse(id)
	a.UserID = uuid.MustParse(userID)
	a.Currency = money.Currency(currency)
	a.Status = AccountStatus(status)
	a.Balance = decimal.RequireFromString(balance)
	return a, nil
}

func scanCard(row pgx.Row) (Card, error) {
	var c Card
	var id, userID, accountID, currency, status, available, total string
	var last *time.Time
	if err := row.Scan(&id, &userID, &accountID, &c.LastFour, &currency, &status, &available, &total, &last); err != nil {
		return Card{}, mapNoRows(err, "card")
	}
	c.ID = uuid.MustParse(id)
	c.UserID = uuid.MustParse(userID)
	c.AccountID = uuid.MustParse(accountID)
	c.Currency = money.Currency(currency)
	c.Status = CardStatus(status)
	c.AvailableBalance = decimal.RequireFromString(available)
	c.TotalToppedUp = decimal.RequireFromString(total)
	if last != nil {
		l := last.UTC()
		c.LastTopUpAt = &l
	}
	return c, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var id, amount, typ, category, status, before, after string
	var senderAcct, sender, receiverAcct, receiver *string
	var meta []byte
	var reason string
	var completed *time.Time
	err := row.Scan(&id, &t.Reference, &amount, &t.Description, &typ, &category, &status,
		&before, &after, &senderAcct, &sender, &receiverAcct, &receiver,
		&meta, &reason, &t.CreatedAt, &completed)
	if err != nil {
		return Transaction{}, mapNoRows(err, "transaction")
	}
	t.ID = uuid.MustParse(id)
	t.Amount = decimal.RequireFromString(amount)
	t.Type = TransactionType(typ)
	t.Category = TransactionCategory(category)
	t.Status = TransactionStatus(status)
	t.BalanceBefore = decimal.RequireFromString(before)
	t.BalanceAfter = decimal.RequireFromString(after)
	t.SenderAccountID = parseNullUUID(senderAcct)
	t.SenderID = parseNullUUID(sender)
	t.ReceiverAccountID = parseNullUUID(receiverAcct)
	t.ReceiverID = parseNullUUID(receiver)
	t.Metadata = map[string]string{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &t.Metadata); err != nil {
			return Transaction{}, fmt.Errorf("decode transaction metadata: %w", err)
		}
	}
	t.FailureReason = FailureReason(reason)
	t.CreatedAt = t.CreatedAt.UTC()
	if completed != nil {
		c := completed.UTC()
		t.CompletedAt = &c
	}
	return t, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()
	out := make([]Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}
