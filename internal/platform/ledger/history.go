package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type HistoryPage struct {
	Transactions []Transaction
	Total        int
	Skip         int
	Limit        int
}

// ListTransactions returns the user's transactions, newest first, with the
// other party's account number and name added to each entry's metadata.
func (e *Engine) ListTransactions(ctx context.Context, userID uuid.UUID, f HistoryFilter) (HistoryPage, error) {
	if f.StartDate != nil && f.EndDate != nil && f.EndDate.Before(*f.StartDate) {
		return HistoryPage{}, invalidArgument("end date is before start date", nil)
	}
	if f.MinAmount != nil && f.MaxAmount != nil && f.MaxAmount.LessThan(*f.MinAmount) {
		return HistoryPage{}, invalidArgument("max amount is below min amount", nil)
	}
	f = f.normalized()
	txs, total, err := e.store.ListTransactions(ctx, userID, f)
	if err != nil {
		return HistoryPage{}, err
	}
	numbers := make(map[uuid.UUID]string)
	names := make(map[uuid.UUID]string)
	accountNumber := func(id uuid.UUID) string {
		if n, ok := numbers[id]; ok {
			return n
		}
		a, err := e.store.Account(ctx, id)
		if err != nil {
			a.AccountNumber = ""
		}
		numbers[id] = a.AccountNumber
		return a.AccountNumber
	}
	fullName := func(id uuid.UUID) string {
		if id == uuid.Nil {
			return ""
		}
		if n, ok := names[id]; ok {
			return n
		}
		u, err := e.store.User(ctx, id)
		if err != nil {
			u.FullName = ""
		}
		names[id] = u.FullName
		return u.FullName
	}
	for i := range txs {
		t := &txs[i]
		if t.SenderAccountID == uuid.Nil || t.ReceiverAccountID == uuid.Nil {
			continue
		}
		otherAcct, otherUser := t.ReceiverAccountID, t.ReceiverID
		if t.ReceiverID == userID && t.SenderID != userID {
			otherAcct, otherUser = t.SenderAccountID, t.SenderID
		}
		n := accountNumber(otherAcct)
		if n == "" {
			continue
		}
		if t.Metadata == nil {
			t.Metadata = map[string]string{}
		}
		t.Metadata[MetaCounterpartyAcct] = n
		if name := fullName(otherUser); name != "" {
			t.Metadata[MetaCounterpartyName] = name
		}
	}
	return HistoryPage{Transactions: txs, Total: total, Skip: f.Skip, Limit: f.Limit}, nil
}

type StatementLine struct {
	Reference   string
	Type        TransactionType
	Description string
	Amount      decimal.Decimal
	Balance     decimal.Decimal
	At          time.Time
}

type Statement struct {
	AccountNumber  string
	Currency       string
	Start          time.Time
	End            time.Time
	OpeningBalance decimal.Decimal
	ClosingBalance decimal.Decimal
	TotalCredits   decimal.Decimal
	TotalDebits    decimal.Decimal
	Lines          []StatementLine
}

// Statement summarises completed movements on one of the user's accounts
// between start and end inclusive. The opening balance is derived backwards
// from the current balance.
func (e *Engine) Statement(ctx context.Context, userID uuid.UUID, accountNumber string, start, end time.Time) (Statement, error) {
	if end.Before(start) {
		return Statement{}, invalidArgument("end is before start", nil)
	}
	acct, err := e.store.AccountByNumber(ctx, accountNumber)
	if err != nil || acct.UserID != userID {
		return Statement{}, notFound("account not found")
	}
	txs, err := e.store.AccountTransactionsSince(ctx, acct.ID, start)
	if err != nil {
		return Statement{}, err
	}

	opening := acct.Balance
	for _, t := range txs {
		opening = opening.Sub(t.Movement(acct.ID))
	}
	st := Statement{
		AccountNumber:  acct.AccountNumber,
		Currency:       string(acct.Currency),
		Start:          start,
		End:            end,
		OpeningBalance: opening,
		TotalCredits:   decimal.Zero,
		TotalDebits:    decimal.Zero,
		Lines:          make([]StatementLine, 0),
	}
	running := opening
	for _, t := range txs {
		if t.CompletedAt.After(end) {
			break
		}
		delta := t.Movement(acct.ID)
		running = running.Add(delta)
		if delta.IsPositive() {
			st.TotalCredits = st.TotalCredits.Add(delta)
		} else {
			st.TotalDebits = st.TotalDebits.Add(delta.Neg())
		}
		st.Lines = append(st.Lines, StatementLine{
			Reference:   t.Reference,
			Type:        t.Type,
			Description: t.Description,
			Amount:      delta,
			Balance:     running,
			At:          *t.CompletedAt,
		})
	}
	st.ClosingBalance = running
	return st, nil
}

// Transfer returns a transfer by reference if userID is its sender.
func (e *Engine) Transfer(ctx context.Context, userID uuid.UUID, reference string) (Transaction, error) {
	t, err := e.store.TransactionByReference(ctx, reference)
	if err != nil {
		return Transaction{}, err
	}
	if t.Type != TypeTransfer || t.SenderID != userID {
		return Transaction{}, notFound("transfer not found")
	}
	return t, nil
}
