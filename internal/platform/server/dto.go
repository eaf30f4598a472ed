package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/ledger"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/money"
)

// Wire shapes. Amounts are rendered as two-decimal strings.

type depositBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type withdrawBody struct {
	AccountNumber string          `json:"account_number"`
	Username      string          `json:"username"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
}

type transferBody struct {
	FromAccountID   string          `json:"from_account_id"`
	ToAccountNumber string          `json:"to_account_number"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	SecurityAnswer  string          `json:"security_answer"`
}

type completeBody struct {
	OTP string `json:"otp"`
}

type topUpBody struct {
	AccountNumber string          `json:"account_number"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
}

type transactionJSON struct {
	ID                string            `json:"id"`
	Reference         string            `json:"reference"`
	Type              string            `json:"type"`
	Category          string            `json:"category"`
	Status            string            `json:"status"`
	Amount            string            `json:"amount"`
	Description       string            `json:"description,omitempty"`
	BalanceBefore     string            `json:"balance_before"`
	BalanceAfter      string            `json:"balance_after"`
	SenderAccountID   string            `json:"sender_account_id,omitempty"`
	ReceiverAccountID string            `json:"receiver_account_id,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

func toTransactionJSON(t ledger.Transaction) transactionJSON {
	out := transactionJSON{
		ID:            t.ID.String(),
		Reference:     t.Reference,
		Type:          string(t.Type),
		Category:      string(t.Category),
		Status:        string(t.Status),
		Amount:        money.Format(t.Amount),
		Description:   t.Description,
		BalanceBefore: money.Format(t.BalanceBefore),
		BalanceAfter:  money.Format(t.BalanceAfter),
		FailureReason: string(t.FailureReason),
		Metadata:      t.Metadata,
		CreatedAt:     t.CreatedAt,
		CompletedAt:   t.CompletedAt,
	}
	if t.SenderAccountID != uuid.Nil {
		out.SenderAccountID = t.SenderAccountID.String()
	}
	if t.ReceiverAccountID != uuid.Nil {
		out.ReceiverAccountID = t.ReceiverAccountID.String()
	}
	return out
}

type accountJSON struct {
	ID            string `json:"id"`
	AccountNumber string `json:"account_number"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	Balance       string `json:"balance"`
}

func toAccountJSON(a ledger.Account) accountJSON {
	return accountJSON{
		ID:            a.ID.String(),
		AccountNumber: a.AccountNumber,
		Currency:      a.Currency.String(),
		Status:        string(a.Status),
		Balance:       money.Format(a.Balance),
	}
}

type resultJSON struct {
	Transaction transactionJSON `json:"transaction"`
	Account     accountJSON     `json:"account"`
}

type initiateJSON struct {
	Transaction     transactionJSON `json:"transaction"`
	OriginalAmount  string          `json:"original_amount"`
	ConvertedAmount string          `json:"converted_amount"`
	ExchangeRate    string          `json:"exchange_rate"`
	ConversionFee   string          `json:"conversion_fee"`
	FromCurrency    string          `json:"from_currency"`
	ToCurrency      string          `json:"to_currency"`
	OTPExpiresAt    time.Time       `json:"otp_expires_at"`
}

func toInitiateJSON(r ledger.InitiateResult) initiateJSON {
	return initiateJSON{
		Transaction:     toTransactionJSON(r.Transaction),
		OriginalAmount:  money.Format(r.Conversion.Original),
		ConvertedAmount: money.Format(r.Conversion.Converted),
		ExchangeRate:    r.Conversion.Rate.String(),
		ConversionFee:   money.Format(r.Conversion.Fee),
		FromCurrency:    r.Conversion.From.String(),
		ToCurrency:      r.Conversion.To.String(),
		OTPExpiresAt:    r.ExpiresAt,
	}
}

type completeJSON struct {
	Transaction   transactionJSON `json:"transaction"`
	SenderAccount accountJSON     `json:"sender_account"`
}

type cardJSON struct {
	ID               string     `json:"id"`
	LastFour         string     `json:"last_four"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	AvailableBalance string     `json:"available_balance"`
	TotalToppedUp    string     `json:"total_topped_up"`
	LastTopUpAt      *time.Time `json:"last_top_up_at,omitempty"`
}

type topUpJSON struct {
	Transaction transactionJSON `json:"transaction"`
	Account     accountJSON     `json:"account"`
	Card        cardJSON        `json:"card"`
}

func toTopUpJSON(r ledger.TopUpResult) topUpJSON {
	return topUpJSON{
		Transaction: toTransactionJSON(r.Transaction),
		Account:     toAccountJSON(r.Account),
		Card: cardJSON{
			ID:               r.Card.ID.String(),
			LastFour:         r.Card.LastFour,
			Currency:         r.Card.Currency.String(),
			Status:           string(r.Card.Status),
			AvailableBalance: money.Format(r.Card.AvailableBalance),
			TotalToppedUp:    money.Format(r.Card.TotalToppedUp),
			LastTopUpAt:      r.Card.LastTopUpAt,
		},
	}
}

type historyJSON struct {
	Transactions []transactionJSON `json:"transactions"`
	Total        int               `json:"total"`
	Skip         int               `json:"skip"`
	Limit        int               `json:"limit"`
}

type statementLineJSON struct {
	Reference   string    `json:"reference"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Amount      string    `json:"amount"`
	Balance     string    `json:"balance"`
	At          time.Time `json:"at"`
}

type statementJSON struct {
	AccountNumber  string              `json:"account_number"`
	Currency       string              `json:"currency"`
	Start          time.Time           `json:"start"`
	End            time.Time           `json:"end"`
	OpeningBalance string              `json:"opening_balance"`
	ClosingBalance string              `json:"closing_balance"`
	TotalCredits   string              `json:"total_credits"`
	TotalDebits    string              `json:"total_debits"`
	Lines          []statementLineJSON `json:"lines"`
}

func toStatementJSON(s ledger.Statement) statementJSON {
	out := statementJSON{
		AccountNumber:  s.AccountNumber,
		Currency:       s.Currency,
		Start:          s.Start,
		End:            s.End,
		OpeningBalance: money.Format(s.OpeningBalance),
		ClosingBalance: money.Format(s.ClosingBalance),
		TotalCredits:   money.Format(s.TotalCredits),
		TotalDebits:    money.Format(s.TotalDebits),
		Lines:          make([]statementLineJSON, 0, len(s.Lines)),
	}
	for _, l := range s.Lines {
		out.Lines = append(out.Lines, statementLineJSON{
			Reference:   l.Reference,
			Type:        string(l.Type),
			Description: l.Description,
			Amount:      money.Format(l.Amount),
			Balance:     money.Format(l.Balance),
			At:          l.At,
		})
	}
	return out
}

type auditEventJSON struct {
	ID         string    `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	ObjectType string    `json:"object_type"`
	ObjectID   string    `json:"object_id"`
	Action     string    `json:"action"`
	Result     string    `json:"result"`
	Reason     string    `json:"reason,omitempty"`
	HashPrev   string    `json:"hash_prev"`
	HashCurr   string    `json:"hash_curr"`
}

func toAuditEventJSON(e audit.Event) auditEventJSON {
	return auditEventJSON{
		ID:         e.ID,
		RecordedAt: e.RecordedAt,
		ActorID:    e.ActorID,
		ActorRole:  e.ActorRole,
		ObjectType: e.ObjectType,
		ObjectID:   e.ObjectID,
		Action:     e.Action,
		Result:     string(e.Result),
		Reason:     e.Reason,
		HashPrev:   e.HashPrev,
		HashCurr:   e.HashCurr,
	}
}
