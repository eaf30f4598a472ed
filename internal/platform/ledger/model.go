package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/money"
)

type AccountStatus string

const (
	AccountPending  AccountStatus = "Pending"
	AccountActive   AccountStatus = "Active"
	AccountInactive AccountStatus = "Inactive"
)

type CardStatus string

const (
	CardActive   CardStatus = "Active"
	CardInactive CardStatus = "Inactive"
	CardBlocked  CardStatus = "Blocked"
)

type TransactionType string

const (
	TypeDeposit    TransactionType = "Deposit"
	TypeWithdrawal TransactionType = "Withdrawal"
	TypeTransfer   TransactionType = "Transfer"
)

type TransactionCategory string

const (
	CategoryCredit TransactionCategory = "Credit"
	CategoryDebit  TransactionCategory = "Debit"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "Pending"
	StatusCompleted TransactionStatus = "Completed"
	StatusFailed    TransactionStatus = "Failed"
)

func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FailureReason is persisted on failed transfers.
type FailureReason string

const (
	ReasonInvalidAccount      FailureReason = "INVALID_ACCOUNT"
	ReasonInvalidOTP          FailureReason = "INVALID_OTP"
	ReasonOTPExpired          FailureReason = "OTP_EXPIRED"
	ReasonAccountInactive     FailureReason = "ACCOUNT_INACTIVE"
	ReasonInsufficientBalance FailureReason = "INSUFFICIENT_BALANCE"
	ReasonSystemError         FailureReason = "SYSTEM_ERROR"
)

// Metadata keys stored on transactions.
const (
	MetaCurrency          = "currency"
	MetaExchangeRate      = "exchange_rate"
	MetaConversionFee     = "conversion_fee"
	MetaOriginalAmount    = "original_amount"
	MetaConvertedAmount   = "converted_amount"
	MetaFromCurrency      = "from_currency"
	MetaToCurrency        = "to_currency"
	MetaAccountNumber     = "account_number"
	MetaTellerID          = "teller_id"
	MetaTellerName        = "teller_name"
	MetaTellerEmail       = "teller_email"
	MetaWithdrawalMethod  = "withdrawal_method"
	MetaTopUpType         = "top_up_type"
	MetaCardID            = "card_id"
	MetaCardLastFour      = "card_last_four"
	MetaFailureReason     = "failure_reason"
	MetaFailureDetails    = "failure_details"
	MetaFailedAt          = "failed_at"
	MetaOTPExpiresAt      = "otp_expires_at"
	MetaCounterpartyAcct  = "counterparty_account"
	MetaCounterpartyName  = "counterparty_name"
	withdrawalMethodCash  = "cash"
	topUpTypeVirtualCard  = "virtual_card"
)

type User struct {
	ID                 uuid.UUID
	Username           string
	Email              string
	FullName           string
	SecurityAnswerHash string
	OTP                string
	OTPExpiresAt       *time.Time
}

type Account struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	AccountNumber string
	Currency      money.Currency
	Status        AccountStatus
	Balance       decimal.Decimal
	IsPrimary     bool
}

// ApplyDelta adds a signed amount to the balance. The balance never goes negative.
func (a *Account) ApplyDelta(delta decimal.Decimal) error {
	next := a.Balance.Add(delta)
	if next.IsNegative() {
		return newError(KindInsufficientFunds, CodeInsufficientFunds, "insufficient funds", nil)
	}
	a.Balance = next
	return nil
}

func (a Account) requireActive() error {
	if a.Status != AccountActive {
		return newError(KindAccountNotActive, CodeAccountNotActive, "account "+a.AccountNumber+" is not active", nil)
	}
	return nil
}

type Card struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	AccountID        uuid.UUID
	LastFour         string
	Currency         money.Currency
	Status           CardStatus
	AvailableBalance decimal.Decimal
	TotalToppedUp    decimal.Decimal
	LastTopUpAt      *time.Time
}

type Transaction struct {
	ID                uuid.UUID
	Reference         string
	Amount            decimal.Decimal
	Description       string
	Type              TransactionType
	Category          TransactionCategory
	Status            TransactionStatus
	BalanceBefore     decimal.Decimal
	BalanceAfter      decimal.Decimal
	SenderAccountID   uuid.UUID
	SenderID          uuid.UUID
	ReceiverAccountID uuid.UUID
	ReceiverID        uuid.UUID
	Metadata          map[string]string
	FailureReason     FailureReason
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

func (t Transaction) clone() Transaction {
	out := t
	out.Metadata = make(map[string]string, len(t.Metadata))
	for k, v := range t.Metadata {
		out.Metadata[k] = v
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		out.CompletedAt = &c
	}
	return out
}

// Movement returns the signed effect of a completed transaction on accountID.
func (t Transaction) Movement(accountID uuid.UUID) decimal.Decimal {
	delta := decimal.Zero
	if t.SenderAccountID == accountID {
		delta = delta.Sub(t.Amount)
	}
	if t.ReceiverAccountID == accountID {
		credit := t.Amount
		if raw, ok := t.Metadata[MetaConvertedAmount]; ok {
			if d, err := decimal.NewFromString(raw); err == nil {
				credit = d
			}
		}
		delta = delta.Add(credit)
	}
	return delta
}
