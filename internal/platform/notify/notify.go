// Package notify delivers customer notifications for ledger events. Delivery
// is decoupled from money movement: callers enqueue after commit and a
// dispatcher drains the queue with retries.
package notify

import (
	"context"
	"time"
)

type Kind string

const (
	KindOTP             Kind = "otp"
	KindTransferAlert   Kind = "transfer_alert"
	KindDepositAlert    Kind = "deposit_alert"
	KindWithdrawalAlert Kind = "withdrawal_alert"
	KindTopUpAlert      Kind = "top_up_alert"
)

type Notifier interface {
	SendOTP(ctx context.Context, m OTPMessage) error
	SendTransferAlert(ctx context.Context, m TransferAlert) error
	SendDepositAlert(ctx context.Context, m DepositAlert) error
	SendWithdrawalAlert(ctx context.Context, m WithdrawalAlert) error
	SendTopUpAlert(ctx context.Context, m TopUpAlert) error
}

// Amounts are pre-formatted decimal strings.

type OTPMessage struct {
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	OTP       string    `json:"otp"`
	Reference string    `json:"reference"`
	ExpiresAt time.Time `json:"expires_at"`
}

type TransferAlert struct {
	Reference       string    `json:"reference"`
	SenderName      string    `json:"sender_name"`
	SenderEmail     string    `json:"sender_email"`
	ReceiverName    string    `json:"receiver_name"`
	ReceiverEmail   string    `json:"receiver_email"`
	Amount          string    `json:"amount"`
	ConvertedAmount string    `json:"converted_amount"`
	FromCurrency    string    `json:"from_currency"`
	ToCurrency      string    `json:"to_currency"`
	ExchangeRate    string    `json:"exchange_rate"`
	ConversionFee   string    `json:"conversion_fee"`
	SenderBalance   string    `json:"sender_balance"`
	ReceiverBalance string    `json:"receiver_balance"`
	Description     string    `json:"description"`
	CompletedAt     time.Time `json:"completed_at"`
}

type DepositAlert struct {
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	Reference     string    `json:"reference"`
	AccountNumber string    `json:"account_number"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Balance       string    `json:"balance"`
	Description   string    `json:"description"`
	At            time.Time `json:"at"`
}

type WithdrawalAlert struct {
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	Reference     string    `json:"reference"`
	AccountNumber string    `json:"account_number"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Balance       string    `json:"balance"`
	Description   string    `json:"description"`
	At            time.Time `json:"at"`
}

type TopUpAlert struct {
	Email         string    `json:"email"`
	FullName      string    `json:"full_name"`
	Reference     string    `json:"reference"`
	AccountNumber string    `json:"account_number"`
	CardLastFour  string    `json:"card_last_four"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	CardBalance   string    `json:"card_balance"`
	At            time.Time `json:"at"`
}
