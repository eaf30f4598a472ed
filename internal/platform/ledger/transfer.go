package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/money"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/notify"
)

type TransferRequest struct {
	SenderID              uuid.UUID
	SenderAccountID       uuid.UUID
	ReceiverAccountNumber string
	Amount                decimal.Decimal
	Description           string
	SecurityAnswer        string
}

type InitiateResult struct {
	Transaction Transaction
	Conversion  money.Conversion
	ExpiresAt   time.Time
}

// InitiateTransfer validates a transfer, records it as Pending and issues an
// OTP to the sender. No balance moves until CompleteTransfer.
func (e *Engine) InitiateTransfer(ctx context.Context, req TransferRequest) (res InitiateResult, err error) {
	defer func() { e.observe("transfer_initiate", err) }()
	if err := validateAmount(req.Amount); err != nil {
		return InitiateResult{}, err
	}
	var sender User
	var otp string
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if recv, err := tx.AccountByNumber(ctx, req.ReceiverAccountNumber); err == nil && recv.UserID == req.SenderID {
			return newError(KindSelfTransfer, CodeSelfTransfer, "cannot transfer to your own account", nil)
		}
		senderAcct, err := tx.Account(ctx, req.SenderAccountID)
		if err != nil || senderAcct.UserID != req.SenderID {
			return notFound("sender account not found")
		}
		sender, err = tx.LockUser(ctx, req.SenderID)
		if err != nil {
			return notFound("sender not found")
		}
		if err := senderAcct.requireActive(); err != nil {
			return err
		}
		if !VerifySecurityAnswer(sender.SecurityAnswerHash, req.SecurityAnswer) {
			return newError(KindUnauthorized, CodeUnauthorized, "security answer is incorrect", nil)
		}
		receiverAcct, err := tx.AccountByNumber(ctx, req.ReceiverAccountNumber)
		if err != nil {
			return notFound("receiver account not found")
		}
		if err := receiverAcct.requireActive(); err != nil {
			return err
		}
		if senderAcct.Balance.LessThan(req.Amount) {
			return newError(KindInsufficientFunds, CodeInsufficientFunds, "insufficient funds", nil)
		}
		conv, err := e.cfg.Rates.Convert(req.Amount, senderAcct.Currency, receiverAcct.Currency)
		if err != nil {
			return newError(KindUnsupportedCurrencyPair, CodeUnsupportedCurrencyPair, err.Error(), err)
		}

		now := e.now()
		expiresAt := now.Add(e.cfg.OTPExpiry).UTC().Truncate(time.Microsecond)
		otp, err = e.newOTP()
		if err != nil {
			return systemError("generate otp", err)
		}
		t := Transaction{
			Amount:            req.Amount,
			Description:       req.Description,
			Type:              TypeTransfer,
			Category:          CategoryDebit,
			Status:            StatusPending,
			BalanceBefore:     senderAcct.Balance,
			BalanceAfter:      senderAcct.Balance.Sub(req.Amount),
			SenderAccountID:   senderAcct.ID,
			SenderID:          senderAcct.UserID,
			ReceiverAccountID: receiverAcct.ID,
			ReceiverID:        receiverAcct.UserID,
			Metadata: map[string]string{
				MetaExchangeRate:    conv.Rate.String(),
				MetaConversionFee:   money.Format(conv.Fee),
				MetaOriginalAmount:  money.Format(conv.Original),
				MetaConvertedAmount: money.Format(conv.Converted),
				MetaFromCurrency:    string(conv.From),
				MetaToCurrency:      string(conv.To),
				MetaOTPExpiresAt:    expiresAt.Format(time.RFC3339Nano),
			},
			CreatedAt: now,
		}
		if err := e.insertTransaction(ctx, tx, PrefixTransfer, &t); err != nil {
			return err
		}
		if err := tx.SetUserOTP(ctx, sender.ID, otp, &expiresAt); err != nil {
			return err
		}
		res = InitiateResult{Transaction: t, Conversion: conv, ExpiresAt: expiresAt}
		return nil
	})
	if err != nil {
		return InitiateResult{}, err
	}

	e.Log.Info().Str("reference", res.Transaction.Reference).Str("sender_id", req.SenderID.String()).
		Str("amount", money.Format(req.Amount)).Msg("transfer initiated")
	e.appendAudit(ctx, req.SenderID, "customer", "transaction", res.Transaction.Reference, "transfer_initiate",
		[]byte(`{}`), transactionState(res.Transaction), audit.ResultSuccess, "")
	e.notifyAfterCommit(ctx, notify.KindOTP, res.Transaction.Reference, func(ctx context.Context, n notify.Notifier) error {
		return n.SendOTP(ctx, notify.OTPMessage{
			Email:     sender.Email,
			FullName:  sender.FullName,
			OTP:       otp,
			Reference: res.Transaction.Reference,
			ExpiresAt: res.ExpiresAt,
		})
	})
	return res, nil
}

// transferFailure carries the persisted reason for a failed completion
// attempt out of the rolled-back unit of work.
type transferFailure struct {
	reason FailureReason
	err    error
}

func (f *transferFailure) Error() string { return string(f.reason) + ": " + f.err.Error() }

func (f *transferFailure) Unwrap() error { return f.err }

func failTransfer(reason FailureReason, err error) error {
	return &transferFailure{reason: reason, err: err}
}

type TransferResult struct {
	Transaction  Transaction
	Sender       Account
	Receiver     Account
	SenderUser   User
	ReceiverUser User
}

// CompleteTransfer verifies the OTP and applies a Pending transfer. Any
// check that fails after the transfer is located marks it Failed with a
// reason; the transfer cannot be retried afterwards.
func (e *Engine) CompleteTransfer(ctx context.Context, reference, otp string) (res TransferResult, err error) {
	defer func() { e.observe("transfer_complete", err) }()

	var senderBefore, receiverBefore Account
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) (err error) {
		located := false
		defer func() {
			if r := recover(); r != nil {
				err = systemError("transfer completion panicked", fmt.Errorf("%v", r))
			}
			if err != nil && located {
				var tf *transferFailure
				if !errors.As(err, &tf) {
					err = failTransfer(ReasonSystemError, asSystemError(err))
				}
			}
		}()

		t, err := tx.LockTransaction(ctx, reference)
		if err != nil {
			return err
		}
		if t.Type != TypeTransfer {
			return notFound("transfer not found")
		}
		if t.Status != StatusPending {
			return newError(KindNotFound, CodeNotFound, fmt.Sprintf("no pending transfer %s (status %s)", reference, t.Status), ErrTransactionTerminal)
		}
		located = true

		locked, err := tx.LockAccounts(ctx, t.SenderAccountID, t.ReceiverAccountID)
		if err != nil {
			return err
		}
		sender, okSender := locked[t.SenderAccountID]
		receiver, okReceiver := locked[t.ReceiverAccountID]
		senderUser, errSender := tx.LockUser(ctx, t.SenderID)
		receiverUser, errReceiver := tx.User(ctx, t.ReceiverID)
		if !okSender || !okReceiver || errSender != nil || errReceiver != nil {
			return failTransfer(ReasonInvalidAccount, notFound("transfer account no longer exists"))
		}

		// Expiry wins over a wrong code.
		now := e.now()
		if expiry, ok := transferOTPExpiry(senderUser, t); !ok || now.After(expiry) {
			return failTransfer(ReasonOTPExpired, newError(KindUnauthorized, CodeOTPExpired, "otp has expired", nil))
		}
		if !otpEqual(senderUser.OTP, otp) || !otpIssuedFor(senderUser, t) {
			return failTransfer(ReasonInvalidOTP, newError(KindUnauthorized, CodeInvalidOTP, "invalid otp", nil))
		}
		if err := sender.requireActive(); err != nil {
			return failTransfer(ReasonAccountInactive, err)
		}
		if err := receiver.requireActive(); err != nil {
			return failTransfer(ReasonAccountInactive, err)
		}
		if sender.Balance.LessThan(t.Amount) {
			return failTransfer(ReasonInsufficientBalance, newError(KindInsufficientFunds, CodeInsufficientFunds, "insufficient funds", nil))
		}
		raw, ok := t.Metadata[MetaConvertedAmount]
		if !ok {
			return failTransfer(ReasonSystemError, systemError("transfer is missing its converted amount", nil))
		}
		converted, err := decimal.NewFromString(raw)
		if err != nil {
			return failTransfer(ReasonSystemError, systemError("transfer has a malformed converted amount", err))
		}

		senderBefore, receiverBefore = sender, receiver
		if err := sender.ApplyDelta(t.Amount.Neg()); err != nil {
			return failTransfer(ReasonInsufficientBalance, err)
		}
		if err := receiver.ApplyDelta(converted); err != nil {
			return err
		}
		if err := tx.SetAccountBalance(ctx, sender.ID, sender.Balance); err != nil {
			return err
		}
		if err := tx.SetAccountBalance(ctx, receiver.ID, receiver.Balance); err != nil {
			return err
		}

		t.Status = StatusCompleted
		t.CompletedAt = &now
		t.BalanceBefore = senderBefore.Balance
		t.BalanceAfter = sender.Balance
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}
		if err := tx.SetUserOTP(ctx, senderUser.ID, "", nil); err != nil {
			return err
		}
		res = TransferResult{Transaction: t, Sender: sender, Receiver: receiver, SenderUser: senderUser, ReceiverUser: receiverUser}
		return nil
	})

	var tf *transferFailure
	if errors.As(err, &tf) {
		if _, markErr := e.markTransactionFailed(ctx, reference, tf.reason, tf.err.Error()); markErr != nil {
			e.Log.Error().Err(markErr).Str("reference", reference).Msg("mark transfer failed")
		}
		return TransferResult{}, tf.err
	}
	if err != nil {
		return TransferResult{}, err
	}

	t := res.Transaction
	e.Log.Info().Str("reference", t.Reference).Str("amount", money.Format(t.Amount)).
		Str("converted_amount", t.Metadata[MetaConvertedAmount]).Msg("transfer completed")
	e.appendAudit(ctx, res.SenderUser.ID, "customer", "account", res.Sender.ID.String(), "transfer_debit",
		accountState(senderBefore), accountState(res.Sender), audit.ResultSuccess, t.Reference)
	e.appendAudit(ctx, res.SenderUser.ID, "customer", "account", res.Receiver.ID.String(), "transfer_credit",
		accountState(receiverBefore), accountState(res.Receiver), audit.ResultSuccess, t.Reference)
	e.notifyAfterCommit(ctx, notify.KindTransferAlert, t.Reference, func(ctx context.Context, n notify.Notifier) error {
		return n.SendTransferAlert(ctx, notify.TransferAlert{
			Reference:       t.Reference,
			SenderName:      res.SenderUser.FullName,
			SenderEmail:     res.SenderUser.Email,
			ReceiverName:    res.ReceiverUser.FullName,
			ReceiverEmail:   res.ReceiverUser.Email,
			Amount:          money.Format(t.Amount),
			ConvertedAmount: t.Metadata[MetaConvertedAmount],
			FromCurrency:    t.Metadata[MetaFromCurrency],
			ToCurrency:      t.Metadata[MetaToCurrency],
			ExchangeRate:    t.Metadata[MetaExchangeRate],
			ConversionFee:   t.Metadata[MetaConversionFee],
			SenderBalance:   money.Format(res.Sender.Balance),
			ReceiverBalance: money.Format(res.Receiver.Balance),
			Description:     t.Description,
			CompletedAt:     *t.CompletedAt,
		})
	})
	return res, nil
}

// transferOTPExpiry is the end of the OTP window opened when t was
// initiated, falling back to the user's current window for transfers that
// predate the recorded expiry.
func transferOTPExpiry(u User, t Transaction) (time.Time, bool) {
	if raw, ok := t.Metadata[MetaOTPExpiresAt]; ok {
		if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return at, true
		}
	}
	if u.OTPExpiresAt == nil {
		return time.Time{}, false
	}
	return *u.OTPExpiresAt, true
}

// otpIssuedFor reports whether the user's current OTP was issued by t.
// A newer initiation replaces the OTP and orphans older pending transfers.
func otpIssuedFor(u User, t Transaction) bool {
	issued, ok := t.Metadata[MetaOTPExpiresAt]
	if !ok {
		return true
	}
	return u.OTPExpiresAt != nil && u.OTPExpiresAt.UTC().Format(time.RFC3339Nano) == issued
}

func asSystemError(err error) error {
	var le *Error
	if errors.As(err, &le) && le.Kind == KindSystemError {
		return err
	}
	return systemError("transfer completion failed", err)
}

// markTransactionFailed moves a Pending transfer to Failed in its own unit of
// work. It reports false when the transfer was already terminal.
func (e *Engine) markTransactionFailed(ctx context.Context, reference string, reason FailureReason, details string) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	var failed Transaction
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := tx.LockTransaction(ctx, reference)
		if err != nil {
			return err
		}
		if t.Status.Terminal() {
			return nil
		}
		now := e.now()
		t.Status = StatusFailed
		t.FailureReason = reason
		if t.Metadata == nil {
			t.Metadata = map[string]string{}
		}
		t.Metadata[MetaFailureReason] = string(reason)
		t.Metadata[MetaFailureDetails] = details
		t.Metadata[MetaFailedAt] = now.UTC().Format(time.RFC3339Nano)
		if err := tx.UpdateTransaction(ctx, t); err != nil {
			return err
		}
		if u, err := tx.LockUser(ctx, t.SenderID); err == nil && u.OTP != "" && otpIssuedFor(u, t) {
			if err := tx.SetUserOTP(ctx, u.ID, "", nil); err != nil {
				return err
			}
		}
		failed = t
		return nil
	})
	if err != nil || failed.Reference == "" {
		return false, err
	}
	e.Log.Warn().Str("reference", reference).Str("reason", string(reason)).Str("details", details).Msg("transfer failed")
	if e.Observer != nil {
		e.Observer.ObserveTransferFailure(string(reason))
	}
	e.appendAudit(ctx, failed.SenderID, "customer", "transaction", reference, "transfer_fail",
		[]byte(`{}`), transactionState(failed), audit.ResultFailed, string(reason))
	return true, nil
}
