package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/audit"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/money"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/notify"
)

type DepositRequest struct {
	AccountID   uuid.UUID
	TellerID    uuid.UUID
	Amount      decimal.Decimal
	Description string
}

// Deposit credits an active account at a teller counter.
func (e *Engine) Deposit(ctx context.Context, req DepositRequest) (res Result, err error) {
	defer func() { e.observe("deposit", err) }()
	if err := validateAmount(req.Amount); err != nil {
		return Result{}, err
	}
	var before Account
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockAccounts(ctx, req.AccountID)
		if err != nil {
			return err
		}
		acct, ok := locked[req.AccountID]
		if !ok {
			return notFound("account not found")
		}
		if err := acct.requireActive(); err != nil {
			return err
		}
		teller, err := tx.User(ctx, req.TellerID)
		if err != nil {
			return notFound("teller not found")
		}
		owner, err := tx.User(ctx, acct.UserID)
		if err != nil {
			return notFound("account owner not found")
		}
		before = acct
		if err := acct.ApplyDelta(req.Amount); err != nil {
			return err
		}
		now := e.now()
		t := Transaction{
			Amount:            req.Amount,
			Description:       req.Description,
			Type:              TypeDeposit,
			Category:          CategoryCredit,
			Status:            StatusCompleted,
			BalanceBefore:     before.Balance,
			BalanceAfter:      acct.Balance,
			ReceiverAccountID: acct.ID,
			ReceiverID:        acct.UserID,
			Metadata: map[string]string{
				MetaCurrency:      string(acct.Currency),
				MetaAccountNumber: acct.AccountNumber,
				MetaTellerID:      teller.ID.String(),
				MetaTellerName:    teller.FullName,
				MetaTellerEmail:   teller.Email,
			},
			CreatedAt:   now,
			CompletedAt: &now,
		}
		if err := e.insertTransaction(ctx, tx, PrefixDeposit, &t); err != nil {
			return err
		}
		if err := tx.SetAccountBalance(ctx, acct.ID, acct.Balance); err != nil {
			return err
		}
		res = Result{Transaction: t, Account: acct, User: owner}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.Log.Info().Str("reference", res.Transaction.Reference).Str("account_id", res.Account.ID.String()).
		Str("amount", money.Format(req.Amount)).Msg("deposit completed")
	e.appendAudit(ctx, req.TellerID, "teller", "account", res.Account.ID.String(), "deposit",
		accountState(before), accountState(res.Account), audit.ResultSuccess, res.Transaction.Reference)
	e.notifyAfterCommit(ctx, notify.KindDepositAlert, res.Transaction.Reference, func(ctx context.Context, n notify.Notifier) error {
		return n.SendDepositAlert(ctx, notify.DepositAlert{
			Email:         res.User.Email,
			FullName:      res.User.FullName,
			Reference:     res.Transaction.Reference,
			AccountNumber: res.Account.AccountNumber,
			Amount:        money.Format(req.Amount),
			Currency:      string(res.Account.Currency),
			Balance:       money.Format(res.Account.Balance),
			Description:   req.Description,
			At:            *res.Transaction.CompletedAt,
		})
	})
	return res, nil
}

type WithdrawRequest struct {
	AccountNumber string
	Username      string
	Amount        decimal.Decimal
	Description   string
	TellerID      uuid.UUID
}

// Withdraw debits an account by number after confirming the owner's username.
// A username that does not own the account is reported as not found.
func (e *Engine) Withdraw(ctx context.Context, req WithdrawRequest) (res Result, err error) {
	defer func() { e.observe("withdraw", err) }()
	if err := validateAmount(req.Amount); err != nil {
		return Result{}, err
	}
	var before Account
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		found, err := tx.AccountByNumber(ctx, req.AccountNumber)
		if err != nil {
			return err
		}
		locked, err := tx.LockAccounts(ctx, found.ID)
		if err != nil {
			return err
		}
		acct, ok := locked[found.ID]
		if !ok {
			return notFound("account not found")
		}
		owner, err := tx.User(ctx, acct.UserID)
		if err != nil || owner.Username != req.Username {
			return notFound("account not found for username")
		}
		if err := acct.requireActive(); err != nil {
			return err
		}
		before = acct
		if err := acct.ApplyDelta(req.Amount.Neg()); err != nil {
			return err
		}
		now := e.now()
		meta := map[string]string{
			MetaCurrency:         string(acct.Currency),
			MetaAccountNumber:    acct.AccountNumber,
			MetaWithdrawalMethod: withdrawalMethodCash,
		}
		if req.TellerID != uuid.Nil {
			meta[MetaTellerID] = req.TellerID.String()
		}
		t := Transaction{
			Amount:          req.Amount,
			Description:     req.Description,
			Type:            TypeWithdrawal,
			Category:        CategoryDebit,
			Status:          StatusCompleted,
			BalanceBefore:   before.Balance,
			BalanceAfter:    acct.Balance,
			SenderAccountID: acct.ID,
			SenderID:        acct.UserID,
			Metadata:        meta,
			CreatedAt:       now,
			CompletedAt:     &now,
		}
		if err := e.insertTransaction(ctx, tx, PrefixWithdrawal, &t); err != nil {
			return err
		}
		if err := tx.SetAccountBalance(ctx, acct.ID, acct.Balance); err != nil {
			return err
		}
		res = Result{Transaction: t, Account: acct, User: owner}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.Log.Info().Str("reference", res.Transaction.Reference).Str("account_id", res.Account.ID.String()).
		Str("amount", money.Format(req.Amount)).Msg("withdrawal completed")
	e.appendAudit(ctx, req.TellerID, "teller", "account", res.Account.ID.String(), "withdraw",
		accountState(before), accountState(res.Account), audit.ResultSuccess, res.Transaction.Reference)
	e.notifyAfterCommit(ctx, notify.KindWithdrawalAlert, res.Transaction.Reference, func(ctx context.Context, n notify.Notifier) error {
		return n.SendWithdrawalAlert(ctx, notify.WithdrawalAlert{
			Email:         res.User.Email,
			FullName:      res.User.FullName,
			Reference:     res.Transaction.Reference,
			AccountNumber: res.Account.AccountNumber,
			Amount:        money.Format(req.Amount),
			Currency:      string(res.Account.Currency),
			Balance:       money.Format(res.Account.Balance),
			Description:   req.Description,
			At:            *res.Transaction.CompletedAt,
		})
	})
	return res, nil
}

type TopUpRequest struct {
	UserID        uuid.UUID
	CardID        uuid.UUID
	AccountNumber string
	Amount        decimal.Decimal
	Description   string
}

type TopUpResult struct {
	Result
	Card Card
}

// TopUpCard moves funds from a bank account onto one of the owner's virtual cards.
func (e *Engine) TopUpCard(ctx context.Context, req TopUpRequest) (res TopUpResult, err error) {
	defer func() { e.observe("top_up", err) }()
	if err := validateAmount(req.Amount); err != nil {
		return TopUpResult{}, err
	}
	var beforeCard Card
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		found, err := tx.AccountByNumber(ctx, req.AccountNumber)
		if err != nil {
			return notFound("virtual card or bank account not found")
		}
		locked, err := tx.LockAccounts(ctx, found.ID)
		if err != nil {
			return err
		}
		acct, ok := locked[found.ID]
		if !ok {
			return notFound("virtual card or bank account not found")
		}
		card, err := tx.LockCard(ctx, req.CardID)
		if err != nil {
			return notFound("virtual card or bank account not found")
		}
		if req.UserID != uuid.Nil && (card.UserID != req.UserID || acct.UserID != req.UserID) {
			return notFound("virtual card or bank account not found")
		}
		if card.UserID != acct.UserID {
			return notFound("virtual card or bank account not found")
		}
		if card.Status != CardActive {
			return newError(KindAccountNotActive, CodeCardNotActive, "virtual card is not active", nil)
		}
		if err := acct.requireActive(); err != nil {
			return err
		}
		if card.Currency != acct.Currency {
			return newError(KindCurrencyMismatch, CodeCurrencyMismatch,
				fmt.Sprintf("card currency %s does not match account currency %s", card.Currency, acct.Currency), nil)
		}
		owner, err := tx.User(ctx, acct.UserID)
		if err != nil {
			return notFound("account owner not found")
		}
		balanceBefore := acct.Balance
		if err := acct.ApplyDelta(req.Amount.Neg()); err != nil {
			return err
		}
		now := e.now()
		beforeCard = card
		card.AvailableBalance = card.AvailableBalance.Add(req.Amount)
		card.TotalToppedUp = card.TotalToppedUp.Add(req.Amount)
		card.LastTopUpAt = &now

		t := Transaction{
			Amount:          req.Amount,
			Description:     req.Description,
			Type:            TypeTransfer,
			Category:        CategoryDebit,
			Status:          StatusCompleted,
			BalanceBefore:   balanceBefore,
			BalanceAfter:    acct.Balance,
			SenderAccountID: acct.ID,
			SenderID:        acct.UserID,
			Metadata: map[string]string{
				MetaTopUpType:     topUpTypeVirtualCard,
				MetaCardID:        card.ID.String(),
				MetaCardLastFour:  card.LastFour,
				MetaCurrency:      string(card.Currency),
				MetaAccountNumber: acct.AccountNumber,
			},
			CreatedAt:   now,
			CompletedAt: &now,
		}
		if err := e.insertTransaction(ctx, tx, PrefixTopUp, &t); err != nil {
			return err
		}
		if err := tx.SetAccountBalance(ctx, acct.ID, acct.Balance); err != nil {
			return err
		}
		if err := tx.UpdateCard(ctx, card); err != nil {
			return err
		}
		res = TopUpResult{Result: Result{Transaction: t, Account: acct, User: owner}, Card: card}
		return nil
	})
	if err != nil {
		return TopUpResult{}, err
	}

	e.Log.Info().Str("reference", res.Transaction.Reference).Str("card_id", res.Card.ID.String()).
		Str("amount", money.Format(req.Amount)).Msg("card top-up completed")
	e.appendAudit(ctx, res.User.ID, "customer", "card", res.Card.ID.String(), "top_up",
		snapshot(map[string]string{"available_balance": money.Format(beforeCard.AvailableBalance)}),
		snapshot(map[string]string{"available_balance": money.Format(res.Card.AvailableBalance)}),
		audit.ResultSuccess, res.Transaction.Reference)
	e.notifyAfterCommit(ctx, notify.KindTopUpAlert, res.Transaction.Reference, func(ctx context.Context, n notify.Notifier) error {
		return n.SendTopUpAlert(ctx, notify.TopUpAlert{
			Email:         res.User.Email,
			FullName:      res.User.FullName,
			Reference:     res.Transaction.Reference,
			AccountNumber: res.Account.AccountNumber,
			CardLastFour:  res.Card.LastFour,
			Amount:        money.Format(req.Amount),
			Currency:      string(res.Card.Currency),
			CardBalance:   money.Format(res.Card.AvailableBalance),
			At:            *res.Transaction.CompletedAt,
		})
	})
	return res, nil
}
