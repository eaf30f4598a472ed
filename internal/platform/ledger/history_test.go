package ledger

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestReaperFailsExpiredPendingTransfers(t *testing.T) {
	f := newFixture(t)
	obs := newCountingObserver()
	f.engine.Observer = obs
	f.engine.cfg.ReaperGrace = time.Minute
	ctx := context.Background()

	stale := f.initiate(t, "10.00")
	f.clock.Advance(4 * time.Minute)
	fresh := f.initiate(t, "10.00")

	f.clock.Advance(2 * time.Minute)
	n, err := f.engine.ReapExpiredTransfers(ctx, 10)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 0 {
		t.Fatalf("nothing is past expiry plus grace yet, reaped %d", n)
	}

	f.clock.Advance(time.Minute)
	n, err = f.engine.ReapExpiredTransfers(ctx, 10)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 || obs.reaped != 1 {
		t.Fatalf("expected one reaped transfer, got %d (observed %d)", n, obs.reaped)
	}
	got, _ := f.store.TransactionByReference(ctx, stale.Transaction.Reference)
	if got.Status != StatusFailed || got.FailureReason != ReasonOTPExpired {
		t.Fatalf("expected stale transfer failed with OTP_EXPIRED, got %s/%s", got.Status, got.FailureReason)
	}
	got, _ = f.store.TransactionByReference(ctx, fresh.Transaction.Reference)
	if got.Status != StatusPending {
		t.Fatalf("fresh transfer should stay pending, got %s", got.Status)
	}
	u, _ := f.store.User(ctx, f.alice.ID)
	if u.OTP == "" {
		t.Fatalf("reaping an orphaned transfer must not clear the newer otp")
	}

	n, _ = f.engine.ReapExpiredTransfers(ctx, 10)
	if n != 0 {
		t.Fatalf("reaping is idempotent, reaped %d", n)
	}
}

func TestListTransactionsFiltersAndPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Minute)
		if _, err := f.engine.Deposit(ctx, DepositRequest{AccountID: f.aliceUSD.ID, TellerID: f.teller.ID, Amount: dec("10")}); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	f.clock.Advance(time.Minute)
	if _, err := f.engine.Withdraw(ctx, WithdrawRequest{AccountNumber: f.aliceUSD.AccountNumber, Username: "alice", Amount: dec("25")}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	f.clock.Advance(time.Minute)
	init := f.initiate(t, "5.00")
	if _, err := f.engine.CompleteTransfer(ctx, init.Transaction.Reference, testOTP); err != nil {
		t.Fatalf("complete: %v", err)
	}

	page, err := f.engine.ListTransactions(ctx, f.alice.ID, HistoryFilter{Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 7 || len(page.Transactions) != 3 {
		t.Fatalf("expected 3 of 7, got %d of %d", len(page.Transactions), page.Total)
	}
	if page.Transactions[0].Type != TypeTransfer {
		t.Fatalf("expected newest first, got %s", page.Transactions[0].Type)
	}
	if page.Transactions[0].Metadata[MetaCounterpartyAcct] != f.bobEUR.AccountNumber || page.Transactions[0].Metadata[MetaCounterpartyName] != f.bob.FullName {
		t.Fatalf("expected counterparty enrichment, got %v", page.Transactions[0].Metadata)
	}

	page, _ = f.engine.ListTransactions(ctx, f.alice.ID, HistoryFilter{Type: TypeDeposit, Skip: 4})
	if page.Total != 5 || len(page.Transactions) != 1 {
		t.Fatalf("expected last deposit page, got %d of %d", len(page.Transactions), page.Total)
	}
	lo := dec("20")
	page, _ = f.engine.ListTransactions(ctx, f.alice.ID, HistoryFilter{MinAmount: &lo})
	if page.Total != 1 || page.Transactions[0].Type != TypeWithdrawal {
		t.Fatalf("expected only the withdrawal above 20, got %+v", page.Transactions)
	}

	bobPage, _ := f.engine.ListTransactions(ctx, f.bob.ID, HistoryFilter{})
	if bobPage.Total != 1 || bobPage.Transactions[0].Metadata[MetaCounterpartyAcct] != f.aliceUSD.AccountNumber ||
		bobPage.Transactions[0].Metadata[MetaCounterpartyName] != f.alice.FullName {
		t.Fatalf("receiver should see the transfer with the sender as counterparty, got %+v", bobPage.Transactions)
	}

	page, _ = f.engine.ListTransactions(ctx, f.alice.ID, HistoryFilter{Limit: 1000})
	if page.Limit != maxHistoryLimit {
		t.Fatalf("limit should clamp to %d, got %d", maxHistoryLimit, page.Limit)
	}
	hi := dec("1")
	if _, err := f.engine.ListTransactions(ctx, f.alice.ID, HistoryFilter{MinAmount: &lo, MaxAmount: &hi}); !IsKind(err, KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument for inverted amount range, got %v", err)
	}
}

func TestStatementDerivesOpeningBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.clock.Advance(time.Hour)
	_, _ = f.engine.Deposit(ctx, DepositRequest{AccountID: f.bobEUR.ID, TellerID: f.teller.ID, Amount: dec("20")})
	start := f.clock.Now().Add(time.Minute)

	f.clock.Advance(2 * time.Minute)
	init := f.initiate(t, "100.00")
	if _, err := f.engine.CompleteTransfer(ctx, init.Transaction.Reference, testOTP); err != nil {
		t.Fatalf("complete: %v", err)
	}
	f.clock.Advance(time.Minute)
	_, _ = f.engine.Withdraw(ctx, WithdrawRequest{AccountNumber: f.bobEUR.AccountNumber, Username: "bob", Amount: dec("4.53")})
	end := f.clock.Now().Add(time.Minute)

	f.clock.Advance(time.Hour)
	_, _ = f.engine.Deposit(ctx, DepositRequest{AccountID: f.bobEUR.ID, TellerID: f.teller.ID, Amount: dec("1")})

	st, err := f.engine.Statement(ctx, f.bob.ID, f.bobEUR.AccountNumber, start, end)
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if !st.OpeningBalance.Equal(dec("20")) {
		t.Fatalf("opening=%s", st.OpeningBalance)
	}
	if !st.TotalCredits.Equal(dec("94.53")) || !st.TotalDebits.Equal(dec("4.53")) {
		t.Fatalf("credits=%s debits=%s", st.TotalCredits, st.TotalDebits)
	}
	if !st.ClosingBalance.Equal(dec("110")) || len(st.Lines) != 2 {
		t.Fatalf("closing=%s lines=%d", st.ClosingBalance, len(st.Lines))
	}

	if _, err := f.engine.Statement(ctx, f.alice.ID, f.bobEUR.AccountNumber, start, end); !IsKind(err, KindNotFound) {
		t.Fatalf("statement for another user's account must be NotFound, got %v", err)
	}
}

// Random operation sequences never create or destroy money in the
// same-currency case and never drive a balance negative.
func TestRandomOperationsConserveMoney(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bobUSD := Account{ID: uuid.New(), UserID: f.bob.ID, AccountNumber: "2000000002", Currency: "USD", Status: AccountActive, Balance: dec("100")}
	_ = f.store.PutAccount(ctx, bobUSD)

	rng := rand.New(rand.NewSource(7))
	deposited, withdrawn := decimal.Zero, decimal.Zero
	type party struct {
		user    User
		account Account
		peer    Account
	}
	parties := []party{
		{f.alice, f.aliceUSD, bobUSD},
		{f.bob, bobUSD, f.aliceUSD},
	}
	for i := 0; i < 120; i++ {
		p := parties[rng.Intn(len(parties))]
		amount := decimal.New(int64(rng.Intn(5000)+1), -2)
		f.clock.Advance(time.Second)
		switch rng.Intn(4) {
		case 0:
			if _, err := f.engine.Deposit(ctx, DepositRequest{AccountID: p.account.ID, TellerID: f.teller.ID, Amount: amount}); err == nil {
				deposited = deposited.Add(amount)
			}
		case 1:
			if _, err := f.engine.Withdraw(ctx, WithdrawRequest{AccountNumber: p.account.AccountNumber, Username: p.user.Username, Amount: amount}); err == nil {
				withdrawn = withdrawn.Add(amount)
			} else if !IsKind(err, KindInsufficientFunds) {
				t.Fatalf("unexpected withdraw error: %v", err)
			}
		default:
			init, err := f.engine.InitiateTransfer(ctx, TransferRequest{
				SenderID: p.user.ID, SenderAccountID: p.account.ID, ReceiverAccountNumber: p.peer.AccountNumber,
				Amount: amount, SecurityAnswer: "blue",
			})
			if err != nil {
				if !IsKind(err, KindInsufficientFunds) {
					t.Fatalf("unexpected initiate error: %v", err)
				}
				continue
			}
			otp := testOTP
			if rng.Intn(5) == 0 {
				otp = "999999"
			}
			_, _ = f.engine.CompleteTransfer(ctx, init.Transaction.Reference, otp)
		}

		a := f.balance(t, f.aliceUSD.ID)
		b := f.balance(t, bobUSD.ID)
		if a.IsNegative() || b.IsNegative() {
			t.Fatalf("step %d: negative balance alice=%s bob=%s", i, a, b)
		}
		want := dec("200").Add(deposited).Sub(withdrawn)
		if !a.Add(b).Equal(want) {
			t.Fatalf("step %d: total %s, want %s", i, a.Add(b), want)
		}
	}
}
