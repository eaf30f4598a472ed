package ledger

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/clock"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/migrate"
	"github.com/wizardbeardstudio/open-ledger-go/internal/platform/money"
)

func openPostgresIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("set LEDGER_TEST_DATABASE_URL to run postgres integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	t.Cleanup(func() { _ = db.Close() })
	if _, err := migrate.Up(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	const q = `TRUNCATE TABLE transactions, cards, accounts, users RESTART IDENTITY CASCADE`
	if _, err := pool.Exec(ctx, q); err != nil {
		t.Fatalf("truncate integration tables: %v", err)
	}
	return NewPostgresStore(pool)
}

func TestPostgresTransferLifecycle(t *testing.T) {
	store := openPostgresIntegrationStore(t)
	ctx := context.Background()
	hash, _ := HashSecurityAnswer("blue")
	alice := User{ID: uuid.New(), Username: "alice", Email: "alice@example.com", FullName: "Alice A", SecurityAnswerHash: hash}
	bob := User{ID: uuid.New(), Username: "bob", Email: "bob@example.com", FullName: "Bob B", SecurityAnswerHash: hash}
	aliceUSD := Account{ID: uuid.New(), UserID: alice.ID, AccountNumber: "1000000001", Currency: money.USD, Status: AccountActive, Balance: dec("100.00")}
	bobEUR := Account{ID: uuid.New(), UserID: bob.ID, AccountNumber: "2000000001", Currency: money.EUR, Status: AccountActive, Balance: dec("0.00")}
	for _, u := range []User{alice, bob} {
		if err := store.PutUser(ctx, u); err != nil {
			t.Fatalf("put user: %v", err)
		}
	}
	for _, a := range []Account{aliceUSD, bobEUR} {
		if err := store.PutAccount(ctx, a); err != nil {
			t.Fatalf("put account: %v", err)
		}
	}

	engine := NewEngine(store, clock.RealClock{}, Config{})
	engine.newOTP = func() (string, error) { return testOTP, nil }
	init, err := engine.InitiateTransfer(ctx, TransferRequest{
		SenderID: alice.ID, SenderAccountID: aliceUSD.ID, ReceiverAccountNumber: bobEUR.AccountNumber,
		Amount: dec("100.00"), SecurityAnswer: "Blue",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.CompleteTransfer(ctx, init.Transaction.Reference, testOTP); err == nil {
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if completed != 1 {
		t.Fatalf("expected one completion, got %d", completed)
	}

	sender, _ := store.Account(ctx, aliceUSD.ID)
	receiver, _ := store.Account(ctx, bobEUR.ID)
	if !sender.Balance.Equal(dec("0")) || !receiver.Balance.Equal(dec("94.53")) {
		t.Fatalf("unexpected balances sender=%s receiver=%s", sender.Balance, receiver.Balance)
	}
	stored, err := store.TransactionByReference(ctx, init.Transaction.Reference)
	if err != nil {
		t.Fatalf("load transfer: %v", err)
	}
	if stored.Status != StatusCompleted || stored.Metadata[MetaConvertedAmount] != "94.53" {
		t.Fatalf("unexpected stored transfer: %+v", stored)
	}
	page, err := engine.ListTransactions(ctx, bob.ID, HistoryFilter{})
	if err != nil || page.Total != 1 {
		t.Fatalf("expected receiver history, total=%d err=%v", page.Total, err)
	}
}

func TestPostgresWithdrawRejectsOverdraw(t *testing.T) {
	store := openPostgresIntegrationStore(t)
	ctx := context.Background()
	u := User{ID: uuid.New(), Username: "carol", Email: "carol@example.com", FullName: "Carol C"}
	a := Account{ID: uuid.New(), UserID: u.ID, AccountNumber: "3000000001", Currency: money.USD, Status: AccountActive, Balance: dec("10.00")}
	_ = store.PutUser(ctx, u)
	_ = store.PutAccount(ctx, a)

	engine := NewEngine(store, clock.RealClock{}, Config{})
	if _, err := engine.Withdraw(ctx, WithdrawRequest{AccountNumber: a.AccountNumber, Username: "carol", Amount: dec("10.01")}); !IsKind(err, KindInsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	res, err := engine.Withdraw(ctx, WithdrawRequest{AccountNumber: a.AccountNumber, Username: "carol", Amount: dec("10.00")})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !res.Account.Balance.IsZero() {
		t.Fatalf("expected zero balance, got %s", res.Account.Balance)
	}
}
