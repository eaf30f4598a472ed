package ledger

import (
	"context"
	"testing"
)

func BenchmarkDeposit(b *testing.B) {
	f := newFixture(b)
	ctx := context.Background()
	req := DepositRequest{AccountID: f.aliceUSD.ID, TellerID: f.teller.ID, Amount: dec("1.00")}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.engine.Deposit(ctx, req); err != nil {
			b.Fatalf("deposit: %v", err)
		}
	}
}

func BenchmarkTransferRoundTrip(b *testing.B) {
	f := newFixture(b)
	ctx := context.Background()
	_, _ = f.engine.Deposit(ctx, DepositRequest{AccountID: f.aliceUSD.ID, TellerID: f.teller.ID, Amount: dec("100000000.00")})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		init := f.initiate(b, "1.00")
		if _, err := f.engine.CompleteTransfer(ctx, init.Transaction.Reference, testOTP); err != nil {
			b.Fatalf("complete: %v", err)
		}
	}
}
