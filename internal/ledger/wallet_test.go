package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"linescout/internal/logging"
	"linescout/internal/metrics"
	"linescout/internal/repo"
	"linescout/migrations"
)

func newTestRepo(t *testing.T) repo.Repository {
	t.Helper()
	ctx := context.Background()
	r, err := repo.NewSQLite(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared", logging.NewLogger("error"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return r
}

func newWalletService(t *testing.T, r repo.Repository) *WalletService {
	t.Helper()
	return NewWalletService(r, logging.NewLogger("error"), metrics.Registry("test"), "NGN")
}

func TestWalletBalanceEqualsTransactionSum(t *testing.T) {
	r := newTestRepo(t)
	svc := newWalletService(t, r)
	ctx := context.Background()

	movements := []repo.WalletMovement{
		{OwnerType: OwnerUser, OwnerID: "u1", Type: "credit", Amount: 500000, Reason: "Top up", ReferenceType: "topup", ReferenceID: "t1"},
		{OwnerType: OwnerUser, OwnerID: "u1", Type: "debit", Amount: 120000, Reason: "Hold", ReferenceType: "hold", ReferenceID: "h1"},
		{OwnerType: OwnerUser, OwnerID: "u1", Type: "credit", Amount: 50000, Reason: "Refund", ReferenceType: "refund", ReferenceID: "r1"},
	}
	for _, mv := range movements {
		if err := svc.Apply(ctx, mv); err != nil {
			t.Fatalf("apply %+v: %v", mv, err)
		}
	}

	stored, computed, ok, err := svc.Reconcile(ctx, OwnerUser, "u1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !ok {
		t.Fatalf("balance %d != transaction sum %d", stored, computed)
	}
	if stored != 430000 {
		t.Fatalf("balance = %d, want 430000", stored)
	}
}

func TestWalletDebitOverdrawRejected(t *testing.T) {
	r := newTestRepo(t)
	svc := newWalletService(t, r)
	ctx := context.Background()

	if err := svc.Apply(ctx, repo.WalletMovement{
		OwnerType: OwnerUser, OwnerID: "u1", Type: "credit", Amount: 100, Reason: "Seed",
	}); err != nil {
		t.Fatalf("seed credit: %v", err)
	}
	err := svc.Apply(ctx, repo.WalletMovement{
		OwnerType: OwnerUser, OwnerID: "u1", Type: "debit", Amount: 200, Reason: "Overdraw",
	})
	if !errors.Is(err, repo.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	w, _ := r.GetWallet(ctx, OwnerUser, "u1")
	if w.Balance != 100 {
		t.Fatalf("balance mutated on rejected debit: %d", w.Balance)
	}
}

func TestWalletMovementReferenceIdempotency(t *testing.T) {
	r := newTestRepo(t)
	svc := newWalletService(t, r)
	ctx := context.Background()

	mv := repo.WalletMovement{
		OwnerType: OwnerAgent, OwnerID: "a1", Type: "credit", Amount: 25000,
		Reason: "Quote payment commission", ReferenceType: RefQuotePaymentCommission, ReferenceID: "pay-1",
	}
	if err := svc.Apply(ctx, mv); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := svc.Apply(ctx, mv); err != nil {
		t.Fatalf("second apply must be a no-op, got %v", err)
	}

	w, _ := r.GetWallet(ctx, OwnerAgent, "a1")
	if w.Balance != 25000 {
		t.Fatalf("balance = %d, want 25000 after duplicate apply", w.Balance)
	}
	txs, _ := r.ListWalletTransactions(ctx, w.ID, 10)
	if len(txs) != 1 {
		t.Fatalf("transaction count = %d, want 1", len(txs))
	}
}
