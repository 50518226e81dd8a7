package payout

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"linescout/internal/ledger"
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

func newService(t *testing.T, r repo.Repository) *Service {
	t.Helper()
	return NewService(r, logging.NewLogger("error"), metrics.Registry("test"))
}

func newOwner(t *testing.T, r repo.Repository, email, role string) string {
	t.Helper()
	u, err := r.CreateUser(context.Background(), repo.NewUser{Email: email, Role: role, PasswordHash: "x"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func seedVerifiedAccount(t *testing.T, r repo.Repository, ownerType, ownerID string) *repo.PayoutAccount {
	t.Helper()
	ctx := context.Background()
	acct, err := r.UpsertPayoutAccount(ctx, repo.PayoutAccount{
		OwnerType:     ownerType,
		OwnerID:       ownerID,
		BankName:      "GTBank",
		AccountNumber: "0123456789",
		AccountName:   "Test Account",
	})
	if err != nil {
		t.Fatalf("upsert account: %v", err)
	}
	if err := r.SetPayoutAccountVerified(ctx, acct.ID, true); err != nil {
		t.Fatalf("verify account: %v", err)
	}
	acct.Verified = true
	return acct
}

func creditWallet(t *testing.T, r repo.Repository, ownerType, ownerID string, amount int64) {
	t.Helper()
	err := r.ApplyWalletMovement(context.Background(), repo.WalletMovement{
		OwnerType: ownerType, OwnerID: ownerID, Type: "credit", Amount: amount,
		Reason: "Seed", Currency: "NGN",
	})
	if err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
}

func TestUserPayoutRejectRestoresBalance(t *testing.T) {
	r := newTestRepo(t)
	svc := newService(t, r)
	ctx := context.Background()

	// NGN 5,000 in kobo.
	const amount = int64(500000)
	userID := newOwner(t, r, "alice@example.com", "user")
	seedVerifiedAccount(t, r, FlowUser, userID)
	creditWallet(t, r, ledger.OwnerUser, userID, amount)

	req, err := svc.Request(ctx, FlowUser, userID, amount)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != "pending" {
		t.Fatalf("status = %q, want pending", req.Status)
	}

	// The hold debited the full balance.
	w, _ := r.GetWallet(ctx, ledger.OwnerUser, userID)
	if w.Balance != 0 {
		t.Fatalf("balance after hold = %d, want 0", w.Balance)
	}

	rejected, err := svc.RejectUser(ctx, req.ID, "")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != "rejected" || rejected.DecidedAt == nil {
		t.Fatalf("unexpected request state: %+v", rejected)
	}

	// Compensating credit restored the balance.
	w, _ = r.GetWallet(ctx, ledger.OwnerUser, userID)
	if w.Balance != amount {
		t.Fatalf("balance after reject = %d, want %d", w.Balance, amount)
	}
	txs, _ := r.ListWalletTransactions(ctx, w.ID, 10)
	var foundRefund bool
	for _, tx := range txs {
		if tx.ReferenceType == ledger.RefUserPayoutRefund && tx.ReferenceID == req.ID {
			foundRefund = true
			if tx.Reason != "User payout rejected" {
				t.Fatalf("refund reason = %q", tx.Reason)
			}
		}
	}
	if !foundRefund {
		t.Fatal("no compensating credit transaction found")
	}

	// Balance still equals the signed transaction sum.
	sum, _ := r.SumWalletTransactions(ctx, w.ID)
	if sum != w.Balance {
		t.Fatalf("balance %d != transaction sum %d", w.Balance, sum)
	}
}

func TestUserPayoutInsufficientBalance(t *testing.T) {
	r := newTestRepo(t)
	svc := newService(t, r)
	userID := newOwner(t, r, "alice@example.com", "user")
	seedVerifiedAccount(t, r, FlowUser, userID)
	creditWallet(t, r, ledger.OwnerUser, userID, 100)

	_, err := svc.Request(context.Background(), FlowUser, userID, 500000)
	if !errors.Is(err, repo.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	w, _ := r.GetWallet(context.Background(), ledger.OwnerUser, userID)
	if w.Balance != 100 {
		t.Fatalf("balance mutated: %d", w.Balance)
	}
}

func TestPayoutRequiresVerifiedAccount(t *testing.T) {
	r := newTestRepo(t)
	svc := newService(t, r)
	ctx := context.Background()

	userID := newOwner(t, r, "alice@example.com", "user")
	if _, err := r.UpsertPayoutAccount(ctx, repo.PayoutAccount{
		OwnerType: FlowUser, OwnerID: userID,
		BankName: "GTBank", AccountNumber: "0123456789", AccountName: "Test",
	}); err != nil {
		t.Fatalf("upsert account: %v", err)
	}
	creditWallet(t, r, ledger.OwnerUser, userID, 500000)

	_, err := svc.Request(ctx, FlowUser, userID, 100)
	if !errors.Is(err, ErrAccountNotVerified) {
		t.Fatalf("expected ErrAccountNotVerified, got %v", err)
	}
}

func TestAgentPayoutDoesNotPreDebit(t *testing.T) {
	r := newTestRepo(t)
	svc := newService(t, r)
	ctx := context.Background()

	agentID := newOwner(t, r, "agent@example.com", "agent")
	seedVerifiedAccount(t, r, FlowAgent, agentID)
	creditWallet(t, r, ledger.OwnerAgent, agentID, 300000)

	req, err := svc.Request(ctx, FlowAgent, agentID, 200000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != "pending" {
		t.Fatalf("status = %q", req.Status)
	}

	w, _ := r.GetWallet(ctx, ledger.OwnerAgent, agentID)
	if w.Balance != 300000 {
		t.Fatalf("agent wallet debited early: %d", w.Balance)
	}
}

func TestAgentPayoutDecideOnlyOnce(t *testing.T) {
	r := newTestRepo(t)
	svc := newService(t, r)
	ctx := context.Background()

	agentID := newOwner(t, r, "agent@example.com", "agent")
	seedVerifiedAccount(t, r, FlowAgent, agentID)
	req, err := svc.Request(ctx, FlowAgent, agentID, 200000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	approved, err := svc.DecideAgent(ctx, req.ID, true, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != "approved" || approved.DecidedAt == nil {
		t.Fatalf("unexpected state: %+v", approved)
	}

	// A second decision conflicts, approve or reject alike.
	if _, err := svc.DecideAgent(ctx, req.ID, true, ""); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("double approve: expected ErrConflict, got %v", err)
	}
	if _, err := svc.DecideAgent(ctx, req.ID, false, "changed my mind"); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("reject after approve: expected ErrConflict, got %v", err)
	}
}

func TestAgentPayoutRejectRequiresNote(t *testing.T) {
	r := newTestRepo(t)
	svc := newService(t, r)
	ctx := context.Background()

	agentID := newOwner(t, r, "agent@example.com", "agent")
	seedVerifiedAccount(t, r, FlowAgent, agentID)
	req, err := svc.Request(ctx, FlowAgent, agentID, 200000)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if _, err := svc.DecideAgent(ctx, req.ID, false, ""); !errors.Is(err, ErrNoteRequired) {
		t.Fatalf("expected ErrNoteRequired, got %v", err)
	}
	rejected, err := svc.DecideAgent(ctx, req.ID, false, "account mismatch")
	if err != nil {
		t.Fatalf("reject with note: %v", err)
	}
	if rejected.AdminNote == nil || *rejected.AdminNote != "account mismatch" {
		t.Fatalf("note not stored: %+v", rejected.AdminNote)
	}
}

func TestListPending(t *testing.T) {
	r := newTestRepo(t)
	svc := newService(t, r)
	ctx := context.Background()

	agentID := newOwner(t, r, "agent@example.com", "agent")
	seedVerifiedAccount(t, r, FlowAgent, agentID)
	if _, err := svc.Request(ctx, FlowAgent, agentID, 100000); err != nil {
		t.Fatalf("request: %v", err)
	}

	pending, err := svc.ListPending(ctx, FlowAgent)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
}
