package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"linescout/internal/config"
	"linescout/internal/ledger"
	"linescout/internal/logging"
	"linescout/internal/metrics"
	"linescout/internal/repo"
	"linescout/internal/settings"
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

type fakeProvider struct {
	result *VerifiedTransaction
	err    error
	calls  int
}

func (f *fakeProvider) Verify(_ context.Context, _ string) (*VerifiedTransaction, error) {
	f.calls++
	return f.result, f.err
}

// fixture wires a claimed conversation, handoff, quote and pending payment.
type fixture struct {
	repo    repo.Repository
	svc     *Service
	user    *repo.User
	agent   *repo.User
	conv    *repo.Conversation
	handoff *repo.Handoff
	quote   *repo.Quote
	payment *repo.QuotePayment
	prov    *fakeProvider
}

func newFixture(t *testing.T, purpose string, amount int64) *fixture {
	t.Helper()
	ctx := context.Background()
	r := newTestRepo(t)
	logger := logging.NewLogger("error")
	m := metrics.Registry("test")

	user, err := r.CreateUser(ctx, repo.NewUser{Email: "alice@example.com", Role: "user", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	agent, err := r.CreateUser(ctx, repo.NewUser{Email: "agent@example.com", Role: "agent", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	conv, err := r.EnsurePrimaryConversation(ctx, user.ID, "machine_sourcing")
	if err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}
	h, err := r.CreateHandoff(ctx, repo.NewHandoff{UserID: user.ID, ConversationID: &conv.ID, RouteType: "machine_sourcing"})
	if err != nil {
		t.Fatalf("create handoff: %v", err)
	}
	if err := r.LinkConversationHandoff(ctx, conv.ID, h.ID); err != nil {
		t.Fatalf("link conversation: %v", err)
	}
	if err := r.AssignConversationAgent(ctx, conv.ID, agent.ID, false); err != nil {
		t.Fatalf("assign agent: %v", err)
	}

	quote, err := r.CreateQuote(ctx, repo.NewQuote{
		HandoffID:      h.ID,
		ConversationID: &conv.ID,
		Amount:         amount,
		Currency:       "NGN",
		AgentPercent:   0,
		Token:          uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("create quote: %v", err)
	}

	payment, err := r.CreateQuotePayment(ctx, repo.NewQuotePayment{
		QuoteID:     quote.ID,
		HandoffID:   &h.ID,
		UserID:      user.ID,
		Purpose:     purpose,
		Provider:    "paystack",
		ProviderRef: "ref-" + uuid.NewString(),
		Amount:      amount,
		Currency:    "NGN",
	})
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}

	settingsSvc := settings.NewService(r, nil, config.Settings{AgentPercent: 10, Currency: "NGN"}, logger)
	prov := &fakeProvider{result: &VerifiedTransaction{Succeeded: true, Amount: amount, Currency: "NGN"}}
	svc := NewService(r, settingsSvc, nil, nil, logger, m).WithProvider("paystack", prov)
	svc.WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })

	return &fixture{repo: r, svc: svc, user: user, agent: agent, conv: conv, handoff: h, quote: quote, payment: payment, prov: prov}
}

func TestVerifySettlesPaymentOnce(t *testing.T) {
	f := newFixture(t, ledger.PurposeFullPayment, 500000)
	ctx := context.Background()

	out, err := f.svc.Verify(ctx, "paystack", f.payment.ProviderRef)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.AlreadyPaid {
		t.Fatal("first verify must not report already_paid")
	}
	if out.QuoteID != f.quote.ID || out.Token != f.quote.Token {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	paid, _ := f.repo.GetQuotePaymentByRef(ctx, f.payment.ProviderRef)
	if paid.Status != "paid" || paid.PaidAt == nil {
		t.Fatalf("payment not settled: %+v", paid)
	}

	// Conversation upgraded to paid human support.
	conv, _ := f.repo.GetConversation(ctx, f.conv.ID)
	if conv.ChatMode != "paid_human" || conv.PaymentStatus != "paid" {
		t.Fatalf("conversation not upgraded: mode=%q payment=%q", conv.ChatMode, conv.PaymentStatus)
	}

	// Agent earned 10% of NGN 5,000 exactly once.
	wallet, err := f.repo.GetWallet(ctx, ledger.OwnerAgent, f.agent.ID)
	if err != nil {
		t.Fatalf("agent wallet: %v", err)
	}
	if wallet.Balance != 50000 {
		t.Fatalf("commission = %d, want 50000", wallet.Balance)
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	f := newFixture(t, ledger.PurposeFullPayment, 500000)
	ctx := context.Background()

	first, err := f.svc.Verify(ctx, "paystack", f.payment.ProviderRef)
	if err != nil {
		t.Fatalf("first verify: %v", err)
	}
	second, err := f.svc.Verify(ctx, "paystack", f.payment.ProviderRef)
	if err != nil {
		t.Fatalf("second verify: %v", err)
	}
	if !second.AlreadyPaid {
		t.Fatal("second verify must report already_paid")
	}
	if second.QuoteID != first.QuoteID || second.Token != first.Token {
		t.Fatalf("outcomes differ: %+v vs %+v", first, second)
	}
	if f.prov.calls != 1 {
		t.Fatalf("provider called %d times, want 1 (already-paid short-circuits)", f.prov.calls)
	}

	// No duplicate handoff payment row.
	paid, _ := f.repo.GetQuotePaymentByRef(ctx, f.payment.ProviderRef)
	count, err := f.repo.CountHandoffPayments(ctx, paid.ID)
	if err != nil {
		t.Fatalf("count handoff payments: %v", err)
	}
	if count != 1 {
		t.Fatalf("handoff payment rows = %d, want 1", count)
	}

	// No duplicate commission.
	wallet, _ := f.repo.GetWallet(ctx, ledger.OwnerAgent, f.agent.ID)
	if wallet.Balance != 50000 {
		t.Fatalf("commission balance = %d, want 50000", wallet.Balance)
	}
	txs, _ := f.repo.ListWalletTransactions(ctx, wallet.ID, 10)
	if len(txs) != 1 {
		t.Fatalf("commission transactions = %d, want 1", len(txs))
	}
}

func TestVerifyShippingPaymentSkipsCommissionAndUpgrade(t *testing.T) {
	f := newFixture(t, ledger.PurposeShippingPayment, 120000)
	ctx := context.Background()

	out, err := f.svc.Verify(ctx, "paystack", f.payment.ProviderRef)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if out.AlreadyPaid {
		t.Fatal("unexpected already_paid")
	}

	if _, err := f.repo.GetWallet(ctx, ledger.OwnerAgent, f.agent.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("shipping payment must not create an agent wallet, got %v", err)
	}
	conv, _ := f.repo.GetConversation(ctx, f.conv.ID)
	if conv.ChatMode == "paid_human" {
		t.Fatal("shipping payment must not upgrade the conversation")
	}
}

func TestVerifyAmountMismatch(t *testing.T) {
	f := newFixture(t, ledger.PurposeFullPayment, 500000)
	f.prov.result = &VerifiedTransaction{Succeeded: true, Amount: 499999, Currency: "NGN"}

	_, err := f.svc.Verify(context.Background(), "paystack", f.payment.ProviderRef)
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	paid, _ := f.repo.GetQuotePaymentByRef(context.Background(), f.payment.ProviderRef)
	if paid.Status != "pending" {
		t.Fatalf("payment must stay pending on mismatch, got %q", paid.Status)
	}
}

func TestVerifyProviderDeclined(t *testing.T) {
	f := newFixture(t, ledger.PurposeFullPayment, 500000)
	f.prov.result = &VerifiedTransaction{Succeeded: false}

	_, err := f.svc.Verify(context.Background(), "paystack", f.payment.ProviderRef)
	if !errors.Is(err, ErrProviderDeclined) {
		t.Fatalf("expected ErrProviderDeclined, got %v", err)
	}
}

func TestVerifyUnknownReference(t *testing.T) {
	f := newFixture(t, ledger.PurposeFullPayment, 500000)
	_, err := f.svc.Verify(context.Background(), "paystack", "no-such-ref")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPaystackWebhookSignature(t *testing.T) {
	f := newFixture(t, ledger.PurposeFullPayment, 500000)
	secret := "sk_test_secret"
	paystack := NewPaystack("http://unused", secret, time.Second, metrics.Registry("test"))
	f.svc.paystack = paystack

	body := []byte(`{"event":"charge.success","data":{"reference":"` + f.payment.ProviderRef + `"}}`)
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	goodSig := hex.EncodeToString(mac.Sum(nil))

	if err := f.svc.HandlePaystackWebhook(context.Background(), body, "bad-signature"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if err := f.svc.HandlePaystackWebhook(context.Background(), body, goodSig); err != nil {
		t.Fatalf("valid webhook: %v", err)
	}

	paid, _ := f.repo.GetQuotePaymentByRef(context.Background(), f.payment.ProviderRef)
	if paid.Status != "paid" {
		t.Fatalf("webhook did not settle the payment: %q", paid.Status)
	}
}

func TestDecimalConversions(t *testing.T) {
	if got := MinorToDecimal(500000); got != "5000.00" {
		t.Fatalf("MinorToDecimal(500000) = %q", got)
	}
	if got := MinorToDecimal(5); got != "0.05" {
		t.Fatalf("MinorToDecimal(5) = %q", got)
	}
	for _, tc := range []struct {
		in   string
		want int64
	}{
		{"5000.00", 500000},
		{"0.05", 5},
		{"12.3", 1230},
		{"12", 1200},
	} {
		got, err := DecimalToMinor(tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("DecimalToMinor(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
}
