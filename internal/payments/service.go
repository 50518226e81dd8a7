package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"linescout/internal/ledger"
	"linescout/internal/metrics"
	"linescout/internal/repo"
	"linescout/internal/settings"
)

var (
	// ErrUnknownProvider rejects a provider name outside {paystack, paypal}.
	ErrUnknownProvider = errors.New("unknown payment provider")
	// ErrProviderDeclined means the provider did not report success.
	ErrProviderDeclined = errors.New("payment not successful at provider")
	// ErrAmountMismatch means the settled amount differs from the local
	// payment-intent row.
	ErrAmountMismatch = errors.New("settled amount does not match payment intent")
	// ErrBadSignature rejects a webhook whose signature does not verify.
	ErrBadSignature = errors.New("webhook signature mismatch")
)

// VerifiedTransaction is the provider-neutral settlement report.
type VerifiedTransaction struct {
	Succeeded bool
	Amount    int64
	Currency  string
}

// Provider abstracts final-status verification across payment providers.
type Provider interface {
	Verify(ctx context.Context, reference string) (*VerifiedTransaction, error)
}

// Service tracks payment intents and settles them exactly once.
type Service struct {
	repo      repo.Repository
	settings  *settings.Service
	paystack  *Paystack
	paypal    *PayPal
	providers map[string]Provider
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(r repo.Repository, st *settings.Service, paystack *Paystack, paypal *PayPal, logger *slog.Logger, m *metrics.Metrics) *Service {
	s := &Service{
		repo:      r,
		settings:  st,
		paystack:  paystack,
		paypal:    paypal,
		providers: map[string]Provider{},
		logger:    logger.With("component", "payments"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if paystack != nil {
		s.providers["paystack"] = paystack
	}
	if paypal != nil {
		s.providers["paypal"] = paypal
	}
	return s
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithProvider registers or replaces a provider. Test hook.
func (s *Service) WithProvider(name string, p Provider) *Service {
	s.providers[name] = p
	return s
}

// InitializeParams starts one payment attempt against a quote.
type InitializeParams struct {
	QuoteID  string
	UserID   string
	Email    string
	Purpose  string // deposit, shipping_payment, full_payment
	Provider string // paystack or paypal
}

// InitializedPayment is handed back to the client to complete checkout.
type InitializedPayment struct {
	PaymentID   string `json:"payment_id"`
	Provider    string `json:"provider"`
	Reference   string `json:"reference"`
	CheckoutURL string `json:"checkout_url"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// Initialize records a pending payment intent and opens a checkout session
// with the chosen provider. One intent row exists per provider reference.
func (s *Service) Initialize(ctx context.Context, p InitializeParams) (*InitializedPayment, error) {
	quote, err := s.repo.GetQuote(ctx, p.QuoteID)
	if err != nil {
		return nil, err
	}

	var (
		reference   string
		checkoutURL string
	)
	switch p.Provider {
	case "paystack":
		if s.paystack == nil {
			return nil, ErrUnknownProvider
		}
		reference = "ls_" + uuid.NewString()
		tx, err := s.paystack.Initialize(ctx, p.Email, quote.Amount, quote.Currency, reference)
		if err != nil {
			return nil, err
		}
		checkoutURL = tx.AuthorizationURL
	case "paypal":
		if s.paypal == nil {
			return nil, ErrUnknownProvider
		}
		order, err := s.paypal.CreateOrder(ctx, quote.Amount, quote.Currency)
		if err != nil {
			return nil, err
		}
		reference = order.OrderID
		checkoutURL = order.ApprovalURL
	default:
		return nil, ErrUnknownProvider
	}

	payment, err := s.repo.CreateQuotePayment(ctx, repo.NewQuotePayment{
		QuoteID:     quote.ID,
		HandoffID:   &quote.HandoffID,
		UserID:      p.UserID,
		Purpose:     p.Purpose,
		Provider:    p.Provider,
		ProviderRef: reference,
		Amount:      quote.Amount,
		Currency:    quote.Currency,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment initialized",
		"payment_id", payment.ID, "provider", p.Provider, "reference", reference, "amount", quote.Amount)

	return &InitializedPayment{
		PaymentID:   payment.ID,
		Provider:    p.Provider,
		Reference:   reference,
		CheckoutURL: checkoutURL,
		Amount:      quote.Amount,
		Currency:    quote.Currency,
	}, nil
}

// VerifyOutcome reports a settled (or previously settled) payment.
type VerifyOutcome struct {
	QuoteID     string  `json:"quote_id"`
	HandoffID   *string `json:"handoff_id,omitempty"`
	Token       string  `json:"token"`
	AlreadyPaid bool    `json:"already_paid"`
}

// Verify settles a payment by provider reference. An already-paid reference
// returns the same outcome without touching the ledger again, so webhook
// retries and duplicate client calls are harmless.
func (s *Service) Verify(ctx context.Context, provider, reference string) (*VerifyOutcome, error) {
	prov, ok := s.providers[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}

	payment, err := s.repo.GetQuotePaymentByRef(ctx, reference)
	if err != nil {
		return nil, err
	}
	quote, err := s.repo.GetQuote(ctx, payment.QuoteID)
	if err != nil {
		return nil, err
	}

	if payment.Status == "paid" {
		return &VerifyOutcome{
			QuoteID:     quote.ID,
			HandoffID:   payment.HandoffID,
			Token:       quote.Token,
			AlreadyPaid: true,
		}, nil
	}

	verified, err := prov.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !verified.Succeeded {
		return nil, ErrProviderDeclined
	}
	if verified.Amount != payment.Amount {
		s.logger.Warn("settled amount mismatch",
			"reference", reference, "expected", payment.Amount, "settled", verified.Amount)
		return nil, ErrAmountMismatch
	}

	commission, err := s.commissionFor(ctx, payment, quote)
	if err != nil {
		return nil, err
	}

	params := repo.CompletePaymentParams{
		ProviderRef:        reference,
		HandoffPaymentKind: handoffPaymentKind(payment.Purpose),
		Commission:         commission,
		Now:                s.now(),
	}
	if quote.ConversationID != nil && payment.Purpose != ledger.PurposeShippingPayment {
		params.UpgradeConversationID = quote.ConversationID
	}

	completion, err := s.repo.CompleteQuotePayment(ctx, params)
	if err != nil {
		return nil, err
	}
	if commission != nil && !completion.AlreadyPaid {
		s.metrics.WalletMovements.WithLabelValues("credit", ledger.RefQuotePaymentCommission).Inc()
	}
	s.logger.Info("payment verified",
		"payment_id", completion.QuotePaymentID, "provider", provider,
		"reference", reference, "already_paid", completion.AlreadyPaid)

	return &VerifyOutcome{
		QuoteID:     completion.QuoteID,
		HandoffID:   completion.HandoffID,
		Token:       completion.QuoteToken,
		AlreadyPaid: completion.AlreadyPaid,
	}, nil
}

// commissionFor resolves the agent owed commission for this payment, or nil
// when nobody is owed anything.
func (s *Service) commissionFor(ctx context.Context, payment *repo.QuotePayment, quote *repo.Quote) (*repo.CommissionCredit, error) {
	if payment.HandoffID == nil {
		return nil, nil
	}
	agentID, err := s.repo.LatestAgentForHandoff(ctx, *payment.HandoffID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.CommissionFor(payment, quote, agentID, cfg), nil
}

func handoffPaymentKind(purpose string) string {
	switch purpose {
	case ledger.PurposeDeposit:
		return "downpayment"
	case ledger.PurposeShippingPayment:
		return "shipping_payment"
	default:
		return "full_payment"
	}
}

// HandlePaystackWebhook verifies the signature and settles charge.success
// events. Unknown events are acknowledged and ignored.
func (s *Service) HandlePaystackWebhook(ctx context.Context, body []byte, signature string) error {
	if s.paystack == nil {
		return ErrUnknownProvider
	}
	if !s.paystack.VerifyWebhookSignature(body, signature) {
		s.metrics.Errors.WithLabelValues("paystack_webhook").Inc()
		return ErrBadSignature
	}

	var event struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode paystack event: %w", err)
	}
	if event.Event != "charge.success" {
		s.logger.Debug("ignoring paystack event", "event", event.Event)
		return nil
	}

	_, err := s.Verify(ctx, "paystack", event.Data.Reference)
	return err
}
