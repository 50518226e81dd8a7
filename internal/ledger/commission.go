package ledger

import (
	"math"

	"linescout/internal/config"
	"linescout/internal/repo"
)

// Payment purposes on the wire.
const (
	PurposeDeposit         = "deposit"
	PurposeShippingPayment = "shipping_payment"
	PurposeFullPayment     = "full_payment"
)

// Wallet transaction reference types.
const (
	RefQuotePaymentCommission = "quote_payment_commission"
	RefUserPayoutRequest      = "user_payout_request"
	RefUserPayoutRefund       = "user_payout_refund"
)

// CommissionPercent picks the quote's own rate when positive, otherwise the
// global settings rate. Zero means no commission is owed.
func CommissionPercent(quote *repo.Quote, settings config.Settings) float64 {
	if quote.AgentPercent > 0 {
		return quote.AgentPercent
	}
	if settings.AgentPercent > 0 {
		return settings.AgentPercent
	}
	return 0
}

// CommissionAmount computes the agent cut in minor currency units, rounded
// half away from zero.
func CommissionAmount(amount int64, percent float64) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	return int64(math.Round(float64(amount) * percent / 100))
}

// CommissionFor builds the commission credit owed for a paid quote payment,
// or nil when none applies. Shipping payments never earn commission. agentID
// is empty when no conversation linked to the handoff was ever claimed.
func CommissionFor(payment *repo.QuotePayment, quote *repo.Quote, agentID string, settings config.Settings) *repo.CommissionCredit {
	if payment.Purpose == PurposeShippingPayment || agentID == "" {
		return nil
	}
	amount := CommissionAmount(payment.Amount, CommissionPercent(quote, settings))
	if amount <= 0 {
		return nil
	}
	return &repo.CommissionCredit{
		AgentID:       agentID,
		Amount:        amount,
		Reason:        "Quote payment commission",
		ReferenceType: RefQuotePaymentCommission,
		ReferenceID:   payment.ID,
	}
}
