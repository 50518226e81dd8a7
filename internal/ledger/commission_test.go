package ledger

import (
	"testing"

	"linescout/internal/config"
	"linescout/internal/repo"
)

func TestCommissionPercent(t *testing.T) {
	settings := config.Settings{AgentPercent: 10}

	if got := CommissionPercent(&repo.Quote{AgentPercent: 7.5}, settings); got != 7.5 {
		t.Fatalf("quote rate ignored: got %v", got)
	}
	if got := CommissionPercent(&repo.Quote{AgentPercent: 0}, settings); got != 10 {
		t.Fatalf("settings fallback: got %v", got)
	}
	if got := CommissionPercent(&repo.Quote{}, config.Settings{}); got != 0 {
		t.Fatalf("no positive rate: got %v", got)
	}
}

func TestCommissionAmount(t *testing.T) {
	cases := []struct {
		amount  int64
		percent float64
		want    int64
	}{
		{500000, 10, 50000},   // NGN 5,000 at 10% -> NGN 500
		{100001, 10, 10000},   // rounds to nearest minor unit
		{333, 10, 33},         // 33.3 rounds down
		{335, 10, 34},         // 33.5 rounds up
		{500000, 0, 0},
		{0, 10, 0},
		{-100, 10, 0},
	}
	for _, tc := range cases {
		if got := CommissionAmount(tc.amount, tc.percent); got != tc.want {
			t.Fatalf("CommissionAmount(%d, %v) = %d, want %d", tc.amount, tc.percent, got, tc.want)
		}
	}
}

func TestCommissionFor(t *testing.T) {
	settings := config.Settings{AgentPercent: 10}
	quote := &repo.Quote{AgentPercent: 0}
	payment := &repo.QuotePayment{ID: "pay-1", Purpose: PurposeFullPayment, Amount: 500000}

	credit := CommissionFor(payment, quote, "agent-1", settings)
	if credit == nil {
		t.Fatal("expected a commission credit")
	}
	if credit.Amount != 50000 || credit.AgentID != "agent-1" {
		t.Fatalf("unexpected credit: %+v", credit)
	}
	if credit.ReferenceType != RefQuotePaymentCommission || credit.ReferenceID != "pay-1" {
		t.Fatalf("unexpected reference: %+v", credit)
	}

	// Shipping payments never earn commission.
	shipping := &repo.QuotePayment{ID: "pay-2", Purpose: PurposeShippingPayment, Amount: 500000}
	if CommissionFor(shipping, quote, "agent-1", settings) != nil {
		t.Fatal("shipping payment must not earn commission")
	}

	// No assigned agent, no commission.
	if CommissionFor(payment, quote, "", settings) != nil {
		t.Fatal("no agent must mean no commission")
	}

	// No positive rate anywhere, no commission.
	if CommissionFor(payment, quote, "agent-1", config.Settings{}) != nil {
		t.Fatal("zero rate must mean no commission")
	}
}
