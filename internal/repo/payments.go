package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateQuote stores a priced offer for a handoff.
func (r *PostgresRepository) CreateQuote(ctx context.Context, nq NewQuote) (*Quote, error) {
	const q = `
INSERT INTO linescout_quotes (handoff_id, conversation_id, amount, currency, agent_percent, token)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, handoff_id, conversation_id, amount, currency, agent_percent, token, created_at;
`
	row := r.pool.QueryRow(ctx, q, nq.HandoffID, nq.ConversationID, nq.Amount, nq.Currency, nq.AgentPercent, nq.Token)
	return scanQuote(row)
}

// GetQuote retrieves a quote by id.
func (r *PostgresRepository) GetQuote(ctx context.Context, id string) (*Quote, error) {
	const q = `
SELECT id, handoff_id, conversation_id, amount, currency, agent_percent, token, created_at
FROM linescout_quotes
WHERE id = $1
LIMIT 1;
`
	return scanQuote(r.pool.QueryRow(ctx, q, id))
}

// CreateQuotePayment records a payment intent. provider_ref is unique; a
// duplicate initialization surfaces as ErrConflict.
func (r *PostgresRepository) CreateQuotePayment(ctx context.Context, np NewQuotePayment) (*QuotePayment, error) {
	const q = `
INSERT INTO linescout_quote_payments (quote_id, handoff_id, user_id, purpose, provider, provider_ref, amount, currency)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, quote_id, handoff_id, user_id, purpose, provider, provider_ref, amount, currency, status, paid_at, created_at;
`
	row := r.pool.QueryRow(ctx, q, np.QuoteID, np.HandoffID, np.UserID, np.Purpose, np.Provider, np.ProviderRef, np.Amount, np.Currency)
	qp, err := scanQuotePayment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return qp, nil
}

// GetQuotePaymentByRef retrieves a payment intent by provider reference.
func (r *PostgresRepository) GetQuotePaymentByRef(ctx context.Context, providerRef string) (*QuotePayment, error) {
	const q = `
SELECT id, quote_id, handoff_id, user_id, purpose, provider, provider_ref, amount, currency, status, paid_at, created_at
FROM linescout_quote_payments
WHERE provider_ref = $1
LIMIT 1;
`
	return scanQuotePayment(r.pool.QueryRow(ctx, q, providerRef))
}

// CompleteQuotePayment flips a pending payment to paid exactly once and, in
// the same transaction, records the handoff payment, upgrades the linked
// conversation and credits the agent commission. Re-running for an
// already-paid reference returns the existing result without new rows.
func (r *PostgresRepository) CompleteQuotePayment(ctx context.Context, params CompletePaymentParams) (*PaymentCompletion, error) {
	var completion *PaymentCompletion
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const sel = `
SELECT p.id, p.quote_id, p.handoff_id, p.amount, p.status, q.token
FROM linescout_quote_payments p
JOIN linescout_quotes q ON q.id = p.quote_id
WHERE p.provider_ref = $1
FOR UPDATE OF p;`
		var (
			paymentID string
			quoteID   string
			handoffID *string
			amount    int64
			status    string
			token     string
		)
		if err := tx.QueryRow(ctx, sel, params.ProviderRef).
			Scan(&paymentID, &quoteID, &handoffID, &amount, &status, &token); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select quote payment: %w", err)
		}

		completion = &PaymentCompletion{
			QuotePaymentID: paymentID,
			QuoteID:        quoteID,
			HandoffID:      handoffID,
			QuoteToken:     token,
		}
		if status == "paid" {
			completion.AlreadyPaid = true
			return nil
		}

		const upd = `UPDATE linescout_quote_payments SET status = 'paid', paid_at = $2 WHERE id = $1;`
		if _, err := tx.Exec(ctx, upd, paymentID, params.Now); err != nil {
			return fmt.Errorf("mark quote payment paid: %w", err)
		}

		const ins = `
INSERT INTO linescout_handoff_payments (handoff_id, quote_payment_id, kind, amount)
VALUES ($1, $2, $3, $4);`
		if _, err := tx.Exec(ctx, ins, handoffID, paymentID, params.HandoffPaymentKind, amount); err != nil {
			return fmt.Errorf("insert handoff payment: %w", err)
		}

		if params.UpgradeConversationID != nil {
			const conv = `
UPDATE linescout_conversations
SET payment_status = 'paid', chat_mode = 'paid_human', updated_at = NOW()
WHERE id = $1;`
			if _, err := tx.Exec(ctx, conv, *params.UpgradeConversationID); err != nil {
				return fmt.Errorf("upgrade conversation: %w", err)
			}
		}

		if params.Commission != nil {
			if err := creditCommissionTx(ctx, tx, *params.Commission); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completion, nil
}

// CountHandoffPayments reports how many handoff-payment rows reference the
// quote payment. Used to assert verify idempotence.
func (r *PostgresRepository) CountHandoffPayments(ctx context.Context, quotePaymentID string) (int, error) {
	const q = `SELECT COUNT(*) FROM linescout_handoff_payments WHERE quote_payment_id = $1;`
	var n int
	if err := r.pool.QueryRow(ctx, q, quotePaymentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count handoff payments: %w", err)
	}
	return n, nil
}

// creditCommissionTx credits the agent wallet inside an open transaction.
// The reference pre-check plus the unique index on (reference_type,
// reference_id) make the credit idempotent under retries and races.
func creditCommissionTx(ctx context.Context, tx pgx.Tx, credit CommissionCredit) error {
	var exists bool
	const check = `
SELECT EXISTS (
    SELECT 1 FROM linescout_wallet_transactions
    WHERE reference_type = $1 AND reference_id = $2
);`
	if err := tx.QueryRow(ctx, check, credit.ReferenceType, credit.ReferenceID).Scan(&exists); err != nil {
		return fmt.Errorf("check commission reference: %w", err)
	}
	if exists {
		return nil
	}

	const ensureWallet = `
INSERT INTO linescout_wallets (owner_type, owner_id)
VALUES ('agent', $1)
ON CONFLICT (owner_type, owner_id) DO UPDATE SET updated_at = NOW()
RETURNING id;`
	var walletID string
	if err := tx.QueryRow(ctx, ensureWallet, credit.AgentID).Scan(&walletID); err != nil {
		return fmt.Errorf("ensure agent wallet: %w", err)
	}

	const insTx = `
INSERT INTO linescout_wallet_transactions (wallet_id, type, amount, reason, reference_type, reference_id)
VALUES ($1, 'credit', $2, $3, $4, $5);`
	if _, err := tx.Exec(ctx, insTx, walletID, credit.Amount, credit.Reason, credit.ReferenceType, credit.ReferenceID); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("insert commission transaction: %w", err)
	}

	const updBal = `UPDATE linescout_wallets SET balance = balance + $2, updated_at = NOW() WHERE id = $1;`
	if _, err := tx.Exec(ctx, updBal, walletID, credit.Amount); err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	return nil
}

func scanQuote(row rowScanner) (*Quote, error) {
	var q Quote
	if err := row.Scan(&q.ID, &q.HandoffID, &q.ConversationID, &q.Amount, &q.Currency, &q.AgentPercent, &q.Token, &q.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan quote: %w", err)
	}
	return &q, nil
}

func scanQuotePayment(row rowScanner) (*QuotePayment, error) {
	var p QuotePayment
	if err := row.Scan(&p.ID, &p.QuoteID, &p.HandoffID, &p.UserID, &p.Purpose, &p.Provider, &p.ProviderRef, &p.Amount, &p.Currency, &p.Status, &p.PaidAt, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan quote payment: %w", err)
	}
	return &p, nil
}
