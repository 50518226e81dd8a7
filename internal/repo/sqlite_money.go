package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// -- Quotes & payments --

func (r *SQLiteRepository) CreateQuote(ctx context.Context, nq NewQuote) (*Quote, error) {
	id := randomUUID()
	const q = `
INSERT INTO linescout_quotes (id, handoff_id, conversation_id, amount, currency, agent_percent, token)
VALUES (?, ?, ?, ?, ?, ?, ?);`
	if _, err := r.db.ExecContext(ctx, q, id, nq.HandoffID, nq.ConversationID, nq.Amount, nq.Currency, nq.AgentPercent, nq.Token); err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert quote: %w", err)
	}
	return r.GetQuote(ctx, id)
}

func (r *SQLiteRepository) GetQuote(ctx context.Context, id string) (*Quote, error) {
	const q = `
SELECT id, handoff_id, conversation_id, amount, currency, agent_percent, token, created_at
FROM linescout_quotes
WHERE id = ?
LIMIT 1;`
	var (
		quote          Quote
		conversationID sql.NullString
	)
	if err := r.db.QueryRowContext(ctx, q, id).
		Scan(&quote.ID, &quote.HandoffID, &conversationID, &quote.Amount, &quote.Currency, &quote.AgentPercent, &quote.Token, &quote.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get quote: %w", err)
	}
	quote.ConversationID = strPtr(conversationID)
	return &quote, nil
}

func (r *SQLiteRepository) CreateQuotePayment(ctx context.Context, np NewQuotePayment) (*QuotePayment, error) {
	id := randomUUID()
	const q = `
INSERT INTO linescout_quote_payments (id, quote_id, handoff_id, user_id, purpose, provider, provider_ref, amount, currency)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`
	if _, err := r.db.ExecContext(ctx, q, id, np.QuoteID, np.HandoffID, np.UserID, np.Purpose, np.Provider, np.ProviderRef, np.Amount, np.Currency); err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert quote payment: %w", err)
	}
	return r.GetQuotePaymentByRef(ctx, np.ProviderRef)
}

func (r *SQLiteRepository) GetQuotePaymentByRef(ctx context.Context, providerRef string) (*QuotePayment, error) {
	const q = `
SELECT id, quote_id, handoff_id, user_id, purpose, provider, provider_ref, amount, currency, status, paid_at, created_at
FROM linescout_quote_payments
WHERE provider_ref = ?
LIMIT 1;`
	var (
		p         QuotePayment
		handoffID sql.NullString
		paidAt    sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, q, providerRef).
		Scan(&p.ID, &p.QuoteID, &handoffID, &p.UserID, &p.Purpose, &p.Provider, &p.ProviderRef, &p.Amount, &p.Currency, &p.Status, &paidAt, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get quote payment by ref: %w", err)
	}
	p.HandoffID = strPtr(handoffID)
	p.PaidAt = timePtr(paidAt)
	return &p, nil
}

func (r *SQLiteRepository) CompleteQuotePayment(ctx context.Context, params CompletePaymentParams) (*PaymentCompletion, error) {
	var completion *PaymentCompletion
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		// SQLite transactions are single-writer; no row lock needed here.
		const sel = `
SELECT p.id, p.quote_id, p.handoff_id, p.amount, p.status, q.token
FROM linescout_quote_payments p
JOIN linescout_quotes q ON q.id = p.quote_id
WHERE p.provider_ref = ?;`
		var (
			paymentID string
			quoteID   string
			handoffID sql.NullString
			amount    int64
			status    string
			token     string
		)
		if err := tx.QueryRowContext(ctx, sel, params.ProviderRef).
			Scan(&paymentID, &quoteID, &handoffID, &amount, &status, &token); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select quote payment: %w", err)
		}

		completion = &PaymentCompletion{
			QuotePaymentID: paymentID,
			QuoteID:        quoteID,
			HandoffID:      strPtr(handoffID),
			QuoteToken:     token,
		}
		if status == "paid" {
			completion.AlreadyPaid = true
			return nil
		}

		const upd = `UPDATE linescout_quote_payments SET status = 'paid', paid_at = ? WHERE id = ?;`
		if _, err := tx.ExecContext(ctx, upd, params.Now, paymentID); err != nil {
			return fmt.Errorf("mark quote payment paid: %w", err)
		}

		const ins = `
INSERT INTO linescout_handoff_payments (id, handoff_id, quote_payment_id, kind, amount)
VALUES (?, ?, ?, ?, ?);`
		if _, err := tx.ExecContext(ctx, ins, randomUUID(), strPtr(handoffID), paymentID, params.HandoffPaymentKind, amount); err != nil {
			return fmt.Errorf("insert handoff payment: %w", err)
		}

		if params.UpgradeConversationID != nil {
			const conv = `
UPDATE linescout_conversations
SET payment_status = 'paid', chat_mode = 'paid_human', updated_at = CURRENT_TIMESTAMP
WHERE id = ?;`
			if _, err := tx.ExecContext(ctx, conv, *params.UpgradeConversationID); err != nil {
				return fmt.Errorf("upgrade conversation: %w", err)
			}
		}

		if params.Commission != nil {
			if err := r.creditCommissionTx(ctx, tx, *params.Commission); err != nil {
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

func (r *SQLiteRepository) CountHandoffPayments(ctx context.Context, quotePaymentID string) (int, error) {
	const q = `SELECT COUNT(*) FROM linescout_handoff_payments WHERE quote_payment_id = ?;`
	var n int
	if err := r.db.QueryRowContext(ctx, q, quotePaymentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count handoff payments: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) creditCommissionTx(ctx context.Context, tx *sql.Tx, credit CommissionCredit) error {
	var exists int
	const check = `
SELECT COUNT(*) FROM linescout_wallet_transactions
WHERE reference_type = ? AND reference_id = ?;`
	if err := tx.QueryRowContext(ctx, check, credit.ReferenceType, credit.ReferenceID).Scan(&exists); err != nil {
		return fmt.Errorf("check commission reference: %w", err)
	}
	if exists > 0 {
		return nil
	}

	walletID, _, err := ensureWalletTxSQLite(ctx, tx, "agent", credit.AgentID, "")
	if err != nil {
		return err
	}

	const insTx = `
INSERT INTO linescout_wallet_transactions (id, wallet_id, type, amount, reason, reference_type, reference_id)
VALUES (?, ?, 'credit', ?, ?, ?, ?);`
	if _, err := tx.ExecContext(ctx, insTx, randomUUID(), walletID, credit.Amount, credit.Reason, credit.ReferenceType, credit.ReferenceID); err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("insert commission transaction: %w", err)
	}

	const updBal = `UPDATE linescout_wallets SET balance = balance + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	if _, err := tx.ExecContext(ctx, updBal, credit.Amount, walletID); err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	return nil
}

// -- Wallets --

func ensureWalletTxSQLite(ctx context.Context, tx *sql.Tx, ownerType, ownerID, currency string) (string, int64, error) {
	if currency == "" {
		currency = "NGN"
	}
	const sel = `SELECT id, balance FROM linescout_wallets WHERE owner_type = ? AND owner_id = ? LIMIT 1;`
	var (
		walletID string
		balance  int64
	)
	err := tx.QueryRowContext(ctx, sel, ownerType, ownerID).Scan(&walletID, &balance)
	if err == nil {
		return walletID, balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", 0, fmt.Errorf("select wallet: %w", err)
	}

	walletID = randomUUID()
	const ins = `INSERT INTO linescout_wallets (id, owner_type, owner_id, currency) VALUES (?, ?, ?, ?);`
	if _, err := tx.ExecContext(ctx, ins, walletID, ownerType, ownerID, currency); err != nil {
		return "", 0, fmt.Errorf("insert wallet: %w", err)
	}
	return walletID, 0, nil
}

func (r *SQLiteRepository) EnsureWallet(ctx context.Context, ownerType, ownerID, currency string) (*Wallet, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, _, err := ensureWalletTxSQLite(ctx, tx, ownerType, ownerID, currency)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.GetWallet(ctx, ownerType, ownerID)
}

func (r *SQLiteRepository) GetWallet(ctx context.Context, ownerType, ownerID string) (*Wallet, error) {
	const q = `
SELECT id, owner_type, owner_id, balance, currency, created_at, updated_at
FROM linescout_wallets
WHERE owner_type = ? AND owner_id = ?
LIMIT 1;`
	var w Wallet
	if err := r.db.QueryRowContext(ctx, q, ownerType, ownerID).
		Scan(&w.ID, &w.OwnerType, &w.OwnerID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &w, nil
}

func (r *SQLiteRepository) ApplyWalletMovement(ctx context.Context, mv WalletMovement) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		return applyWalletMovementTxSQLite(ctx, tx, mv)
	})
}

func applyWalletMovementTxSQLite(ctx context.Context, tx *sql.Tx, mv WalletMovement) error {
	walletID, balance, err := ensureWalletTxSQLite(ctx, tx, mv.OwnerType, mv.OwnerID, mv.Currency)
	if err != nil {
		return err
	}

	delta := mv.Amount
	if mv.Type == "debit" {
		if balance < mv.Amount {
			return ErrInsufficientBalance
		}
		delta = -mv.Amount
	}

	if mv.ReferenceType != "" {
		var exists int
		const check = `
SELECT COUNT(*) FROM linescout_wallet_transactions
WHERE reference_type = ? AND reference_id = ?;`
		if err := tx.QueryRowContext(ctx, check, mv.ReferenceType, mv.ReferenceID).Scan(&exists); err != nil {
			return fmt.Errorf("check movement reference: %w", err)
		}
		if exists > 0 {
			return nil
		}
	}

	const ins = `
INSERT INTO linescout_wallet_transactions (id, wallet_id, type, amount, reason, reference_type, reference_id)
VALUES (?, ?, ?, ?, ?, ?, ?);`
	if _, err := tx.ExecContext(ctx, ins, randomUUID(), walletID, mv.Type, mv.Amount, mv.Reason, mv.ReferenceType, mv.ReferenceID); err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("insert wallet transaction: %w", err)
	}

	const upd = `UPDATE linescout_wallets SET balance = balance + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	if _, err := tx.ExecContext(ctx, upd, delta, walletID); err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListWalletTransactions(ctx context.Context, walletID string, limit int) ([]WalletTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `
SELECT id, wallet_id, type, amount, reason, reference_type, reference_id, created_at
FROM linescout_wallet_transactions
WHERE wallet_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, walletID, limit)
	if err != nil {
		return nil, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	var txs []WalletTransaction
	for rows.Next() {
		var t WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.Type, &t.Amount, &t.Reason, &t.ReferenceType, &t.ReferenceID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wallet transactions: %w", err)
	}
	return txs, nil
}

func (r *SQLiteRepository) SumWalletTransactions(ctx context.Context, walletID string) (int64, error) {
	const q = `
SELECT COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0)
FROM linescout_wallet_transactions
WHERE wallet_id = ?;`
	var sum int64
	if err := r.db.QueryRowContext(ctx, q, walletID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum wallet transactions: %w", err)
	}
	return sum, nil
}

// -- Payout accounts --

func (r *SQLiteRepository) UpsertPayoutAccount(ctx context.Context, acct PayoutAccount) (*PayoutAccount, error) {
	id := randomUUID()
	const q = `
INSERT INTO linescout_payout_accounts (id, owner_type, owner_id, bank_name, account_number, account_name, verified)
VALUES (?, ?, ?, ?, ?, ?, 0)
ON CONFLICT (owner_type, owner_id) DO UPDATE SET
    bank_name = excluded.bank_name,
    account_number = excluded.account_number,
    account_name = excluded.account_name,
    verified = 0;`
	if _, err := r.db.ExecContext(ctx, q, id, acct.OwnerType, acct.OwnerID, acct.BankName, acct.AccountNumber, acct.AccountName); err != nil {
		return nil, fmt.Errorf("upsert payout account: %w", err)
	}
	return r.GetPayoutAccount(ctx, acct.OwnerType, acct.OwnerID)
}

func (r *SQLiteRepository) GetPayoutAccount(ctx context.Context, ownerType, ownerID string) (*PayoutAccount, error) {
	const q = `
SELECT id, owner_type, owner_id, bank_name, account_number, account_name, verified, created_at
FROM linescout_payout_accounts
WHERE owner_type = ? AND owner_id = ?
LIMIT 1;`
	var a PayoutAccount
	if err := r.db.QueryRowContext(ctx, q, ownerType, ownerID).
		Scan(&a.ID, &a.OwnerType, &a.OwnerID, &a.BankName, &a.AccountNumber, &a.AccountName, &a.Verified, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payout account: %w", err)
	}
	return &a, nil
}

func (r *SQLiteRepository) SetPayoutAccountVerified(ctx context.Context, id string, verified bool) error {
	const q = `UPDATE linescout_payout_accounts SET verified = ? WHERE id = ?;`
	ct, err := r.db.ExecContext(ctx, q, verified, id)
	if err != nil {
		return fmt.Errorf("set payout account verified: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Payout requests --

func (r *SQLiteRepository) CreateUserPayoutRequest(ctx context.Context, userID, accountID string, amount int64) (*PayoutRequest, error) {
	id := randomUUID()
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		walletID, balance, err := ensureWalletTxSQLite(ctx, tx, "user", userID, "")
		if err != nil {
			return err
		}
		if balance < amount {
			return ErrInsufficientBalance
		}

		const ins = `
INSERT INTO linescout_user_payout_requests (id, user_id, payout_account_id, amount)
VALUES (?, ?, ?, ?);`
		if _, err := tx.ExecContext(ctx, ins, id, userID, accountID, amount); err != nil {
			return fmt.Errorf("insert user payout request: %w", err)
		}

		const insTx = `
INSERT INTO linescout_wallet_transactions (id, wallet_id, type, amount, reason, reference_type, reference_id)
VALUES (?, ?, 'debit', ?, 'User payout request', 'user_payout_request', ?);`
		if _, err := tx.ExecContext(ctx, insTx, randomUUID(), walletID, amount, id); err != nil {
			return fmt.Errorf("insert payout debit: %w", err)
		}
		const upd = `UPDATE linescout_wallets SET balance = balance - ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
		if _, err := tx.ExecContext(ctx, upd, amount, walletID); err != nil {
			return fmt.Errorf("debit user wallet: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetUserPayoutRequest(ctx, id)
}

func (r *SQLiteRepository) CreateAgentPayoutRequest(ctx context.Context, agentID, accountID string, amount int64) (*PayoutRequest, error) {
	id := randomUUID()
	const q = `
INSERT INTO linescout_agent_payout_requests (id, agent_id, payout_account_id, amount)
VALUES (?, ?, ?, ?);`
	if _, err := r.db.ExecContext(ctx, q, id, agentID, accountID, amount); err != nil {
		return nil, fmt.Errorf("insert agent payout request: %w", err)
	}
	return r.GetAgentPayoutRequest(ctx, id)
}

func (r *SQLiteRepository) GetUserPayoutRequest(ctx context.Context, id string) (*PayoutRequest, error) {
	const q = `
SELECT id, user_id, payout_account_id, amount, status, admin_note, created_at, decided_at
FROM linescout_user_payout_requests
WHERE id = ?
LIMIT 1;`
	return scanSQLitePayoutRequest(r.db.QueryRowContext(ctx, q, id).Scan)
}

func (r *SQLiteRepository) GetAgentPayoutRequest(ctx context.Context, id string) (*PayoutRequest, error) {
	const q = `
SELECT id, agent_id, payout_account_id, amount, status, admin_note, created_at, decided_at
FROM linescout_agent_payout_requests
WHERE id = ?
LIMIT 1;`
	return scanSQLitePayoutRequest(r.db.QueryRowContext(ctx, q, id).Scan)
}

func (r *SQLiteRepository) DecideAgentPayoutRequest(ctx context.Context, id, status, note string, now time.Time) (*PayoutRequest, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		const sel = `SELECT status FROM linescout_agent_payout_requests WHERE id = ?;`
		var current string
		if err := tx.QueryRowContext(ctx, sel, id).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select agent payout request: %w", err)
		}
		if current != "pending" {
			return ErrConflict
		}

		const upd = `
UPDATE linescout_agent_payout_requests
SET status = ?, admin_note = NULLIF(?, ''), decided_at = ?
WHERE id = ?;`
		if _, err := tx.ExecContext(ctx, upd, status, note, now, id); err != nil {
			return fmt.Errorf("update agent payout request: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetAgentPayoutRequest(ctx, id)
}

func (r *SQLiteRepository) RejectUserPayoutRequest(ctx context.Context, id, note string, now time.Time) (*PayoutRequest, error) {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		const sel = `SELECT status, user_id, amount FROM linescout_user_payout_requests WHERE id = ?;`
		var (
			current string
			userID  string
			amount  int64
		)
		if err := tx.QueryRowContext(ctx, sel, id).Scan(&current, &userID, &amount); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select user payout request: %w", err)
		}
		if current != "pending" {
			return ErrConflict
		}

		const upd = `
UPDATE linescout_user_payout_requests
SET status = 'rejected', admin_note = NULLIF(?, ''), decided_at = ?
WHERE id = ?;`
		if _, err := tx.ExecContext(ctx, upd, note, now, id); err != nil {
			return fmt.Errorf("update user payout request: %w", err)
		}

		reason := note
		if reason == "" {
			reason = "User payout rejected"
		}
		return applyWalletMovementTxSQLite(ctx, tx, WalletMovement{
			OwnerType:     "user",
			OwnerID:       userID,
			Type:          "credit",
			Amount:        amount,
			Reason:        reason,
			ReferenceType: "user_payout_refund",
			ReferenceID:   id,
		})
	})
	if err != nil {
		return nil, err
	}
	return r.GetUserPayoutRequest(ctx, id)
}

func (r *SQLiteRepository) ListPendingPayoutRequests(ctx context.Context, flow string) ([]PayoutRequest, error) {
	var q string
	switch flow {
	case "agent":
		q = `
SELECT id, agent_id, payout_account_id, amount, status, admin_note, created_at, decided_at
FROM linescout_agent_payout_requests
WHERE status = 'pending'
ORDER BY created_at ASC;`
	case "user":
		q = `
SELECT id, user_id, payout_account_id, amount, status, admin_note, created_at, decided_at
FROM linescout_user_payout_requests
WHERE status = 'pending'
ORDER BY created_at ASC;`
	default:
		return nil, fmt.Errorf("unknown payout flow %q", flow)
	}

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list pending payout requests: %w", err)
	}
	defer rows.Close()

	var reqs []PayoutRequest
	for rows.Next() {
		req, err := scanSQLitePayoutRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payout requests: %w", err)
	}
	return reqs, nil
}

func scanSQLitePayoutRequest(scan func(...any) error) (*PayoutRequest, error) {
	var (
		p         PayoutRequest
		note      sql.NullString
		decidedAt sql.NullTime
	)
	if err := scan(&p.ID, &p.OwnerID, &p.PayoutAccountID, &p.Amount, &p.Status, &note, &p.CreatedAt, &decidedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan payout request: %w", err)
	}
	p.AdminNote = strPtr(note)
	p.DecidedAt = timePtr(decidedAt)
	return &p, nil
}

// -- Settings --

func (r *SQLiteRepository) GetSettings(ctx context.Context) (*Settings, error) {
	const q = `
SELECT agent_percent, service_fee_percent, currency, updated_at
FROM linescout_settings
WHERE id = 1
LIMIT 1;`
	var s Settings
	if err := r.db.QueryRowContext(ctx, q).Scan(&s.AgentPercent, &s.ServiceFeePercent, &s.Currency, &s.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}

func (r *SQLiteRepository) UpdateSettings(ctx context.Context, s Settings) error {
	const q = `
UPDATE linescout_settings
SET agent_percent = ?, service_fee_percent = ?, currency = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = 1;`
	if _, err := r.db.ExecContext(ctx, q, s.AgentPercent, s.ServiceFeePercent, s.Currency); err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}
