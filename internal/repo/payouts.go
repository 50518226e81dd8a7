package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const payoutAccountColumns = `id, owner_type, owner_id, bank_name, account_number, account_name, verified, created_at`

// UpsertPayoutAccount stores or replaces the owner's payout bank account.
// Changing the account details clears verification.
func (r *PostgresRepository) UpsertPayoutAccount(ctx context.Context, acct PayoutAccount) (*PayoutAccount, error) {
	q := `
INSERT INTO linescout_payout_accounts (owner_type, owner_id, bank_name, account_number, account_name, verified)
VALUES ($1, $2, $3, $4, $5, FALSE)
ON CONFLICT (owner_type, owner_id) DO UPDATE SET
    bank_name = EXCLUDED.bank_name,
    account_number = EXCLUDED.account_number,
    account_name = EXCLUDED.account_name,
    verified = FALSE
RETURNING ` + payoutAccountColumns + `;`
	row := r.pool.QueryRow(ctx, q, acct.OwnerType, acct.OwnerID, acct.BankName, acct.AccountNumber, acct.AccountName)
	return scanPayoutAccount(row)
}

// GetPayoutAccount retrieves the owner's payout bank account.
func (r *PostgresRepository) GetPayoutAccount(ctx context.Context, ownerType, ownerID string) (*PayoutAccount, error) {
	q := `SELECT ` + payoutAccountColumns + ` FROM linescout_payout_accounts WHERE owner_type = $1 AND owner_id = $2 LIMIT 1;`
	return scanPayoutAccount(r.pool.QueryRow(ctx, q, ownerType, ownerID))
}

// SetPayoutAccountVerified flips the verification flag (admin action).
func (r *PostgresRepository) SetPayoutAccountVerified(ctx context.Context, id string, verified bool) error {
	const q = `UPDATE linescout_payout_accounts SET verified = $2 WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id, verified)
	if err != nil {
		return fmt.Errorf("set payout account verified: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateUserPayoutRequest inserts a pending request and debits the user
// wallet in the same transaction (optimistic hold).
func (r *PostgresRepository) CreateUserPayoutRequest(ctx context.Context, userID, accountID string, amount int64) (*PayoutRequest, error) {
	var req *PayoutRequest
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const lock = `SELECT id, balance FROM linescout_wallets WHERE owner_type = 'user' AND owner_id = $1 FOR UPDATE;`
		var (
			walletID string
			balance  int64
		)
		if err := tx.QueryRow(ctx, lock, userID).Scan(&walletID, &balance); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInsufficientBalance
			}
			return fmt.Errorf("lock user wallet: %w", err)
		}
		if balance < amount {
			return ErrInsufficientBalance
		}

		const ins = `
INSERT INTO linescout_user_payout_requests (user_id, payout_account_id, amount)
VALUES ($1, $2, $3)
RETURNING id, user_id, payout_account_id, amount, status, admin_note, created_at, decided_at;`
		var err error
		req, err = scanPayoutRequest(tx.QueryRow(ctx, ins, userID, accountID, amount))
		if err != nil {
			return err
		}

		const insTx = `
INSERT INTO linescout_wallet_transactions (wallet_id, type, amount, reason, reference_type, reference_id)
VALUES ($1, 'debit', $2, 'User payout request', 'user_payout_request', $3);`
		if _, err := tx.Exec(ctx, insTx, walletID, amount, req.ID); err != nil {
			return fmt.Errorf("insert payout debit: %w", err)
		}
		const upd = `UPDATE linescout_wallets SET balance = balance - $2, updated_at = NOW() WHERE id = $1;`
		if _, err := tx.Exec(ctx, upd, walletID, amount); err != nil {
			return fmt.Errorf("debit user wallet: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// CreateAgentPayoutRequest inserts a pending request. The agent wallet is
// not debited upfront; the debit happens when the payout is actually paid.
func (r *PostgresRepository) CreateAgentPayoutRequest(ctx context.Context, agentID, accountID string, amount int64) (*PayoutRequest, error) {
	const q = `
INSERT INTO linescout_agent_payout_requests (agent_id, payout_account_id, amount)
VALUES ($1, $2, $3)
RETURNING id, agent_id, payout_account_id, amount, status, admin_note, created_at, decided_at;`
	return scanPayoutRequest(r.pool.QueryRow(ctx, q, agentID, accountID, amount))
}

// GetUserPayoutRequest retrieves a user payout request by id.
func (r *PostgresRepository) GetUserPayoutRequest(ctx context.Context, id string) (*PayoutRequest, error) {
	const q = `
SELECT id, user_id, payout_account_id, amount, status, admin_note, created_at, decided_at
FROM linescout_user_payout_requests
WHERE id = $1
LIMIT 1;`
	return scanPayoutRequest(r.pool.QueryRow(ctx, q, id))
}

// GetAgentPayoutRequest retrieves an agent payout request by id.
func (r *PostgresRepository) GetAgentPayoutRequest(ctx context.Context, id string) (*PayoutRequest, error) {
	const q = `
SELECT id, agent_id, payout_account_id, amount, status, admin_note, created_at, decided_at
FROM linescout_agent_payout_requests
WHERE id = $1
LIMIT 1;`
	return scanPayoutRequest(r.pool.QueryRow(ctx, q, id))
}

// DecideAgentPayoutRequest transitions a pending agent request to approved
// or rejected. The row is locked before the status check so two concurrent
// admins cannot both decide it.
func (r *PostgresRepository) DecideAgentPayoutRequest(ctx context.Context, id, status, note string, now time.Time) (*PayoutRequest, error) {
	var req *PayoutRequest
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const lock = `SELECT status FROM linescout_agent_payout_requests WHERE id = $1 FOR UPDATE;`
		var current string
		if err := tx.QueryRow(ctx, lock, id).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock agent payout request: %w", err)
		}
		if current != "pending" {
			return ErrConflict
		}

		const upd = `
UPDATE linescout_agent_payout_requests
SET status = $2, admin_note = NULLIF($3, ''), decided_at = $4
WHERE id = $1
RETURNING id, agent_id, payout_account_id, amount, status, admin_note, created_at, decided_at;`
		var err error
		req, err = scanPayoutRequest(tx.QueryRow(ctx, upd, id, status, note, now))
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// RejectUserPayoutRequest rejects a pending user request and credits the
// held amount back to the wallet in the same transaction.
func (r *PostgresRepository) RejectUserPayoutRequest(ctx context.Context, id, note string, now time.Time) (*PayoutRequest, error) {
	var req *PayoutRequest
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		const lock = `
SELECT status, user_id, amount
FROM linescout_user_payout_requests
WHERE id = $1
FOR UPDATE;`
		var (
			current string
			userID  string
			amount  int64
		)
		if err := tx.QueryRow(ctx, lock, id).Scan(&current, &userID, &amount); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock user payout request: %w", err)
		}
		if current != "pending" {
			return ErrConflict
		}

		const upd = `
UPDATE linescout_user_payout_requests
SET status = 'rejected', admin_note = NULLIF($2, ''), decided_at = $3
WHERE id = $1
RETURNING id, user_id, payout_account_id, amount, status, admin_note, created_at, decided_at;`
		var err error
		req, err = scanPayoutRequest(tx.QueryRow(ctx, upd, id, note, now))
		if err != nil {
			return err
		}

		reason := note
		if reason == "" {
			reason = "User payout rejected"
		}
		return applyWalletMovementTx(ctx, tx, WalletMovement{
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
	return req, nil
}

// ListPendingPayoutRequests lists pending requests for the given flow
// ("agent" or "user").
func (r *PostgresRepository) ListPendingPayoutRequests(ctx context.Context, flow string) ([]PayoutRequest, error) {
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

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list pending payout requests: %w", err)
	}
	defer rows.Close()

	var reqs []PayoutRequest
	for rows.Next() {
		req, err := scanPayoutRequest(rows)
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

func scanPayoutAccount(row rowScanner) (*PayoutAccount, error) {
	var a PayoutAccount
	if err := row.Scan(&a.ID, &a.OwnerType, &a.OwnerID, &a.BankName, &a.AccountNumber, &a.AccountName, &a.Verified, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan payout account: %w", err)
	}
	return &a, nil
}

func scanPayoutRequest(row rowScanner) (*PayoutRequest, error) {
	var p PayoutRequest
	if err := row.Scan(&p.ID, &p.OwnerID, &p.PayoutAccountID, &p.Amount, &p.Status, &p.AdminNote, &p.CreatedAt, &p.DecidedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan payout request: %w", err)
	}
	return &p, nil
}
