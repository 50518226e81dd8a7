package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const walletColumns = `id, owner_type, owner_id, balance, currency, created_at, updated_at`

// EnsureWallet returns the wallet for the owner, creating it on first use.
func (r *PostgresRepository) EnsureWallet(ctx context.Context, ownerType, ownerID, currency string) (*Wallet, error) {
	if currency == "" {
		currency = "NGN"
	}
	q := `
INSERT INTO linescout_wallets (owner_type, owner_id, currency)
VALUES ($1, $2, $3)
ON CONFLICT (owner_type, owner_id) DO UPDATE SET updated_at = NOW()
RETURNING ` + walletColumns + `;`
	return scanWallet(r.pool.QueryRow(ctx, q, ownerType, ownerID, currency))
}

// GetWallet retrieves a wallet by owner.
func (r *PostgresRepository) GetWallet(ctx context.Context, ownerType, ownerID string) (*Wallet, error) {
	q := `SELECT ` + walletColumns + ` FROM linescout_wallets WHERE owner_type = $1 AND owner_id = $2 LIMIT 1;`
	return scanWallet(r.pool.QueryRow(ctx, q, ownerType, ownerID))
}

// ApplyWalletMovement inserts a ledger entry and updates the running balance
// in one transaction. Debits fail with ErrInsufficientBalance rather than
// overdraw; movements carrying a reference are idempotent.
func (r *PostgresRepository) ApplyWalletMovement(ctx context.Context, mv WalletMovement) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return applyWalletMovementTx(ctx, tx, mv)
	})
}

func applyWalletMovementTx(ctx context.Context, tx pgx.Tx, mv WalletMovement) error {
	currency := mv.Currency
	if currency == "" {
		currency = "NGN"
	}
	const ensure = `
INSERT INTO linescout_wallets (owner_type, owner_id, currency)
VALUES ($1, $2, $3)
ON CONFLICT (owner_type, owner_id) DO UPDATE SET updated_at = NOW()
RETURNING id, balance;`
	var (
		walletID string
		balance  int64
	)
	if err := tx.QueryRow(ctx, ensure, mv.OwnerType, mv.OwnerID, currency).Scan(&walletID, &balance); err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}

	delta := mv.Amount
	if mv.Type == "debit" {
		if balance < mv.Amount {
			return ErrInsufficientBalance
		}
		delta = -mv.Amount
	}

	if mv.ReferenceType != "" {
		var exists bool
		const check = `
SELECT EXISTS (
    SELECT 1 FROM linescout_wallet_transactions
    WHERE reference_type = $1 AND reference_id = $2
);`
		if err := tx.QueryRow(ctx, check, mv.ReferenceType, mv.ReferenceID).Scan(&exists); err != nil {
			return fmt.Errorf("check movement reference: %w", err)
		}
		if exists {
			return nil
		}
	}

	const ins = `
INSERT INTO linescout_wallet_transactions (wallet_id, type, amount, reason, reference_type, reference_id)
VALUES ($1, $2, $3, $4, $5, $6);`
	if _, err := tx.Exec(ctx, ins, walletID, mv.Type, mv.Amount, mv.Reason, mv.ReferenceType, mv.ReferenceID); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("insert wallet transaction: %w", err)
	}

	const upd = `UPDATE linescout_wallets SET balance = balance + $2, updated_at = NOW() WHERE id = $1;`
	if _, err := tx.Exec(ctx, upd, walletID, delta); err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	return nil
}

// ListWalletTransactions returns the latest ledger entries for a wallet.
func (r *PostgresRepository) ListWalletTransactions(ctx context.Context, walletID string, limit int) ([]WalletTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `
SELECT id, wallet_id, type, amount, reason, reference_type, reference_id, created_at
FROM linescout_wallet_transactions
WHERE wallet_id = $1
ORDER BY created_at DESC
LIMIT $2;`
	rows, err := r.pool.Query(ctx, q, walletID, limit)
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

// SumWalletTransactions computes the signed sum of a wallet's ledger
// entries (credits positive, debits negative).
func (r *PostgresRepository) SumWalletTransactions(ctx context.Context, walletID string) (int64, error) {
	const q = `
SELECT COALESCE(SUM(CASE WHEN type = 'credit' THEN amount ELSE -amount END), 0)
FROM linescout_wallet_transactions
WHERE wallet_id = $1;`
	var sum int64
	if err := r.pool.QueryRow(ctx, q, walletID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum wallet transactions: %w", err)
	}
	return sum, nil
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.ID, &w.OwnerType, &w.OwnerID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return &w, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
