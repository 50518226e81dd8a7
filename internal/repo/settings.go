package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetSettings loads the single settings row.
func (r *PostgresRepository) GetSettings(ctx context.Context) (*Settings, error) {
	const q = `
SELECT agent_percent, service_fee_percent, currency, updated_at
FROM linescout_settings
WHERE id = 1
LIMIT 1;`
	var s Settings
	if err := r.pool.QueryRow(ctx, q).Scan(&s.AgentPercent, &s.ServiceFeePercent, &s.Currency, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}

// UpdateSettings replaces the single settings row.
func (r *PostgresRepository) UpdateSettings(ctx context.Context, s Settings) error {
	const q = `
UPDATE linescout_settings
SET agent_percent = $1, service_fee_percent = $2, currency = $3, updated_at = NOW()
WHERE id = 1;`
	if _, err := r.pool.Exec(ctx, q, s.AgentPercent, s.ServiceFeePercent, s.Currency); err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}
