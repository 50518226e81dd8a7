package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const handoffColumns = `id, user_id, conversation_id, route_type, status, claimed_by,
       shipper, tracking_number, cancel_reason,
       manufacturer_found_at, paid_at, shipped_at, delivered_at, cancelled_at,
       created_at, updated_at`

// CreateHandoff stores a new sourcing request in the pending state.
func (r *PostgresRepository) CreateHandoff(ctx context.Context, nh NewHandoff) (*Handoff, error) {
	q := `
INSERT INTO linescout_handoffs (user_id, conversation_id, route_type)
VALUES ($1, $2, $3)
RETURNING ` + handoffColumns + `;`
	return scanHandoff(r.pool.QueryRow(ctx, q, nh.UserID, nh.ConversationID, nh.RouteType))
}

// GetHandoff retrieves a handoff by id.
func (r *PostgresRepository) GetHandoff(ctx context.Context, id string) (*Handoff, error) {
	q := `SELECT ` + handoffColumns + ` FROM linescout_handoffs WHERE id = $1 LIMIT 1;`
	return scanHandoff(r.pool.QueryRow(ctx, q, id))
}

// ApplyHandoffTransition performs the single update statement for a
// validated status transition, stamping the milestone column.
func (r *PostgresRepository) ApplyHandoffTransition(ctx context.Context, id string, upd HandoffStatusUpdate) error {
	var (
		q    string
		args []any
	)
	switch upd.Status {
	case "claimed":
		q = `UPDATE linescout_handoffs SET status = $2, claimed_by = $3, updated_at = NOW() WHERE id = $1;`
		args = []any{id, upd.Status, upd.ClaimedBy}
	case "manufacturer_found":
		q = `UPDATE linescout_handoffs SET status = $2, manufacturer_found_at = $3, updated_at = NOW() WHERE id = $1;`
		args = []any{id, upd.Status, upd.At}
	case "paid":
		q = `UPDATE linescout_handoffs SET status = $2, paid_at = $3, updated_at = NOW() WHERE id = $1;`
		args = []any{id, upd.Status, upd.At}
	case "shipped":
		q = `UPDATE linescout_handoffs SET status = $2, shipped_at = $3, shipper = $4, tracking_number = $5, updated_at = NOW() WHERE id = $1;`
		args = []any{id, upd.Status, upd.At, upd.Shipper, upd.TrackingNumber}
	case "delivered":
		q = `UPDATE linescout_handoffs SET status = $2, delivered_at = $3, updated_at = NOW() WHERE id = $1;`
		args = []any{id, upd.Status, upd.At}
	case "cancelled":
		q = `UPDATE linescout_handoffs SET status = $2, cancelled_at = $3, cancel_reason = $4, updated_at = NOW() WHERE id = $1;`
		args = []any{id, upd.Status, upd.At, upd.CancelReason}
	default:
		return fmt.Errorf("unsupported handoff status update %q", upd.Status)
	}

	ct, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("apply handoff transition: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListHandoffsForUser returns the user's sourcing requests, newest first.
func (r *PostgresRepository) ListHandoffsForUser(ctx context.Context, userID string) ([]Handoff, error) {
	q := `SELECT ` + handoffColumns + ` FROM linescout_handoffs WHERE user_id = $1 ORDER BY created_at DESC;`
	return r.listHandoffs(ctx, q, userID)
}

// ListHandoffsForAgent returns handoffs claimed by the agent plus unclaimed
// pending ones.
func (r *PostgresRepository) ListHandoffsForAgent(ctx context.Context, agentID string) ([]Handoff, error) {
	q := `
SELECT ` + handoffColumns + `
FROM linescout_handoffs
WHERE claimed_by = $1 OR (claimed_by IS NULL AND status = 'pending')
ORDER BY created_at DESC;`
	return r.listHandoffs(ctx, q, agentID)
}

func (r *PostgresRepository) listHandoffs(ctx context.Context, q string, args ...any) ([]Handoff, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list handoffs: %w", err)
	}
	defer rows.Close()

	var handoffs []Handoff
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, err
		}
		handoffs = append(handoffs, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handoffs: %w", err)
	}
	return handoffs, nil
}

func scanHandoff(row rowScanner) (*Handoff, error) {
	var h Handoff
	if err := row.Scan(
		&h.ID, &h.UserID, &h.ConversationID, &h.RouteType, &h.Status, &h.ClaimedBy,
		&h.Shipper, &h.TrackingNumber, &h.CancelReason,
		&h.ManufacturerFoundAt, &h.PaidAt, &h.ShippedAt, &h.DeliveredAt, &h.CancelledAt,
		&h.CreatedAt, &h.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan handoff: %w", err)
	}
	return &h, nil
}
