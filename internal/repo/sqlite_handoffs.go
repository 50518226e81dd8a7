package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const sqliteHandoffColumns = `id, user_id, conversation_id, route_type, status, claimed_by,
       shipper, tracking_number, cancel_reason,
       manufacturer_found_at, paid_at, shipped_at, delivered_at, cancelled_at,
       created_at, updated_at`

func (r *SQLiteRepository) CreateHandoff(ctx context.Context, nh NewHandoff) (*Handoff, error) {
	id := randomUUID()
	const q = `
INSERT INTO linescout_handoffs (id, user_id, conversation_id, route_type)
VALUES (?, ?, ?, ?);`
	if _, err := r.db.ExecContext(ctx, q, id, nh.UserID, nh.ConversationID, nh.RouteType); err != nil {
		return nil, fmt.Errorf("insert handoff: %w", err)
	}
	return r.GetHandoff(ctx, id)
}

func (r *SQLiteRepository) GetHandoff(ctx context.Context, id string) (*Handoff, error) {
	q := `SELECT ` + sqliteHandoffColumns + ` FROM linescout_handoffs WHERE id = ? LIMIT 1;`
	h, err := scanHandoffFields(r.db.QueryRowContext(ctx, q, id).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return h, nil
}

func (r *SQLiteRepository) ApplyHandoffTransition(ctx context.Context, id string, upd HandoffStatusUpdate) error {
	var (
		q    string
		args []any
	)
	switch upd.Status {
	case "claimed":
		q = `UPDATE linescout_handoffs SET status = ?, claimed_by = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
		args = []any{upd.Status, upd.ClaimedBy, id}
	case "manufacturer_found":
		q = `UPDATE linescout_handoffs SET status = ?, manufacturer_found_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
		args = []any{upd.Status, upd.At, id}
	case "paid":
		q = `UPDATE linescout_handoffs SET status = ?, paid_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
		args = []any{upd.Status, upd.At, id}
	case "shipped":
		q = `UPDATE linescout_handoffs SET status = ?, shipped_at = ?, shipper = ?, tracking_number = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
		args = []any{upd.Status, upd.At, upd.Shipper, upd.TrackingNumber, id}
	case "delivered":
		q = `UPDATE linescout_handoffs SET status = ?, delivered_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
		args = []any{upd.Status, upd.At, id}
	case "cancelled":
		q = `UPDATE linescout_handoffs SET status = ?, cancelled_at = ?, cancel_reason = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
		args = []any{upd.Status, upd.At, upd.CancelReason, id}
	default:
		return fmt.Errorf("unsupported handoff status update %q", upd.Status)
	}

	ct, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("apply handoff transition: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) ListHandoffsForUser(ctx context.Context, userID string) ([]Handoff, error) {
	q := `SELECT ` + sqliteHandoffColumns + ` FROM linescout_handoffs WHERE user_id = ? ORDER BY created_at DESC;`
	return r.listHandoffs(ctx, q, userID)
}

func (r *SQLiteRepository) ListHandoffsForAgent(ctx context.Context, agentID string) ([]Handoff, error) {
	q := `
SELECT ` + sqliteHandoffColumns + `
FROM linescout_handoffs
WHERE claimed_by = ? OR (claimed_by IS NULL AND status = 'pending')
ORDER BY created_at DESC;`
	return r.listHandoffs(ctx, q, agentID)
}

func (r *SQLiteRepository) listHandoffs(ctx context.Context, q string, args ...any) ([]Handoff, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list handoffs: %w", err)
	}
	defer rows.Close()

	var handoffs []Handoff
	for rows.Next() {
		h, err := scanHandoffFields(rows.Scan)
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

func scanHandoffFields(scan func(...any) error) (*Handoff, error) {
	var (
		h              Handoff
		conversationID sql.NullString
		claimedBy      sql.NullString
		shipper        sql.NullString
		tracking       sql.NullString
		cancelReason   sql.NullString
		mfFoundAt      sql.NullTime
		paidAt         sql.NullTime
		shippedAt      sql.NullTime
		deliveredAt    sql.NullTime
		cancelledAt    sql.NullTime
	)
	if err := scan(
		&h.ID, &h.UserID, &conversationID, &h.RouteType, &h.Status, &claimedBy,
		&shipper, &tracking, &cancelReason,
		&mfFoundAt, &paidAt, &shippedAt, &deliveredAt, &cancelledAt,
		&h.CreatedAt, &h.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan handoff: %w", err)
	}
	h.ConversationID = strPtr(conversationID)
	h.ClaimedBy = strPtr(claimedBy)
	h.Shipper = strPtr(shipper)
	h.TrackingNumber = strPtr(tracking)
	h.CancelReason = strPtr(cancelReason)
	h.ManufacturerFoundAt = timePtr(mfFoundAt)
	h.PaidAt = timePtr(paidAt)
	h.ShippedAt = timePtr(shippedAt)
	h.DeliveredAt = timePtr(deliveredAt)
	h.CancelledAt = timePtr(cancelledAt)
	return &h, nil
}
