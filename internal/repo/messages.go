package repo

import (
	"context"
	"fmt"
)

// InsertMessage appends a message to the conversation log. The returned id
// is strictly increasing within the table.
func (r *PostgresRepository) InsertMessage(ctx context.Context, conversationID, senderType string, senderID *string, body string) (*Message, error) {
	const q = `
INSERT INTO linescout_messages (conversation_id, sender_type, sender_id, body)
VALUES ($1, $2, $3, $4)
RETURNING id, conversation_id, sender_type, sender_id, body, created_at;
`
	var m Message
	if err := r.pool.QueryRow(ctx, q, conversationID, senderType, senderID, body).
		Scan(&m.ID, &m.ConversationID, &m.SenderType, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &m, nil
}

// ListMessages returns messages after the cursor id in ascending order.
func (r *PostgresRepository) ListMessages(ctx context.Context, conversationID string, afterID int64, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `
SELECT id, conversation_id, sender_type, sender_id, body, created_at
FROM linescout_messages
WHERE conversation_id = $1 AND id > $2
ORDER BY id ASC
LIMIT $3;
`
	rows, err := r.pool.Query(ctx, q, conversationID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderType, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}
