package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// -- Users --

func (r *SQLiteRepository) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	id := randomUUID()
	const q = `
INSERT INTO linescout_users (id, email, display_name, role, password_hash)
VALUES (?, ?, ?, ?, ?);
`
	if _, err := r.db.ExecContext(ctx, q, id, nu.Email, nu.DisplayName, nu.Role, nu.PasswordHash); err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return r.GetUserByID(ctx, id)
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	const q = `
SELECT id, email, display_name, role, password_hash, expo_push_token, created_at, updated_at
FROM linescout_users
WHERE id = ?
LIMIT 1;
`
	return r.scanUserRow(r.db.QueryRowContext(ctx, q, id))
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	const q = `
SELECT id, email, display_name, role, password_hash, expo_push_token, created_at, updated_at
FROM linescout_users
WHERE email = ?
LIMIT 1;
`
	return r.scanUserRow(r.db.QueryRowContext(ctx, q, email))
}

func (r *SQLiteRepository) SetExpoPushToken(ctx context.Context, userID, token string) error {
	const q = `UPDATE linescout_users SET expo_push_token = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	ct, err := r.db.ExecContext(ctx, q, token, userID)
	if err != nil {
		return fmt.Errorf("set expo push token: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) scanUserRow(row *sql.Row) (*User, error) {
	var (
		u           User
		displayName sql.NullString
		pushToken   sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &displayName, &u.Role, &u.PasswordHash, &pushToken, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.DisplayName = strPtr(displayName)
	u.ExpoPushToken = strPtr(pushToken)
	return &u, nil
}

// -- Conversations --

const sqliteConversationColumns = `id, user_id, route_type, conversation_kind, chat_mode,
       human_message_limit, human_message_used, human_access_expires_at,
       payment_status, project_status, assigned_agent_id, handoff_id,
       created_at, updated_at`

func (r *SQLiteRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	q := `SELECT ` + sqliteConversationColumns + ` FROM linescout_conversations WHERE id = ? LIMIT 1;`
	return scanSQLiteConversation(r.db.QueryRowContext(ctx, q, id))
}

func (r *SQLiteRepository) EnsurePrimaryConversation(ctx context.Context, userID, routeType string) (*Conversation, error) {
	sel := `
SELECT ` + sqliteConversationColumns + `
FROM linescout_conversations
WHERE user_id = ? AND route_type = ? AND conversation_kind = 'primary'
LIMIT 1;`
	conv, err := scanSQLiteConversation(r.db.QueryRowContext(ctx, sel, userID, routeType))
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id := randomUUID()
	const ins = `
INSERT INTO linescout_conversations (id, user_id, route_type, conversation_kind)
VALUES (?, ?, ?, 'primary');`
	if _, err := r.db.ExecContext(ctx, ins, id, userID, routeType); err != nil {
		if isSQLiteUniqueViolation(err) {
			// Lost a create race; the existing row wins.
			return scanSQLiteConversation(r.db.QueryRowContext(ctx, sel, userID, routeType))
		}
		return nil, fmt.Errorf("insert primary conversation: %w", err)
	}
	return r.GetConversation(ctx, id)
}

func (r *SQLiteRepository) LatestQuickHuman(ctx context.Context, userID, routeType string) (*Conversation, error) {
	q := `
SELECT ` + sqliteConversationColumns + `
FROM linescout_conversations
WHERE user_id = ? AND route_type = ? AND conversation_kind = 'quick_human'
ORDER BY created_at DESC, rowid DESC
LIMIT 1;`
	return scanSQLiteConversation(r.db.QueryRowContext(ctx, q, userID, routeType))
}

func (r *SQLiteRepository) CreateQuickHuman(ctx context.Context, userID, routeType string, limit int, expiresAt time.Time) (*Conversation, error) {
	id := randomUUID()
	const q = `
INSERT INTO linescout_conversations
    (id, user_id, route_type, conversation_kind, chat_mode, human_message_limit, human_message_used, human_access_expires_at)
VALUES (?, ?, ?, 'quick_human', 'limited_human', ?, 0, ?);`
	if _, err := r.db.ExecContext(ctx, q, id, userID, routeType, limit, expiresAt); err != nil {
		return nil, fmt.Errorf("insert quick human conversation: %w", err)
	}
	return r.GetConversation(ctx, id)
}

func (r *SQLiteRepository) ResetConversationTier(ctx context.Context, id string) error {
	const q = `
UPDATE linescout_conversations
SET chat_mode = 'ai_only',
    human_message_limit = 0,
    human_message_used = 0,
    human_access_expires_at = NULL,
    updated_at = CURRENT_TIMESTAMP
WHERE id = ?;`
	ct, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("reset conversation tier: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) IncrementHumanMessageUsed(ctx context.Context, id string) (int, error) {
	const q = `
UPDATE linescout_conversations
SET human_message_used = human_message_used + 1, updated_at = CURRENT_TIMESTAMP
WHERE id = ?
RETURNING human_message_used;`
	var used int
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment human message used: %w", err)
	}
	return used, nil
}

func (r *SQLiteRepository) AssignConversationAgent(ctx context.Context, conversationID, agentID string, override bool) error {
	q := `
UPDATE linescout_conversations
SET assigned_agent_id = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND assigned_agent_id IS NULL;`
	if override {
		q = `
UPDATE linescout_conversations
SET assigned_agent_id = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ?;`
	}
	ct, err := r.db.ExecContext(ctx, q, agentID, conversationID)
	if err != nil {
		return fmt.Errorf("assign conversation agent: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r *SQLiteRepository) LinkConversationHandoff(ctx context.Context, conversationID, handoffID string) error {
	const q = `UPDATE linescout_conversations SET handoff_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?;`
	ct, err := r.db.ExecContext(ctx, q, handoffID, conversationID)
	if err != nil {
		return fmt.Errorf("link conversation handoff: %w", err)
	}
	if n, _ := ct.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) CancelConversationsForHandoff(ctx context.Context, handoffID string) error {
	const q = `
UPDATE linescout_conversations
SET project_status = 'cancelled', updated_at = CURRENT_TIMESTAMP
WHERE handoff_id = ?;`
	if _, err := r.db.ExecContext(ctx, q, handoffID); err != nil {
		return fmt.Errorf("cancel conversations for handoff: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) LatestAgentForHandoff(ctx context.Context, handoffID string) (string, error) {
	const q = `
SELECT assigned_agent_id
FROM linescout_conversations
WHERE handoff_id = ? AND assigned_agent_id IS NOT NULL
ORDER BY updated_at DESC, rowid DESC
LIMIT 1;`
	var agentID string
	if err := r.db.QueryRowContext(ctx, q, handoffID).Scan(&agentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("latest agent for handoff: %w", err)
	}
	return agentID, nil
}

func (r *SQLiteRepository) ListAgentInbox(ctx context.Context, agentID string) ([]Conversation, error) {
	q := `
SELECT ` + sqliteConversationColumns + `
FROM linescout_conversations
WHERE assigned_agent_id = ? OR assigned_agent_id IS NULL
ORDER BY updated_at DESC;`
	rows, err := r.db.QueryContext(ctx, q, agentID)
	if err != nil {
		return nil, fmt.Errorf("list agent inbox: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		c, err := scanSQLiteConversationRows(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent inbox: %w", err)
	}
	return convs, nil
}

func scanSQLiteConversation(row *sql.Row) (*Conversation, error) {
	c, err := scanConversationFields(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func scanSQLiteConversationRows(rows *sql.Rows) (*Conversation, error) {
	return scanConversationFields(rows.Scan)
}

func scanConversationFields(scan func(...any) error) (*Conversation, error) {
	var (
		c         Conversation
		expiresAt sql.NullTime
		agentID   sql.NullString
		handoffID sql.NullString
	)
	if err := scan(
		&c.ID, &c.UserID, &c.RouteType, &c.ConversationKind, &c.ChatMode,
		&c.HumanMessageLimit, &c.HumanMessageUsed, &expiresAt,
		&c.PaymentStatus, &c.ProjectStatus, &agentID, &handoffID,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.HumanAccessExpiresAt = timePtr(expiresAt)
	c.AssignedAgentID = strPtr(agentID)
	c.HandoffID = strPtr(handoffID)
	return &c, nil
}

// -- Messages --

func (r *SQLiteRepository) InsertMessage(ctx context.Context, conversationID, senderType string, senderID *string, body string) (*Message, error) {
	const q = `
INSERT INTO linescout_messages (conversation_id, sender_type, sender_id, body)
VALUES (?, ?, ?, ?)
RETURNING id, conversation_id, sender_type, sender_id, body, created_at;
`
	var (
		m      Message
		sender sql.NullString
	)
	if err := r.db.QueryRowContext(ctx, q, conversationID, senderType, senderID, body).
		Scan(&m.ID, &m.ConversationID, &m.SenderType, &sender, &m.Body, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	m.SenderID = strPtr(sender)
	return &m, nil
}

func (r *SQLiteRepository) ListMessages(ctx context.Context, conversationID string, afterID int64, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `
SELECT id, conversation_id, sender_type, sender_id, body, created_at
FROM linescout_messages
WHERE conversation_id = ? AND id > ?
ORDER BY id ASC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, conversationID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m      Message
			sender sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderType, &sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SenderID = strPtr(sender)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}
