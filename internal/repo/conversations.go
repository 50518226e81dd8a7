package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const conversationColumns = `id, user_id, route_type, conversation_kind, chat_mode,
       human_message_limit, human_message_used, human_access_expires_at,
       payment_status, project_status, assigned_agent_id, handoff_id,
       created_at, updated_at`

// GetConversation retrieves a conversation by id.
func (r *PostgresRepository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM linescout_conversations WHERE id = $1 LIMIT 1;`
	return scanConversation(r.pool.QueryRow(ctx, q, id))
}

// EnsurePrimaryConversation returns the primary conversation for the
// (user, route_type) pair, creating it on first access.
func (r *PostgresRepository) EnsurePrimaryConversation(ctx context.Context, userID, routeType string) (*Conversation, error) {
	q := `
INSERT INTO linescout_conversations (user_id, route_type, conversation_kind)
VALUES ($1, $2, 'primary')
ON CONFLICT (user_id, route_type) WHERE conversation_kind = 'primary'
DO UPDATE SET updated_at = NOW()
RETURNING ` + conversationColumns + `;`
	return scanConversation(r.pool.QueryRow(ctx, q, userID, routeType))
}

// LatestQuickHuman returns the most recently created quick_human
// conversation for the pair, or ErrNotFound.
func (r *PostgresRepository) LatestQuickHuman(ctx context.Context, userID, routeType string) (*Conversation, error) {
	q := `
SELECT ` + conversationColumns + `
FROM linescout_conversations
WHERE user_id = $1 AND route_type = $2 AND conversation_kind = 'quick_human'
ORDER BY created_at DESC
LIMIT 1;`
	return scanConversation(r.pool.QueryRow(ctx, q, userID, routeType))
}

// CreateQuickHuman spawns a new ephemeral human-escalation conversation
// already in the limited tier.
func (r *PostgresRepository) CreateQuickHuman(ctx context.Context, userID, routeType string, limit int, expiresAt time.Time) (*Conversation, error) {
	q := `
INSERT INTO linescout_conversations
    (user_id, route_type, conversation_kind, chat_mode, human_message_limit, human_message_used, human_access_expires_at)
VALUES ($1, $2, 'quick_human', 'limited_human', $3, 0, $4)
RETURNING ` + conversationColumns + `;`
	return scanConversation(r.pool.QueryRow(ctx, q, userID, routeType, limit, expiresAt))
}

// ResetConversationTier drops a conversation back to the AI-only tier.
func (r *PostgresRepository) ResetConversationTier(ctx context.Context, id string) error {
	const q = `
UPDATE linescout_conversations
SET chat_mode = 'ai_only',
    human_message_limit = 0,
    human_message_used = 0,
    human_access_expires_at = NULL,
    updated_at = NOW()
WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("reset conversation tier: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementHumanMessageUsed bumps the used counter and returns the new value.
func (r *PostgresRepository) IncrementHumanMessageUsed(ctx context.Context, id string) (int, error) {
	const q = `
UPDATE linescout_conversations
SET human_message_used = human_message_used + 1, updated_at = NOW()
WHERE id = $1
RETURNING human_message_used;`
	var used int
	if err := r.pool.QueryRow(ctx, q, id).Scan(&used); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment human message used: %w", err)
	}
	return used, nil
}

// AssignConversationAgent claims a conversation for an agent. Without
// override the claim only succeeds while the conversation is unassigned.
func (r *PostgresRepository) AssignConversationAgent(ctx context.Context, conversationID, agentID string, override bool) error {
	q := `
UPDATE linescout_conversations
SET assigned_agent_id = $2, updated_at = NOW()
WHERE id = $1 AND assigned_agent_id IS NULL;`
	if override {
		q = `
UPDATE linescout_conversations
SET assigned_agent_id = $2, updated_at = NOW()
WHERE id = $1;`
	}
	ct, err := r.pool.Exec(ctx, q, conversationID, agentID)
	if err != nil {
		return fmt.Errorf("assign conversation agent: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// LinkConversationHandoff ties a conversation to its sourcing request.
func (r *PostgresRepository) LinkConversationHandoff(ctx context.Context, conversationID, handoffID string) error {
	const q = `UPDATE linescout_conversations SET handoff_id = $2, updated_at = NOW() WHERE id = $1;`
	ct, err := r.pool.Exec(ctx, q, conversationID, handoffID)
	if err != nil {
		return fmt.Errorf("link conversation handoff: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelConversationsForHandoff marks conversations linked to a cancelled
// handoff as cancelled projects.
func (r *PostgresRepository) CancelConversationsForHandoff(ctx context.Context, handoffID string) error {
	const q = `
UPDATE linescout_conversations
SET project_status = 'cancelled', updated_at = NOW()
WHERE handoff_id = $1;`
	if _, err := r.pool.Exec(ctx, q, handoffID); err != nil {
		return fmt.Errorf("cancel conversations for handoff: %w", err)
	}
	return nil
}

// LatestAgentForHandoff resolves the assigned agent via the most recent
// conversation linked to the handoff that has one.
func (r *PostgresRepository) LatestAgentForHandoff(ctx context.Context, handoffID string) (string, error) {
	const q = `
SELECT assigned_agent_id
FROM linescout_conversations
WHERE handoff_id = $1 AND assigned_agent_id IS NOT NULL
ORDER BY updated_at DESC
LIMIT 1;`
	var agentID string
	if err := r.pool.QueryRow(ctx, q, handoffID).Scan(&agentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("latest agent for handoff: %w", err)
	}
	return agentID, nil
}

// ListAgentInbox returns conversations assigned to the agent plus unclaimed
// ones awaiting a claim.
func (r *PostgresRepository) ListAgentInbox(ctx context.Context, agentID string) ([]Conversation, error) {
	q := `
SELECT ` + conversationColumns + `
FROM linescout_conversations
WHERE assigned_agent_id = $1 OR assigned_agent_id IS NULL
ORDER BY updated_at DESC;`
	rows, err := r.pool.Query(ctx, q, agentID)
	if err != nil {
		return nil, fmt.Errorf("list agent inbox: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
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

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(
		&c.ID, &c.UserID, &c.RouteType, &c.ConversationKind, &c.ChatMode,
		&c.HumanMessageLimit, &c.HumanMessageUsed, &c.HumanAccessExpiresAt,
		&c.PaymentStatus, &c.ProjectStatus, &c.AssignedAgentID, &c.HandoffID,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}
