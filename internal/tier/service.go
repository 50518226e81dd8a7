package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"linescout/internal/metrics"
	"linescout/internal/repo"
)

var (
	// ErrForbidden rejects a sender the access rules do not permit.
	ErrForbidden = errors.New("sender not permitted on this conversation")
	// ErrNotOwner rejects a user writing to somebody else's conversation.
	ErrNotOwner = errors.New("conversation belongs to another user")
	// ErrNotAssigned rejects an agent touching a conversation claimed by
	// another agent.
	ErrNotAssigned = errors.New("conversation is claimed by another agent")
)

// Responder produces the AI reply for a user message. The HTTP gateway client
// implements it; tests substitute a canned one.
type Responder interface {
	Reply(ctx context.Context, sessionID, message string, history []repo.Message) (string, error)
}

// Service owns conversation access tiers and the message log.
type Service struct {
	repo      repo.Repository
	responder Responder
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewService builds the tier service. responder may be nil when no AI gateway
// is configured; user messages on ai_only conversations then fail.
func NewService(r repo.Repository, responder Responder, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:      r,
		responder: responder,
		logger:    logger.With("component", "tier"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// EnsurePrimary returns the user's primary conversation for the route,
// creating it in ai_only mode on first touch.
func (s *Service) EnsurePrimary(ctx context.Context, userID, routeType string) (*repo.Conversation, error) {
	return s.repo.EnsurePrimaryConversation(ctx, userID, routeType)
}

// StartQuickHuman opens a rate-limited human escalation for (user, route).
// A still-active escalation is returned as is. A spent one inside the
// cooldown window yields a CooldownError carrying the remaining wait.
func (s *Service) StartQuickHuman(ctx context.Context, userID, routeType string) (*repo.Conversation, error) {
	now := s.now()

	latest, err := s.repo.LatestQuickHuman(ctx, userID, routeType)
	switch {
	case err == nil:
		if Active(latest, now) {
			return latest, nil
		}
		if since := now.Sub(latest.CreatedAt); since < QuickHumanCooldown {
			return nil, &CooldownError{RetryAfter: QuickHumanCooldown - since}
		}
	case errors.Is(err, repo.ErrNotFound):
		// First escalation for this route.
	default:
		return nil, err
	}

	conv, err := s.repo.CreateQuickHuman(ctx, userID, routeType, QuickHumanMessageLimit, now.Add(QuickHumanWindow))
	if err != nil {
		return nil, err
	}
	s.metrics.TierTransitions.WithLabelValues(ModeAIOnly, ModeLimitedHuman).Inc()
	s.logger.Info("quick human escalation started",
		"conversation_id", conv.ID, "user_id", userID, "route_type", routeType)
	return conv, nil
}

// RefreshHumanAccess lazily expires a limited-human conversation. It returns
// the up-to-date conversation and whether access ended on this call.
func (s *Service) RefreshHumanAccess(ctx context.Context, conversationID string) (*repo.Conversation, bool, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	if !Expired(conv, s.now()) {
		return conv, false, nil
	}
	if err := s.reset(ctx, conv); err != nil {
		return nil, false, err
	}
	conv, err = s.repo.GetConversation(ctx, conversationID)
	return conv, true, err
}

// ConsumeHumanMessage spends one unit of the limited-human budget. A
// conversation outside limited_human is a no-op. The message that exhausts
// the budget is still allowed through; the tier drops immediately after it
// (ended=true). An already expired or exhausted conversation is reset
// without consuming (ended=true as well).
func (s *Service) ConsumeHumanMessage(ctx context.Context, conv *repo.Conversation) (ended bool, err error) {
	if conv.ChatMode != ModeLimitedHuman {
		return false, nil
	}
	if Expired(conv, s.now()) {
		return true, s.reset(ctx, conv)
	}
	used, err := s.repo.IncrementHumanMessageUsed(ctx, conv.ID)
	if err != nil {
		return false, err
	}
	conv.HumanMessageUsed = used
	if used >= conv.HumanMessageLimit {
		return true, s.reset(ctx, conv)
	}
	return false, nil
}

func (s *Service) reset(ctx context.Context, conv *repo.Conversation) error {
	if err := s.repo.ResetConversationTier(ctx, conv.ID); err != nil {
		return err
	}
	s.metrics.TierTransitions.WithLabelValues(ModeLimitedHuman, ModeAIOnly).Inc()
	s.logger.Info("human access ended", "conversation_id", conv.ID,
		"used", conv.HumanMessageUsed, "limit", conv.HumanMessageLimit)
	conv.ChatMode = ModeAIOnly
	conv.HumanMessageLimit = 0
	conv.HumanMessageUsed = 0
	conv.HumanAccessExpiresAt = nil
	return nil
}

// SendMessageParams describes one inbound chat message.
type SendMessageParams struct {
	ConversationID string
	SenderType     string // "user" or "agent"; "ai" is never accepted directly
	SenderID       string
	SenderIsAdmin  bool
	Body           string
}

// SendResult reports the appended message, the AI reply when one was
// produced, and whether limited-human access ended with this message.
type SendResult struct {
	Conversation *repo.Conversation
	Message      *repo.Message
	Reply        *repo.Message
	Ended        bool
}

// SendMessage validates the sender against the conversation's access tier,
// appends the message, and routes ai_only user messages through the AI
// responder.
func (s *Service) SendMessage(ctx context.Context, p SendMessageParams) (*SendResult, error) {
	if p.Body == "" {
		s.metrics.MessagesRejected.WithLabelValues("empty_body").Inc()
		return nil, fmt.Errorf("message body is empty")
	}

	conv, err := s.repo.GetConversation(ctx, p.ConversationID)
	if err != nil {
		return nil, err
	}
	now := s.now()

	switch p.SenderType {
	case "user":
		if conv.UserID != p.SenderID {
			s.metrics.MessagesRejected.WithLabelValues("not_owner").Inc()
			return nil, ErrNotOwner
		}
	case "agent":
		if err := s.checkAgentAccess(conv, p.SenderID, p.SenderIsAdmin, now); err != nil {
			return nil, err
		}
	default:
		s.metrics.MessagesRejected.WithLabelValues("forbidden_sender").Inc()
		return nil, ErrForbidden
	}

	res := &SendResult{Conversation: conv}
	wasAIOnly := conv.ChatMode == ModeAIOnly

	if p.SenderType == "user" {
		ended, err := s.ConsumeHumanMessage(ctx, conv)
		if err != nil {
			return nil, err
		}
		res.Ended = ended
	}

	msg, err := s.repo.InsertMessage(ctx, conv.ID, p.SenderType, &p.SenderID, p.Body)
	if err != nil {
		return nil, err
	}
	res.Message = msg
	s.metrics.MessagesAccepted.WithLabelValues(p.SenderType).Inc()

	if p.SenderType == "user" && wasAIOnly {
		reply, err := s.aiReply(ctx, conv, p.Body)
		if err != nil {
			return nil, err
		}
		res.Reply = reply
	}
	return res, nil
}

func (s *Service) aiReply(ctx context.Context, conv *repo.Conversation, body string) (*repo.Message, error) {
	if s.responder == nil {
		return nil, fmt.Errorf("no AI responder configured")
	}
	history, err := s.repo.ListMessages(ctx, conv.ID, 0, 50)
	if err != nil {
		return nil, err
	}
	text, err := s.responder.Reply(ctx, conv.ID, body, history)
	if err != nil {
		s.metrics.Errors.WithLabelValues("ai_gateway").Inc()
		return nil, fmt.Errorf("ai gateway: %w", err)
	}
	reply, err := s.repo.InsertMessage(ctx, conv.ID, "ai", nil, text)
	if err != nil {
		return nil, err
	}
	s.metrics.MessagesAccepted.WithLabelValues("ai").Inc()
	return reply, nil
}

func (s *Service) checkAgentAccess(conv *repo.Conversation, agentID string, isAdmin bool, now time.Time) error {
	if conv.AssignedAgentID != nil && *conv.AssignedAgentID != agentID && !isAdmin {
		s.metrics.MessagesRejected.WithLabelValues("not_assigned").Inc()
		return ErrNotAssigned
	}
	paidHuman := conv.ChatMode == ModePaidHuman && conv.PaymentStatus == "paid"
	limitedHuman := Active(conv, now)
	if !paidHuman && !limitedHuman {
		s.metrics.MessagesRejected.WithLabelValues("tier_closed").Inc()
		return ErrForbidden
	}
	return nil
}

// CanRead reports whether the given staff identity may read a conversation.
// Unclaimed conversations are open to any agent; claimed ones only to the
// assignee or an admin.
func CanRead(conv *repo.Conversation, agentID string, isAdmin bool) bool {
	if isAdmin || conv.AssignedAgentID == nil {
		return true
	}
	return *conv.AssignedAgentID == agentID
}

// ClaimConversation assigns an agent. Claiming an already claimed
// conversation fails with repo.ErrConflict unless the caller is an admin
// overriding the assignment.
func (s *Service) ClaimConversation(ctx context.Context, conversationID, agentID string, isAdmin bool) (*repo.Conversation, error) {
	if err := s.repo.AssignConversationAgent(ctx, conversationID, agentID, isAdmin); err != nil {
		return nil, err
	}
	s.logger.Info("conversation claimed", "conversation_id", conversationID, "agent_id", agentID)
	return s.repo.GetConversation(ctx, conversationID)
}

// ListMessages pages the conversation log forward from the cursor.
func (s *Service) ListMessages(ctx context.Context, conversationID string, afterID int64, limit int) ([]repo.Message, error) {
	return s.repo.ListMessages(ctx, conversationID, afterID, limit)
}
