package handoff

import (
	"context"
	"log/slog"
	"time"

	"linescout/internal/metrics"
	"linescout/internal/repo"
)

// Service drives handoff lifecycle transitions.
type Service struct {
	repo    repo.Repository
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(r repo.Repository, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    r,
		logger:  logger.With("component", "handoff"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create opens a new pending handoff and links it back to the source
// conversation when one is given.
func (s *Service) Create(ctx context.Context, nh repo.NewHandoff) (*repo.Handoff, error) {
	h, err := s.repo.CreateHandoff(ctx, nh)
	if err != nil {
		return nil, err
	}
	if nh.ConversationID != nil {
		if err := s.repo.LinkConversationHandoff(ctx, *nh.ConversationID, h.ID); err != nil {
			return nil, err
		}
	}
	s.logger.Info("handoff created", "handoff_id", h.ID, "user_id", nh.UserID, "route_type", nh.RouteType)
	return h, nil
}

// Get loads one handoff.
func (s *Service) Get(ctx context.Context, id string) (*repo.Handoff, error) {
	return s.repo.GetHandoff(ctx, id)
}

// ListForUser returns the user's handoffs, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]repo.Handoff, error) {
	return s.repo.ListHandoffsForUser(ctx, userID)
}

// ListForAgent returns handoffs the agent claimed plus the unclaimed pool.
func (s *Service) ListForAgent(ctx context.Context, agentID string) ([]repo.Handoff, error) {
	return s.repo.ListHandoffsForAgent(ctx, agentID)
}

// UpdateStatus validates and applies one transition. Validation happens
// before any write; the mutation itself is a single UPDATE stamping the
// milestone timestamp. Cancelling also cancels linked conversations.
func (s *Service) UpdateStatus(ctx context.Context, handoffID string, req Request) (*repo.Handoff, error) {
	h, err := s.repo.GetHandoff(ctx, handoffID)
	if err != nil {
		return nil, err
	}

	noop, err := Validate(h, req)
	if err != nil {
		s.metrics.HandoffTransitions.WithLabelValues(string(req.Target), "rejected").Inc()
		return nil, err
	}
	if noop {
		s.metrics.HandoffTransitions.WithLabelValues(string(req.Target), "noop").Inc()
		return h, nil
	}

	upd := repo.HandoffStatusUpdate{Status: string(req.Target), At: s.now()}
	switch req.Target {
	case StatusClaimed:
		upd.ClaimedBy = &req.AgentID
	case StatusShipped:
		upd.Shipper = &req.Shipper
		upd.TrackingNumber = &req.TrackingNumber
	case StatusCancelled:
		upd.CancelReason = &req.CancelReason
	}

	if err := s.repo.ApplyHandoffTransition(ctx, handoffID, upd); err != nil {
		s.metrics.HandoffTransitions.WithLabelValues(string(req.Target), "error").Inc()
		return nil, err
	}
	s.metrics.HandoffTransitions.WithLabelValues(string(req.Target), "applied").Inc()
	s.logger.Info("handoff transition applied",
		"handoff_id", handoffID, "from", h.Status, "to", req.Target)

	if req.Target == StatusCancelled {
		if err := s.repo.CancelConversationsForHandoff(ctx, handoffID); err != nil {
			return nil, err
		}
	}
	return s.repo.GetHandoff(ctx, handoffID)
}
