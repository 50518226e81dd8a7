// Package payout implements the withdrawal workflow: request creation
// against wallet balance and admin approve/reject with balance
// reconciliation.
package payout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"linescout/internal/ledger"
	"linescout/internal/metrics"
	"linescout/internal/repo"
)

// Payout flows. The user flow pre-debits the wallet at request time; the
// agent flow does not (agent wallets are settled at actual payout).
const (
	FlowUser  = "user"
	FlowAgent = "agent"
)

var (
	// ErrAccountNotVerified rejects a request against an unverified bank
	// account.
	ErrAccountNotVerified = errors.New("payout account is not verified")
	// ErrNoteRequired rejects a rejection without an admin note.
	ErrNoteRequired = errors.New("a note is required when rejecting")
	// ErrInvalidAmount rejects non-positive amounts.
	ErrInvalidAmount = errors.New("payout amount must be positive")
)

// Service drives payout requests and admin decisions.
type Service struct {
	repo    repo.Repository
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(r repo.Repository, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    r,
		logger:  logger.With("component", "payout"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SaveAccount stores or replaces the owner's payout bank account. Changing
// the account clears any previous verification.
func (s *Service) SaveAccount(ctx context.Context, acct repo.PayoutAccount) (*repo.PayoutAccount, error) {
	return s.repo.UpsertPayoutAccount(ctx, acct)
}

// GetAccount loads the owner's payout bank account.
func (s *Service) GetAccount(ctx context.Context, ownerType, ownerID string) (*repo.PayoutAccount, error) {
	return s.repo.GetPayoutAccount(ctx, ownerType, ownerID)
}

// VerifyAccount marks a payout account as verified. Admin operation.
func (s *Service) VerifyAccount(ctx context.Context, accountID string) error {
	return s.repo.SetPayoutAccountVerified(ctx, accountID, true)
}

// Request opens a payout request for the owner. Both flows require a
// verified bank account. The user flow additionally holds the amount by
// debiting the wallet in the same transaction as the request insert;
// insufficient balance fails before any write.
func (s *Service) Request(ctx context.Context, flow, ownerID string, amount int64) (*repo.PayoutRequest, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	acct, err := s.repo.GetPayoutAccount(ctx, flow, ownerID)
	if err != nil {
		return nil, err
	}
	if !acct.Verified {
		return nil, ErrAccountNotVerified
	}

	var req *repo.PayoutRequest
	switch flow {
	case FlowUser:
		req, err = s.repo.CreateUserPayoutRequest(ctx, ownerID, acct.ID, amount)
	case FlowAgent:
		req, err = s.repo.CreateAgentPayoutRequest(ctx, ownerID, acct.ID, amount)
	default:
		return nil, errors.New("unknown payout flow")
	}
	if err != nil {
		return nil, err
	}
	if flow == FlowUser {
		s.metrics.WalletMovements.WithLabelValues("debit", ledger.RefUserPayoutRequest).Inc()
	}
	s.logger.Info("payout requested", "flow", flow, "request_id", req.ID, "owner_id", ownerID, "amount", amount)
	return req, nil
}

// DecideAgent approves or rejects a pending agent payout request. The row is
// locked before the status check; deciding a non-pending request fails with
// repo.ErrConflict. Rejection requires a note. No wallet movement happens in
// either direction.
func (s *Service) DecideAgent(ctx context.Context, requestID string, approve bool, note string) (*repo.PayoutRequest, error) {
	status := "approved"
	if !approve {
		if note == "" {
			return nil, ErrNoteRequired
		}
		status = "rejected"
	}
	req, err := s.repo.DecideAgentPayoutRequest(ctx, requestID, status, note, s.now())
	if err != nil {
		return nil, err
	}
	s.metrics.PayoutDecisions.WithLabelValues(FlowAgent, status).Inc()
	s.logger.Info("agent payout decided", "request_id", requestID, "status", status)
	return req, nil
}

// RejectUser rejects a pending user payout request and credits the held
// amount back to the user's wallet in the same transaction.
func (s *Service) RejectUser(ctx context.Context, requestID, note string) (*repo.PayoutRequest, error) {
	req, err := s.repo.RejectUserPayoutRequest(ctx, requestID, note, s.now())
	if err != nil {
		return nil, err
	}
	s.metrics.PayoutDecisions.WithLabelValues(FlowUser, "rejected").Inc()
	s.metrics.WalletMovements.WithLabelValues("credit", ledger.RefUserPayoutRefund).Inc()
	s.logger.Info("user payout rejected", "request_id", requestID)
	return req, nil
}

// ListPending returns pending requests for the admin console.
func (s *Service) ListPending(ctx context.Context, flow string) ([]repo.PayoutRequest, error) {
	return s.repo.ListPendingPayoutRequests(ctx, flow)
}
