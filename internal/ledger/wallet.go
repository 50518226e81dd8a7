package ledger

import (
	"context"
	"log/slog"

	"linescout/internal/metrics"
	"linescout/internal/repo"
)

// Wallet owner types.
const (
	OwnerUser  = "user"
	OwnerAgent = "agent"
)

// WalletService reads and mutates wallet balances through the ledger.
type WalletService struct {
	repo     repo.Repository
	logger   *slog.Logger
	metrics  *metrics.Metrics
	currency string
}

func NewWalletService(r repo.Repository, logger *slog.Logger, m *metrics.Metrics, currency string) *WalletService {
	return &WalletService{
		repo:     r,
		logger:   logger.With("component", "ledger"),
		metrics:  m,
		currency: currency,
	}
}

// Get returns the owner's wallet, creating an empty one on first touch.
func (s *WalletService) Get(ctx context.Context, ownerType, ownerID string) (*repo.Wallet, error) {
	return s.repo.EnsureWallet(ctx, ownerType, ownerID, s.currency)
}

// Apply records one credit or debit. Movements carrying a reference that was
// already recorded are silent no-ops.
func (s *WalletService) Apply(ctx context.Context, mv repo.WalletMovement) error {
	if mv.Currency == "" {
		mv.Currency = s.currency
	}
	if err := s.repo.ApplyWalletMovement(ctx, mv); err != nil {
		return err
	}
	s.metrics.WalletMovements.WithLabelValues(mv.Type, mv.ReferenceType).Inc()
	s.logger.Info("wallet movement applied",
		"owner_type", mv.OwnerType, "owner_id", mv.OwnerID,
		"type", mv.Type, "amount", mv.Amount, "reference_type", mv.ReferenceType)
	return nil
}

// History returns recent ledger entries for a wallet.
func (s *WalletService) History(ctx context.Context, walletID string, limit int) ([]repo.WalletTransaction, error) {
	return s.repo.ListWalletTransactions(ctx, walletID, limit)
}

// Reconcile recomputes the balance from the transaction log and reports
// whether the stored balance matches.
func (s *WalletService) Reconcile(ctx context.Context, ownerType, ownerID string) (stored, computed int64, ok bool, err error) {
	w, err := s.repo.GetWallet(ctx, ownerType, ownerID)
	if err != nil {
		return 0, 0, false, err
	}
	computed, err = s.repo.SumWalletTransactions(ctx, w.ID)
	if err != nil {
		return 0, 0, false, err
	}
	return w.Balance, computed, w.Balance == computed, nil
}
