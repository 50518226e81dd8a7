package httpserver

import (
	"net/http"
	"strconv"

	"linescout/internal/auth"
	"linescout/internal/ledger"
	"linescout/internal/repo"
)

// walletOwner maps the authenticated role onto the wallet owner type. Staff
// accounts hold agent wallets; customers hold user wallets.
func walletOwner(ident auth.Identity) string {
	if ident.Role.Staff() {
		return ledger.OwnerAgent
	}
	return ledger.OwnerUser
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	wallet, err := s.deps.Wallets.Get(r.Context(), walletOwner(ident), ident.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "wallet": walletView(wallet)})
}

func (s *Server) handleWalletTransactions(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	wallet, err := s.deps.Wallets.Get(r.Context(), walletOwner(ident), ident.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txs, err := s.deps.Wallets.History(r.Context(), wallet.ID, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(txs))
	for _, t := range txs {
		views = append(views, map[string]any{
			"id":             t.ID,
			"type":           t.Type,
			"amount":         t.Amount,
			"reason":         t.Reason,
			"reference_type": t.ReferenceType,
			"reference_id":   t.ReferenceID,
			"created_at":     t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "transactions": views})
}

func walletView(w *repo.Wallet) map[string]any {
	return map[string]any{
		"id":         w.ID,
		"owner_type": w.OwnerType,
		"owner_id":   w.OwnerID,
		"balance":    w.Balance,
		"currency":   w.Currency,
		"updated_at": w.UpdatedAt,
	}
}
