package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"linescout/internal/auth"
	"linescout/internal/config"
	"linescout/internal/payout"
	"linescout/internal/repo"
)

// payoutFlow maps the authenticated role onto the payout flow.
func payoutFlow(ident auth.Identity) string {
	if ident.Role.Staff() {
		return payout.FlowAgent
	}
	return payout.FlowUser
}

type payoutAccountRequest struct {
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

func (s *Server) handleSavePayoutAccount(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	var req payoutAccountRequest
	if err := decodeJSON(r, &req); err != nil ||
		strings.TrimSpace(req.BankName) == "" ||
		strings.TrimSpace(req.AccountNumber) == "" ||
		strings.TrimSpace(req.AccountName) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "bank_name, account_number and account_name are required")
		return
	}

	acct, err := s.deps.Payouts.SaveAccount(r.Context(), repo.PayoutAccount{
		OwnerType:     payoutFlow(ident),
		OwnerID:       ident.UserID,
		BankName:      strings.TrimSpace(req.BankName),
		AccountNumber: strings.TrimSpace(req.AccountNumber),
		AccountName:   strings.TrimSpace(req.AccountName),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "account": payoutAccountView(acct)})
}

func (s *Server) handleGetPayoutAccount(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	acct, err := s.deps.Payouts.GetAccount(r.Context(), payoutFlow(ident), ident.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "account": payoutAccountView(acct)})
}

type payoutRequestRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleRequestPayout(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	var req payoutRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	pr, err := s.deps.Payouts.Request(r.Context(), payoutFlow(ident), ident.UserID, req.Amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "request": payoutRequestView(pr)})
}

func (s *Server) handleListPendingPayouts(w http.ResponseWriter, r *http.Request) {
	flow := r.URL.Query().Get("flow")
	if flow == "" {
		flow = payout.FlowAgent
	}
	reqs, err := s.deps.Payouts.ListPending(r.Context(), flow)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(reqs))
	for _, pr := range reqs {
		views = append(views, payoutRequestView(&pr))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "requests": views})
}

type payoutDecisionRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

func (s *Server) handleDecideAgentPayout(w http.ResponseWriter, r *http.Request) {
	var req payoutDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	pr, err := s.deps.Payouts.DecideAgent(r.Context(), chi.URLParam(r, "id"), req.Approve, strings.TrimSpace(req.Note))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "request": payoutRequestView(pr)})
}

type payoutRejectRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleRejectUserPayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRejectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	pr, err := s.deps.Payouts.RejectUser(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Note))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "request": payoutRequestView(pr)})
}

func (s *Server) handleVerifyPayoutAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Payouts.VerifyAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Settings.Get(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "settings": cfg})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req config.Settings
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := s.deps.Settings.Update(r.Context(), req); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "settings": req})
}

func payoutAccountView(a *repo.PayoutAccount) map[string]any {
	return map[string]any{
		"id":             a.ID,
		"bank_name":      a.BankName,
		"account_number": a.AccountNumber,
		"account_name":   a.AccountName,
		"verified":       a.Verified,
	}
}

func payoutRequestView(pr *repo.PayoutRequest) map[string]any {
	return map[string]any{
		"id":                pr.ID,
		"owner_id":          pr.OwnerID,
		"payout_account_id": pr.PayoutAccountID,
		"amount":            pr.Amount,
		"status":            pr.Status,
		"admin_note":        pr.AdminNote,
		"created_at":        pr.CreatedAt,
		"decided_at":        pr.DecidedAt,
	}
}
