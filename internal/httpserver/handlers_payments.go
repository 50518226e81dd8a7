package httpserver

import (
	"io"
	"net/http"

	"linescout/internal/auth"
	"linescout/internal/payments"
)

type initializePaymentRequest struct {
	QuoteID  string `json:"quote_id"`
	Purpose  string `json:"purpose"`
	Provider string `json:"provider"`
}

func (s *Server) handleInitializePayment(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	var req initializePaymentRequest
	if err := decodeJSON(r, &req); err != nil || req.QuoteID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "quote_id is required")
		return
	}
	if req.Purpose == "" {
		req.Purpose = "full_payment"
	}

	user, err := s.deps.Repository.GetUserByID(r.Context(), ident.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	init, err := s.deps.Payments.Initialize(r.Context(), payments.InitializeParams{
		QuoteID:  req.QuoteID,
		UserID:   ident.UserID,
		Email:    user.Email,
		Purpose:  req.Purpose,
		Provider: req.Provider,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "payment": init})
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	reference := r.URL.Query().Get("reference")
	if provider == "" || reference == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "provider and reference are required")
		return
	}
	outcome, err := s.deps.Payments.Verify(r.Context(), provider, reference)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": outcome})
}

func (s *Server) handlePaystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	signature := r.Header.Get("x-paystack-signature")
	if err := s.deps.Payments.HandlePaystackWebhook(r.Context(), body, signature); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
