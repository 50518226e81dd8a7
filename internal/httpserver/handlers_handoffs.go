package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"linescout/internal/auth"
	"linescout/internal/handoff"
	"linescout/internal/repo"
)

type createHandoffRequest struct {
	RouteType      string  `json:"route_type"`
	ConversationID *string `json:"conversation_id"`
}

func (s *Server) handleCreateHandoff(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	var req createHandoffRequest
	if err := decodeJSON(r, &req); err != nil || !validRoutes[req.RouteType] {
		writeError(w, http.StatusBadRequest, "bad_request", "a valid route_type is required")
		return
	}

	if req.ConversationID != nil {
		conv, err := s.deps.Repository.GetConversation(r.Context(), *req.ConversationID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if conv.UserID != ident.UserID {
			writeError(w, http.StatusForbidden, "forbidden", "conversation belongs to another user")
			return
		}
	}

	h, err := s.deps.Handoffs.Create(r.Context(), repo.NewHandoff{
		UserID:         ident.UserID,
		ConversationID: req.ConversationID,
		RouteType:      req.RouteType,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "handoff": handoffView(h)})
}

func (s *Server) handleListHandoffs(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	var (
		handoffs []repo.Handoff
		err      error
	)
	if ident.Role.Staff() {
		handoffs, err = s.deps.Handoffs.ListForAgent(r.Context(), ident.UserID)
	} else {
		handoffs, err = s.deps.Handoffs.ListForUser(r.Context(), ident.UserID)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(handoffs))
	for _, h := range handoffs {
		views = append(views, handoffView(&h))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "handoffs": views})
}

func (s *Server) handleGetHandoff(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	h, err := s.deps.Handoffs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if h.UserID != ident.UserID && !ident.Role.Staff() {
		writeError(w, http.StatusForbidden, "forbidden", "no access to this handoff")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "handoff": handoffView(h)})
}

type updateHandoffStatusRequest struct {
	Status         string `json:"status"`
	Shipper        string `json:"shipper"`
	TrackingNumber string `json:"tracking_number"`
	CancelReason   string `json:"cancel_reason"`
}

func (s *Server) handleUpdateHandoffStatus(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	var req updateHandoffStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	target, err := handoff.ParseStatus(strings.TrimSpace(req.Status))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown_status", err.Error())
		return
	}

	h, err := s.deps.Handoffs.UpdateStatus(r.Context(), chi.URLParam(r, "id"), handoff.Request{
		Target:         target,
		AgentID:        ident.UserID,
		Shipper:        strings.TrimSpace(req.Shipper),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		CancelReason:   strings.TrimSpace(req.CancelReason),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if target == handoff.StatusShipped || target == handoff.StatusDelivered {
		s.notifyHandoffMilestone(r, h)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "handoff": handoffView(h)})
}

// notifyHandoffMilestone emails and pushes the customer about a shipping
// milestone. Best effort; never fails the transition.
func (s *Server) notifyHandoffMilestone(r *http.Request, h *repo.Handoff) {
	if s.deps.Notifier == nil {
		return
	}
	user, err := s.deps.Repository.GetUserByID(r.Context(), h.UserID)
	if err != nil {
		return
	}
	subject := "Your sourcing order was updated"
	body := "Your order is now " + h.Status + "."
	s.deps.Notifier.BestEffortMail(user.Email, subject, body)
	if user.ExpoPushToken != nil {
		s.deps.Notifier.BestEffortPush(r.Context(), []string{*user.ExpoPushToken}, subject, body,
			map[string]any{"handoff_id": h.ID, "status": h.Status})
	}
}

type createQuoteRequest struct {
	HandoffID      string  `json:"handoff_id"`
	ConversationID *string `json:"conversation_id"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	AgentPercent   float64 `json:"agent_percent"`
}

func (s *Server) handleCreateQuote(w http.ResponseWriter, r *http.Request) {
	var req createQuoteRequest
	if err := decodeJSON(r, &req); err != nil || req.HandoffID == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "handoff_id and a positive amount are required")
		return
	}
	if req.Currency == "" {
		req.Currency = s.deps.Config.DefaultCurrency
	}

	if _, err := s.deps.Handoffs.Get(r.Context(), req.HandoffID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	quote, err := s.deps.Repository.CreateQuote(r.Context(), repo.NewQuote{
		HandoffID:      req.HandoffID,
		ConversationID: req.ConversationID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		AgentPercent:   req.AgentPercent,
		Token:          uuid.NewString(),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.notifyQuoteCreated(r, quote)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "quote": quoteView(quote)})
}

// notifyQuoteCreated tells the customer a quote is waiting. Best effort.
func (s *Server) notifyQuoteCreated(r *http.Request, q *repo.Quote) {
	if s.deps.Notifier == nil {
		return
	}
	h, err := s.deps.Handoffs.Get(r.Context(), q.HandoffID)
	if err != nil {
		return
	}
	user, err := s.deps.Repository.GetUserByID(r.Context(), h.UserID)
	if err != nil {
		return
	}
	subject := "You have a new quote"
	body := "An agent sent you a quote for your sourcing request."
	s.deps.Notifier.BestEffortMail(user.Email, subject, body)
	if user.ExpoPushToken != nil {
		s.deps.Notifier.BestEffortPush(r.Context(), []string{*user.ExpoPushToken}, subject, body,
			map[string]any{"quote_id": q.ID, "handoff_id": q.HandoffID})
	}
}

func handoffView(h *repo.Handoff) map[string]any {
	return map[string]any{
		"id":                    h.ID,
		"user_id":               h.UserID,
		"conversation_id":       h.ConversationID,
		"route_type":            h.RouteType,
		"status":                h.Status,
		"claimed_by":            h.ClaimedBy,
		"shipper":               h.Shipper,
		"tracking_number":       h.TrackingNumber,
		"cancel_reason":         h.CancelReason,
		"manufacturer_found_at": h.ManufacturerFoundAt,
		"paid_at":               h.PaidAt,
		"shipped_at":            h.ShippedAt,
		"delivered_at":          h.DeliveredAt,
		"cancelled_at":          h.CancelledAt,
		"created_at":            h.CreatedAt,
	}
}

func quoteView(q *repo.Quote) map[string]any {
	return map[string]any{
		"id":              q.ID,
		"handoff_id":      q.HandoffID,
		"conversation_id": q.ConversationID,
		"amount":          q.Amount,
		"currency":        q.Currency,
		"agent_percent":   q.AgentPercent,
		"token":           q.Token,
		"created_at":      q.CreatedAt,
	}
}
