package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"linescout/internal/auth"
	"linescout/internal/repo"
	"linescout/internal/tier"
)

var validRoutes = map[string]bool{
	"machine_sourcing": true,
	"white_label":      true,
	"simple_sourcing":  true,
}

type routeRequest struct {
	RouteType string `json:"route_type"`
}

func (s *Server) handleEnsureConversation(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	var req routeRequest
	if err := decodeJSON(r, &req); err != nil || !validRoutes[req.RouteType] {
		writeError(w, http.StatusBadRequest, "bad_request", "a valid route_type is required")
		return
	}
	conv, err := s.deps.Tier.EnsurePrimary(r.Context(), ident.UserID, req.RouteType)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "conversation": conversationView(conv)})
}

func (s *Server) handleStartQuickHuman(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	var req routeRequest
	if err := decodeJSON(r, &req); err != nil || !validRoutes[req.RouteType] {
		writeError(w, http.StatusBadRequest, "bad_request", "a valid route_type is required")
		return
	}
	conv, err := s.deps.Tier.StartQuickHuman(r.Context(), ident.UserID, req.RouteType)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "conversation": conversationView(conv)})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.loadReadableConversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "conversation": conversationView(conv)})
}

func (s *Server) handleRefreshAccess(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.loadReadableConversation(w, r)
	if !ok {
		return
	}
	conv, ended, err := s.deps.Tier.RefreshHumanAccess(r.Context(), conv.ID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"ended":        ended,
		"conversation": conversationView(conv),
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.loadReadableConversation(w, r)
	if !ok {
		return
	}
	afterID, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := s.deps.Tier.ListMessages(r.Context(), conv.ID, afterID, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(msgs))
	var cursor int64 = afterID
	for _, m := range msgs {
		views = append(views, messageView(&m))
		if m.ID > cursor {
			cursor = m.ID
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "messages": views, "cursor": cursor})
}

type sendMessageRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil || req.Body == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message body is required")
		return
	}

	senderType := "user"
	if ident.Role.Staff() {
		senderType = "agent"
	}
	res, err := s.deps.Tier.SendMessage(r.Context(), tier.SendMessageParams{
		ConversationID: chi.URLParam(r, "id"),
		SenderType:     senderType,
		SenderID:       ident.UserID,
		SenderIsAdmin:  ident.Role == auth.RoleAdmin,
		Body:           req.Body,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	out := map[string]any{
		"ok":      true,
		"ended":   res.Ended,
		"message": messageView(res.Message),
	}
	if res.Reply != nil {
		out["reply"] = messageView(res.Reply)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClaimConversation(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	conv, err := s.deps.Tier.ClaimConversation(r.Context(), chi.URLParam(r, "id"), ident.UserID, ident.Role == auth.RoleAdmin)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "conversation": conversationView(conv)})
}

func (s *Server) handleAgentInbox(w http.ResponseWriter, r *http.Request) {
	ident, _ := auth.IdentityFrom(r.Context())
	convs, err := s.deps.Repository.ListAgentInbox(r.Context(), ident.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(convs))
	for _, c := range convs {
		views = append(views, conversationView(&c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "conversations": views})
}

// loadReadableConversation loads the conversation from the URL and enforces
// read access: owners always, staff per the claim rules.
func (s *Server) loadReadableConversation(w http.ResponseWriter, r *http.Request) (*repo.Conversation, bool) {
	ident, _ := auth.IdentityFrom(r.Context())
	conv, err := s.deps.Repository.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return nil, false
	}
	if conv.UserID == ident.UserID {
		return conv, true
	}
	if ident.Role.Staff() && tier.CanRead(conv, ident.UserID, ident.Role == auth.RoleAdmin) {
		return conv, true
	}
	writeError(w, http.StatusForbidden, "forbidden", "no access to this conversation")
	return nil, false
}

func conversationView(c *repo.Conversation) map[string]any {
	return map[string]any{
		"id":                      c.ID,
		"user_id":                 c.UserID,
		"route_type":              c.RouteType,
		"conversation_kind":       c.ConversationKind,
		"chat_mode":               c.ChatMode,
		"human_message_limit":     c.HumanMessageLimit,
		"human_message_used":      c.HumanMessageUsed,
		"human_access_expires_at": c.HumanAccessExpiresAt,
		"payment_status":          c.PaymentStatus,
		"project_status":          c.ProjectStatus,
		"assigned_agent_id":       c.AssignedAgentID,
		"handoff_id":              c.HandoffID,
		"created_at":              c.CreatedAt,
	}
}

func messageView(m *repo.Message) map[string]any {
	return map[string]any{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"sender_type":     m.SenderType,
		"sender_id":       m.SenderID,
		"body":            m.Body,
		"created_at":      m.CreatedAt,
	}
}
