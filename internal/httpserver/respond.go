package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"linescout/internal/handoff"
	"linescout/internal/payments"
	"linescout/internal/payout"
	"linescout/internal/repo"
	"linescout/internal/tier"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"code":  code,
		"error": message,
	})
}

// writeDomainError maps service errors onto HTTP statuses. Raw database
// errors never reach clients; everything unmatched becomes a plain 500.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var cooldown *tier.CooldownError
	if errors.As(err, &cooldown) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"ok":                false,
			"code":              "LIMITED_HUMAN_COOLDOWN",
			"error":             cooldown.Error(),
			"retry_after_hours": cooldown.RetryAfterHours(),
		})
		return
	}

	var rejected *handoff.RejectedError
	if errors.As(err, &rejected) {
		status := http.StatusConflict
		if rejected.Code == handoff.RejectMissingField || rejected.Code == handoff.RejectUnknownStatus {
			status = http.StatusBadRequest
		}
		writeError(w, status, string(rejected.Code), rejected.Error())
		return
	}

	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, repo.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "resource is not in a state that permits this change")
	case errors.Is(err, repo.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, "insufficient_balance", "wallet balance is too low")
	case errors.Is(err, tier.ErrNotOwner), errors.Is(err, tier.ErrNotAssigned), errors.Is(err, tier.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, payout.ErrAccountNotVerified),
		errors.Is(err, payout.ErrNoteRequired),
		errors.Is(err, payout.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, payments.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, "unknown_provider", err.Error())
	case errors.Is(err, payments.ErrProviderDeclined), errors.Is(err, payments.ErrAmountMismatch):
		writeError(w, http.StatusBadGateway, "payment_failed", err.Error())
	case errors.Is(err, payments.ErrBadSignature):
		writeError(w, http.StatusUnauthorized, "bad_signature", err.Error())
	default:
		s.metrics.Errors.WithLabelValues("http").Inc()
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func decodeJSON(r *http.Request, dest any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}
