package handoff

import (
	"fmt"

	"linescout/internal/repo"
)

// Status is a closed enumeration of handoff lifecycle states.
type Status string

const (
	StatusPending           Status = "pending"
	StatusClaimed           Status = "claimed"
	StatusManufacturerFound Status = "manufacturer_found"
	StatusPaid              Status = "paid"
	StatusShipped           Status = "shipped"
	StatusDelivered         Status = "delivered"
	StatusCancelled         Status = "cancelled"
)

// transitions is the only place the adjacency list lives.
var transitions = map[Status][]Status{
	StatusPending:           {StatusClaimed, StatusCancelled},
	StatusClaimed:           {StatusManufacturerFound, StatusCancelled},
	StatusManufacturerFound: {StatusPaid, StatusCancelled},
	StatusPaid:              {StatusShipped, StatusCancelled},
	StatusShipped:           {StatusDelivered, StatusCancelled},
	StatusDelivered:         {},
	StatusCancelled:         {},
}

// ParseStatus validates a wire status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if _, ok := transitions[s]; !ok {
		return "", fmt.Errorf("unknown handoff status %q", raw)
	}
	return s, nil
}

// Terminal reports whether a status accepts no further transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) canReach(target Status) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// RejectionCode classifies why a transition was refused.
type RejectionCode string

const (
	RejectTerminal      RejectionCode = "terminal_status"
	RejectInvalid       RejectionCode = "invalid_transition"
	RejectUnclaimed     RejectionCode = "not_claimed"
	RejectMissingField  RejectionCode = "missing_field"
	RejectUnknownStatus RejectionCode = "unknown_status"
)

// RejectedError is the typed refusal returned by Validate. Callers map it
// onto a 4xx response; no mutation has happened when it is returned.
type RejectedError struct {
	Code    RejectionCode
	Current Status
	Target  Status
	Detail  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transition %s -> %s rejected: %s", e.Current, e.Target, e.Detail)
}

// Request carries a requested status change and the fields some targets
// require.
type Request struct {
	Target         Status
	AgentID        string // required for claimed
	Shipper        string // required for shipped
	TrackingNumber string // required for shipped
	CancelReason   string // required for cancelled
}

// Validate checks a requested transition against the current handoff state.
// A self-transition (target equals current) is a pure no-op confirmation and
// returns noop=true with no further checks. Validation order: terminal state
// first, then the claim requirement, then the adjacency list, then required
// fields.
func Validate(h *repo.Handoff, req Request) (noop bool, err error) {
	current, parseErr := ParseStatus(h.Status)
	if parseErr != nil {
		return false, &RejectedError{Code: RejectUnknownStatus, Current: Status(h.Status), Target: req.Target, Detail: parseErr.Error()}
	}

	if current == req.Target {
		return true, nil
	}

	if current.Terminal() {
		return false, &RejectedError{
			Code: RejectTerminal, Current: current, Target: req.Target,
			Detail: fmt.Sprintf("handoff is %s and accepts no further changes", current),
		}
	}

	// Everything past pending needs an owner, except cancellation.
	if req.Target != StatusCancelled && req.Target != StatusClaimed && h.ClaimedBy == nil {
		return false, &RejectedError{
			Code: RejectUnclaimed, Current: current, Target: req.Target,
			Detail: "handoff must be claimed first",
		}
	}

	if !current.canReach(req.Target) {
		return false, &RejectedError{
			Code: RejectInvalid, Current: current, Target: req.Target,
			Detail: fmt.Sprintf("cannot move from %s to %s", current, req.Target),
		}
	}

	switch req.Target {
	case StatusClaimed:
		if req.AgentID == "" {
			return false, &RejectedError{Code: RejectMissingField, Current: current, Target: req.Target, Detail: "claiming agent is required"}
		}
	case StatusShipped:
		if req.Shipper == "" || req.TrackingNumber == "" {
			return false, &RejectedError{Code: RejectMissingField, Current: current, Target: req.Target, Detail: "shipper and tracking number are required"}
		}
	case StatusCancelled:
		if req.CancelReason == "" {
			return false, &RejectedError{Code: RejectMissingField, Current: current, Target: req.Target, Detail: "cancel reason is required"}
		}
	}
	return false, nil
}
