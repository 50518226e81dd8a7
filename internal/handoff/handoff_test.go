package handoff

import (
	"errors"
	"testing"

	"linescout/internal/repo"
)

func strp(s string) *string { return &s }

func TestValidateAdjacency(t *testing.T) {
	cases := []struct {
		current string
		target  Status
		claimed bool
		wantOK  bool
	}{
		{"pending", StatusClaimed, false, true},
		{"pending", StatusCancelled, false, true},
		{"claimed", StatusManufacturerFound, true, true},
		{"manufacturer_found", StatusPaid, true, true},
		{"paid", StatusShipped, true, true},
		{"shipped", StatusDelivered, true, true},
		{"pending", StatusPaid, true, false},
		{"claimed", StatusShipped, true, false},
		{"paid", StatusDelivered, true, false},
		{"shipped", StatusClaimed, true, false},
	}
	for _, tc := range cases {
		h := &repo.Handoff{Status: tc.current}
		if tc.claimed {
			h.ClaimedBy = strp("agent-1")
		}
		req := Request{Target: tc.target, AgentID: "agent-1", Shipper: "DHL", TrackingNumber: "TRK1", CancelReason: "because"}
		noop, err := Validate(h, req)
		if noop {
			t.Fatalf("%s -> %s: unexpected noop", tc.current, tc.target)
		}
		if tc.wantOK && err != nil {
			t.Fatalf("%s -> %s: unexpected rejection %v", tc.current, tc.target, err)
		}
		if !tc.wantOK && err == nil {
			t.Fatalf("%s -> %s: expected rejection", tc.current, tc.target)
		}
	}
}

func TestValidateTerminalStates(t *testing.T) {
	for _, terminal := range []string{"delivered", "cancelled"} {
		h := &repo.Handoff{Status: terminal, ClaimedBy: strp("agent-1")}
		for _, target := range []Status{StatusClaimed, StatusPaid, StatusShipped, StatusCancelled, StatusDelivered} {
			if Status(terminal) == target {
				continue
			}
			_, err := Validate(h, Request{Target: target, AgentID: "a", Shipper: "s", TrackingNumber: "t", CancelReason: "r"})
			var rejected *RejectedError
			if !errors.As(err, &rejected) || rejected.Code != RejectTerminal {
				t.Fatalf("%s -> %s: expected terminal rejection, got %v", terminal, target, err)
			}
		}
	}
}

func TestValidateRequiresClaim(t *testing.T) {
	h := &repo.Handoff{Status: "pending"}
	_, err := Validate(h, Request{Target: StatusManufacturerFound})
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	// Both the missing claim and the adjacency list independently reject
	// pending -> manufacturer_found; the claim check fires first.
	if rejected.Code != RejectUnclaimed {
		t.Fatalf("code = %s, want %s", rejected.Code, RejectUnclaimed)
	}

	// With a claim present the same request is still rejected, now by the
	// adjacency list.
	h.ClaimedBy = strp("agent-1")
	_, err = Validate(h, Request{Target: StatusManufacturerFound})
	if !errors.As(err, &rejected) || rejected.Code != RejectInvalid {
		t.Fatalf("expected invalid-transition rejection, got %v", err)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	shipped := &repo.Handoff{Status: "paid", ClaimedBy: strp("agent-1")}
	_, err := Validate(shipped, Request{Target: StatusShipped, Shipper: "DHL"})
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Code != RejectMissingField {
		t.Fatalf("shipped without tracking: got %v", err)
	}
	_, err = Validate(shipped, Request{Target: StatusShipped, TrackingNumber: "TRK1"})
	if !errors.As(err, &rejected) || rejected.Code != RejectMissingField {
		t.Fatalf("shipped without shipper: got %v", err)
	}

	pending := &repo.Handoff{Status: "pending"}
	_, err = Validate(pending, Request{Target: StatusCancelled})
	if !errors.As(err, &rejected) || rejected.Code != RejectMissingField {
		t.Fatalf("cancelled without reason: got %v", err)
	}
	_, err = Validate(pending, Request{Target: StatusClaimed})
	if !errors.As(err, &rejected) || rejected.Code != RejectMissingField {
		t.Fatalf("claimed without agent: got %v", err)
	}
}

func TestValidateSelfTransitionIsNoop(t *testing.T) {
	// Self-transition bypasses every other check, including terminal states
	// and required fields. It is a pure status confirmation.
	for _, status := range []string{"pending", "claimed", "shipped", "delivered", "cancelled"} {
		h := &repo.Handoff{Status: status}
		noop, err := Validate(h, Request{Target: Status(status)})
		if err != nil || !noop {
			t.Fatalf("%s self-transition: noop=%v err=%v", status, noop, err)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("shipped"); err != nil {
		t.Fatalf("ParseStatus(shipped): %v", err)
	}
	if _, err := ParseStatus("teleported"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
