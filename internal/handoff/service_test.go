package handoff

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"linescout/internal/logging"
	"linescout/internal/metrics"
	"linescout/internal/repo"
	"linescout/migrations"
)

func newTestRepo(t *testing.T) repo.Repository {
	t.Helper()
	ctx := context.Background()
	r, err := repo.NewSQLite(ctx, "file:"+uuid.NewString()+"?mode=memory&cache=shared", logging.NewLogger("error"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)
	if err := r.RunMigrations(ctx, migrations.Files); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return r
}

func newAgent(t *testing.T, r repo.Repository) string {
	t.Helper()
	agent, err := r.CreateUser(context.Background(), repo.NewUser{Email: "agent@example.com", Role: "agent", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return agent.ID
}

func seedHandoff(t *testing.T, r repo.Repository, withConversation bool) (*repo.Handoff, *repo.User, *repo.Conversation) {
	t.Helper()
	ctx := context.Background()
	user, err := r.CreateUser(ctx, repo.NewUser{Email: "alice@example.com", Role: "user", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	var conv *repo.Conversation
	nh := repo.NewHandoff{UserID: user.ID, RouteType: "machine_sourcing"}
	if withConversation {
		conv, err = r.EnsurePrimaryConversation(ctx, user.ID, "machine_sourcing")
		if err != nil {
			t.Fatalf("ensure conversation: %v", err)
		}
		nh.ConversationID = &conv.ID
	}
	h, err := r.CreateHandoff(ctx, nh)
	if err != nil {
		t.Fatalf("create handoff: %v", err)
	}
	return h, user, conv
}

func TestUpdateStatusFullLifecycle(t *testing.T) {
	r := newTestRepo(t)
	svc := NewService(r, logging.NewLogger("error"), metrics.Registry("test"))
	h, _, _ := seedHandoff(t, r, false)
	agentID := newAgent(t, r)
	ctx := context.Background()

	h, err := svc.UpdateStatus(ctx, h.ID, Request{Target: StatusClaimed, AgentID: agentID})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if h.ClaimedBy == nil || *h.ClaimedBy != agentID {
		t.Fatalf("claimed_by = %v, want %s", h.ClaimedBy, agentID)
	}

	h, err = svc.UpdateStatus(ctx, h.ID, Request{Target: StatusManufacturerFound})
	if err != nil {
		t.Fatalf("manufacturer_found: %v", err)
	}
	if h.ManufacturerFoundAt == nil {
		t.Fatal("manufacturer_found_at not stamped")
	}

	h, err = svc.UpdateStatus(ctx, h.ID, Request{Target: StatusPaid})
	if err != nil {
		t.Fatalf("paid: %v", err)
	}
	if h.PaidAt == nil {
		t.Fatal("paid_at not stamped")
	}

	h, err = svc.UpdateStatus(ctx, h.ID, Request{Target: StatusShipped, Shipper: "DHL", TrackingNumber: "TRK123"})
	if err != nil {
		t.Fatalf("shipped: %v", err)
	}
	if h.ShippedAt == nil || h.Shipper == nil || *h.Shipper != "DHL" || h.TrackingNumber == nil || *h.TrackingNumber != "TRK123" {
		t.Fatalf("shipping fields not stamped: %+v", h)
	}

	h, err = svc.UpdateStatus(ctx, h.ID, Request{Target: StatusDelivered})
	if err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if h.DeliveredAt == nil || h.Status != string(StatusDelivered) {
		t.Fatalf("delivery not stamped: %+v", h)
	}

	// Terminal: nothing moves, row unchanged.
	if _, err := svc.UpdateStatus(ctx, h.ID, Request{Target: StatusCancelled, CancelReason: "too late"}); err == nil {
		t.Fatal("expected terminal rejection")
	}
	final, _ := r.GetHandoff(ctx, h.ID)
	if final.Status != string(StatusDelivered) || final.CancelledAt != nil {
		t.Fatalf("terminal row mutated: %+v", final)
	}
}

func TestUpdateStatusShippedMissingTrackingLeavesRowUnchanged(t *testing.T) {
	r := newTestRepo(t)
	svc := NewService(r, logging.NewLogger("error"), metrics.Registry("test"))
	h, _, _ := seedHandoff(t, r, false)
	agentID := newAgent(t, r)
	ctx := context.Background()

	for _, target := range []Request{
		{Target: StatusClaimed, AgentID: agentID},
		{Target: StatusManufacturerFound},
		{Target: StatusPaid},
	} {
		var err error
		if h, err = svc.UpdateStatus(ctx, h.ID, target); err != nil {
			t.Fatalf("advance to %s: %v", target.Target, err)
		}
	}

	_, err := svc.UpdateStatus(ctx, h.ID, Request{Target: StatusShipped, Shipper: "DHL"})
	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.Code != RejectMissingField {
		t.Fatalf("expected missing-field rejection, got %v", err)
	}
	fresh, _ := r.GetHandoff(ctx, h.ID)
	if fresh.Status != string(StatusPaid) || fresh.ShippedAt != nil {
		t.Fatalf("row mutated on rejected transition: %+v", fresh)
	}
}

func TestUpdateStatusCancelAlsoCancelsConversations(t *testing.T) {
	r := newTestRepo(t)
	svc := NewService(r, logging.NewLogger("error"), metrics.Registry("test"))
	h, _, conv := seedHandoff(t, r, true)
	ctx := context.Background()

	h, err := svc.UpdateStatus(ctx, h.ID, Request{Target: StatusCancelled, CancelReason: "customer withdrew"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if h.CancelledAt == nil || h.CancelReason == nil || *h.CancelReason != "customer withdrew" {
		t.Fatalf("cancel fields not stamped: %+v", h)
	}

	fresh, err := r.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if fresh.ProjectStatus != "cancelled" {
		t.Fatalf("project_status = %q, want cancelled", fresh.ProjectStatus)
	}
}

func TestUpdateStatusSelfTransitionNoop(t *testing.T) {
	r := newTestRepo(t)
	svc := NewService(r, logging.NewLogger("error"), metrics.Registry("test"))
	h, _, _ := seedHandoff(t, r, false)
	ctx := context.Background()

	before, _ := r.GetHandoff(ctx, h.ID)
	after, err := svc.UpdateStatus(ctx, h.ID, Request{Target: StatusPending})
	if err != nil {
		t.Fatalf("self-transition: %v", err)
	}
	if after.Status != before.Status || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("self-transition mutated the row: %+v vs %+v", before, after)
	}
}

func TestCreateLinksConversation(t *testing.T) {
	r := newTestRepo(t)
	svc := NewService(r, logging.NewLogger("error"), metrics.Registry("test"))
	ctx := context.Background()

	user, _ := r.CreateUser(ctx, repo.NewUser{Email: "bob@example.com", Role: "user", PasswordHash: "x"})
	conv, _ := r.EnsurePrimaryConversation(ctx, user.ID, "white_label")

	h, err := svc.Create(ctx, repo.NewHandoff{UserID: user.ID, ConversationID: &conv.ID, RouteType: "white_label"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fresh, _ := r.GetConversation(ctx, conv.ID)
	if fresh.HandoffID == nil || *fresh.HandoffID != h.ID {
		t.Fatalf("conversation not linked: %+v", fresh.HandoffID)
	}
}
