package tier

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

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

func newTestUser(t *testing.T, r repo.Repository, email, role string) *repo.User {
	t.Helper()
	u, err := r.CreateUser(context.Background(), repo.NewUser{
		Email:        email,
		Role:         role,
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func newTestService(t *testing.T, r repo.Repository) *Service {
	t.Helper()
	return NewService(r, nil, logging.NewLogger("error"), metrics.Registry("test"))
}

func TestStartQuickHumanCreatesLimitedHuman(t *testing.T) {
	r := newTestRepo(t)
	svc := newTestService(t, r)
	user := newTestUser(t, r, "alice@example.com", "user")

	conv, err := svc.StartQuickHuman(context.Background(), user.ID, "machine_sourcing")
	if err != nil {
		t.Fatalf("StartQuickHuman: %v", err)
	}
	if conv.ChatMode != ModeLimitedHuman {
		t.Fatalf("chat_mode = %q, want %q", conv.ChatMode, ModeLimitedHuman)
	}
	if conv.HumanMessageLimit != QuickHumanMessageLimit || conv.HumanMessageUsed != 0 {
		t.Fatalf("budget = %d/%d, want 0/%d", conv.HumanMessageUsed, conv.HumanMessageLimit, QuickHumanMessageLimit)
	}
	if conv.HumanAccessExpiresAt == nil {
		t.Fatal("expected an access expiry")
	}
}

func TestStartQuickHumanReusesActiveConversation(t *testing.T) {
	r := newTestRepo(t)
	svc := newTestService(t, r)
	user := newTestUser(t, r, "alice@example.com", "user")
	ctx := context.Background()

	first, err := svc.StartQuickHuman(ctx, user.ID, "machine_sourcing")
	if err != nil {
		t.Fatalf("StartQuickHuman: %v", err)
	}
	second, err := svc.StartQuickHuman(ctx, user.ID, "machine_sourcing")
	if err != nil {
		t.Fatalf("second StartQuickHuman: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected idempotent reuse, got a new conversation %s", second.ID)
	}
}

func TestStartQuickHumanCooldown(t *testing.T) {
	r := newTestRepo(t)
	svc := newTestService(t, r)
	user := newTestUser(t, r, "alice@example.com", "user")
	ctx := context.Background()

	if _, err := svc.StartQuickHuman(ctx, user.ID, "machine_sourcing"); err != nil {
		t.Fatalf("StartQuickHuman: %v", err)
	}

	// The window has lapsed but the 48 hour cooldown has not.
	svc.WithClock(func() time.Time { return time.Now().UTC().Add(QuickHumanWindow + time.Minute) })
	_, err := svc.StartQuickHuman(ctx, user.ID, "machine_sourcing")
	var cooldown *CooldownError
	if !errors.As(err, &cooldown) {
		t.Fatalf("expected CooldownError, got %v", err)
	}
	if cooldown.RetryAfterHours() <= 0 {
		t.Fatalf("retry_after_hours = %v, want > 0", cooldown.RetryAfterHours())
	}

	// After the cooldown a fresh escalation opens.
	svc.WithClock(func() time.Time { return time.Now().UTC().Add(QuickHumanCooldown + time.Minute) })
	conv, err := svc.StartQuickHuman(ctx, user.ID, "machine_sourcing")
	if err != nil {
		t.Fatalf("StartQuickHuman after cooldown: %v", err)
	}
	if conv.ChatMode != ModeLimitedHuman || conv.HumanMessageUsed != 0 {
		t.Fatalf("unexpected state after cooldown: %+v", conv)
	}
}

func TestConsumeHumanMessageBudget(t *testing.T) {
	r := newTestRepo(t)
	svc := newTestService(t, r)
	user := newTestUser(t, r, "alice@example.com", "user")
	ctx := context.Background()

	conv, err := svc.StartQuickHuman(ctx, user.ID, "machine_sourcing")
	if err != nil {
		t.Fatalf("StartQuickHuman: %v", err)
	}

	for i := 1; i <= QuickHumanMessageLimit; i++ {
		fresh, err := r.GetConversation(ctx, conv.ID)
		if err != nil {
			t.Fatalf("reload conversation: %v", err)
		}
		ended, err := svc.ConsumeHumanMessage(ctx, fresh)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		wantEnded := i == QuickHumanMessageLimit
		if ended != wantEnded {
			t.Fatalf("consume %d: ended = %v, want %v", i, ended, wantEnded)
		}
	}

	final, err := r.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if final.ChatMode != ModeAIOnly || final.HumanMessageUsed != 0 || final.HumanMessageLimit != 0 {
		t.Fatalf("expected reset to ai_only, got %+v", final)
	}
	if final.HumanAccessExpiresAt != nil {
		t.Fatal("expected expiry cleared")
	}
}

func TestConsumeHumanMessageExpiredWindow(t *testing.T) {
	r := newTestRepo(t)
	svc := newTestService(t, r)
	user := newTestUser(t, r, "alice@example.com", "user")
	ctx := context.Background()

	conv, err := svc.StartQuickHuman(ctx, user.ID, "machine_sourcing")
	if err != nil {
		t.Fatalf("StartQuickHuman: %v", err)
	}

	svc.WithClock(func() time.Time { return time.Now().UTC().Add(QuickHumanWindow + time.Minute) })
	ended, err := svc.ConsumeHumanMessage(ctx, conv)
	if err != nil {
		t.Fatalf("ConsumeHumanMessage: %v", err)
	}
	if !ended {
		t.Fatal("expected ended=true after the window lapsed")
	}
	final, _ := r.GetConversation(ctx, conv.ID)
	if final.ChatMode != ModeAIOnly || final.HumanMessageUsed != 0 {
		t.Fatalf("expected lazy reset, got %+v", final)
	}
}

func TestRefreshHumanAccess(t *testing.T) {
	r := newTestRepo(t)
	svc := newTestService(t, r)
	user := newTestUser(t, r, "alice@example.com", "user")
	ctx := context.Background()

	conv, err := svc.StartQuickHuman(ctx, user.ID, "machine_sourcing")
	if err != nil {
		t.Fatalf("StartQuickHuman: %v", err)
	}

	fresh, ended, err := svc.RefreshHumanAccess(ctx, conv.ID)
	if err != nil || ended {
		t.Fatalf("refresh while active: ended=%v err=%v", ended, err)
	}
	if fresh.ChatMode != ModeLimitedHuman {
		t.Fatalf("chat_mode = %q, want limited_human", fresh.ChatMode)
	}

	svc.WithClock(func() time.Time { return time.Now().UTC().Add(QuickHumanWindow + time.Minute) })
	fresh, ended, err = svc.RefreshHumanAccess(ctx, conv.ID)
	if err != nil {
		t.Fatalf("refresh after expiry: %v", err)
	}
	if !ended || fresh.ChatMode != ModeAIOnly {
		t.Fatalf("expected reset, got ended=%v mode=%q", ended, fresh.ChatMode)
	}
}

type cannedResponder struct {
	reply string
	err   error
	calls int
}

func (c *cannedResponder) Reply(_ context.Context, _, _ string, _ []repo.Message) (string, error) {
	c.calls++
	return c.reply, c.err
}

func TestSendMessageAIFlow(t *testing.T) {
	r := newTestRepo(t)
	responder := &cannedResponder{reply: "We can source that for you."}
	svc := NewService(r, responder, logging.NewLogger("error"), metrics.Registry("test"))
	user := newTestUser(t, r, "alice@example.com", "user")
	ctx := context.Background()

	conv, err := svc.EnsurePrimary(ctx, user.ID, "machine_sourcing")
	if err != nil {
		t.Fatalf("EnsurePrimary: %v", err)
	}

	res, err := svc.SendMessage(ctx, SendMessageParams{
		ConversationID: conv.ID,
		SenderType:     "user",
		SenderID:       user.ID,
		Body:           "I need a bottling machine",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Reply == nil || res.Reply.SenderType != "ai" {
		t.Fatalf("expected an ai reply, got %+v", res.Reply)
	}
	if responder.calls != 1 {
		t.Fatalf("responder calls = %d, want 1", responder.calls)
	}

	msgs, err := r.ListMessages(ctx, conv.ID, 0, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("message count = %d, want 2", len(msgs))
	}
	if msgs[0].ID >= msgs[1].ID {
		t.Fatal("message ids must be strictly increasing")
	}
}

func TestSendMessageGatewayFailure(t *testing.T) {
	r := newTestRepo(t)
	responder := &cannedResponder{err: fmt.Errorf("upstream down")}
	svc := NewService(r, responder, logging.NewLogger("error"), metrics.Registry("test"))
	user := newTestUser(t, r, "alice@example.com", "user")
	ctx := context.Background()

	conv, _ := svc.EnsurePrimary(ctx, user.ID, "machine_sourcing")
	_, err := svc.SendMessage(ctx, SendMessageParams{
		ConversationID: conv.ID,
		SenderType:     "user",
		SenderID:       user.ID,
		Body:           "hello",
	})
	if err == nil {
		t.Fatal("expected an error when the gateway fails")
	}

	// The user message persists; no ai counterpart does.
	msgs, _ := r.ListMessages(ctx, conv.ID, 0, 10)
	if len(msgs) != 1 || msgs[0].SenderType != "user" {
		t.Fatalf("unexpected message log: %+v", msgs)
	}
}

func TestSendMessageAccessRules(t *testing.T) {
	r := newTestRepo(t)
	svc := newTestService(t, r)
	owner := newTestUser(t, r, "alice@example.com", "user")
	other := newTestUser(t, r, "bob@example.com", "user")
	agent := newTestUser(t, r, "agent@example.com", "agent")
	rival := newTestUser(t, r, "rival@example.com", "agent")
	ctx := context.Background()

	conv, err := svc.StartQuickHuman(ctx, owner.ID, "machine_sourcing")
	if err != nil {
		t.Fatalf("StartQuickHuman: %v", err)
	}

	if _, err := svc.SendMessage(ctx, SendMessageParams{
		ConversationID: conv.ID, SenderType: "user", SenderID: other.ID, Body: "hi",
	}); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	if _, err := svc.SendMessage(ctx, SendMessageParams{
		ConversationID: conv.ID, SenderType: "ai", SenderID: owner.ID, Body: "hi",
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for direct ai sender, got %v", err)
	}

	if _, err := svc.ClaimConversation(ctx, conv.ID, agent.ID, false); err != nil {
		t.Fatalf("ClaimConversation: %v", err)
	}
	if _, err := svc.SendMessage(ctx, SendMessageParams{
		ConversationID: conv.ID, SenderType: "agent", SenderID: rival.ID, Body: "hi",
	}); !errors.Is(err, ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}

	if _, err := svc.SendMessage(ctx, SendMessageParams{
		ConversationID: conv.ID, SenderType: "agent", SenderID: agent.ID, Body: "how can I help?",
	}); err != nil {
		t.Fatalf("assigned agent send: %v", err)
	}
}

func TestClaimConversationConflict(t *testing.T) {
	r := newTestRepo(t)
	svc := newTestService(t, r)
	owner := newTestUser(t, r, "alice@example.com", "user")
	agent := newTestUser(t, r, "agent@example.com", "agent")
	rival := newTestUser(t, r, "rival@example.com", "agent")
	ctx := context.Background()

	conv, _ := svc.EnsurePrimary(ctx, owner.ID, "white_label")
	if _, err := svc.ClaimConversation(ctx, conv.ID, agent.ID, false); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := svc.ClaimConversation(ctx, conv.ID, rival.ID, false); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	// Admin override reassigns.
	claimed, err := svc.ClaimConversation(ctx, conv.ID, rival.ID, true)
	if err != nil {
		t.Fatalf("admin override: %v", err)
	}
	if claimed.AssignedAgentID == nil || *claimed.AssignedAgentID != rival.ID {
		t.Fatalf("expected reassignment to %s, got %+v", rival.ID, claimed.AssignedAgentID)
	}
}
