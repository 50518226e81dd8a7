package tier

import (
	"testing"
	"time"

	"linescout/internal/repo"
)

func TestExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(10 * time.Minute)
	past := now.Add(-time.Minute)

	cases := []struct {
		name string
		conv repo.Conversation
		want bool
	}{
		{
			name: "ai only never expires",
			conv: repo.Conversation{ChatMode: ModeAIOnly, HumanAccessExpiresAt: &past},
			want: false,
		},
		{
			name: "paid human never expires",
			conv: repo.Conversation{ChatMode: ModePaidHuman},
			want: false,
		},
		{
			name: "within window and budget",
			conv: repo.Conversation{ChatMode: ModeLimitedHuman, HumanMessageLimit: 6, HumanMessageUsed: 3, HumanAccessExpiresAt: &future},
			want: false,
		},
		{
			name: "window passed",
			conv: repo.Conversation{ChatMode: ModeLimitedHuman, HumanMessageLimit: 6, HumanMessageUsed: 0, HumanAccessExpiresAt: &past},
			want: true,
		},
		{
			name: "budget exhausted",
			conv: repo.Conversation{ChatMode: ModeLimitedHuman, HumanMessageLimit: 6, HumanMessageUsed: 6, HumanAccessExpiresAt: &future},
			want: true,
		},
		{
			name: "expiry boundary is inclusive",
			conv: repo.Conversation{ChatMode: ModeLimitedHuman, HumanMessageLimit: 6, HumanAccessExpiresAt: &now},
			want: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Expired(&tc.conv, now); got != tc.want {
				t.Fatalf("Expired() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCooldownErrorRetryAfterHours(t *testing.T) {
	err := &CooldownError{RetryAfter: 30 * time.Minute}
	if got := err.RetryAfterHours(); got <= 0 {
		t.Fatalf("RetryAfterHours() = %v, want > 0", got)
	}
	err = &CooldownError{RetryAfter: 47*time.Hour + 59*time.Minute}
	if got := err.RetryAfterHours(); got < 47.9 || got > 48 {
		t.Fatalf("RetryAfterHours() = %v, want just under 48", got)
	}
}
