package tier

import (
	"fmt"
	"time"

	"linescout/internal/repo"
)

// Chat access modes for a conversation.
const (
	ModeAIOnly       = "ai_only"
	ModeLimitedHuman = "limited_human"
	ModePaidHuman    = "paid_human"
)

// Conversation kinds.
const (
	KindPrimary    = "primary"
	KindQuickHuman = "quick_human"
)

// Quick-human escalation budget.
const (
	QuickHumanMessageLimit = 6
	QuickHumanWindow       = 30 * time.Minute
	QuickHumanCooldown     = 48 * time.Hour
)

// CooldownError rejects a quick-human escalation started too soon after the
// previous one.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("quick human escalation on cooldown, retry in %.1f hours", e.RetryAfterHours())
}

// RetryAfterHours reports the remaining cooldown in hours, rounded up to a
// tenth so it never reads as zero while the cooldown is still active.
func (e *CooldownError) RetryAfterHours() float64 {
	hours := e.RetryAfter.Hours()
	if hours <= 0 {
		return 0
	}
	rounded := float64(int(hours*10)) / 10
	if rounded < hours {
		rounded += 0.1
	}
	return rounded
}

// Expired reports whether a limited-human conversation has run out of either
// its time window or its message budget at the given instant. Conversations in
// any other mode never expire. There is no scheduler behind this; callers
// check on every read or write.
func Expired(conv *repo.Conversation, now time.Time) bool {
	if conv.ChatMode != ModeLimitedHuman {
		return false
	}
	if conv.HumanAccessExpiresAt != nil && !now.Before(*conv.HumanAccessExpiresAt) {
		return true
	}
	return conv.HumanMessageLimit > 0 && conv.HumanMessageUsed >= conv.HumanMessageLimit
}

// Active reports whether a quick-human conversation still grants human access.
func Active(conv *repo.Conversation, now time.Time) bool {
	return conv.ChatMode == ModeLimitedHuman && !Expired(conv, now)
}
