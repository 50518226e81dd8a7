package notify

import (
	"context"
	"log/slog"

	"linescout/internal/metrics"
)

// Notifier groups the delivery channels behind one best-effort facade.
type Notifier struct {
	mailer  *Mailer
	pusher  *Pusher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewNotifier(mailer *Mailer, pusher *Pusher, logger *slog.Logger, m *metrics.Metrics) *Notifier {
	return &Notifier{
		mailer:  mailer,
		pusher:  pusher,
		logger:  logger.With("component", "notify"),
		metrics: m,
	}
}

// BestEffortMail sends an email and swallows failures after logging them.
func (n *Notifier) BestEffortMail(to, subject, body string) {
	if n.mailer == nil {
		return
	}
	if err := n.mailer.Send(to, subject, body); err != nil {
		n.metrics.Errors.WithLabelValues("notify_mail").Inc()
		n.logger.Warn("notification email failed", "to", to, "subject", subject, "error", err)
	}
}

// BestEffortPush sends a push notification and swallows failures.
func (n *Notifier) BestEffortPush(ctx context.Context, tokens []string, title, body string, data map[string]any) {
	if n.pusher == nil || len(tokens) == 0 {
		return
	}
	if err := n.pusher.Send(ctx, tokens, title, body, data); err != nil {
		n.metrics.Errors.WithLabelValues("notify_push").Inc()
		n.logger.Warn("push notification failed", "error", err)
	}
}
