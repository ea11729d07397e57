package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// SlackNotifier posts terminal workflow outcomes to a channel. Delivery is
// best effort; callers log failures and move on.
type SlackNotifier struct {
	api     *slack.Client
	channel string
}

// NewSlack creates a notifier posting to the given channel.
func NewSlack(botToken, channel string) *SlackNotifier {
	return &SlackNotifier{
		api:     slack.New(botToken),
		channel: channel,
	}
}

// Notify posts a summary of the terminal audit record.
func (n *SlackNotifier) Notify(ctx context.Context, rec *models.AuditRecord) error {
	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(summary(rec), false))
	if err != nil {
		return fmt.Errorf("posting to %s: %w", n.channel, err)
	}
	return nil
}

func summary(rec *models.AuditRecord) string {
	workload := fmt.Sprintf("%s/%s (%s)", rec.Ref.Namespace, rec.Ref.Name, rec.Ref.Container)

	switch rec.Outcome {
	case models.StateApplied:
		ticket := ""
		if rec.TicketRef != "" {
			ticket = fmt.Sprintf("\nTicket: %s", rec.TicketRef)
		}
		return fmt.Sprintf(":white_check_mark: Resources updated for *%s* by %s\nBefore: %s\nAfter: %s%s",
			workload, rec.Actor, rec.Before.String(), rec.After.String(), ticket)
	case models.StateRejected:
		return fmt.Sprintf(":no_entry_sign: Optimization for *%s* declined by %s", workload, rec.Actor)
	case models.StateAbandoned:
		return fmt.Sprintf(":hourglass: Optimization for *%s* ended without a change: %s", workload, rec.Detail)
	case models.StateFailed:
		return fmt.Sprintf(":x: Optimization for *%s* failed: %s", workload, rec.Detail)
	default:
		return fmt.Sprintf("Optimization for *%s* ended as %s", workload, rec.Outcome)
	}
}
