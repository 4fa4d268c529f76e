// Package notify dispatches alert notifications. The orchestrator renders a
// message from the fired rule and hands it to a Notifier; a failed dispatch
// is recorded on the trigger event and never reverses the firing.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/alert"
	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/storage"
)

// Message is one rendered notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers a rendered message.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Render builds the notification for one firing. Threshold and duration
// rules get different wording.
func Render(rule alert.Rule, event storage.TriggerEvent, instrumentName string) Message {
	name := instrumentName
	if name == "" {
		name = rule.Symbol
	}

	var subject string
	if rule.Kind == alert.KindDuration {
		subject = fmt.Sprintf("Stock Alert: %s %s $%s for %d minutes",
			rule.Symbol, rule.Comparison, rule.Threshold.StringFixed(2), rule.DurationMinutes)
	} else {
		subject = fmt.Sprintf("Stock Alert: %s %s $%s",
			rule.Symbol, rule.Comparison, rule.Threshold.StringFixed(2))
	}

	builder := strings.Builder{}
	builder.WriteString("Your stock alert has been triggered!\n\n")
	builder.WriteString(fmt.Sprintf("Stock: %s (%s)\n", rule.Symbol, name))
	if rule.Kind == alert.KindDuration {
		builder.WriteString(fmt.Sprintf("Alert: price %s $%s for %d minutes\n",
			rule.Comparison, rule.Threshold.StringFixed(2), rule.DurationMinutes))
	} else {
		builder.WriteString(fmt.Sprintf("Alert: price %s $%s\n",
			rule.Comparison, rule.Threshold.StringFixed(2)))
	}
	builder.WriteString(fmt.Sprintf("Trigger Price: $%s\n", event.TriggerPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Triggered At: %s\n", event.TriggeredAt.UTC().Format(time.RFC3339)))
	builder.WriteString("\nThis is an automated message from the stock price alerting service.\n")

	return Message{
		To:      rule.Owner,
		Subject: subject,
		Body:    builder.String(),
	}
}
