package security

import (
	"context"
	"fmt"
	"time"

	goslack "github.com/slack-go/slack"
)

// Notifier pushes the `notify` action's structured notification event to
// Slack, the same thin-wrapper shape as pkg/slack.Client.
type Notifier struct {
	api       *goslack.Client
	channelID string
}

// NewNotifier wraps a Slack bot token and target channel.
func NewNotifier(token, channelID string) *Notifier {
	return &Notifier{api: goslack.New(token), channelID: channelID}
}

// NotifyIncident posts a structured summary of an Incident to the
// configured channel (spec.md §4.5 "notify: Push a structured notification
// event").
func (n *Notifier) NotifyIncident(ctx context.Context, i Incident) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf(
				"*Security incident* `%s`\n*Service:* %s\n*Kind:* %s\n*Severity:* %s\n*Summary:* %s",
				i.IncidentID, i.ServiceID, i.Kind, i.Severity, i.Summary,
			), false, false),
			nil, nil,
		),
	}

	_, _, err := n.api.PostMessageContext(ctx, n.channelID, goslack.MsgOptionBlocks(blocks...))
	if err != nil {
		return fmt.Errorf("notify incident %q: %w", i.IncidentID, err)
	}
	return nil
}
