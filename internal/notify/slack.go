// Package notify forwards user-addressed task notices to chat.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"taskpulse/internal/domain"
	"taskpulse/internal/events"
)

// Slack posts escalation and rollback notices to one channel. Other messages
// are ignored.
type Slack struct {
	client  *slack.Client
	channel string
}

// NewSlack returns nil when token is empty. apiURL overrides the Slack API base
// and must end with a slash.
func NewSlack(token, channel, apiURL string) *Slack {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &Slack{client: slack.New(token, opts...), channel: channel}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Deliver(ctx context.Context, msg events.Message) error {
	text, ok := Text(msg)
	if !ok {
		return nil
	}
	if _, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("post to %s: %w", s.channel, err)
	}
	return nil
}

// Text renders the chat line for a targeted message.
func Text(msg events.Message) (string, bool) {
	task, ok := msg.Payload.(domain.Task)
	if !ok {
		return "", false
	}
	switch msg.Event {
	case events.EventAssignedToYou:
		line := fmt.Sprintf(":arrow_right: Task %q (%s) was escalated to %s", task.Description, task.ID, task.OwnerID)
		if task.Escalation != nil {
			line += " by " + task.Escalation.EscalatedByID
			if task.Escalation.Reason != "" {
				line += ": " + task.Escalation.Reason
			}
		}
		return line, true
	case events.EventReturnedToYou:
		return fmt.Sprintf(":leftwards_arrow_with_hook: Task %q (%s) was returned to %s", task.Description, task.ID, task.OwnerID), true
	}
	return "", false
}
