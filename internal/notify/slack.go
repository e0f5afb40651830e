package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// SlackConfig configures the Slack incoming-webhook channel.
type SlackConfig struct {
	WebhookURL string
	Channel    string // optional override of the webhook's default channel
	Username   string // optional display name
}

// Validate checks the required fields.
func (c SlackConfig) Validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("%w: slack webhook url is required", ErrInvalidConfig)
	}
	return nil
}

// SlackChannel posts events to a Slack incoming webhook as an attachment
// colored by priority.
type SlackChannel struct {
	cfg  SlackConfig
	post func(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

// NewSlackChannel creates the Slack channel.
func NewSlackChannel(cfg SlackConfig) (*SlackChannel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SlackChannel{cfg: cfg, post: slack.PostWebhookContext}, nil
}

func (s *SlackChannel) Name() string { return "slack" }

// Send posts the event. Returns nil iff Slack accepted the webhook.
func (s *SlackChannel) Send(ctx context.Context, ev Event) error {
	attachment := slack.Attachment{
		Color: severityColor(ev),
		Title: ev.Subject,
		Text:  ev.Body,
	}
	for _, k := range sortedMetaKeys(ev.Metadata) {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{
			Title: k,
			Value: fmt.Sprintf("%v", ev.Metadata[k]),
			Short: true,
		})
	}

	msg := &slack.WebhookMessage{
		Channel:     s.cfg.Channel,
		Username:    s.cfg.Username,
		Attachments: []slack.Attachment{attachment},
	}
	if err := s.post(ctx, s.cfg.WebhookURL, msg); err != nil {
		return fmt.Errorf("%w: slack webhook: %s", ErrSendFailed, err)
	}
	return nil
}

// severityColor maps event type and priority to the attachment bar color.
func severityColor(ev Event) string {
	switch ev.Type {
	case EventSuccess:
		return "good"
	case EventFailure:
		return "danger"
	}
	switch ev.Priority {
	case "critical", "error":
		return "danger"
	case "warning":
		return "warning"
	default:
		return "#439FE0"
	}
}
