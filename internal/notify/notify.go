// Package notify delivers run outcomes and alert triggers to external
// channels (email SMTP, HTTP webhook, Slack). The Manager fans one event out
// to every configured channel; a channel failure is logged and recorded in
// the event metadata but never blocks the other channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/alerts"
)

// Sentinel errors returned by the channels. Callers should use errors.Is.
var (
	// ErrSendFailed wraps any delivery failure on a channel.
	ErrSendFailed = errors.New("notify: send failed")

	// ErrInvalidConfig is returned when a channel's configuration is missing
	// required fields.
	ErrInvalidConfig = errors.New("notify: invalid configuration")
)

// EventType classifies a notification.
type EventType string

const (
	EventSuccess EventType = "success"
	EventFailure EventType = "failure"
	EventAlert   EventType = "alert"
)

// Event is one notification before fan-out. Metadata values are restricted
// to strings, numbers, and bools so every channel can render them.
type Event struct {
	Type     EventType
	Subject  string
	Body     string
	Priority string
	Metadata map[string]any
}

// Channel is a delivery target. Send returns nil iff the remote accepted
// the message.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Manager fans events out to the registered channels.
type Manager struct {
	mu       sync.Mutex
	channels []Channel
	logger   *zap.Logger
}

// NewManager creates a manager with no channels.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger.Named("notify")}
}

// AddChannel registers a delivery channel.
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// Channels returns the registered channel names.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.channels))
	for i, ch := range m.channels {
		names[i] = ch.Name()
	}
	return names
}

// Send delivers the event to every channel. Per-channel failures are logged
// and recorded under "error_<channel>" in the event metadata; the returned
// error joins them so a caller can tell whether any channel failed.
func (m *Manager) Send(ctx context.Context, ev Event) error {
	m.mu.Lock()
	channels := append([]Channel(nil), m.channels...)
	m.mu.Unlock()

	if ev.Metadata == nil {
		ev.Metadata = make(map[string]any)
	}

	var errs []error
	for _, ch := range channels {
		if err := ch.Send(ctx, ev); err != nil {
			ev.Metadata["error_"+ch.Name()] = err.Error()
			m.logger.Warn("notification delivery failed",
				zap.String("channel", ch.Name()),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		m.logger.Debug("notification delivered",
			zap.String("channel", ch.Name()),
			zap.String("type", string(ev.Type)))
	}
	return errors.Join(errs...)
}

// SendAlert formats an alert trigger into an Event and delivers it.
func (m *Manager) SendAlert(ctx context.Context, trig alerts.Trigger) error {
	ev := Event{
		Type:     EventAlert,
		Subject:  fmt.Sprintf("[%s] %s", trig.Rule.Severity, trig.Rule.Name),
		Priority: string(trig.Rule.Severity),
		Body: fmt.Sprintf("Alert %q fired at %s: %s %s %g (observed %g).",
			trig.Rule.Name,
			trig.Timestamp.Format(time.RFC3339),
			trig.Rule.Condition.Field,
			trig.Rule.Condition.Op,
			trig.Rule.Condition.Threshold,
			trig.Value),
		Metadata: map[string]any{
			"rule":     trig.Rule.Name,
			"severity": string(trig.Rule.Severity),
			"value":    trig.Value,
		},
	}
	if trig.Rule.Description != "" {
		ev.Body += " " + trig.Rule.Description
	}
	return m.Send(ctx, ev)
}
