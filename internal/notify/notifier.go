// Package notify delivers best-effort notifications to users. Callers treat
// delivery as fire-and-forget: a failed send must never fail the booking or
// status change that triggered it.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

type Event string

const (
	EventAppointmentCreated   Event = "appointment_created"
	EventAppointmentConfirmed Event = "appointment_confirmed"
	EventAppointmentRejected  Event = "appointment_rejected"
)

// Notification is one outbound message.
type Notification struct {
	Recipient string         `json:"recipient"` // email address
	Event     Event          `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log instead of delivering them.
// Default in dev and in tests.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.log.Info().
		Str("recipient", n.Recipient).
		Str("event", string(n.Event)).
		Interface("payload", n.Payload).
		Msg("notification")
	return nil
}
