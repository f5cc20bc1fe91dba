package engine

import (
	"time"

	"github.com/rs/zerolog"
)

// EventKind classifies enforcement events.
type EventKind string

const (
	EventAppBlocked        EventKind = "application_blocked"
	EventTimeLimitExceeded EventKind = "time_limit_exceeded"
	EventSessionStarted    EventKind = "session_started"
	EventSessionEnded      EventKind = "session_ended"
	EventLockRequested     EventKind = "lock_requested"
	EventWebsiteBlocked    EventKind = "website_blocked"
	EventWebsiteUnblocked  EventKind = "website_unblocked"
)

// Event is a fire-and-forget notification about an enforcement action. A
// failed or slow consumer never delays or rolls back the action itself.
type Event struct {
	Kind    EventKind
	Subject string // application name, user ID or domain
	Detail  string
	At      time.Time
}

// Notifier consumes enforcement events.
type Notifier interface {
	Notify(event Event)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a notifier that logs each event.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "events").Logger()}
}

func (n *LogNotifier) Notify(event Event) {
	n.logger.Info().
		Str("kind", string(event.Kind)).
		Str("subject", event.Subject).
		Str("detail", event.Detail).
		Time("at", event.At).
		Msg("Enforcement event")
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}
