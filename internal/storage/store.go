package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface. The enforcement engine only
// ever talks to these interfaces; the backing implementation (bolt by
// default, redis for session churn) is wired up in cmd/wardend.
type Store interface {
	Close() error
	Apps() AppStore
	Sessions() SessionStore
	Schedules() ScheduleStore
	Websites() WebsiteStore
}

// AppStore manages monitored applications, keyed by lowercase process name.
type AppStore interface {
	Upsert(ctx context.Context, app MonitoredApplication) error
	Get(ctx context.Context, name string) (*MonitoredApplication, error)
	List(ctx context.Context) ([]MonitoredApplication, error)
	Delete(ctx context.Context, name string) error
}

// SessionStore manages usage sessions.
type SessionStore interface {
	Upsert(ctx context.Context, session UsageSession) error
	Get(ctx context.Context, id string) (*UsageSession, error)
	ListActive(ctx context.Context) ([]UsageSession, error)
	// ListByUser returns sessions for a user that overlap [from, to).
	ListByUser(ctx context.Context, userID string, from, to time.Time) ([]UsageSession, error)
	Delete(ctx context.Context, id string) error
	// DeleteInactiveBefore removes closed sessions that started before cutoff.
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ScheduleStore manages weekly schedule rules.
type ScheduleStore interface {
	Upsert(ctx context.Context, rule ScheduleRule) error
	Get(ctx context.Context, id string) (*ScheduleRule, error)
	ListByUser(ctx context.Context, userID string) ([]ScheduleRule, error)
	List(ctx context.Context) ([]ScheduleRule, error)
	Delete(ctx context.Context, id string) error
}

// WebsiteStore manages blocked website metadata, keyed by normalized domain.
type WebsiteStore interface {
	Upsert(ctx context.Context, site BlockedWebsite) error
	Get(ctx context.Context, domain string) (*BlockedWebsite, error)
	List(ctx context.Context) ([]BlockedWebsite, error)
	Delete(ctx context.Context, domain string) error
}
