package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AppStatus represents the enforcement status of a monitored application.
type AppStatus string

const (
	StatusAllowed     AppStatus = "ALLOWED"
	StatusBlocked     AppStatus = "BLOCKED"
	StatusTimeLimited AppStatus = "TIME_LIMITED"
)

// UnmarshalJSON implements json.Unmarshaler to normalize status to uppercase.
func (s *AppStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	normalized := AppStatus(strings.ToUpper(raw))

	switch normalized {
	case StatusAllowed, StatusBlocked, StatusTimeLimited:
		*s = normalized
		return nil
	default:
		return fmt.Errorf("invalid app status: %s (must be ALLOWED, BLOCKED, or TIME_LIMITED)", raw)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (s AppStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// MonitoredApplication is a process name tracked by the enforcement engine.
// The key is the lowercase process name; matching is case-insensitive.
type MonitoredApplication struct {
	Name              string    `json:"name"` // lowercase process name, primary key
	DisplayName       string    `json:"display_name"`
	Status            AppStatus `json:"status"`
	BlockReason       string    `json:"block_reason,omitempty"`
	DailyLimitSeconds int64     `json:"daily_limit_seconds"` // 0 = no limit
	UsedTodaySeconds  int64     `json:"used_today_seconds"`
	UsageDate         string    `json:"usage_date"` // "2006-01-02" day the counter belongs to
	LastSeen          time.Time `json:"last_seen"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DailyLimit returns the daily limit as a duration, zero when unlimited.
func (a *MonitoredApplication) DailyLimit() time.Duration {
	return time.Duration(a.DailyLimitSeconds) * time.Second
}

// UsageSession is a contiguous interval during which a subject is using
// the system. The subject is either a real user ID or an application
// pseudo-user key ("app:<name>").
type UsageSession struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"` // nil while active
	Active    bool       `json:"active"`
	EndReason string     `json:"end_reason,omitempty"`
}

// Duration returns the session length, counting up to now for active sessions.
func (s *UsageSession) Duration(now time.Time) time.Duration {
	end := now
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// ScheduleRule is a per-user, per-day-of-week time window with an allowed
// flag and optional session duration cap. Start/End are "HH:MM" clock times;
// windows may wrap past midnight (e.g. 22:00-06:00).
type ScheduleRule struct {
	ID                 string       `json:"id"`
	UserID             string       `json:"user_id"`
	Day                time.Weekday `json:"day"`
	Start              string       `json:"start"` // "HH:MM"
	End                string       `json:"end"`   // "HH:MM"
	Allowed            bool         `json:"allowed"`
	MaxDurationMinutes int          `json:"max_duration_minutes"` // 0 = no cap
}

// MaxDuration returns the per-session cap as a duration, zero when uncapped.
func (r *ScheduleRule) MaxDuration() time.Duration {
	return time.Duration(r.MaxDurationMinutes) * time.Minute
}

// BlockedWebsite records a domain redirected to loopback via the hosts file.
// Domain is the normalized form and is unique; Input preserves what the
// caller originally passed in.
type BlockedWebsite struct {
	Domain    string    `json:"domain"` // normalized, primary key
	Input     string    `json:"input"`
	Category  string    `json:"category"`
	Reason    string    `json:"reason,omitempty"`
	BlockedAt time.Time `json:"blocked_at"`
}
