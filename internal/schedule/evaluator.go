// Package schedule evaluates weekly schedule rules: is usage allowed at a
// given instant, and what is the per-session time cap.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/obyrne/wardend/internal/storage"
)

// Decision is the outcome of evaluating a user's schedule at an instant.
type Decision struct {
	Allowed     bool
	MaxDuration time.Duration // 0 = no per-session cap
	RuleID      string        // empty when no rule matched (fail-open)
}

// Evaluator answers schedule questions against stored rules. It holds no
// mutable state; rules are fetched per query.
type Evaluator struct {
	store  storage.ScheduleStore
	logger zerolog.Logger
}

// NewEvaluator creates a schedule evaluator backed by the given rule store.
func NewEvaluator(store storage.ScheduleStore, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:  store,
		logger: logger.With().Str("component", "schedule").Logger(),
	}
}

// IsAllowed reports whether usage is allowed for the user at the given
// instant. When no rule covers the instant the answer is allowed with no
// cap: the engine is fail-open by default.
func (e *Evaluator) IsAllowed(ctx context.Context, userID string, at time.Time) (Decision, error) {
	rules, err := e.store.ListByUser(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("list schedule rules for %s: %w", userID, err)
	}
	return Evaluate(rules, at), nil
}

// Evaluate selects the rule whose day and time-of-day window contain the
// instant and returns its decision. With no matching rule usage is allowed.
func Evaluate(rules []storage.ScheduleRule, at time.Time) Decision {
	minute := at.Hour()*60 + at.Minute()

	for _, rule := range rules {
		if rule.Day != at.Weekday() {
			continue
		}
		from, err := ParseClock(rule.Start)
		if err != nil {
			continue
		}
		to, err := ParseClock(rule.End)
		if err != nil {
			continue
		}
		if !InTimeRange(minute, from, to) {
			continue
		}
		return Decision{
			Allowed:     rule.Allowed,
			MaxDuration: rule.MaxDuration(),
			RuleID:      rule.ID,
		}
	}

	return Decision{Allowed: true}
}

// InTimeRange reports whether the minute-of-day t falls inside the window
// [from, to], in minutes since midnight. Windows where from > to wrap past
// midnight: 22:00-06:00 contains 23:00 and 02:00 but not 12:00.
func InTimeRange(t, from, to int) bool {
	if from <= to {
		return t >= from && t <= to
	}
	return t >= from || t <= to
}

// ParseClock parses a "HH:MM" clock time into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("clock time must be HH:MM, got %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("clock time out of range: %q", s)
	}
	return hour*60 + minute, nil
}
