package session

import (
	"context"
	"fmt"
	"time"

	"github.com/obyrne/wardend/internal/storage"
)

// Stats summarizes a subject's usage over a query range.
type Stats struct {
	Total     time.Duration
	Remaining time.Duration // only meaningful when a limit was supplied
	OverLimit bool
	Sessions  int
}

// DailyUsage returns the total session time for the subject on the given
// day. Sessions spanning midnight are clipped to the day's boundaries;
// active sessions count up to now.
func (t *Tracker) DailyUsage(ctx context.Context, userID string, date time.Time) (time.Duration, error) {
	from := storage.DayStart(date)
	return t.usageBetween(ctx, userID, from, from.AddDate(0, 0, 1))
}

// WeeklyUsage returns the total session time for the calendar week
// (Monday-based) containing the given day.
func (t *Tracker) WeeklyUsage(ctx context.Context, userID string, date time.Time) (time.Duration, error) {
	day := storage.DayStart(date)
	offset := (int(day.Weekday()) + 6) % 7 // days since Monday
	from := day.AddDate(0, 0, -offset)
	return t.usageBetween(ctx, userID, from, from.AddDate(0, 0, 7))
}

// MonthlyUsage returns the total session time for the calendar month
// containing the given day.
func (t *Tracker) MonthlyUsage(ctx context.Context, userID string, date time.Time) (time.Duration, error) {
	from := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, date.Location())
	return t.usageBetween(ctx, userID, from, from.AddDate(0, 1, 0))
}

// UsageBetween returns the total clipped session time inside [from, to).
func (t *Tracker) UsageBetween(ctx context.Context, userID string, from, to time.Time) (time.Duration, error) {
	return t.usageBetween(ctx, userID, from, to)
}

func (t *Tracker) usageBetween(ctx context.Context, userID string, from, to time.Time) (time.Duration, error) {
	sessions, err := t.store.ListByUser(ctx, userID, from, to)
	if err != nil {
		return 0, fmt.Errorf("list sessions for %s: %w", userID, err)
	}

	now := t.clock.Now()
	var total time.Duration
	for _, session := range sessions {
		start, end, ok := clip(session, from, to, now)
		if !ok {
			continue
		}
		total += end.Sub(start)
	}
	return total, nil
}

// HourlyBuckets distributes the subject's session minutes on the given day
// across the 24 hours. A session covering hours [startHour..endHour]
// contributes 60 minutes to every full hour, 60-startMinute to the first and
// endMinute to the last, so the bucket sum equals the session duration in
// whole minutes.
func (t *Tracker) HourlyBuckets(ctx context.Context, userID string, date time.Time) ([24]int, error) {
	var buckets [24]int

	from := storage.DayStart(date)
	to := from.AddDate(0, 0, 1)

	sessions, err := t.store.ListByUser(ctx, userID, from, to)
	if err != nil {
		return buckets, fmt.Errorf("list sessions for %s: %w", userID, err)
	}

	now := t.clock.Now()
	for _, session := range sessions {
		start, end, ok := clip(session, from, to, now)
		if !ok {
			continue
		}
		distributeMinutes(&buckets, start, end)
	}
	return buckets, nil
}

// distributeMinutes spreads [start, end) within a single day across hour
// buckets at whole-minute granularity.
func distributeMinutes(buckets *[24]int, start, end time.Time) {
	startHour, startMinute := start.Hour(), start.Minute()
	endHour, endMinute := end.Hour(), end.Minute()

	// end falling exactly on the next midnight belongs entirely to hour 23.
	if end.Hour() == 0 && end.Minute() == 0 && end.After(start) {
		endHour, endMinute = 23, 60
	}

	if startHour == endHour {
		buckets[startHour] += endMinute - startMinute
		return
	}

	buckets[startHour] += 60 - startMinute
	for h := startHour + 1; h < endHour; h++ {
		buckets[h] += 60
	}
	if endHour < 24 {
		buckets[endHour] += endMinute
	}
}

// OverLimit reports whether the subject's usage today exceeds the limit and
// how much time remains (clamped at zero). A zero limit means unlimited.
func (t *Tracker) OverLimit(ctx context.Context, userID string, limit time.Duration) (bool, time.Duration, error) {
	if limit <= 0 {
		return false, 0, nil
	}
	used, err := t.DailyUsage(ctx, userID, t.clock.Now())
	if err != nil {
		return false, 0, err
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return used > limit, remaining, nil
}

// clip bounds a session interval to [from, to), using now as the end of
// active sessions. ok is false when nothing remains after clipping.
func clip(session storage.UsageSession, from, to, now time.Time) (time.Time, time.Time, bool) {
	start := session.StartedAt
	end := now
	if session.EndedAt != nil {
		end = *session.EndedAt
	}
	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
