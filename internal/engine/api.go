package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/obyrne/wardend/internal/hostsfile"
	"github.com/obyrne/wardend/internal/metrics"
	"github.com/obyrne/wardend/internal/procwatch"
	"github.com/obyrne/wardend/internal/session"
	"github.com/obyrne/wardend/internal/storage"
)

// BlockApplication marks the named application as blocked; running instances
// are terminated on the next sweep. Unknown names are added to the monitored
// list.
func (e *Engine) BlockApplication(ctx context.Context, name, reason string) error {
	key := procwatch.NormalizeName(name)
	if key == "" {
		return fmt.Errorf("empty application name")
	}
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	app, ok := e.apps[key]
	if !ok {
		app = &storage.MonitoredApplication{
			Name:        key,
			DisplayName: name,
			UsageDate:   now.Format(storage.DateKey),
			CreatedAt:   now,
		}
		e.apps[key] = app
		metrics.MonitoredApplications.Set(float64(len(e.apps)))
	}
	app.Status = storage.StatusBlocked
	app.BlockReason = reason
	app.UpdatedAt = now

	if err := e.store.Apps().Upsert(ctx, *app); err != nil {
		return fmt.Errorf("persist application %s: %w", key, err)
	}

	e.logger.Info().Str("application", key).Str("reason", reason).Msg("Application blocked")
	return nil
}

// UnblockApplication sets the named application back to allowed. Unknown
// names are a no-op success.
func (e *Engine) UnblockApplication(ctx context.Context, name string) error {
	key := procwatch.NormalizeName(name)
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	app, ok := e.apps[key]
	if !ok {
		return nil
	}
	app.Status = storage.StatusAllowed
	app.BlockReason = ""
	app.UpdatedAt = now

	if err := e.store.Apps().Upsert(ctx, *app); err != nil {
		return fmt.Errorf("persist application %s: %w", key, err)
	}

	e.logger.Info().Str("application", key).Msg("Application unblocked")
	return nil
}

// SetTimeLimit marks the application as time-limited with the given daily
// budget. A zero duration removes the limit but keeps the application
// monitored.
func (e *Engine) SetTimeLimit(ctx context.Context, name string, limit time.Duration) error {
	key := procwatch.NormalizeName(name)
	if key == "" {
		return fmt.Errorf("empty application name")
	}
	if limit < 0 {
		return fmt.Errorf("negative time limit")
	}
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	app, ok := e.apps[key]
	if !ok {
		app = &storage.MonitoredApplication{
			Name:        key,
			DisplayName: name,
			UsageDate:   now.Format(storage.DateKey),
			CreatedAt:   now,
		}
		e.apps[key] = app
		metrics.MonitoredApplications.Set(float64(len(e.apps)))
	}
	app.Status = storage.StatusTimeLimited
	app.DailyLimitSeconds = int64(limit.Seconds())
	if limit == 0 {
		app.Status = storage.StatusAllowed
	}
	app.UpdatedAt = now

	if err := e.store.Apps().Upsert(ctx, *app); err != nil {
		return fmt.Errorf("persist application %s: %w", key, err)
	}

	e.logger.Info().Str("application", key).Dur("limit", limit).Msg("Time limit set")
	return nil
}

// MonitoredApplications returns a copy of the monitored-application table.
func (e *Engine) MonitoredApplications() []storage.MonitoredApplication {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]storage.MonitoredApplication, 0, len(e.apps))
	for _, app := range e.apps {
		out = append(out, *app)
	}
	return out
}

// GetRunningApplications returns the current process snapshot.
func (e *Engine) GetRunningApplications(ctx context.Context) ([]procwatch.ProcessInfo, error) {
	return e.watcher.Snapshot(ctx)
}

// StartSession opens a usage session for the user. A schedule denial locks
// the workstation and is returned as session.ErrOutsideSchedule.
func (e *Engine) StartSession(ctx context.Context, userID string) (*storage.UsageSession, error) {
	s, err := e.tracker.Start(ctx, userID)
	if errors.Is(err, session.ErrOutsideSchedule) {
		metrics.SessionsDenied.Inc()
		now := e.clock.Now()
		if lockErr := e.locker.Lock(ctx); lockErr != nil {
			e.logger.Error().Err(lockErr).Str("user_id", userID).Msg("Workstation lock failed")
		}
		metrics.LockRequestsTotal.WithLabelValues("session denied").Inc()
		e.notifier.Notify(Event{Kind: EventLockRequested, Subject: userID, Detail: "session denied by schedule", At: now})
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	metrics.SessionsStarted.Inc()
	e.notifier.Notify(Event{Kind: EventSessionStarted, Subject: userID, At: s.StartedAt})
	return s, nil
}

// EndSession closes a session by ID. Unknown sessions are a no-op success.
func (e *Engine) EndSession(ctx context.Context, sessionID, reason string) error {
	if err := e.tracker.End(ctx, sessionID, reason); err != nil {
		return err
	}
	metrics.SessionsEnded.WithLabelValues(reason).Inc()
	e.notifier.Notify(Event{Kind: EventSessionEnded, Subject: sessionID, Detail: reason, At: e.clock.Now()})
	return nil
}

// BlockWebsite adds the domain to the hosts blocklist.
func (e *Engine) BlockWebsite(ctx context.Context, domain, category, reason string) error {
	if e.blocklist == nil {
		return fmt.Errorf("website blocking not configured")
	}
	if err := e.blocklist.Block(ctx, domain, category, reason); err != nil {
		return err
	}
	metrics.WebsitesBlocked.WithLabelValues(category).Inc()
	e.notifier.Notify(Event{Kind: EventWebsiteBlocked, Subject: hostsfile.Normalize(domain), Detail: category, At: e.clock.Now()})
	return nil
}

// UnblockWebsite removes the domain from the hosts blocklist. Unknown
// domains are a no-op success.
func (e *Engine) UnblockWebsite(ctx context.Context, domain string) error {
	if e.blocklist == nil {
		return fmt.Errorf("website blocking not configured")
	}
	if err := e.blocklist.Unblock(ctx, domain); err != nil {
		return err
	}
	metrics.WebsitesUnblocked.Inc()
	e.notifier.Notify(Event{Kind: EventWebsiteUnblocked, Subject: hostsfile.Normalize(domain), At: e.clock.Now()})
	return nil
}

// IsWebsiteBlocked reports whether the domain is currently blocked.
func (e *Engine) IsWebsiteBlocked(domain string) (bool, error) {
	if e.blocklist == nil {
		return false, nil
	}
	return e.blocklist.IsBlocked(domain)
}

// ListBlockedWebsites returns the recorded blocklist entries.
func (e *Engine) ListBlockedWebsites(ctx context.Context) ([]storage.BlockedWebsite, error) {
	if e.blocklist == nil {
		return nil, nil
	}
	return e.blocklist.List(ctx)
}

// GetUsageStats summarizes the user's session time inside [from, to).
func (e *Engine) GetUsageStats(ctx context.Context, userID string, from, to time.Time) (session.Stats, error) {
	total, err := e.tracker.UsageBetween(ctx, userID, from, to)
	if err != nil {
		return session.Stats{}, err
	}
	sessions, err := e.store.Sessions().ListByUser(ctx, userID, from, to)
	if err != nil {
		return session.Stats{}, err
	}
	return session.Stats{Total: total, Sessions: len(sessions)}, nil
}

// AppUsageToday returns the named application's accumulated usage today,
// including any currently-open interval.
func (e *Engine) AppUsageToday(name string) time.Duration {
	key := procwatch.NormalizeName(name)
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	app, ok := e.apps[key]
	if !ok {
		return 0
	}
	if app.UsageDate != now.Format(storage.DateKey) {
		if started, open := e.openIntervals[key]; open {
			dayStart := storage.DayStart(now)
			if started.Before(dayStart) {
				started = dayStart
			}
			if now.After(started) {
				return now.Sub(started)
			}
		}
		return 0
	}
	return e.usedTodayLocked(app, now)
}
