// Package engine is the composition root: a periodic enforcement loop that
// combines the process watcher, session tracker and schedule evaluator, and
// issues termination and lock side effects.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/obyrne/wardend/internal/hostsfile"
	"github.com/obyrne/wardend/internal/metrics"
	"github.com/obyrne/wardend/internal/procwatch"
	"github.com/obyrne/wardend/internal/schedule"
	"github.com/obyrne/wardend/internal/session"
	"github.com/obyrne/wardend/internal/storage"
)

const (
	// DefaultTickInterval is the enforcement sweep period.
	DefaultTickInterval = 5 * time.Second

	// DefaultShutdownGrace bounds how long StopMonitoring waits for the
	// in-flight sweep to finish.
	DefaultShutdownGrace = 10 * time.Second

	// appSubjectPrefix keys per-application usage sessions so they never
	// collide with real user IDs.
	appSubjectPrefix = "app:"

	// ReasonOutsideHours and ReasonSessionCap are session end reasons set
	// by the enforcement sweep.
	ReasonOutsideHours = "outside allowed hours"
	ReasonSessionCap   = "session cap reached"
)

// Options wires the engine's collaborators. Store, Tracker, Watcher,
// Terminator and Evaluator are required; the rest default to no-ops.
type Options struct {
	Store      storage.Store
	Tracker    *session.Tracker
	Watcher    *procwatch.Watcher
	Terminator procwatch.Terminator
	Evaluator  *schedule.Evaluator
	Blocklist  *hostsfile.Blocklist
	Locker     Locker
	Notifier   Notifier
	Clock      schedule.Clock

	TickInterval  time.Duration
	ShutdownGrace time.Duration
}

// Engine runs the enforcement loop and exposes the public control API. Each
// instance owns its own state and lock; nothing is process-global.
type Engine struct {
	store      storage.Store
	tracker    *session.Tracker
	watcher    *procwatch.Watcher
	terminator procwatch.Terminator
	evaluator  *schedule.Evaluator
	blocklist  *hostsfile.Blocklist
	locker     Locker
	notifier   Notifier
	clock      schedule.Clock
	logger     zerolog.Logger

	tickInterval  time.Duration
	shutdownGrace time.Duration

	mu            sync.Mutex
	apps          map[string]*storage.MonitoredApplication
	openIntervals map[string]time.Time // app name -> open usage interval start
	running       bool
	stop          chan struct{}
	done          chan struct{}
}

// New creates an enforcement engine.
func New(opts Options, logger zerolog.Logger) (*Engine, error) {
	if opts.Store == nil || opts.Tracker == nil || opts.Watcher == nil || opts.Terminator == nil || opts.Evaluator == nil {
		return nil, fmt.Errorf("engine: store, tracker, watcher, terminator and evaluator are required")
	}
	if opts.Clock == nil {
		opts.Clock = schedule.RealClock{}
	}
	if opts.Locker == nil {
		opts.Locker = NopLocker{}
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}

	return &Engine{
		store:         opts.Store,
		tracker:       opts.Tracker,
		watcher:       opts.Watcher,
		terminator:    opts.Terminator,
		evaluator:     opts.Evaluator,
		blocklist:     opts.Blocklist,
		locker:        opts.Locker,
		notifier:      opts.Notifier,
		clock:         opts.Clock,
		logger:        logger.With().Str("component", "engine").Logger(),
		tickInterval:  opts.TickInterval,
		shutdownGrace: opts.ShutdownGrace,
		apps:          make(map[string]*storage.MonitoredApplication),
		openIntervals: make(map[string]time.Time),
	}, nil
}

// StartMonitoring loads the monitored-application list and starts the
// enforcement loop. Starting an already-running engine is a no-op.
func (e *Engine) StartMonitoring(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}

	apps, err := e.store.Apps().List(ctx)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("load monitored applications: %w", err)
	}
	e.apps = make(map[string]*storage.MonitoredApplication, len(apps))
	for i := range apps {
		app := apps[i]
		e.apps[app.Name] = &app
	}
	metrics.MonitoredApplications.Set(float64(len(e.apps)))

	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.mu.Unlock()

	if err := e.tracker.Restore(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to restore active sessions")
	}

	go e.run(ctx, e.stop, e.done)

	e.logger.Info().
		Dur("tick_interval", e.tickInterval).
		Int("applications", len(apps)).
		Msg("Enforcement loop started")
	return nil
}

// StopMonitoring signals the loop to stop and waits for the in-flight sweep
// to finish, bounded by the shutdown grace period.
func (e *Engine) StopMonitoring() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	done := e.done
	e.mu.Unlock()

	select {
	case <-done:
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		e.logger.Info().Msg("Enforcement loop stopped")
		return nil
	case <-time.After(e.shutdownGrace):
		// The loop already has the stop signal and exits once the
		// in-flight sweep returns; running stays set until then so a
		// restart cannot spawn a second loop next to the stale one.
		go func() {
			<-done
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			e.logger.Info().Msg("Enforcement loop stopped after grace period")
		}()
		return fmt.Errorf("enforcement loop did not stop within %s", e.shutdownGrace)
	}
}

// run drives the sweep. Ticks never overlap: the next sweep starts only
// after the previous returned.
func (e *Engine) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	e.Tick(ctx)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick executes one enforcement sweep. It is exported so callers can force
// an immediate sweep after changing the monitored-application list.
func (e *Engine) Tick(ctx context.Context) {
	timer := prometheus.NewTimer(metrics.TickDuration)
	defer timer.ObserveDuration()
	metrics.TicksTotal.Inc()

	procs, err := e.watcher.Snapshot(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Process snapshot failed, skipping sweep")
		return
	}
	byName := procwatch.MatchByName(procs)
	now := e.clock.Now()

	// The lock is held for one sweep of the application table only, so
	// callers polling usage are never blocked longer than one sweep.
	e.mu.Lock()
	for _, app := range e.apps {
		e.rolloverLocked(ctx, app, now)
		running := byName[app.Name]

		if len(running) > 0 {
			app.LastSeen = now
		}

		switch app.Status {
		case storage.StatusBlocked:
			if len(running) > 0 {
				e.terminateLocked(ctx, app, running, "blocked")
				e.notifier.Notify(Event{Kind: EventAppBlocked, Subject: app.Name, Detail: app.BlockReason, At: now})
			}
		default:
			// Allowed applications accrue usage too, so a limit set
			// mid-day counts what was already used this morning.
			if len(running) == 0 {
				break
			}
			if _, open := e.openIntervals[app.Name]; !open {
				e.openIntervals[app.Name] = now
			}
			limit := app.DailyLimit()
			if app.Status == storage.StatusTimeLimited && limit > 0 && e.usedTodayLocked(app, now) > limit {
				e.terminateLocked(ctx, app, running, "time limit exceeded")
				e.closeIntervalLocked(ctx, app, now)
				e.notifier.Notify(Event{
					Kind:    EventTimeLimitExceeded,
					Subject: app.Name,
					Detail:  fmt.Sprintf("daily limit %s exceeded", limit),
					At:      now,
				})
			}
		}
		if len(running) > 0 {
			e.persistLocked(ctx, app, now)
		}
	}

	// Close intervals of monitored processes that are no longer running and
	// fold the elapsed time into today's usage.
	for name := range e.openIntervals {
		if _, stillRunning := byName[name]; stillRunning {
			continue
		}
		if app, ok := e.apps[name]; ok {
			e.closeIntervalLocked(ctx, app, now)
			e.persistLocked(ctx, app, now)
		} else {
			delete(e.openIntervals, name)
		}
	}
	e.mu.Unlock()

	e.sweepSessions(ctx, now)
}

// sweepSessions locks the workstation and ends sessions whose schedule now
// forbids usage or whose per-session cap is exhausted.
func (e *Engine) sweepSessions(ctx context.Context, now time.Time) {
	for _, s := range e.tracker.ActiveSessions() {
		if strings.HasPrefix(s.UserID, appSubjectPrefix) {
			continue
		}

		decision, err := e.evaluator.IsAllowed(ctx, s.UserID, now)
		if err != nil {
			e.logger.Error().Err(err).Str("user_id", s.UserID).Msg("Schedule evaluation failed")
			continue
		}

		switch {
		case !decision.Allowed:
			e.lockAndEnd(ctx, s.ID, s.UserID, ReasonOutsideHours, now)
		case decision.MaxDuration > 0 && s.Duration(now) >= decision.MaxDuration:
			e.lockAndEnd(ctx, s.ID, s.UserID, ReasonSessionCap, now)
		}
	}
}

func (e *Engine) lockAndEnd(ctx context.Context, sessionID, userID, reason string, now time.Time) {
	if err := e.locker.Lock(ctx); err != nil {
		e.logger.Error().Err(err).Str("user_id", userID).Msg("Workstation lock failed")
	}
	metrics.LockRequestsTotal.WithLabelValues(reason).Inc()
	e.notifier.Notify(Event{Kind: EventLockRequested, Subject: userID, Detail: reason, At: now})

	if err := e.tracker.End(ctx, sessionID, reason); err != nil {
		e.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to end session")
		return
	}
	metrics.SessionsEnded.WithLabelValues(reason).Inc()
	e.notifier.Notify(Event{Kind: EventSessionEnded, Subject: userID, Detail: reason, At: now})
}

// terminateLocked kills every running instance of the application. Failures
// are isolated per process; a PID that cannot be killed this sweep is
// retried on the next one.
func (e *Engine) terminateLocked(ctx context.Context, app *storage.MonitoredApplication, procs []procwatch.ProcessInfo, reason string) {
	for _, p := range procs {
		if err := e.terminator.Terminate(ctx, p.PID); err != nil {
			metrics.TerminationErrors.WithLabelValues(app.Name).Inc()
			e.logger.Error().Err(err).
				Str("application", app.Name).
				Int32("pid", p.PID).
				Msg("Failed to terminate process")
			continue
		}
		metrics.TerminationsTotal.WithLabelValues(app.Name, reason).Inc()
		e.logger.Info().
			Str("application", app.Name).
			Int32("pid", p.PID).
			Str("reason", reason).
			Msg("Terminated process")
	}
}

// rolloverLocked resets today's usage counter on the first sweep after local
// midnight. An interval still open from yesterday is split at the boundary
// so its pre-midnight part is recorded against the correct day.
func (e *Engine) rolloverLocked(ctx context.Context, app *storage.MonitoredApplication, now time.Time) {
	today := now.Format(storage.DateKey)
	if app.UsageDate == today {
		return
	}

	if started, open := e.openIntervals[app.Name]; open {
		dayStart := storage.DayStart(now)
		if started.Before(dayStart) {
			if err := e.tracker.RecordInterval(ctx, appSubjectPrefix+app.Name, started, dayStart); err != nil {
				e.logger.Error().Err(err).Str("application", app.Name).Msg("Failed to record pre-midnight usage")
			}
			e.openIntervals[app.Name] = dayStart
		}
	}

	app.UsedTodaySeconds = 0
	app.UsageDate = today
	e.persistLocked(ctx, app, now)
}

// closeIntervalLocked folds an open usage interval into the application's
// today-usage counter and records it for aggregation.
func (e *Engine) closeIntervalLocked(ctx context.Context, app *storage.MonitoredApplication, now time.Time) {
	started, open := e.openIntervals[app.Name]
	if !open {
		return
	}
	delete(e.openIntervals, app.Name)

	if !now.After(started) {
		return
	}
	app.UsedTodaySeconds += int64(now.Sub(started).Seconds())
	if err := e.tracker.RecordInterval(ctx, appSubjectPrefix+app.Name, started, now); err != nil {
		e.logger.Error().Err(err).Str("application", app.Name).Msg("Failed to record usage interval")
	}
}

// usedTodayLocked is the persisted counter plus the currently-open interval.
func (e *Engine) usedTodayLocked(app *storage.MonitoredApplication, now time.Time) time.Duration {
	used := time.Duration(app.UsedTodaySeconds) * time.Second
	if started, open := e.openIntervals[app.Name]; open && now.After(started) {
		used += now.Sub(started)
	}
	return used
}

func (e *Engine) persistLocked(ctx context.Context, app *storage.MonitoredApplication, now time.Time) {
	app.UpdatedAt = now
	if err := e.store.Apps().Upsert(ctx, *app); err != nil {
		e.logger.Error().Err(err).Str("application", app.Name).Msg("Failed to persist application")
	}
}
