package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/obyrne/wardend/internal/procwatch"
	"github.com/obyrne/wardend/internal/schedule"
	"github.com/obyrne/wardend/internal/session"
	"github.com/obyrne/wardend/internal/storage"
	"github.com/obyrne/wardend/internal/storage/bolt"
)

// fakeProcs is an in-memory process table that doubles as lister and
// terminator: killed PIDs disappear from subsequent snapshots.
type fakeProcs struct {
	mu      sync.Mutex
	procs   map[int32]procwatch.ProcessInfo
	killErr map[int32]error
	killed  []int32
}

func newFakeProcs(procs ...procwatch.ProcessInfo) *fakeProcs {
	f := &fakeProcs{procs: make(map[int32]procwatch.ProcessInfo), killErr: make(map[int32]error)}
	for _, p := range procs {
		f.procs[p.PID] = p
	}
	return f
}

func (f *fakeProcs) List(ctx context.Context) ([]procwatch.ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]procwatch.ProcessInfo, 0, len(f.procs))
	for _, p := range f.procs {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProcs) Terminate(ctx context.Context, pid int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.killErr[pid]; ok {
		return err
	}
	delete(f.procs, pid)
	f.killed = append(f.killed, pid)
	return nil
}

func (f *fakeProcs) add(p procwatch.ProcessInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs[p.PID] = p
}

func (f *fakeProcs) remove(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.procs, pid)
}

func (f *fakeProcs) pids() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int32, 0, len(f.procs))
	for pid := range f.procs {
		out = append(out, pid)
	}
	return out
}

type fakeLocker struct {
	mu    sync.Mutex
	locks int
}

func (f *fakeLocker) Lock(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks++
	return nil
}

func (f *fakeLocker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locks
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

type fixture struct {
	engine   *Engine
	procs    *fakeProcs
	locker   *fakeLocker
	notifier *recordingNotifier
	clock    *schedule.TestClock
	store    storage.Store
	tracker  *session.Tracker
}

func newFixture(t *testing.T, procs *fakeProcs) *fixture {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "wardend.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := &schedule.TestClock{CurrentTime: time.Date(2026, 3, 2, 10, 0, 0, 0, time.Local)}
	evaluator := schedule.NewEvaluator(store.Schedules(), zerolog.Nop())
	tracker := session.NewTracker(store.Sessions(), evaluator, clock, zerolog.Nop())
	locker := &fakeLocker{}
	notifier := &recordingNotifier{}

	eng, err := New(Options{
		Store:      store,
		Tracker:    tracker,
		Watcher:    procwatch.NewWatcher(procs, zerolog.Nop()),
		Terminator: procs,
		Evaluator:  evaluator,
		Locker:     locker,
		Notifier:   notifier,
		Clock:      clock,
	}, zerolog.Nop())
	require.NoError(t, err)

	return &fixture{
		engine:   eng,
		procs:    procs,
		locker:   locker,
		notifier: notifier,
		clock:    clock,
		store:    store,
		tracker:  tracker,
	}
}

func TestBlockedApplicationTerminatedOnTick(t *testing.T) {
	procs := newFakeProcs(
		procwatch.ProcessInfo{PID: 100, Name: "Game.EXE"},
		procwatch.ProcessInfo{PID: 101, Name: "game.exe"},
		procwatch.ProcessInfo{PID: 200, Name: "editor"},
	)
	f := newFixture(t, procs)
	ctx := context.Background()

	require.NoError(t, f.engine.BlockApplication(ctx, "game.exe", "homework time"))
	f.engine.Tick(ctx)

	require.ElementsMatch(t, []int32{200}, procs.pids(), "every instance of the blocked application is gone")
	require.Contains(t, f.notifier.kinds(), EventAppBlocked)
}

func TestTerminationFailureIsolatedPerProcess(t *testing.T) {
	procs := newFakeProcs(
		procwatch.ProcessInfo{PID: 100, Name: "game.exe"},
		procwatch.ProcessInfo{PID: 101, Name: "game.exe"},
	)
	procs.killErr[100] = errors.New("access denied")
	f := newFixture(t, procs)
	ctx := context.Background()

	require.NoError(t, f.engine.BlockApplication(ctx, "game.exe", ""))
	f.engine.Tick(ctx)

	// 101 died even though 100 could not be killed; 100 is retried next tick.
	require.ElementsMatch(t, []int32{100}, procs.pids())
}

func TestTimeLimitEnforcement(t *testing.T) {
	procs := newFakeProcs(procwatch.ProcessInfo{PID: 100, Name: "game.exe"})
	f := newFixture(t, procs)
	ctx := context.Background()

	require.NoError(t, f.engine.SetTimeLimit(ctx, "game.exe", 30*time.Minute))

	f.engine.Tick(ctx) // opens the usage interval
	require.ElementsMatch(t, []int32{100}, procs.pids(), "under the limit the process keeps running")

	f.clock.Advance(31 * time.Minute)
	f.engine.Tick(ctx)

	require.Empty(t, procs.pids(), "crossing the daily limit terminates the application")
	require.Contains(t, f.notifier.kinds(), EventTimeLimitExceeded)
	require.GreaterOrEqual(t, f.engine.AppUsageToday("game.exe"), 31*time.Minute)
}

func TestUsageBookkeepingFoldsClosedIntervals(t *testing.T) {
	procs := newFakeProcs(procwatch.ProcessInfo{PID: 100, Name: "game.exe"})
	f := newFixture(t, procs)
	ctx := context.Background()

	require.NoError(t, f.engine.SetTimeLimit(ctx, "game.exe", 4*time.Hour))

	f.engine.Tick(ctx)
	f.clock.Advance(20 * time.Minute)
	procs.remove(100) // user closed the game
	f.engine.Tick(ctx)

	require.Equal(t, 20*time.Minute, f.engine.AppUsageToday("game.exe"))

	app, err := f.store.Apps().Get(ctx, "game.exe")
	require.NoError(t, err)
	require.Equal(t, int64(20*60), app.UsedTodaySeconds)

	// The closed interval is recorded for aggregation under the app key.
	used, err := f.tracker.DailyUsage(ctx, "app:game.exe", f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 20*time.Minute, used)
}

func TestAllowedApplicationAccruesUsage(t *testing.T) {
	procs := newFakeProcs(procwatch.ProcessInfo{PID: 100, Name: "game.exe"})
	f := newFixture(t, procs)
	ctx := context.Background()

	// Unblocking keeps the application monitored; its usage must still
	// accumulate while it is merely allowed.
	require.NoError(t, f.engine.BlockApplication(ctx, "game.exe", "homework time"))
	require.NoError(t, f.engine.UnblockApplication(ctx, "game.exe"))

	f.engine.Tick(ctx)
	f.clock.Advance(20 * time.Minute)
	procs.remove(100) // user closed the game
	f.engine.Tick(ctx)

	require.Equal(t, 20*time.Minute, f.engine.AppUsageToday("game.exe"))

	used, err := f.tracker.DailyUsage(ctx, "app:game.exe", f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 20*time.Minute, used)

	// A limit set mid-day counts the morning's use.
	procs.add(procwatch.ProcessInfo{PID: 101, Name: "game.exe"})
	require.NoError(t, f.engine.SetTimeLimit(ctx, "game.exe", 15*time.Minute))
	f.engine.Tick(ctx)
	require.Empty(t, procs.pids(), "20 minutes already used against a 15-minute limit")
}

func TestTimeLimitBoundaryIsExclusive(t *testing.T) {
	procs := newFakeProcs(procwatch.ProcessInfo{PID: 100, Name: "game.exe"})
	f := newFixture(t, procs)
	ctx := context.Background()

	require.NoError(t, f.engine.SetTimeLimit(ctx, "game.exe", 30*time.Minute))
	f.engine.Tick(ctx)

	f.clock.Advance(30 * time.Minute)
	f.engine.Tick(ctx)
	require.ElementsMatch(t, []int32{100}, procs.pids(), "usage equal to the limit is still within it")

	f.clock.Advance(time.Minute)
	f.engine.Tick(ctx)
	require.Empty(t, procs.pids())
}

func TestMidnightRolloverResetsUsage(t *testing.T) {
	procs := newFakeProcs(procwatch.ProcessInfo{PID: 100, Name: "game.exe"})
	f := newFixture(t, procs)
	ctx := context.Background()

	require.NoError(t, f.engine.SetTimeLimit(ctx, "game.exe", 4*time.Hour))

	f.clock.CurrentTime = time.Date(2026, 3, 2, 23, 30, 0, 0, time.Local)
	f.engine.Tick(ctx)

	f.clock.CurrentTime = time.Date(2026, 3, 3, 0, 30, 0, 0, time.Local)
	f.engine.Tick(ctx)

	// Only the post-midnight half-hour counts against the new day.
	require.Equal(t, 30*time.Minute, f.engine.AppUsageToday("game.exe"))

	used, err := f.tracker.DailyUsage(ctx, "app:game.exe", time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, used, "the pre-midnight half belongs to the previous day")
}

func TestScheduleViolationLocksAndEndsSession(t *testing.T) {
	procs := newFakeProcs()
	f := newFixture(t, procs)
	ctx := context.Background()

	require.NoError(t, f.store.Schedules().Upsert(ctx, storage.ScheduleRule{
		ID: "quiet", UserID: "kid", Day: time.Monday,
		Start: "21:00", End: "23:00", Allowed: false,
	}))

	f.clock.CurrentTime = time.Date(2026, 3, 2, 20, 0, 0, 0, time.Local)
	s, err := f.engine.StartSession(ctx, "kid")
	require.NoError(t, err)

	f.clock.CurrentTime = time.Date(2026, 3, 2, 21, 5, 0, 0, time.Local)
	f.engine.Tick(ctx)

	require.Equal(t, 1, f.locker.count())
	require.Nil(t, f.tracker.ActiveSession("kid"))

	closed, err := f.store.Sessions().Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, ReasonOutsideHours, closed.EndReason)
}

func TestSessionCapEnforced(t *testing.T) {
	procs := newFakeProcs()
	f := newFixture(t, procs)
	ctx := context.Background()

	require.NoError(t, f.store.Schedules().Upsert(ctx, storage.ScheduleRule{
		ID: "capped", UserID: "kid", Day: time.Monday,
		Start: "08:00", End: "20:00", Allowed: true, MaxDurationMinutes: 60,
	}))

	_, err := f.engine.StartSession(ctx, "kid")
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	f.engine.Tick(ctx)
	require.NotNil(t, f.tracker.ActiveSession("kid"), "under the cap the session stays open")

	f.clock.Advance(31 * time.Minute)
	f.engine.Tick(ctx)

	require.Nil(t, f.tracker.ActiveSession("kid"))
	require.Equal(t, 1, f.locker.count())
}

func TestStartSessionDeniedLocksWorkstation(t *testing.T) {
	procs := newFakeProcs()
	f := newFixture(t, procs)
	ctx := context.Background()

	require.NoError(t, f.store.Schedules().Upsert(ctx, storage.ScheduleRule{
		ID: "quiet", UserID: "kid", Day: time.Monday,
		Start: "08:00", End: "20:00", Allowed: false,
	}))

	_, err := f.engine.StartSession(ctx, "kid")
	require.ErrorIs(t, err, session.ErrOutsideSchedule)
	require.Equal(t, 1, f.locker.count())
	require.Contains(t, f.notifier.kinds(), EventLockRequested)
}

func TestUnblockUnknownApplicationIsNoop(t *testing.T) {
	f := newFixture(t, newFakeProcs())
	require.NoError(t, f.engine.UnblockApplication(context.Background(), "never-seen"))
}

func TestStartStopMonitoring(t *testing.T) {
	f := newFixture(t, newFakeProcs())
	ctx := context.Background()

	require.NoError(t, f.engine.StartMonitoring(ctx))
	require.NoError(t, f.engine.StartMonitoring(ctx), "second start is a no-op")
	require.NoError(t, f.engine.StopMonitoring())
	require.NoError(t, f.engine.StopMonitoring(), "second stop is a no-op")
}

// stallingProcs blocks every snapshot until released, simulating a sweep
// that outlives the shutdown grace period.
type stallingProcs struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (s *stallingProcs) List(ctx context.Context) ([]procwatch.ProcessInfo, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-s.release
	return nil, nil
}

func (s *stallingProcs) Terminate(ctx context.Context, pid int32) error { return nil }

func (s *stallingProcs) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestStopTimeoutBlocksRestartUntilLoopExits(t *testing.T) {
	procs := &stallingProcs{release: make(chan struct{})}

	store, err := bolt.Open(filepath.Join(t.TempDir(), "wardend.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	evaluator := schedule.NewEvaluator(store.Schedules(), zerolog.Nop())
	tracker := session.NewTracker(store.Sessions(), evaluator, nil, zerolog.Nop())

	eng, err := New(Options{
		Store:         store,
		Tracker:       tracker,
		Watcher:       procwatch.NewWatcher(procs, zerolog.Nop()),
		Terminator:    procs,
		Evaluator:     evaluator,
		TickInterval:  time.Hour,
		ShutdownGrace: 50 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, eng.StartMonitoring(ctx))
	require.Eventually(t, func() bool { return procs.count() == 1 }, time.Second, 5*time.Millisecond,
		"the immediate sweep is inside the snapshot")

	require.Error(t, eng.StopMonitoring(), "the stalled sweep outlives the grace period")

	// The old loop is still draining; a restart must not spawn a second one.
	require.NoError(t, eng.StartMonitoring(ctx))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, procs.count(), "no second loop while the stale one is draining")

	close(procs.release)

	// Once the stale loop has exited, a fresh start works again.
	require.Eventually(t, func() bool {
		if err := eng.StartMonitoring(ctx); err != nil {
			return false
		}
		return procs.count() >= 2
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, eng.StopMonitoring())
}

func TestGetUsageStats(t *testing.T) {
	f := newFixture(t, newFakeProcs())
	ctx := context.Background()

	s, err := f.engine.StartSession(ctx, "kid")
	require.NoError(t, err)
	f.clock.Advance(40 * time.Minute)
	require.NoError(t, f.engine.EndSession(ctx, s.ID, "done"))

	day := storage.DayStart(f.clock.Now())
	stats, err := f.engine.GetUsageStats(ctx, "kid", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Equal(t, 40*time.Minute, stats.Total)
	require.Equal(t, 1, stats.Sessions)
}
