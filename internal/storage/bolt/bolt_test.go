package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/obyrne/wardend/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "wardend.bolt"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	return store
}

func TestAppStoreCaseInsensitiveKey(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	app := storage.MonitoredApplication{
		Name:        "game.exe",
		DisplayName: "Game.EXE",
		Status:      storage.StatusBlocked,
		BlockReason: "homework first",
	}
	if err := store.Apps().Upsert(context.Background(), app); err != nil {
		t.Fatalf("upsert app: %v", err)
	}

	got, err := store.Apps().Get(context.Background(), "GAME.EXE")
	if err != nil {
		t.Fatalf("get app with uppercase name: %v", err)
	}
	if got.Status != storage.StatusBlocked {
		t.Fatalf("expected status BLOCKED, got %s", got.Status)
	}
}

func TestAppStoreDeleteMissing(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	err := store.Apps().Delete(context.Background(), "nope.exe")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionStoreListByUserOverlap(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local)
	end1 := day.Add(10 * time.Hour)
	end2 := day.Add(-22 * time.Hour)

	sessions := []storage.UsageSession{
		{ID: "in-range", UserID: "kid", StartedAt: day.Add(9 * time.Hour), EndedAt: &end1},
		{ID: "previous-day", UserID: "kid", StartedAt: day.Add(-24 * time.Hour), EndedAt: &end2},
		{ID: "other-user", UserID: "parent", StartedAt: day.Add(9 * time.Hour), EndedAt: &end1},
		{ID: "still-active", UserID: "kid", StartedAt: day.Add(11 * time.Hour), Active: true},
	}
	for _, s := range sessions {
		if err := store.Sessions().Upsert(context.Background(), s); err != nil {
			t.Fatalf("upsert session %s: %v", s.ID, err)
		}
	}

	got, err := store.Sessions().ListByUser(context.Background(), "kid", day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 overlapping sessions, got %d", len(got))
	}
}

func TestSessionStoreDeleteInactiveBefore(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	old := time.Now().AddDate(0, 0, -120)
	oldEnd := old.Add(time.Hour)
	recent := time.Now().Add(-time.Hour)
	recentEnd := recent.Add(30 * time.Minute)

	sessions := []storage.UsageSession{
		{ID: "ancient", UserID: "kid", StartedAt: old, EndedAt: &oldEnd},
		{ID: "recent", UserID: "kid", StartedAt: recent, EndedAt: &recentEnd},
		{ID: "ancient-but-active", UserID: "kid", StartedAt: old, Active: true},
	}
	for _, s := range sessions {
		if err := store.Sessions().Upsert(context.Background(), s); err != nil {
			t.Fatalf("upsert session %s: %v", s.ID, err)
		}
	}

	deleted, err := store.Sessions().DeleteInactiveBefore(context.Background(), time.Now().AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("delete inactive before: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted session, got %d", deleted)
	}
	if _, err := store.Sessions().Get(context.Background(), "ancient-but-active"); err != nil {
		t.Fatalf("active session should survive cleanup: %v", err)
	}
}

func TestScheduleStoreListByUser(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	rules := []storage.ScheduleRule{
		{ID: "r1", UserID: "kid", Day: time.Monday, Start: "16:00", End: "19:00", Allowed: true},
		{ID: "r2", UserID: "kid", Day: time.Saturday, Start: "09:00", End: "21:00", Allowed: true},
		{ID: "r3", UserID: "parent", Day: time.Monday, Start: "00:00", End: "23:59", Allowed: true},
	}
	for _, r := range rules {
		if err := store.Schedules().Upsert(context.Background(), r); err != nil {
			t.Fatalf("upsert rule %s: %v", r.ID, err)
		}
	}

	got, err := store.Schedules().ListByUser(context.Background(), "kid")
	if err != nil {
		t.Fatalf("list by user: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rules for kid, got %d", len(got))
	}
}

func TestWebsiteStoreUniqueByDomain(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	site := storage.BlockedWebsite{Domain: "example.com", Input: "http://www.example.com/", Category: "General", BlockedAt: time.Now()}
	if err := store.Websites().Upsert(context.Background(), site); err != nil {
		t.Fatalf("upsert website: %v", err)
	}
	site.Reason = "updated"
	if err := store.Websites().Upsert(context.Background(), site); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	all, err := store.Websites().List(context.Background())
	if err != nil {
		t.Fatalf("list websites: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 website after double upsert, got %d", len(all))
	}
	if all[0].Reason != "updated" {
		t.Fatalf("expected upsert to overwrite, got reason %q", all[0].Reason)
	}
}
