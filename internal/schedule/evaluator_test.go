package schedule

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/obyrne/wardend/internal/storage"
	"github.com/obyrne/wardend/internal/storage/bolt"
)

func TestInTimeRangeWrapAround(t *testing.T) {
	from, _ := ParseClock("22:00")
	to, _ := ParseClock("06:00")

	tests := []struct {
		name string
		at   string
		want bool
	}{
		{"late evening inside", "23:00", true},
		{"early morning inside", "02:00", true},
		{"midday outside", "12:00", false},
		{"window start", "22:00", true},
		{"window end", "06:00", true},
		{"just before start", "21:59", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at, err := ParseClock(tt.at)
			if err != nil {
				t.Fatalf("parse %s: %v", tt.at, err)
			}
			if got := InTimeRange(at, from, to); got != tt.want {
				t.Errorf("InTimeRange(%s, 22:00, 06:00) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestInTimeRangeNonWrapping(t *testing.T) {
	from, _ := ParseClock("08:00")
	to, _ := ParseClock("17:00")

	tests := []struct {
		at   string
		want bool
	}{
		{"08:00", true},
		{"12:30", true},
		{"17:00", true},
		{"07:59", false},
		{"17:01", false},
	}

	for _, tt := range tests {
		at, _ := ParseClock(tt.at)
		if got := InTimeRange(at, from, to); got != tt.want {
			t.Errorf("InTimeRange(%s, 08:00, 17:00) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestParseClockErrors(t *testing.T) {
	for _, s := range []string{"", "22", "25:00", "12:60", "ab:cd", "-1:30"} {
		if _, err := ParseClock(s); err == nil {
			t.Errorf("ParseClock(%q) should fail", s)
		}
	}
}

// mondayAt returns a timestamp on a known Monday at the given clock time.
func mondayAt(t *testing.T, clock string) time.Time {
	t.Helper()
	minute, err := ParseClock(clock)
	if err != nil {
		t.Fatalf("parse %s: %v", clock, err)
	}
	// 2026-03-02 is a Monday.
	return time.Date(2026, 3, 2, minute/60, minute%60, 0, 0, time.Local)
}

func TestEvaluateDisallowWindow(t *testing.T) {
	rules := []storage.ScheduleRule{
		{ID: "no-late-gaming", UserID: "kid", Day: time.Monday, Start: "21:00", End: "23:00", Allowed: false},
	}

	if d := Evaluate(rules, mondayAt(t, "22:00")); d.Allowed {
		t.Error("22:00 inside the disallow window should be denied")
	}
	if d := Evaluate(rules, mondayAt(t, "20:00")); !d.Allowed {
		t.Error("20:00 has no matching rule and should fall through to allowed")
	}
}

func TestEvaluateFailOpenWithoutRules(t *testing.T) {
	d := Evaluate(nil, mondayAt(t, "12:00"))
	if !d.Allowed {
		t.Error("no rules at all should evaluate to allowed")
	}
	if d.RuleID != "" {
		t.Errorf("fail-open decision should carry no rule ID, got %q", d.RuleID)
	}
}

func TestEvaluateWrongDayIgnored(t *testing.T) {
	rules := []storage.ScheduleRule{
		{ID: "sat-only", UserID: "kid", Day: time.Saturday, Start: "00:00", End: "23:59", Allowed: false},
	}
	if d := Evaluate(rules, mondayAt(t, "12:00")); !d.Allowed {
		t.Error("a Saturday rule must not apply on Monday")
	}
}

func TestEvaluateMaxDuration(t *testing.T) {
	rules := []storage.ScheduleRule{
		{ID: "capped", UserID: "kid", Day: time.Monday, Start: "16:00", End: "19:00", Allowed: true, MaxDurationMinutes: 90},
	}
	d := Evaluate(rules, mondayAt(t, "17:00"))
	if !d.Allowed {
		t.Fatal("17:00 should be allowed")
	}
	if d.MaxDuration != 90*time.Minute {
		t.Errorf("expected 90m cap, got %s", d.MaxDuration)
	}
}

func TestEvaluatorAgainstStore(t *testing.T) {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "wardend.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	rule := storage.ScheduleRule{
		ID: "quiet-hours", UserID: "kid", Day: time.Monday,
		Start: "22:00", End: "06:00", Allowed: false,
	}
	if err := store.Schedules().Upsert(context.Background(), rule); err != nil {
		t.Fatalf("upsert rule: %v", err)
	}

	ev := NewEvaluator(store.Schedules(), zerolog.Nop())

	d, err := ev.IsAllowed(context.Background(), "kid", mondayAt(t, "23:30"))
	if err != nil {
		t.Fatalf("IsAllowed: %v", err)
	}
	if d.Allowed {
		t.Error("23:30 inside Monday quiet hours should be denied")
	}

	d, err = ev.IsAllowed(context.Background(), "someone-else", mondayAt(t, "23:30"))
	if err != nil {
		t.Fatalf("IsAllowed: %v", err)
	}
	if !d.Allowed {
		t.Error("user without rules should be allowed (fail-open)")
	}
}
