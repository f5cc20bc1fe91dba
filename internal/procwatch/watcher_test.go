package procwatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	procs []ProcessInfo
	err   error
}

func (f *fakeLister) List(ctx context.Context) ([]ProcessInfo, error) {
	return f.procs, f.err
}

func TestSnapshot(t *testing.T) {
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	lister := &fakeLister{procs: []ProcessInfo{
		{PID: 100, Name: "game.exe", StartedAt: started},
		{PID: 200, Name: "browser"},
	}}

	w := NewWatcher(lister, zerolog.Nop())
	procs, err := w.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, procs, 2)
	require.Equal(t, started, procs[0].StartedAt)
}

func TestSnapshotError(t *testing.T) {
	lister := &fakeLister{err: errors.New("proc unavailable")}
	w := NewWatcher(lister, zerolog.Nop())

	_, err := w.Snapshot(context.Background())
	require.Error(t, err)
}

func TestMatchByNameCaseInsensitive(t *testing.T) {
	procs := []ProcessInfo{
		{PID: 1, Name: "Game.EXE"},
		{PID: 2, Name: "game.exe"},
		{PID: 3, Name: "browser"},
		{PID: 4, Name: "  "},
	}

	byName := MatchByName(procs)
	require.Len(t, byName, 2)
	require.Len(t, byName["game.exe"], 2, "the same binary under different casing is one application")
	require.Len(t, byName["browser"], 1)
}

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "game.exe", NormalizeName("  Game.EXE "))
	require.Equal(t, "", NormalizeName("   "))
}
