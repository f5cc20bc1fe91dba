// Package procwatch enumerates and terminates OS processes for the
// enforcement loop.
package procwatch

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ProcessInfo describes a running process at snapshot time.
type ProcessInfo struct {
	PID       int32
	Name      string
	Exe       string
	StartedAt time.Time
}

// Lister enumerates running processes.
type Lister interface {
	List(ctx context.Context) ([]ProcessInfo, error)
}

// Terminator kills a process by PID.
type Terminator interface {
	Terminate(ctx context.Context, pid int32) error
}

// Watcher snapshots the process table and matches processes by name.
type Watcher struct {
	lister Lister
	logger zerolog.Logger
}

// NewWatcher creates a process watcher over the given lister.
func NewWatcher(lister Lister, logger zerolog.Logger) *Watcher {
	return &Watcher{
		lister: lister,
		logger: logger.With().Str("component", "procwatch").Logger(),
	}
}

// Snapshot returns all currently running processes. Individual processes
// that vanish mid-enumeration are skipped, not errors.
func (w *Watcher) Snapshot(ctx context.Context) ([]ProcessInfo, error) {
	return w.lister.List(ctx)
}

// MatchByName groups a snapshot by lowercased process name. Lookups by
// application name are case-insensitive.
func MatchByName(procs []ProcessInfo) map[string][]ProcessInfo {
	byName := make(map[string][]ProcessInfo)
	for _, p := range procs {
		key := NormalizeName(p.Name)
		if key == "" {
			continue
		}
		byName[key] = append(byName[key], p)
	}
	return byName
}

// NormalizeName lowercases and trims a process or application name so the
// same binary matches regardless of how it was configured.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
