package engine

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Locker requests an OS lock-workstation action.
type Locker interface {
	Lock(ctx context.Context) error
}

// CommandLocker locks the workstation by running an external command,
// "loginctl lock-session" by default.
type CommandLocker struct {
	command []string
	logger  zerolog.Logger
}

// NewCommandLocker creates a locker for the given command line. An empty
// command falls back to loginctl.
func NewCommandLocker(command string, logger zerolog.Logger) *CommandLocker {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		fields = []string{"loginctl", "lock-session"}
	}
	return &CommandLocker{
		command: fields,
		logger:  logger.With().Str("component", "locker").Logger(),
	}
}

func (l *CommandLocker) Lock(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, l.command[0], l.command[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("lock command %q: %w: %s", strings.Join(l.command, " "), err, strings.TrimSpace(string(out)))
	}
	l.logger.Info().Msg("Workstation lock requested")
	return nil
}

// NopLocker ignores lock requests. Used when no lock command is configured.
type NopLocker struct{}

func (NopLocker) Lock(context.Context) error { return nil }
