package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/obyrne/wardend/internal/storage"
)

// parseSession converts a Redis hash to a UsageSession
func parseSession(data map[string]string) (*storage.UsageSession, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	var endedAt *time.Time
	if raw := data["ended_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ended_at: %w", err)
		}
		endedAt = &t
	}

	active, err := strconv.ParseBool(data["active"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse active: %w", err)
	}

	return &storage.UsageSession{
		ID:        data["id"],
		UserID:    data["user_id"],
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Active:    active,
		EndReason: data["end_reason"],
	}, nil
}
