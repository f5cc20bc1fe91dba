// Package redis implements the session store on Redis, for deployments
// where several wardend instances share session state.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/obyrne/wardend/internal/config"
	"github.com/obyrne/wardend/internal/storage"
)

const (
	sessionKeyPrefix = "wardend:session:"
	activeSetKey     = "wardend:sessions:active"
	userSetPrefix    = "wardend:sessions:user:"
)

// SessionStore implements storage.SessionStore on Redis.
type SessionStore struct {
	client *redis.Client
}

// Open connects to Redis and verifies the connection.
func Open(cfg config.RedisConfig) (*SessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &SessionStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

// Upsert atomically writes the session hash and its indexes.
func (s *SessionStore) Upsert(ctx context.Context, session storage.UsageSession) error {
	script := redis.NewScript(upsertSessionScript)

	endedAt := ""
	if session.EndedAt != nil {
		endedAt = session.EndedAt.Format(time.RFC3339Nano)
	}
	active := "0"
	if session.Active {
		active = "1"
	}

	keys := []string{
		sessionKeyPrefix + session.ID,
		activeSetKey,
		userSetPrefix + session.UserID,
	}
	args := []interface{}{
		session.ID,
		session.UserID,
		session.StartedAt.Format(time.RFC3339Nano),
		endedAt,
		active,
		session.EndReason,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(ctx context.Context, id string) (*storage.UsageSession, error) {
	data, err := s.client.HGetAll(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	return parseSession(data)
}

// ListActive returns all active sessions.
func (s *SessionStore) ListActive(ctx context.Context) ([]storage.UsageSession, error) {
	ids, err := s.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchByIDs(ctx, ids, func(storage.UsageSession) bool { return true })
}

// ListByUser returns the user's sessions overlapping [from, to).
func (s *SessionStore) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]storage.UsageSession, error) {
	ids, err := s.client.SMembers(ctx, userSetPrefix+userID).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchByIDs(ctx, ids, func(session storage.UsageSession) bool {
		if !session.StartedAt.Before(to) {
			return false
		}
		return session.EndedAt == nil || session.EndedAt.After(from)
	})
}

// Delete removes a session and its index entries.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	data, err := s.client.HGetAll(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return storage.ErrNotFound
	}

	if err := s.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return err
	}
	if err := s.client.SRem(ctx, activeSetKey, id).Err(); err != nil {
		return err
	}
	if userID, ok := data["user_id"]; ok {
		return s.client.SRem(ctx, userSetPrefix+userID, id).Err()
	}
	return nil
}

// DeleteInactiveBefore removes closed sessions started before the cutoff.
// Inactive sessions also carry a TTL, so this is a fast-path for explicit
// retention sweeps.
func (s *SessionStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var cursor uint64
	deleted := 0

	for {
		keys, next, err := s.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			return deleted, err
		}

		for _, key := range keys {
			data, err := s.client.HGetAll(ctx, key).Result()
			if err != nil || len(data) == 0 {
				continue
			}
			session, err := parseSession(data)
			if err != nil || session.Active || !session.StartedAt.Before(cutoff) {
				continue
			}
			if err := s.Delete(ctx, session.ID); err == nil {
				deleted++
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}

// fetchByIDs pipelines hash reads and keeps sessions passing the filter.
func (s *SessionStore) fetchByIDs(ctx context.Context, ids []string, keep func(storage.UsageSession) bool) ([]storage.UsageSession, error) {
	if len(ids) == 0 {
		return []storage.UsageSession{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, sessionKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.UsageSession, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		session, err := parseSession(data)
		if err != nil {
			continue
		}
		if keep(*session) {
			sessions = append(sessions, *session)
		}
	}
	return sessions, nil
}

var _ storage.SessionStore = (*SessionStore)(nil)
