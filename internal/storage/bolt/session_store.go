package bolt

import (
	"context"
	"time"

	"go.etcd.io/bbolt"

	"github.com/obyrne/wardend/internal/storage"
)

type sessionStore struct {
	db *bbolt.DB
}

func (s *sessionStore) Upsert(ctx context.Context, session storage.UsageSession) error {
	return putBucketValue(ctx, s.db, bucketSessions, session.ID, session)
}

func (s *sessionStore) Get(ctx context.Context, id string) (*storage.UsageSession, error) {
	return getBucketValue[storage.UsageSession](ctx, s.db, bucketSessions, id)
}

func (s *sessionStore) ListActive(ctx context.Context) ([]storage.UsageSession, error) {
	all, err := listBucket[storage.UsageSession](ctx, s.db, bucketSessions)
	if err != nil {
		return nil, err
	}
	active := make([]storage.UsageSession, 0)
	for _, session := range all {
		if session.Active {
			active = append(active, session)
		}
	}
	return active, nil
}

func (s *sessionStore) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]storage.UsageSession, error) {
	all, err := listBucket[storage.UsageSession](ctx, s.db, bucketSessions)
	if err != nil {
		return nil, err
	}
	matched := make([]storage.UsageSession, 0)
	for _, session := range all {
		if session.UserID != userID {
			continue
		}
		if !overlaps(session, from, to) {
			continue
		}
		matched = append(matched, session)
	}
	return matched, nil
}

func (s *sessionStore) Delete(ctx context.Context, id string) error {
	return deleteBucketValue(ctx, s.db, bucketSessions, id)
}

func (s *sessionStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketSessions))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var session storage.UsageSession
			if err := unmarshal(v, &session); err != nil {
				return err
			}
			if !session.Active && session.StartedAt.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
}

// overlaps reports whether the session interval intersects [from, to).
// Active sessions are treated as extending indefinitely forward.
func overlaps(session storage.UsageSession, from, to time.Time) bool {
	if !session.StartedAt.Before(to) {
		return false
	}
	if session.EndedAt == nil {
		return true
	}
	return session.EndedAt.After(from)
}
