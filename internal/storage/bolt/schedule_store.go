package bolt

import (
	"context"

	"go.etcd.io/bbolt"

	"github.com/obyrne/wardend/internal/storage"
)

type scheduleStore struct {
	db *bbolt.DB
}

func (s *scheduleStore) Upsert(ctx context.Context, rule storage.ScheduleRule) error {
	return putBucketValue(ctx, s.db, bucketSchedules, rule.ID, rule)
}

func (s *scheduleStore) Get(ctx context.Context, id string) (*storage.ScheduleRule, error) {
	return getBucketValue[storage.ScheduleRule](ctx, s.db, bucketSchedules, id)
}

func (s *scheduleStore) ListByUser(ctx context.Context, userID string) ([]storage.ScheduleRule, error) {
	all, err := listBucket[storage.ScheduleRule](ctx, s.db, bucketSchedules)
	if err != nil {
		return nil, err
	}
	matched := make([]storage.ScheduleRule, 0)
	for _, rule := range all {
		if rule.UserID == userID {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

func (s *scheduleStore) List(ctx context.Context) ([]storage.ScheduleRule, error) {
	return listBucket[storage.ScheduleRule](ctx, s.db, bucketSchedules)
}

func (s *scheduleStore) Delete(ctx context.Context, id string) error {
	return deleteBucketValue(ctx, s.db, bucketSchedules, id)
}
