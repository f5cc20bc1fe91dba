package bolt

import (
	"context"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/obyrne/wardend/internal/storage"
)

type appStore struct {
	db *bbolt.DB
}

func (s *appStore) Upsert(ctx context.Context, app storage.MonitoredApplication) error {
	return putBucketValue(ctx, s.db, bucketApps, appKey(app.Name), app)
}

func (s *appStore) Get(ctx context.Context, name string) (*storage.MonitoredApplication, error) {
	return getBucketValue[storage.MonitoredApplication](ctx, s.db, bucketApps, appKey(name))
}

func (s *appStore) List(ctx context.Context) ([]storage.MonitoredApplication, error) {
	return listBucket[storage.MonitoredApplication](ctx, s.db, bucketApps)
}

func (s *appStore) Delete(ctx context.Context, name string) error {
	return deleteBucketValue(ctx, s.db, bucketApps, appKey(name))
}

// appKey lowercases the name so lookups stay case-insensitive regardless of
// how the caller spelled the process name.
func appKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
