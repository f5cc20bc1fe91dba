package bolt

import (
	"context"

	"go.etcd.io/bbolt"

	"github.com/obyrne/wardend/internal/storage"
)

type websiteStore struct {
	db *bbolt.DB
}

func (s *websiteStore) Upsert(ctx context.Context, site storage.BlockedWebsite) error {
	return putBucketValue(ctx, s.db, bucketWebsites, site.Domain, site)
}

func (s *websiteStore) Get(ctx context.Context, domain string) (*storage.BlockedWebsite, error) {
	return getBucketValue[storage.BlockedWebsite](ctx, s.db, bucketWebsites, domain)
}

func (s *websiteStore) List(ctx context.Context) ([]storage.BlockedWebsite, error) {
	return listBucket[storage.BlockedWebsite](ctx, s.db, bucketWebsites)
}

func (s *websiteStore) Delete(ctx context.Context, domain string) error {
	return deleteBucketValue(ctx, s.db, bucketWebsites, domain)
}
