package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mulgadc/lister/backend"
)

// CreateBucket creates a bucket directory under BaseDir
func (b *Backend) CreateBucket(ctx context.Context, req *backend.CreateBucketRequest) (*backend.BucketInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.config.BaseDir == "" {
		return nil, backend.NewS3Error(
			backend.ErrNotImplemented,
			"Filesystem backend has no base directory configured. Please configure buckets in the config file.",
			501,
		)
	}
	if err := backend.IsValidBucketName(req.Bucket); err != nil {
		return nil, backend.NewS3Error(backend.ErrInvalidBucketName, err.Error(), 400).WithResource(req.Bucket)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.buckets[req.Bucket]; exists {
		return nil, backend.ErrBucketAlreadyOwnedByYouError.WithResource(req.Bucket)
	}

	pathname := filepath.Join(b.config.BaseDir, req.Bucket)
	if err := os.Mkdir(pathname, 0755); err != nil && !errors.Is(err, fs.ErrExist) {
		slog.Error("Error creating bucket directory", "path", pathname, "error", err)
		return nil, backend.Internal("creating bucket", err)
	}

	bkt := newBucket(req.Bucket, pathname, req.Region, time.Now().UTC(), true)
	b.buckets[req.Bucket] = bkt

	slog.Info("Bucket created", "bucket", req.Bucket, "path", pathname)
	return bkt.info(), nil
}

// HeadBucket checks if a bucket exists
func (b *Backend) HeadBucket(ctx context.Context, bucket string) (*backend.BucketInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bkt, err := b.getBucket(bucket)
	if err != nil {
		return nil, err
	}
	return bkt.info(), nil
}

// DeleteBucket removes an empty bucket. Directories of configured buckets
// are left on disk.
func (b *Backend) DeleteBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bkt, exists := b.buckets[bucket]
	if !exists {
		return backend.ErrNoSuchBucketError.WithResource(bucket)
	}

	bkt.mu.Lock()
	defer bkt.mu.Unlock()

	empty, err := bkt.empty(ctx)
	if err != nil {
		return backend.Internal("deleting bucket", err)
	}
	if !empty {
		return backend.ErrBucketNotEmptyError.WithResource(bucket)
	}

	if bkt.dynamic {
		if err := os.RemoveAll(bkt.pathname); err != nil {
			return backend.Internal("deleting bucket", err)
		}
	}
	delete(b.buckets, bucket)

	slog.Info("Bucket deleted", "bucket", bucket)
	return nil
}

// ListBuckets returns every known bucket, sorted by name
func (b *Backend) ListBuckets(ctx context.Context) (*backend.ListBucketsResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buckets := []backend.BucketInfo{}
	for _, bkt := range b.sortedBuckets() {
		buckets = append(buckets, *bkt.info())
	}

	return &backend.ListBucketsResponse{
		Buckets: buckets,
		Owner: backend.OwnerInfo{
			ID:          b.config.OwnerID,
			DisplayName: b.config.OwnerName,
		},
	}, nil
}

func (bkt *bucket) info() *backend.BucketInfo {
	return &backend.BucketInfo{
		Name:         bkt.name,
		CreationDate: bkt.created,
		Region:       bkt.region,
	}
}
