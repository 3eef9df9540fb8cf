package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/mulgadc/lister/backend"
	"github.com/tidwall/buntdb"
)

// CreateBucket records a new, empty bucket
func (b *Backend) CreateBucket(ctx context.Context, req *backend.CreateBucketRequest) (*backend.BucketInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := backend.IsValidBucketName(req.Bucket); err != nil {
		return nil, backend.NewS3Error(backend.ErrInvalidBucketName, err.Error(), 400).WithResource(req.Bucket)
	}

	info := backend.BucketInfo{
		Name:         req.Bucket,
		CreationDate: time.Now().UTC(),
		Region:       req.Region,
	}
	if info.Region == "" {
		info.Region = backend.DefaultRegion
	}

	data, err := json.Marshal(info)
	if err != nil {
		return nil, backend.Internal("encoding bucket", err)
	}

	err = b.db(req.Bucket).Update(func(tx *buntdb.Tx) error {
		exists, err := bucketExists(tx, req.Bucket)
		if err != nil {
			return err
		}
		if exists {
			return backend.ErrBucketAlreadyOwnedByYouError.WithResource(req.Bucket)
		}
		_, _, err = tx.Set(bucketKey(req.Bucket), string(data), nil)
		return err
	})
	if err != nil {
		return nil, storageError("creating bucket", err)
	}

	return &info, nil
}

// HeadBucket returns the bucket's metadata
func (b *Backend) HeadBucket(ctx context.Context, bucket string) (*backend.BucketInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var info backend.BucketInfo
	err := b.db(bucket).View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(bucketKey(bucket))
		if errors.Is(err, buntdb.ErrNotFound) {
			return backend.ErrNoSuchBucketError.WithResource(bucket)
		}
		if err != nil {
			return err
		}
		return json.UnmarshalFromString(val, &info)
	})
	if err != nil {
		return nil, storageError("reading bucket", err)
	}
	return &info, nil
}

// DeleteBucket removes an empty bucket
func (b *Backend) DeleteBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db(bucket).Update(func(tx *buntdb.Tx) error {
		exists, err := bucketExists(tx, bucket)
		if err != nil {
			return err
		}
		if !exists {
			return backend.ErrNoSuchBucketError.WithResource(bucket)
		}

		base := objectBase(bucket)
		empty := true
		err = tx.AscendGreaterOrEqual("", base, func(key, _ string) bool {
			empty = !strings.HasPrefix(key, base)
			return false
		})
		if err != nil {
			return err
		}
		if !empty {
			return backend.ErrBucketNotEmptyError.WithResource(bucket)
		}

		_, err = tx.Delete(bucketKey(bucket))
		return err
	})
	return storageError("deleting bucket", err)
}

// ListBuckets lists the buckets of every partition, sorted by name
func (b *Backend) ListBuckets(ctx context.Context) (*backend.ListBucketsResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buckets := []backend.BucketInfo{}
	for _, db := range b.partitions {
		err := db.View(func(tx *buntdb.Tx) error {
			var decodeErr error
			err := tx.AscendGreaterOrEqual("", bucketPrefix, func(key, val string) bool {
				if !strings.HasPrefix(key, bucketPrefix) {
					return false
				}
				var info backend.BucketInfo
				if decodeErr = json.UnmarshalFromString(val, &info); decodeErr != nil {
					return false
				}
				buckets = append(buckets, info)
				return true
			})
			if err != nil {
				return err
			}
			return decodeErr
		})
		if err != nil {
			return nil, backend.Internal("listing buckets", err)
		}
	}

	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Name < buckets[j].Name
	})

	return &backend.ListBucketsResponse{
		Buckets: buckets,
		Owner: backend.OwnerInfo{
			ID:          b.config.OwnerID,
			DisplayName: b.config.OwnerName,
		},
	}, nil
}

// storageError passes S3 errors through and wraps anything else
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := backend.IsS3Error(err); ok {
		return err
	}
	return backend.Internal(op, err)
}
