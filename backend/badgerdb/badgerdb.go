// Package badgerdb implements a persistent backend on top of BadgerDB.
//
// Bucket records, object metadata and object bodies share one keyspace:
//
//	b/<bucket>        bucket metadata (JSON)
//	o/<bucket>/<key>  object metadata (JSON)
//	d/<bucket>/<key>  object body
//
// Listings read from a badger read-only transaction, so concurrent writers
// never show up in a listing that has already started.
package badgerdb

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gabriel-vasile/mimetype"
	jsoniter "github.com/json-iterator/go"
	"github.com/mulgadc/lister/backend"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	backend.Register("badger", New)
}

// Config holds badger backend configuration
type Config struct {
	// Path is the database directory. Empty runs badger in memory.
	Path string

	OwnerID   string
	OwnerName string
}

// Backend implements the badger storage backend
type Backend struct {
	config *Config
	store  *store
}

// New opens (or creates) the database at cfg.Path
func New(config any) (backend.Backend, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, errors.New("invalid configuration type for badger backend")
	}

	if cfg.OwnerID == "" {
		cfg.OwnerID = "lister-owner-id"
	}
	if cfg.OwnerName == "" {
		cfg.OwnerName = "lister"
	}

	st, err := openStore(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", cfg.Path, err)
	}

	slog.Debug("badger backend ready", "path", cfg.Path)
	return &Backend{config: cfg, store: st}, nil
}

// Type returns the backend type identifier
func (b *Backend) Type() string {
	return "badger"
}

// Close flushes and closes the database
func (b *Backend) Close() error {
	return b.store.Close()
}

func bucketKey(bucket string) []byte {
	return []byte("b/" + bucket)
}

func objectBase(bucket string) string {
	return "o/" + bucket + "/"
}

func objectKey(bucket, key string) []byte {
	return []byte(objectBase(bucket) + key)
}

func dataKey(bucket, key string) []byte {
	return []byte("d/" + bucket + "/" + key)
}

func requireBucket(txn *badger.Txn, bucket string) error {
	ok, err := exists(txn, bucketKey(bucket))
	if err != nil {
		return err
	}
	if !ok {
		return backend.ErrNoSuchBucketError.WithResource(bucket)
	}
	return nil
}

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

	err = b.store.db.Update(func(txn *badger.Txn) error {
		ok, err := exists(txn, bucketKey(req.Bucket))
		if err != nil {
			return err
		}
		if ok {
			return backend.ErrBucketAlreadyOwnedByYouError.WithResource(req.Bucket)
		}
		return txn.Set(bucketKey(req.Bucket), data)
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
	err := b.store.db.View(func(txn *badger.Txn) error {
		data, err := get(txn, bucketKey(bucket))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return backend.ErrNoSuchBucketError.WithResource(bucket)
		}
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &info)
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

	err := b.store.db.Update(func(txn *badger.Txn) error {
		if err := requireBucket(txn, bucket); err != nil {
			return err
		}
		if hasPrefix(txn, []byte(objectBase(bucket))) {
			return backend.ErrBucketNotEmptyError.WithResource(bucket)
		}
		return txn.Delete(bucketKey(bucket))
	})
	return storageError("deleting bucket", err)
}

// ListBuckets returns every bucket, sorted by name
func (b *Backend) ListBuckets(ctx context.Context) (*backend.ListBucketsResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buckets := []backend.BucketInfo{}
	err := b.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("b/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var info backend.BucketInfo
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			})
			if err != nil {
				return err
			}
			buckets = append(buckets, info)
		}
		return nil
	})
	if err != nil {
		return nil, backend.Internal("listing buckets", err)
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

// PutObject stores the object body and its metadata in one transaction
func (b *Backend) PutObject(ctx context.Context, req *backend.PutObjectRequest) (*backend.PutObjectResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := backend.ValidateKey(req.Key); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, backend.Internal("reading object body", err)
	}

	sum := md5.Sum(body)
	info := backend.ObjectInfo{
		Key:          req.Key,
		Size:         int64(len(body)),
		LastModified: time.Now().UTC(),
		ETag:         hex.EncodeToString(sum[:]),
		ContentType:  req.ContentType,
		StorageClass: backend.StorageClassStandard,
	}
	if info.ContentType == "" {
		info.ContentType = mimetype.Detect(body).String()
	}
	meta, err := json.Marshal(info)
	if err != nil {
		return nil, backend.Internal("encoding object metadata", err)
	}

	err = b.store.db.Update(func(txn *badger.Txn) error {
		if err := requireBucket(txn, req.Bucket); err != nil {
			return err
		}
		if err := txn.Set(dataKey(req.Bucket, req.Key), body); err != nil {
			return err
		}
		return txn.Set(objectKey(req.Bucket, req.Key), meta)
	})
	if err != nil {
		return nil, storageError("storing object", err)
	}
	return &backend.PutObjectResponse{ETag: info.ETag}, nil
}

// HeadObject returns an object's metadata
func (b *Backend) HeadObject(ctx context.Context, bucket, key string) (*backend.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var info backend.ObjectInfo
	err := b.store.db.View(func(txn *badger.Txn) error {
		return readInfo(txn, bucket, key, &info)
	})
	if err != nil {
		return nil, storageError("reading object metadata", err)
	}
	return &info, nil
}

// GetObject returns an object's metadata and body
func (b *Backend) GetObject(ctx context.Context, bucket, key string) (*backend.GetObjectResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		info backend.ObjectInfo
		body []byte
	)
	err := b.store.db.View(func(txn *badger.Txn) error {
		if err := readInfo(txn, bucket, key, &info); err != nil {
			return err
		}
		var err error
		body, err = get(txn, dataKey(bucket, key))
		return err
	})
	if err != nil {
		return nil, storageError("reading object", err)
	}

	return &backend.GetObjectResponse{
		Body:       io.NopCloser(bytes.NewReader(body)),
		ObjectInfo: info,
	}, nil
}

// DeleteObject removes an object. Missing keys are not an error.
func (b *Backend) DeleteObject(ctx context.Context, req *backend.DeleteObjectRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.store.db.Update(func(txn *badger.Txn) error {
		if err := requireBucket(txn, req.Bucket); err != nil {
			return err
		}
		if err := txn.Delete(objectKey(req.Bucket, req.Key)); err != nil {
			return err
		}
		return txn.Delete(dataKey(req.Bucket, req.Key))
	})
	return storageError("deleting object", err)
}

func readInfo(txn *badger.Txn, bucket, key string, info *backend.ObjectInfo) error {
	if err := requireBucket(txn, bucket); err != nil {
		return err
	}
	data, err := get(txn, objectKey(bucket, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return backend.ErrNoSuchKeyError.WithResource(bucket + "/" + key)
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, info)
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
