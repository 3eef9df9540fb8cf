package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/mulgadc/lister/backend"
	"github.com/tidwall/buntdb"
)

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

	meta, err := json.MarshalToString(info)
	if err != nil {
		return nil, backend.Internal("encoding object metadata", err)
	}

	err = b.db(req.Bucket).Update(func(tx *buntdb.Tx) error {
		exists, err := bucketExists(tx, req.Bucket)
		if err != nil {
			return err
		}
		if !exists {
			return backend.ErrNoSuchBucketError.WithResource(req.Bucket)
		}
		if _, _, err := tx.Set(dataKey(req.Bucket, req.Key), string(body), nil); err != nil {
			return err
		}
		_, _, err = tx.Set(objectKey(req.Bucket, req.Key), meta, nil)
		return err
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
	err := b.db(bucket).View(func(tx *buntdb.Tx) error {
		return readInfo(tx, bucket, key, &info)
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
		body string
	)
	err := b.db(bucket).View(func(tx *buntdb.Tx) error {
		if err := readInfo(tx, bucket, key, &info); err != nil {
			return err
		}
		var err error
		body, err = tx.Get(dataKey(bucket, key))
		return err
	})
	if err != nil {
		return nil, storageError("reading object", err)
	}

	return &backend.GetObjectResponse{
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		ObjectInfo: info,
	}, nil
}

// DeleteObject removes an object. Missing keys are not an error.
func (b *Backend) DeleteObject(ctx context.Context, req *backend.DeleteObjectRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db(req.Bucket).Update(func(tx *buntdb.Tx) error {
		exists, err := bucketExists(tx, req.Bucket)
		if err != nil {
			return err
		}
		if !exists {
			return backend.ErrNoSuchBucketError.WithResource(req.Bucket)
		}
		for _, k := range []string{objectKey(req.Bucket, req.Key), dataKey(req.Bucket, req.Key)} {
			if _, err := tx.Delete(k); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	return storageError("deleting object", err)
}

func readInfo(tx *buntdb.Tx, bucket, key string, info *backend.ObjectInfo) error {
	exists, err := bucketExists(tx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		return backend.ErrNoSuchBucketError.WithResource(bucket)
	}

	val, err := tx.Get(objectKey(bucket, key))
	if errors.Is(err, buntdb.ErrNotFound) {
		return backend.ErrNoSuchKeyError.WithResource(bucket + "/" + key)
	}
	if err != nil {
		return err
	}
	return json.UnmarshalFromString(val, info)
}
