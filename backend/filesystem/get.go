package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/mulgadc/lister/backend"
)

// HeadObject returns object metadata without the body
func (b *Backend) HeadObject(ctx context.Context, bucketName, key string) (*backend.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bkt, err := b.getBucket(bucketName)
	if err != nil {
		return nil, err
	}

	bkt.mu.RLock()
	defer bkt.mu.RUnlock()

	info, _, err := bkt.stat(key)
	return info, err
}

// GetObject opens the object for reading
func (b *Backend) GetObject(ctx context.Context, bucketName, key string) (*backend.GetObjectResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bkt, err := b.getBucket(bucketName)
	if err != nil {
		return nil, err
	}

	bkt.mu.RLock()
	defer bkt.mu.RUnlock()

	info, pathname, err := bkt.stat(key)
	if err != nil {
		return nil, err
	}

	// An open file keeps its content even if the key is replaced later
	file, err := os.Open(pathname)
	if err != nil {
		slog.Error("Error opening file", "path", pathname, "error", err)
		return nil, backend.Internal("opening object", err)
	}

	return &backend.GetObjectResponse{
		Body:       file,
		ObjectInfo: *info,
	}, nil
}

// stat builds the metadata of key. The caller holds bkt.mu.
func (bkt *bucket) stat(key string) (*backend.ObjectInfo, string, error) {
	pathname, err := bkt.resolvePath(key)
	if err != nil {
		return nil, "", err
	}

	fi, err := os.Stat(pathname)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !fi.Mode().IsRegular()) {
		return nil, "", backend.ErrNoSuchKeyError.WithResource(bkt.name + "/" + key)
	}
	if err != nil {
		slog.Error("Error stating file", "path", pathname, "error", err)
		return nil, "", backend.Internal("reading object metadata", err)
	}

	etag, err := bkt.etags.lookup(key, pathname, fi.Size(), fi.ModTime())
	if err != nil {
		return nil, "", backend.Internal("hashing object", err)
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(pathname); err == nil {
		contentType = mt.String()
	}

	return &backend.ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		LastModified: fi.ModTime().UTC(),
		ETag:         etag,
		ContentType:  contentType,
		StorageClass: backend.StorageClassStandard,
	}, pathname, nil
}
