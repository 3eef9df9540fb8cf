package filesystem

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mulgadc/lister/backend"
)

// PutObject streams the body into a temporary file and renames it into
// place, so readers see either the old object or the new one
func (b *Backend) PutObject(ctx context.Context, req *backend.PutObjectRequest) (*backend.PutObjectResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bkt, err := b.getBucket(req.Bucket)
	if err != nil {
		return nil, err
	}

	pathname, err := bkt.resolvePath(req.Key)
	if err != nil {
		return nil, err
	}

	bkt.mu.Lock()
	defer bkt.mu.Unlock()

	// Ensure the directory exists
	dir := filepath.Dir(pathname)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Error creating directories", "path", dir, "error", err)
		return nil, backend.NewS3Error(backend.ErrInvalidKey, "Key conflicts with an existing object", 400).WithResource(req.Key)
	}
	if info, err := os.Stat(pathname); err == nil && info.IsDir() {
		return nil, backend.NewS3Error(backend.ErrInvalidKey, "Key conflicts with an existing prefix", 400).WithResource(req.Key)
	}

	file, err := os.CreateTemp(dir, uploadPrefix+"*")
	if err != nil {
		slog.Error("Error creating file", "dir", dir, "error", err)
		return nil, backend.Internal("creating file", err)
	}
	tmpName := file.Name()
	defer os.Remove(tmpName)

	// Calculate MD5 while writing
	md5Hash := md5.New()
	written, err := io.Copy(io.MultiWriter(file, md5Hash), req.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		slog.Error("Error writing file", "path", tmpName, "error", err)
		return nil, backend.Internal("writing file", err)
	}

	if err := os.Rename(tmpName, pathname); err != nil {
		slog.Error("Error renaming file", "from", tmpName, "to", pathname, "error", err)
		return nil, backend.Internal("storing file", err)
	}

	etag := hex.EncodeToString(md5Hash.Sum(nil))
	if info, err := os.Stat(pathname); err == nil {
		bkt.etags.store(req.Key, info.Size(), info.ModTime(), etag)
	}

	slog.Info("Object stored", "bucket", req.Bucket, "key", req.Key, "size", written)
	return &backend.PutObjectResponse{ETag: etag}, nil
}
