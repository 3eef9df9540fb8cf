package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/mulgadc/lister/backend"
)

// DeleteObject removes an object from the filesystem. Missing keys are not
// an error.
func (b *Backend) DeleteObject(ctx context.Context, req *backend.DeleteObjectRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bkt, err := b.getBucket(req.Bucket)
	if err != nil {
		return err
	}

	pathname, err := bkt.resolvePath(req.Key)
	if err != nil {
		return err
	}

	bkt.mu.Lock()
	defer bkt.mu.Unlock()

	info, err := os.Stat(pathname)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return nil
	}

	if err := os.Remove(pathname); err != nil {
		slog.Error("Error deleting object", "path", pathname, "error", err)
		return backend.Internal("deleting object", err)
	}
	bkt.etags.forget(req.Key)

	// Clean up empty parent directories
	if err := deleteEmptyParentDirs(pathname, bkt.pathname); err != nil {
		slog.Warn("Error cleaning up empty directories", "error", err)
	}

	slog.Info("Object deleted", "bucket", req.Bucket, "key", req.Key)
	return nil
}
