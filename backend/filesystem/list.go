package filesystem

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/mulgadc/lister/backend"
	"github.com/mulgadc/lister/listing"
)

var errFound = errors.New("found")

// snapshot holds the bucket's read lock until Close. Each cursor walks only
// the directory subtrees its prefix and marker can reach.
type snapshot struct {
	ctx    context.Context
	bkt    *bucket
	err    error
	closed bool
}

// Snapshot locks bucket against writers for the duration of a listing
func (b *Backend) Snapshot(ctx context.Context, bucket string) (backend.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bkt, err := b.getBucket(bucket)
	if err != nil {
		return nil, err
	}

	bkt.mu.RLock()
	return &snapshot{ctx: ctx, bkt: bkt}, nil
}

func (s *snapshot) Cursor(prefix, marker string) listing.Cursor {
	files, err := s.bkt.walk(s.ctx, prefix, marker)
	if err != nil {
		s.fail("walking bucket", prefix, err)
		files = nil
	}
	return &cursor{snap: s, files: files}
}

func (s *snapshot) fail(op, key string, err error) {
	slog.Error("Error listing bucket", "op", op, "bucket", s.bkt.name, "key", key, "error", err)
	if s.err == nil {
		s.err = err
	}
}

func (s *snapshot) Close() error {
	if !s.closed {
		s.closed = true
		s.bkt.mu.RUnlock()
	}
	return s.err
}

// file is a walked object whose ETag is not computed yet
type file struct {
	entry    listing.Entry
	pathname string
}

// cursor hashes a file only when the listing pulls it, so a page costs at
// most limit+1 ETag computations.
type cursor struct {
	snap  *snapshot
	files []file
	pos   int
}

func (c *cursor) Next() (listing.Entry, bool) {
	if c.pos >= len(c.files) {
		return listing.Entry{}, false
	}
	f := c.files[c.pos]
	c.pos++

	etag, err := c.snap.bkt.etags.lookup(f.entry.Key, f.pathname, f.entry.Size, f.entry.LastModified)
	if err != nil {
		c.snap.fail("hashing object", f.entry.Key, err)
		c.pos = len(c.files)
		return listing.Entry{}, false
	}
	f.entry.ETag = etag
	return f.entry, true
}

// walk collects every object whose key starts with prefix and sorts after
// marker, in key order. Directories that hold only keys outside that range
// are not entered. The caller holds bkt.mu.
func (bkt *bucket) walk(ctx context.Context, prefix, marker string) ([]file, error) {
	root := bkt.pathname
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		root = filepath.Join(bkt.pathname, filepath.FromSlash(prefix[:i]))
	}

	fi, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !fi.IsDir()) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []file
	err = godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if osPathname == root {
				return nil
			}

			rel, err := filepath.Rel(bkt.pathname, osPathname)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)

			if de.IsDir() {
				dir := key + "/"
				if !strings.HasPrefix(dir, prefix) && !strings.HasPrefix(prefix, dir) {
					return godirwalk.SkipThis
				}
				// Every key under dir sorts before marker
				if marker > dir && !strings.HasPrefix(marker, dir) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if !de.IsRegular() || strings.HasPrefix(de.Name(), uploadPrefix) ||
				!strings.HasPrefix(key, prefix) || key <= marker {
				return nil
			}

			info, err := os.Stat(osPathname)
			if err != nil {
				return err
			}
			files = append(files, file{
				entry: listing.Entry{
					Key:          key,
					Size:         info.Size(),
					LastModified: info.ModTime().UTC(),
					StorageClass: backend.StorageClassStandard,
				},
				pathname: osPathname,
			})
			return nil
		},
		ErrorCallback: func(osPathname string, err error) godirwalk.ErrorAction {
			slog.Warn("Error accessing", "path", osPathname, "error", err)
			return godirwalk.Halt
		},
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(files, func(a, b file) int {
		return strings.Compare(a.entry.Key, b.entry.Key)
	})
	return files, nil
}

// empty reports whether the bucket holds no objects. The caller holds bkt.mu.
func (bkt *bucket) empty(ctx context.Context) (bool, error) {
	err := godirwalk.Walk(bkt.pathname, &godirwalk.Options{
		Unsorted: true,
		Callback: func(_ string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if de.IsRegular() && !strings.HasPrefix(de.Name(), uploadPrefix) {
				return errFound
			}
			return nil
		},
		ErrorCallback: func(string, error) godirwalk.ErrorAction {
			return godirwalk.Halt
		},
	})
	if errors.Is(err, errFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
