// Package filesystem implements a backend that maps buckets to directories
// and object keys to file paths beneath them.
package filesystem

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mulgadc/lister/backend"
)

// uploadPrefix marks in-flight uploads. Such files are never listed.
const uploadPrefix = ".lister-upload-"

func init() {
	backend.Register("filesystem", New)
}

// Config holds filesystem backend configuration
type Config struct {
	// BaseDir holds buckets created through CreateBucket. Existing
	// subdirectories with valid bucket names are loaded on start.
	BaseDir string

	// Buckets are mapped to fixed directories
	Buckets   []BucketConfig
	OwnerID   string
	OwnerName string
}

// BucketConfig defines a bucket configuration
type BucketConfig struct {
	Name     string
	Pathname string
	Region   string
}

// bucket is a live bucket. mu is held for reading by listings and for
// writing by mutations, so a walk never observes a half-applied change.
type bucket struct {
	name     string
	pathname string
	region   string
	created  time.Time
	dynamic  bool

	mu    sync.RWMutex
	etags *etagCache
}

// Backend implements the filesystem storage backend
type Backend struct {
	config *Config

	mu      sync.RWMutex
	buckets map[string]*bucket
}

// New creates a new filesystem backend
func New(config any) (backend.Backend, error) {
	cfg, ok := config.(*Config)
	if !ok {
		return nil, errors.New("invalid configuration type for filesystem backend")
	}

	if cfg.OwnerID == "" {
		cfg.OwnerID = "lister-owner-id"
	}
	if cfg.OwnerName == "" {
		cfg.OwnerName = "lister"
	}

	b := &Backend{
		config:  cfg,
		buckets: make(map[string]*bucket),
	}

	for _, bc := range cfg.Buckets {
		pathname, err := filepath.Abs(bc.Pathname)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", bc.Name, err)
		}
		info, err := os.Stat(pathname)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", bc.Name, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("bucket %s: %s is not a directory", bc.Name, pathname)
		}
		b.buckets[bc.Name] = newBucket(bc.Name, pathname, bc.Region, info.ModTime(), false)
	}

	if cfg.BaseDir != "" {
		if err := b.loadBaseDir(); err != nil {
			return nil, err
		}
	}

	slog.Debug("filesystem backend ready", "buckets", len(b.buckets), "base_dir", cfg.BaseDir)
	return b, nil
}

func newBucket(name, pathname, region string, created time.Time, dynamic bool) *bucket {
	if region == "" {
		region = backend.DefaultRegion
	}
	return &bucket{
		name:     name,
		pathname: pathname,
		region:   region,
		created:  created,
		dynamic:  dynamic,
		etags:    newETagCache(),
	}
}

// loadBaseDir picks up buckets created by an earlier run
func (b *Backend) loadBaseDir() error {
	base, err := filepath.Abs(b.config.BaseDir)
	if err != nil {
		return err
	}
	b.config.BaseDir = base

	if err := os.MkdirAll(base, 0755); err != nil {
		return fmt.Errorf("creating base dir: %w", err)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		return fmt.Errorf("reading base dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || backend.IsValidBucketName(entry.Name()) != nil {
			continue
		}
		if _, ok := b.buckets[entry.Name()]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			slog.Warn("Skipping bucket directory", "name", entry.Name(), "error", err)
			continue
		}
		b.buckets[entry.Name()] = newBucket(entry.Name(), filepath.Join(base, entry.Name()), "", info.ModTime(), true)
	}
	return nil
}

// Type returns the backend type identifier
func (b *Backend) Type() string {
	return "filesystem"
}

// Close cleans up any resources
func (b *Backend) Close() error {
	return nil
}

// getBucket returns the bucket or an error
func (b *Backend) getBucket(name string) (*bucket, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bkt, exists := b.buckets[name]
	if !exists {
		return nil, backend.ErrNoSuchBucketError.WithResource(name)
	}
	return bkt, nil
}

// sortedBuckets returns a stable view of the bucket set
func (b *Backend) sortedBuckets() []*bucket {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*bucket, 0, len(b.buckets))
	for _, bkt := range b.buckets {
		out = append(out, bkt)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].name < out[j].name
	})
	return out
}

// resolvePath maps a key onto a path inside the bucket directory
func (bkt *bucket) resolvePath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	fullPath := filepath.Join(bkt.pathname, filepath.FromSlash(key))

	// Ensure the resolved path is still within the bucket
	if !strings.HasPrefix(fullPath, bkt.pathname+string(filepath.Separator)) {
		return "", backend.NewS3Error(backend.ErrInvalidKey, "Key resolves outside bucket", 400).WithResource(key)
	}
	return fullPath, nil
}

// validateKey rejects keys that cannot round-trip through a file path
func validateKey(key string) error {
	if err := backend.ValidateKey(key); err != nil {
		return err
	}
	if strings.HasSuffix(key, "/") || strings.ContainsRune(key, 0) {
		return backend.NewS3Error(backend.ErrInvalidKey, "Key cannot be stored as a file", 400).WithResource(key)
	}
	for _, segment := range strings.Split(key, "/") {
		switch {
		case segment == "", segment == ".", segment == "..":
			return backend.NewS3Error(backend.ErrInvalidKey, "Key contains an empty or relative path segment", 400).WithResource(key)
		case strings.HasPrefix(segment, uploadPrefix):
			return backend.NewS3Error(backend.ErrInvalidKey, "Key uses a reserved name", 400).WithResource(key)
		}
	}
	return nil
}

// deleteEmptyParentDirs removes empty parent directories up to stopAt
func deleteEmptyParentDirs(path, stopAt string) error {
	path = filepath.Clean(path)
	stopAt = filepath.Clean(stopAt)
	dir := filepath.Dir(path)

	for dir != stopAt && strings.HasPrefix(dir, stopAt) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}

		if len(entries) > 0 {
			break // Directory not empty
		}

		if err := os.Remove(dir); err != nil {
			return err
		}

		slog.Debug("Removed empty directory", "dir", dir)
		dir = filepath.Dir(dir)
	}

	return nil
}
