package filesystem

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"sync"
	"time"
)

// etagCache remembers content MD5s so listings do not rehash unchanged
// files. An entry is valid while size and mtime still match.
type etagCache struct {
	mu      sync.Mutex
	entries map[string]etagEntry
}

type etagEntry struct {
	size    int64
	modTime time.Time
	etag    string
}

func newETagCache() *etagCache {
	return &etagCache{entries: make(map[string]etagEntry)}
}

func (c *etagCache) store(key string, size int64, modTime time.Time, etag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = etagEntry{size: size, modTime: modTime, etag: etag}
}

func (c *etagCache) forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// lookup returns the ETag of the file at pathname, hashing it on a miss
func (c *etagCache) lookup(key, pathname string, size int64, modTime time.Time) (string, error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && e.size == size && e.modTime.Equal(modTime) {
		return e.etag, nil
	}

	etag, err := hashFile(pathname)
	if err != nil {
		return "", err
	}
	c.store(key, size, modTime, etag)
	return etag, nil
}

func hashFile(pathname string) (string, error) {
	f, err := os.Open(pathname)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
