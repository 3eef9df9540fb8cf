package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mulgadc/lister/backend"
	"github.com/mulgadc/lister/listing"
	"github.com/tidwall/buntdb"
)

// snapshot holds a buntdb read transaction open on the bucket's partition.
// Writers to that partition wait until Close.
type snapshot struct {
	tx   *buntdb.Tx
	base string
	err  error
}

// Snapshot opens a read transaction over bucket
func (b *Backend) Snapshot(ctx context.Context, bucket string) (backend.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := b.db(bucket).Begin(false)
	if err != nil {
		return nil, backend.Internal("opening snapshot", err)
	}

	exists, err := bucketExists(tx, bucket)
	if err != nil || !exists {
		_ = tx.Rollback()
		if err != nil {
			return nil, backend.Internal("opening snapshot", err)
		}
		return nil, backend.ErrNoSuchBucketError.WithResource(bucket)
	}

	return &snapshot{tx: tx, base: objectBase(bucket)}, nil
}

// Cursor starts at the first key with prefix that sorts after marker
func (s *snapshot) Cursor(prefix, marker string) listing.Cursor {
	pivot := s.base + prefix
	if marker != "" && marker >= prefix {
		pivot = s.base + marker + "\x00"
	}
	return &cursor{snap: s, match: s.base + prefix, pivot: pivot}
}

// Close ends the read transaction and reports the first cursor error
func (s *snapshot) Close() error {
	err := s.tx.Rollback()
	if s.err != nil {
		return s.err
	}
	if err != nil && !errors.Is(err, buntdb.ErrTxClosed) {
		return err
	}
	return nil
}

// cursor re-seeks the tree on every step, one item at a time
type cursor struct {
	snap  *snapshot
	match string
	pivot string
	done  bool
}

func (c *cursor) Next() (listing.Entry, bool) {
	if c.done {
		return listing.Entry{}, false
	}

	var (
		entry     listing.Entry
		found     bool
		decodeErr error
	)
	err := c.snap.tx.AscendGreaterOrEqual("", c.pivot, func(key, val string) bool {
		if !strings.HasPrefix(key, c.match) {
			return false
		}
		var info backend.ObjectInfo
		if decodeErr = json.UnmarshalFromString(val, &info); decodeErr != nil {
			decodeErr = fmt.Errorf("decoding %q: %w", key, decodeErr)
			return false
		}
		entry = info.Entry()
		entry.Key = key[len(c.snap.base):]
		found = true
		c.pivot = key + "\x00"
		return false
	})

	if err == nil {
		err = decodeErr
	}
	if err != nil && c.snap.err == nil {
		c.snap.err = err
	}
	if err != nil || !found {
		c.done = true
		return listing.Entry{}, false
	}
	return entry, true
}
