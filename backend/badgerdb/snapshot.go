package badgerdb

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/mulgadc/lister/backend"
	"github.com/mulgadc/lister/listing"
)

// snapshot pins a badger read timestamp for the life of a listing
type snapshot struct {
	txn       *badger.Txn
	base      string
	iterators []*badger.Iterator
	err       error
}

// Snapshot opens a read-only transaction over bucket
func (b *Backend) Snapshot(ctx context.Context, bucket string) (backend.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	txn := b.store.db.NewTransaction(false)
	if err := requireBucket(txn, bucket); err != nil {
		txn.Discard()
		return nil, storageError("opening snapshot", err)
	}
	return &snapshot{txn: txn, base: objectBase(bucket)}, nil
}

// Cursor seeks to the first key with prefix that sorts after marker
func (s *snapshot) Cursor(prefix, marker string) listing.Cursor {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(s.base + prefix)

	it := s.txn.NewIterator(opts)
	s.iterators = append(s.iterators, it)

	seek := s.base + prefix
	if marker != "" && marker >= prefix {
		seek = s.base + marker + "\x00"
	}
	it.Seek([]byte(seek))

	return &cursor{snap: s, it: it}
}

// Close releases iterators and the transaction, then reports the first
// decode error a cursor hit
func (s *snapshot) Close() error {
	for _, it := range s.iterators {
		it.Close()
	}
	s.iterators = nil
	s.txn.Discard()
	return s.err
}

type cursor struct {
	snap *snapshot
	it   *badger.Iterator
	done bool
}

func (c *cursor) Next() (listing.Entry, bool) {
	if c.done || !c.it.Valid() {
		c.done = true
		return listing.Entry{}, false
	}

	item := c.it.Item()
	key := string(item.Key())

	var info backend.ObjectInfo
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &info)
	})
	if err != nil {
		if c.snap.err == nil {
			c.snap.err = fmt.Errorf("decoding %q: %w", key, err)
		}
		c.done = true
		return listing.Entry{}, false
	}

	c.it.Next()

	entry := info.Entry()
	entry.Key = key[len(c.snap.base):]
	return entry, true
}
