package listing

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// Entry is one object key with the metadata a listing reports for it.
type Entry struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	StorageClass string
}

// Snapshot is a read-only view of one bucket's keys at a single instant.
// Implementations must not change while a listing is running over them.
type Snapshot interface {
	// Cursor returns a fresh cursor over every key that starts with prefix
	// and sorts strictly after marker, in ascending byte order.
	Cursor(prefix, marker string) Cursor
}

// Cursor is a finite forward iterator over a Snapshot.
type Cursor interface {
	// Next returns the next entry, or false once the cursor is exhausted.
	Next() (Entry, bool)
}

// SliceSnapshot is a Snapshot over entries held in memory. The slice must be
// sorted by key with no duplicates; NewSliceSnapshot takes care of that.
type SliceSnapshot []Entry

// NewSliceSnapshot sorts entries by key, keeping the last entry for any
// duplicated key.
func NewSliceSnapshot(entries []Entry) SliceSnapshot {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Entry) int {
		return strings.Compare(a.Key, b.Key)
	})

	out := sorted[:0]
	for _, e := range sorted {
		if len(out) > 0 && out[len(out)-1].Key == e.Key {
			out[len(out)-1] = e
			continue
		}
		out = append(out, e)
	}
	return SliceSnapshot(out)
}

// Cursor implements Snapshot.
func (s SliceSnapshot) Cursor(prefix, marker string) Cursor {
	start := max(prefix, marker)
	pos := sort.Search(len(s), func(i int) bool {
		return s[i].Key >= start
	})
	if pos < len(s) && s[pos].Key == marker {
		pos++
	}
	return &sliceCursor{entries: s, pos: pos, prefix: prefix}
}

type sliceCursor struct {
	entries SliceSnapshot
	pos     int
	prefix  string
}

func (c *sliceCursor) Next() (Entry, bool) {
	if c.pos >= len(c.entries) {
		return Entry{}, false
	}
	e := c.entries[c.pos]
	if !strings.HasPrefix(e.Key, c.prefix) {
		// Keys sharing a prefix are contiguous, so the first miss ends the range.
		c.pos = len(c.entries)
		return Entry{}, false
	}
	c.pos++
	return e, true
}
