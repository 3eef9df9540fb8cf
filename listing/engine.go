package listing

import (
	"fmt"
	"strings"
)

// List runs one V1 listing over snap. It is total for every Request; the only
// panics are contract violations by the caller (a nil snapshot, or a cursor
// that does not honour the Snapshot ordering and filtering rules).
func List(snap Snapshot, req Request) *Result {
	if snap == nil {
		panic("listing: nil snapshot")
	}

	n := Normalize(req)
	p := paginator{
		req:     n,
		seen:    make(map[string]struct{}),
		lastKey: n.Marker,
	}

	cur := snap.Cursor(n.Prefix, n.Marker)
	for {
		e, ok := cur.Next()
		if !ok {
			break
		}
		p.check(e.Key)
		if !p.consume(e) {
			break
		}
	}

	return p.assemble()
}

// paginator accumulates one page of results.
type paginator struct {
	req Normalized

	contents []Entry
	prefixes []string
	seen     map[string]struct{}

	// lastKey is the last candidate folded into the page; it starts at the
	// request marker so ordering checks cover the first candidate as well.
	lastKey   string
	truncated bool
	next      string
}

func (p *paginator) count() int {
	return len(p.contents) + len(p.prefixes)
}

// consume places e on the page. It returns false when e does not fit, which
// ends the walk with e as the lookahead key.
func (p *paginator) consume(e Entry) bool {
	if cp, ok := p.commonPrefix(e.Key); ok {
		if _, dup := p.seen[cp]; !dup {
			if p.count() >= p.req.Limit {
				return p.stop(e.Key)
			}
			p.seen[cp] = struct{}{}
			p.prefixes = append(p.prefixes, cp)
		}
		p.lastKey = e.Key
		return true
	}

	if p.count() >= p.req.Limit {
		return p.stop(e.Key)
	}
	p.contents = append(p.contents, e)
	p.lastKey = e.Key
	return true
}

func (p *paginator) stop(key string) bool {
	p.truncated = true
	p.next = key
	return false
}

// commonPrefix reports the group key belongs to when a delimiter is set and
// occurs in the part of key after the filter prefix.
func (p *paginator) commonPrefix(key string) (string, bool) {
	if p.req.Delimiter == "" {
		return "", false
	}
	rest := key[len(p.req.Prefix):]
	i := strings.Index(rest, p.req.Delimiter)
	if i < 0 {
		return "", false
	}
	return p.req.Prefix + rest[:i+len(p.req.Delimiter)], true
}

// check enforces the Cursor contract: ascending, unique, prefixed keys that
// sort after the marker.
func (p *paginator) check(key string) {
	if !strings.HasPrefix(key, p.req.Prefix) {
		panic(fmt.Sprintf("listing: cursor yielded %q outside prefix %q", key, p.req.Prefix))
	}
	if key <= p.lastKey {
		panic(fmt.Sprintf("listing: cursor yielded %q after %q", key, p.lastKey))
	}
}
