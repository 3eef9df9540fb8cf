package listing

// Result is one page of a V1 listing.
type Result struct {
	Contents       []Entry
	CommonPrefixes []string
	IsTruncated    bool

	// NextMarker is the first candidate key that did not fit on the page.
	// Empty unless IsTruncated.
	NextMarker string

	// ResumeMarker is the last candidate key placed on the page, either
	// listed or folded into a common prefix. Passing it as the next
	// request's Marker continues with NextMarker and nothing is skipped or
	// repeated. When nothing was placed it equals the request marker.
	// Empty unless IsTruncated.
	ResumeMarker string

	// MaxKeys is the echoed max-keys value, see Normalize.
	MaxKeys int
}

// KeyCount is the number of entries on the page.
func (r *Result) KeyCount() int {
	return len(r.Contents) + len(r.CommonPrefixes)
}

func (p *paginator) assemble() *Result {
	r := &Result{
		Contents:       p.contents,
		CommonPrefixes: p.prefixes,
		IsTruncated:    p.truncated,
		MaxKeys:        p.req.MaxKeys,
	}
	if r.Contents == nil {
		r.Contents = []Entry{}
	}
	if r.CommonPrefixes == nil {
		r.CommonPrefixes = []string{}
	}
	if p.truncated {
		r.NextMarker = p.next
		r.ResumeMarker = p.lastKey
	}
	return r
}
