// Package listing implements the V1 ListObjects algorithm: prefix and marker
// selection, delimiter grouping and max-keys pagination over a bucket snapshot.
//
// The engine is a pure function of (snapshot, request). It performs no I/O and
// holds no state between calls, so it is safe to call from any number of
// goroutines as long as every snapshot stays immutable while it is in use.
package listing

// DefaultMaxKeys is both the default page size and the hard cap on the number
// of entries a single listing returns.
const DefaultMaxKeys = 1000

// Request holds already-parsed ListObjects parameters.
type Request struct {
	Prefix    string
	Delimiter string
	Marker    string

	// MaxKeys is nil when the caller did not send max-keys. Zero and negative
	// values are legal and are handled by Normalize.
	MaxKeys *int
}

// Normalized is a Request after max-keys has been resolved.
type Normalized struct {
	Prefix    string
	Delimiter string
	Marker    string

	// Limit is the number of entries the engine may emit, in [0, DefaultMaxKeys].
	Limit int
	// MaxKeys is the value echoed back in the result.
	MaxKeys int
}

// MaxKeys returns a pointer to n, for building a Request inline.
func MaxKeys(n int) *int {
	return &n
}

// Normalize resolves the requested key limit. It never fails: absent and
// negative limits fall back to the default (the behaviour of the AWS SDKs,
// which drop a negative max-keys before it reaches the server), zero is kept,
// and anything above the cap is echoed as sent but clamped for the listing.
func Normalize(req Request) Normalized {
	n := Normalized{
		Prefix:    req.Prefix,
		Delimiter: req.Delimiter,
		Marker:    req.Marker,
		Limit:     DefaultMaxKeys,
		MaxKeys:   DefaultMaxKeys,
	}

	if req.MaxKeys == nil || *req.MaxKeys < 0 {
		return n
	}

	n.MaxKeys = *req.MaxKeys
	n.Limit = min(*req.MaxKeys, DefaultMaxKeys)
	return n
}
