package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mulgadc/lister/listing"
)

// Backend defines the interface for storage backends.
// All methods accept context.Context for cancellation and timeouts.
// This interface is HTTP-layer agnostic - no framework-specific types.
type Backend interface {
	// Bucket operations
	CreateBucket(ctx context.Context, req *CreateBucketRequest) (*BucketInfo, error)
	HeadBucket(ctx context.Context, bucket string) (*BucketInfo, error)
	DeleteBucket(ctx context.Context, bucket string) error
	ListBuckets(ctx context.Context) (*ListBucketsResponse, error)

	// Object operations
	PutObject(ctx context.Context, req *PutObjectRequest) (*PutObjectResponse, error)
	HeadObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (*GetObjectResponse, error)
	DeleteObject(ctx context.Context, req *DeleteObjectRequest) error

	// Snapshot returns a consistent, read-only view of a bucket's keys.
	// The caller must Close it once the listing is done.
	Snapshot(ctx context.Context, bucket string) (Snapshot, error)

	// Backend info
	Type() string
	Close() error
}

// Snapshot is a listing.Snapshot holding backend resources (a read
// transaction, a lock) until Close. Close also reports any storage error the
// cursors ran into, since listing.Cursor has no error return.
type Snapshot interface {
	listing.Snapshot
	Close() error
}

// ListObjects runs a V1 listing over a snapshot of req.Bucket. The snapshot
// is closed even when the listing panics on a misbehaving cursor.
func ListObjects(ctx context.Context, be Backend, req *ListObjectsRequest) (resp *ListObjectsResponse, err error) {
	snap, err := be.Snapshot(ctx, req.Bucket)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := snap.Close(); cerr != nil && err == nil {
			resp = nil
			err = NewS3Error(ErrInternalError, fmt.Sprintf("listing %s: %v", req.Bucket, cerr), 500).WithResource(req.Bucket)
		}
	}()

	res := listing.List(snap, listing.Request{
		Prefix:    req.Prefix,
		Delimiter: req.Delimiter,
		Marker:    req.Marker,
		MaxKeys:   req.MaxKeys,
	})

	return &ListObjectsResponse{
		Name:           req.Bucket,
		Prefix:         req.Prefix,
		Delimiter:      req.Delimiter,
		Marker:         req.Marker,
		MaxKeys:        res.MaxKeys,
		IsTruncated:    res.IsTruncated,
		NextMarker:     res.NextMarker,
		ResumeMarker:   res.ResumeMarker,
		Contents:       res.Contents,
		CommonPrefixes: res.CommonPrefixes,
	}, nil
}

// Factory creates a new backend instance
type Factory func(config any) (Backend, error)

// Registry holds registered backend factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a new backend registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a backend factory to the registry
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a backend by name
func (r *Registry) Create(name string, config any) (Backend, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown backend type: %s", name)
	}

	return factory(config)
}

// Names returns the registered backend types, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global backend registry
var DefaultRegistry = NewRegistry()

// Register adds a backend factory to the default registry
func Register(name string, factory Factory) {
	DefaultRegistry.Register(name, factory)
}

// Create instantiates a backend from the default registry
func Create(name string, config any) (Backend, error) {
	return DefaultRegistry.Create(name, config)
}
