// Package memory implements an in-memory backend.
//
// Buckets are spread over a fixed set of buntdb partitions by a consistent
// hash ring. Every key of a bucket lives in the same partition, so a bucket
// snapshot is a single buntdb read transaction.
package memory

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/buraksezer/consistent"
	"github.com/cespare/xxhash"
	jsoniter "github.com/json-iterator/go"
	"github.com/mulgadc/lister/backend"
	"github.com/tidwall/buntdb"
)

const (
	defaultPartitions = 4

	bucketPrefix = "b/"
	objectPrefix = "o/"
	dataPrefix   = "d/"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	backend.Register("memory", New)
}

// Config holds memory backend configuration
type Config struct {
	// Partitions is the number of buntdb databases buckets are spread over
	Partitions int

	OwnerID   string
	OwnerName string
}

// Backend implements the in-memory storage backend
type Backend struct {
	config     *Config
	ring       *consistent.Consistent
	partitions map[string]*buntdb.DB
}

// hasher implements consistent.Hasher using xxhash
type hasher struct{}

func (h hasher) Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// partition implements consistent.Member
type partition string

func (p partition) String() string {
	return string(p)
}

// New creates a new memory backend
func New(config any) (backend.Backend, error) {
	var cfg *Config
	switch c := config.(type) {
	case *Config:
		cfg = c
	case nil:
		cfg = &Config{}
	default:
		return nil, errors.New("invalid configuration type for memory backend")
	}

	if cfg.Partitions <= 0 {
		cfg.Partitions = defaultPartitions
	}
	if cfg.OwnerID == "" {
		cfg.OwnerID = "lister-owner-id"
	}
	if cfg.OwnerName == "" {
		cfg.OwnerName = "lister"
	}

	ring := consistent.New(nil, consistent.Config{
		PartitionCount:    271,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	})

	b := &Backend{
		config:     cfg,
		ring:       ring,
		partitions: make(map[string]*buntdb.DB, cfg.Partitions),
	}

	for i := 0; i < cfg.Partitions; i++ {
		db, err := buntdb.Open(":memory:")
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to open partition %d: %w", i, err)
		}
		name := fmt.Sprintf("partition-%d", i)
		b.partitions[name] = db
		ring.Add(partition(name))
	}

	slog.Debug("memory backend ready", "partitions", cfg.Partitions)
	return b, nil
}

// Type returns the backend type identifier
func (b *Backend) Type() string {
	return "memory"
}

// Close releases every partition
func (b *Backend) Close() error {
	var errs []error
	for name, db := range b.partitions {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// db returns the partition owning bucket
func (b *Backend) db(bucket string) *buntdb.DB {
	member := b.ring.LocateKey([]byte(bucket))
	return b.partitions[member.String()]
}

func bucketKey(bucket string) string {
	return bucketPrefix + bucket
}

// objectBase is the buntdb key prefix shared by all objects of bucket
func objectBase(bucket string) string {
	return objectPrefix + bucket + "/"
}

func objectKey(bucket, key string) string {
	return objectBase(bucket) + key
}

func dataKey(bucket, key string) string {
	return dataPrefix + bucket + "/" + key
}

// bucketExists reports whether bucket is recorded in tx
func bucketExists(tx *buntdb.Tx, bucket string) (bool, error) {
	_, err := tx.Get(bucketKey(bucket))
	if errors.Is(err, buntdb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
