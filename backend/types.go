package backend

import (
	"io"
	"time"

	"github.com/mulgadc/lister/listing"
)

// DefaultRegion is used when neither the request nor the config names one
const DefaultRegion = "us-east-1"

// StorageClassStandard is reported for every stored object
const StorageClassStandard = "STANDARD"

// ObjectInfo contains metadata about an object
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ETag         string    `json:"etag"`
	ContentType  string    `json:"content_type"`
	StorageClass string    `json:"storage_class"`
}

// Entry converts the metadata into a listing entry
func (o ObjectInfo) Entry() listing.Entry {
	return listing.Entry{
		Key:          o.Key,
		Size:         o.Size,
		LastModified: o.LastModified,
		ETag:         o.ETag,
		StorageClass: o.StorageClass,
	}
}

// BucketInfo contains metadata about a bucket
type BucketInfo struct {
	Name         string    `json:"name"`
	CreationDate time.Time `json:"creation_date"`
	Region       string    `json:"region"`
}

// CreateBucketRequest contains parameters for CreateBucket operation
type CreateBucketRequest struct {
	Bucket string
	Region string
}

// GetObjectResponse contains the result of GetObject operation
type GetObjectResponse struct {
	Body io.ReadCloser
	ObjectInfo
}

// PutObjectRequest contains parameters for PutObject operation
type PutObjectRequest struct {
	Bucket      string
	Key         string
	Body        io.Reader
	ContentType string
}

// PutObjectResponse contains the result of PutObject operation
type PutObjectResponse struct {
	ETag string
}

// DeleteObjectRequest contains parameters for DeleteObject operation
type DeleteObjectRequest struct {
	Bucket string
	Key    string
}

// ListObjectsRequest contains parameters for ListObjects (V1) operation
type ListObjectsRequest struct {
	Bucket    string
	Prefix    string
	Delimiter string
	Marker    string
	MaxKeys   *int // nil when max-keys was not sent
}

// ListObjectsResponse contains the result of ListObjects (V1) operation
type ListObjectsResponse struct {
	Name           string
	Prefix         string
	Delimiter      string
	Marker         string
	MaxKeys        int
	IsTruncated    bool
	NextMarker     string // first key not returned
	ResumeMarker   string // marker that continues the listing without gaps
	Contents       []listing.Entry
	CommonPrefixes []string
}

// ListBucketsResponse contains the result of ListBuckets operation
type ListBucketsResponse struct {
	Buckets []BucketInfo
	Owner   OwnerInfo
}

// OwnerInfo contains owner information
type OwnerInfo struct {
	ID          string
	DisplayName string
}
