package s3

import (
	"encoding/xml"
	"time"
)

// timeFormat is the timestamp layout S3 uses in XML bodies
const timeFormat = "2006-01-02T15:04:05.000Z"

// S3Error is the XML error document
type S3Error struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource,omitempty"`
	RequestId string   `xml:"RequestId"`
	HostId    string   `xml:"HostId"`
}

/*
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
   <Name>string</Name>
   <Prefix>string</Prefix>
   <Marker>string</Marker>
   <MaxKeys>integer</MaxKeys>
   <Delimiter>string</Delimiter>
   <IsTruncated>boolean</IsTruncated>
   <NextMarker>string</NextMarker>
   <Contents>...</Contents>
   <CommonPrefixes><Prefix>string</Prefix></CommonPrefixes>
   <EncodingType>url</EncodingType>
</ListBucketResult>
*/

// ListBucketResult is the ListObjects (V1) response body
type ListBucketResult struct {
	XMLName        xml.Name         `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name           string           `xml:"Name"`
	Prefix         string           `xml:"Prefix"`
	Marker         string           `xml:"Marker"`
	MaxKeys        int              `xml:"MaxKeys"`
	Delimiter      string           `xml:"Delimiter,omitempty"`
	IsTruncated    bool             `xml:"IsTruncated"`
	NextMarker     string           `xml:"NextMarker,omitempty"`
	Contents       []ObjectContents `xml:"Contents"`
	CommonPrefixes []CommonPrefix   `xml:"CommonPrefixes"`
	EncodingType   string           `xml:"EncodingType,omitempty"`
}

// ObjectContents is one <Contents> entry
type ObjectContents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

// CommonPrefix is one <CommonPrefixes> entry
type CommonPrefix struct {
	Prefix string `xml:"Prefix"`
}

// BucketOwner identifies the account owning the buckets
type BucketOwner struct {
	ID          string
	DisplayName string
}

// ListBucket is one bucket in ListAllMyBucketsResult
type ListBucket struct {
	Name         string
	CreationDate string
}

// ListBuckets is the ListBuckets response body
type ListBuckets struct {
	XMLName xml.Name     `xml:"ListAllMyBucketsResult"`
	Owner   BucketOwner  `xml:"Owner"`
	Buckets []ListBucket `xml:"Buckets>Bucket"`
}

// CreateBucketConfiguration is the optional CreateBucket request body
type CreateBucketConfiguration struct {
	XMLName            xml.Name `xml:"CreateBucketConfiguration"`
	LocationConstraint string   `xml:"LocationConstraint"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// quoteETag wraps an ETag in the double quotes clients expect
func quoteETag(etag string) string {
	if etag == "" {
		return ""
	}
	return `"` + etag + `"`
}
