// Package backendtest holds the behaviour every backend.Backend must share.
// Backend packages call Run from their own tests.
package backendtest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/mulgadc/lister/backend"
	"github.com/mulgadc/lister/listing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend for one subtest
type Factory func(t *testing.T) backend.Backend

// Run exercises be through the backend.Backend interface
func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, be backend.Backend)
	}{
		{"Buckets", testBuckets},
		{"DeleteBucket", testDeleteBucket},
		{"Objects", testObjects},
		{"SnapshotMissingBucket", testSnapshotMissingBucket},
		{"ListMaxKeys", testListMaxKeys},
		{"ListDelimiter", testListDelimiter},
		{"ListResume", testListResume},
		{"SnapshotIsolation", testSnapshotIsolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := factory(t)
			t.Cleanup(func() {
				assert.NoError(t, be.Close())
			})
			tt.fn(t, be)
		})
	}
}

// MustCreateBucket creates bucket or fails the test
func MustCreateBucket(t *testing.T, be backend.Backend, bucket string) {
	t.Helper()
	_, err := be.CreateBucket(context.Background(), &backend.CreateBucketRequest{Bucket: bucket})
	require.NoError(t, err)
}

// MustPut stores key with body or fails the test
func MustPut(t *testing.T, be backend.Backend, bucket, key, body string) {
	t.Helper()
	_, err := be.PutObject(context.Background(), &backend.PutObjectRequest{
		Bucket: bucket,
		Key:    key,
		Body:   bytes.NewReader([]byte(body)),
	})
	require.NoError(t, err)
}

func keys(entries []listing.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Key)
	}
	return out
}

func testBuckets(t *testing.T, be backend.Backend) {
	ctx := context.Background()

	MustCreateBucket(t, be, "zeta")
	MustCreateBucket(t, be, "alpha")

	_, err := be.CreateBucket(ctx, &backend.CreateBucketRequest{Bucket: "alpha"})
	assert.ErrorIs(t, err, backend.ErrBucketAlreadyOwnedByYouError)

	_, err = be.CreateBucket(ctx, &backend.CreateBucketRequest{Bucket: "Not_Valid"})
	assert.ErrorIs(t, err, backend.ErrInvalidBucketNameError)

	info, err := be.HeadBucket(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", info.Name)
	assert.NotEmpty(t, info.Region)

	_, err = be.HeadBucket(ctx, "missing")
	assert.ErrorIs(t, err, backend.ErrNoSuchBucketError)

	resp, err := be.ListBuckets(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(resp.Buckets))
	for _, b := range resp.Buckets {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"alpha", "zeta"}, names)
}

func testDeleteBucket(t *testing.T, be backend.Backend) {
	ctx := context.Background()

	MustCreateBucket(t, be, "doomed")
	MustPut(t, be, "doomed", "file", "x")

	err := be.DeleteBucket(ctx, "doomed")
	assert.ErrorIs(t, err, backend.ErrBucketNotEmptyError)

	require.NoError(t, be.DeleteObject(ctx, &backend.DeleteObjectRequest{Bucket: "doomed", Key: "file"}))
	require.NoError(t, be.DeleteBucket(ctx, "doomed"))

	_, err = be.HeadBucket(ctx, "doomed")
	assert.ErrorIs(t, err, backend.ErrNoSuchBucketError)

	err = be.DeleteBucket(ctx, "doomed")
	assert.ErrorIs(t, err, backend.ErrNoSuchBucketError)
}

func testObjects(t *testing.T, be backend.Backend) {
	ctx := context.Background()
	MustCreateBucket(t, be, "objects")

	body := "hello world"
	sum := md5.Sum([]byte(body))

	put, err := be.PutObject(ctx, &backend.PutObjectRequest{
		Bucket: "objects",
		Key:    "dir/hello.txt",
		Body:   bytes.NewReader([]byte(body)),
	})
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(sum[:]), put.ETag)

	head, err := be.HeadObject(ctx, "objects", "dir/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "dir/hello.txt", head.Key)
	assert.Equal(t, int64(len(body)), head.Size)
	assert.Equal(t, put.ETag, head.ETag)
	assert.Equal(t, backend.StorageClassStandard, head.StorageClass)
	assert.False(t, head.LastModified.IsZero())

	get, err := be.GetObject(ctx, "objects", "dir/hello.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(get.Body)
	require.NoError(t, err)
	require.NoError(t, get.Body.Close())
	assert.Equal(t, body, string(data))
	assert.Equal(t, put.ETag, get.ETag)

	// Overwrite replaces content and metadata
	MustPut(t, be, "objects", "dir/hello.txt", "bye")
	head, err = be.HeadObject(ctx, "objects", "dir/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), head.Size)

	_, err = be.HeadObject(ctx, "objects", "dir/missing.txt")
	assert.ErrorIs(t, err, backend.ErrNoSuchKeyError)

	_, err = be.GetObject(ctx, "objects", "dir/missing.txt")
	assert.ErrorIs(t, err, backend.ErrNoSuchKeyError)

	_, err = be.HeadObject(ctx, "nobucket", "dir/hello.txt")
	assert.ErrorIs(t, err, backend.ErrNoSuchBucketError)

	_, err = be.PutObject(ctx, &backend.PutObjectRequest{Bucket: "nobucket", Key: "k", Body: bytes.NewReader(nil)})
	assert.ErrorIs(t, err, backend.ErrNoSuchBucketError)

	_, err = be.PutObject(ctx, &backend.PutObjectRequest{Bucket: "objects", Key: "", Body: bytes.NewReader(nil)})
	assert.ErrorIs(t, err, backend.ErrInvalidKeyError)

	require.NoError(t, be.DeleteObject(ctx, &backend.DeleteObjectRequest{Bucket: "objects", Key: "dir/hello.txt"}))
	_, err = be.HeadObject(ctx, "objects", "dir/hello.txt")
	assert.ErrorIs(t, err, backend.ErrNoSuchKeyError)

	// Deleting a missing key is not an error
	assert.NoError(t, be.DeleteObject(ctx, &backend.DeleteObjectRequest{Bucket: "objects", Key: "dir/hello.txt"}))
}

func testSnapshotMissingBucket(t *testing.T, be backend.Backend) {
	_, err := be.Snapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, backend.ErrNoSuchBucketError)

	_, err = backend.ListObjects(context.Background(), be, &backend.ListObjectsRequest{Bucket: "missing"})
	assert.ErrorIs(t, err, backend.ErrNoSuchBucketError)
}

func testListMaxKeys(t *testing.T, be backend.Backend) {
	ctx := context.Background()
	MustCreateBucket(t, be, "two")
	MustPut(t, be, "two", "b", "")
	MustPut(t, be, "two", "a", "")

	tests := []struct {
		name          string
		maxKeys       *int
		wantKeys      []string
		wantMaxKeys   int
		wantTruncated bool
	}{
		{"one", listing.MaxKeys(1), []string{"a"}, 1, true},
		{"default", nil, []string{"a", "b"}, 1000, false},
		{"two", listing.MaxKeys(2), []string{"a", "b"}, 2, false},
		{"three", listing.MaxKeys(3), []string{"a", "b"}, 3, false},
		{"zero", listing.MaxKeys(0), []string{}, 0, true},
		{"negative", listing.MaxKeys(-1), []string{"a", "b"}, 1000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := backend.ListObjects(ctx, be, &backend.ListObjectsRequest{Bucket: "two", MaxKeys: tt.maxKeys})
			require.NoError(t, err)
			assert.Equal(t, "two", resp.Name)
			assert.Equal(t, tt.wantKeys, keys(resp.Contents))
			assert.Equal(t, tt.wantMaxKeys, resp.MaxKeys)
			assert.Equal(t, tt.wantTruncated, resp.IsTruncated)
		})
	}

	// Metadata survives the trip through the snapshot
	resp, err := backend.ListObjects(ctx, be, &backend.ListObjectsRequest{Bucket: "two"})
	require.NoError(t, err)
	empty := md5.Sum(nil)
	for _, e := range resp.Contents {
		assert.Equal(t, hex.EncodeToString(empty[:]), e.ETag)
		assert.Equal(t, int64(0), e.Size)
		assert.False(t, e.LastModified.IsZero())
	}
}

var treeKeys = []string{
	"a.txt",
	"docs/guide/intro.md",
	"docs/guide/setup.md",
	"docs/readme.md",
	"img/cat.png",
	"img/dog.png",
	"z",
}

func testListDelimiter(t *testing.T, be backend.Backend) {
	ctx := context.Background()
	MustCreateBucket(t, be, "tree")
	for _, k := range treeKeys {
		MustPut(t, be, "tree", k, k)
	}

	resp, err := backend.ListObjects(ctx, be, &backend.ListObjectsRequest{Bucket: "tree", Delimiter: "/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "z"}, keys(resp.Contents))
	assert.Equal(t, []string{"docs/", "img/"}, resp.CommonPrefixes)

	resp, err = backend.ListObjects(ctx, be, &backend.ListObjectsRequest{Bucket: "tree", Prefix: "docs/", Delimiter: "/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/readme.md"}, keys(resp.Contents))
	assert.Equal(t, []string{"docs/guide/"}, resp.CommonPrefixes)

	resp, err = backend.ListObjects(ctx, be, &backend.ListObjectsRequest{Bucket: "tree", Prefix: "img/", Marker: "img/cat.png"})
	require.NoError(t, err)
	assert.Equal(t, []string{"img/dog.png"}, keys(resp.Contents))

	resp, err = backend.ListObjects(ctx, be, &backend.ListObjectsRequest{Bucket: "tree", Delimiter: "/", MaxKeys: listing.MaxKeys(2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, keys(resp.Contents))
	assert.Equal(t, []string{"docs/"}, resp.CommonPrefixes)
	assert.True(t, resp.IsTruncated)
	assert.Equal(t, "img/cat.png", resp.NextMarker)
	assert.Equal(t, "docs/readme.md", resp.ResumeMarker)
}

func testListResume(t *testing.T, be backend.Backend) {
	ctx := context.Background()
	MustCreateBucket(t, be, "pages")

	var want []string
	for i := range 25 {
		k := fmt.Sprintf("obj-%03d", i)
		want = append(want, k)
		MustPut(t, be, "pages", k, "")
	}

	var got []string
	req := &backend.ListObjectsRequest{Bucket: "pages", MaxKeys: listing.MaxKeys(4)}
	for pages := 0; ; pages++ {
		require.Less(t, pages, 20)
		resp, err := backend.ListObjects(ctx, be, req)
		require.NoError(t, err)
		got = append(got, keys(resp.Contents)...)
		if !resp.IsTruncated {
			break
		}
		req.Marker = resp.ResumeMarker
	}
	assert.Equal(t, want, got)
}

func testSnapshotIsolation(t *testing.T, be backend.Backend) {
	ctx := context.Background()
	MustCreateBucket(t, be, "frozen")
	MustPut(t, be, "frozen", "a", "")
	MustPut(t, be, "frozen", "c", "")

	snap, err := be.Snapshot(ctx, "frozen")
	require.NoError(t, err)

	// Writers may block until the snapshot is released; they must not show
	// up in it either way.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := be.PutObject(ctx, &backend.PutObjectRequest{Bucket: "frozen", Key: "b", Body: bytes.NewReader(nil)})
		assert.NoError(t, err)
	}()

	res := listing.List(snap, listing.Request{})
	assert.Equal(t, []string{"a", "c"}, keys(res.Contents))

	// A second cursor over the same snapshot sees the same keys
	res = listing.List(snap, listing.Request{Marker: "a"})
	assert.Equal(t, []string{"c"}, keys(res.Contents))

	require.NoError(t, snap.Close())
	wg.Wait()

	resp, err := backend.ListObjects(ctx, be, &backend.ListObjectsRequest{Bucket: "frozen"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, keys(resp.Contents))
}
