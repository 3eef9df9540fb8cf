package s3

import (
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/mulgadc/lister/backend"
	"github.com/mulgadc/lister/backend/backendtest"
	"github.com/mulgadc/lister/backend/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newListHandler serves a memory backend holding keys in bucket "photos"
func newListHandler(t *testing.T, keys ...string) (*HTTPServer, backend.Backend) {
	t.Helper()
	be, err := memory.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { be.Close() })

	backendtest.MustCreateBucket(t, be, "photos")
	for _, k := range keys {
		backendtest.MustPut(t, be, "photos", k, "body of "+k)
	}

	config := NewConfig()
	config.DisableLogging = true
	return NewHTTPServer(config, be, nil), be
}

func doGet(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func listBucket(t *testing.T, h http.Handler, query url.Values) ListBucketResult {
	t.Helper()
	rec := doGet(t, h, "/photos?"+query.Encode())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))

	var result ListBucketResult
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &result))
	return result
}

func contentKeys(result ListBucketResult) []string {
	keys := make([]string, 0, len(result.Contents))
	for _, c := range result.Contents {
		keys = append(keys, c.Key)
	}
	return keys
}

func prefixes(result ListBucketResult) []string {
	out := make([]string, 0, len(result.CommonPrefixes))
	for _, p := range result.CommonPrefixes {
		out = append(out, p.Prefix)
	}
	return out
}

func TestListObjects_MaxKeys(t *testing.T) {
	s, _ := newListHandler(t, "a", "b")

	tests := []struct {
		name          string
		maxKeys       string
		wantKeys      []string
		wantMaxKeys   int
		wantTruncated bool
		wantNext      string
	}{
		{name: "unset", maxKeys: "", wantKeys: []string{"a", "b"}, wantMaxKeys: 1000},
		{name: "one", maxKeys: "1", wantKeys: []string{"a"}, wantMaxKeys: 1, wantTruncated: true, wantNext: "a"},
		{name: "two", maxKeys: "2", wantKeys: []string{"a", "b"}, wantMaxKeys: 2},
		{name: "three", maxKeys: "3", wantKeys: []string{"a", "b"}, wantMaxKeys: 3},
		{name: "zero", maxKeys: "0", wantKeys: []string{}, wantMaxKeys: 0, wantTruncated: true, wantNext: "a"},
		{name: "negative", maxKeys: "-1", wantKeys: []string{"a", "b"}, wantMaxKeys: 1000},
		{name: "over the cap", maxKeys: "5000", wantKeys: []string{"a", "b"}, wantMaxKeys: 5000},
		{name: "not a number", maxKeys: "lots", wantKeys: []string{"a", "b"}, wantMaxKeys: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := url.Values{}
			if tt.maxKeys != "" {
				query.Set("max-keys", tt.maxKeys)
			}
			result := listBucket(t, s.Handler(), query)

			assert.Equal(t, "photos", result.Name)
			assert.Equal(t, tt.wantKeys, contentKeys(result))
			assert.Equal(t, tt.wantMaxKeys, result.MaxKeys)
			assert.Equal(t, tt.wantTruncated, result.IsTruncated)
			assert.Equal(t, tt.wantNext, result.NextMarker)
		})
	}
}

func TestListObjects_ContentsFields(t *testing.T) {
	s, be := newListHandler(t, "a")

	info, err := be.HeadObject(t.Context(), "photos", "a")
	require.NoError(t, err)

	result := listBucket(t, s.Handler(), url.Values{})
	require.Len(t, result.Contents, 1)

	c := result.Contents[0]
	assert.Equal(t, "a", c.Key)
	assert.Equal(t, `"`+info.ETag+`"`, c.ETag)
	assert.Equal(t, int64(len("body of a")), c.Size)
	assert.Equal(t, "STANDARD", c.StorageClass)
	assert.Equal(t, info.LastModified.UTC().Format(timeFormat), c.LastModified)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, c.LastModified)
}

func TestListObjects_Delimiter(t *testing.T) {
	s, _ := newListHandler(t,
		"index.html",
		"photos/2023/a.jpg",
		"photos/2023/b.jpg",
		"photos/2024/c.jpg",
		"photos/cover.jpg",
		"videos/x.mp4",
	)

	t.Run("root", func(t *testing.T) {
		result := listBucket(t, s.Handler(), url.Values{"delimiter": {"/"}})
		assert.Equal(t, []string{"index.html"}, contentKeys(result))
		assert.Equal(t, []string{"photos/", "videos/"}, prefixes(result))
		assert.Equal(t, "/", result.Delimiter)
		assert.False(t, result.IsTruncated)
		assert.Empty(t, result.NextMarker)
	})

	t.Run("prefix", func(t *testing.T) {
		result := listBucket(t, s.Handler(), url.Values{"prefix": {"photos/"}, "delimiter": {"/"}})
		assert.Equal(t, "photos/", result.Prefix)
		assert.Equal(t, []string{"photos/cover.jpg"}, contentKeys(result))
		assert.Equal(t, []string{"photos/2023/", "photos/2024/"}, prefixes(result))
	})

	t.Run("resume after a common prefix", func(t *testing.T) {
		query := url.Values{"prefix": {"photos/"}, "delimiter": {"/"}, "max-keys": {"1"}}
		result := listBucket(t, s.Handler(), query)
		assert.Empty(t, contentKeys(result))
		assert.Equal(t, []string{"photos/2023/"}, prefixes(result))
		require.True(t, result.IsTruncated)
		assert.Equal(t, "photos/2023/b.jpg", result.NextMarker, "NextMarker is the last key folded into the prefix")

		query.Set("marker", result.NextMarker)
		result = listBucket(t, s.Handler(), query)
		assert.Equal(t, "photos/2023/b.jpg", result.Marker)
		assert.Equal(t, []string{"photos/2024/"}, prefixes(result))
		require.True(t, result.IsTruncated)
	})

	t.Run("multi-character delimiter", func(t *testing.T) {
		result := listBucket(t, s.Handler(), url.Values{"delimiter": {"/20"}})
		assert.Equal(t, []string{"index.html", "photos/cover.jpg", "videos/x.mp4"}, contentKeys(result))
		assert.Equal(t, []string{"photos/20"}, prefixes(result))
	})

	t.Run("delimiter omitted from body when unset", func(t *testing.T) {
		rec := doGet(t, s.Handler(), "/photos")
		assert.NotContains(t, rec.Body.String(), "<Delimiter>")
		assert.NotContains(t, rec.Body.String(), "<NextMarker>")
		assert.Contains(t, rec.Body.String(), `xmlns="http://s3.amazonaws.com/doc/2006-03-01/"`)
	})
}

func TestListObjects_Pagination(t *testing.T) {
	var keys []string
	for _, c := range "abcdefghijklmnopq" {
		keys = append(keys, "k/"+string(c))
	}
	s, _ := newListHandler(t, keys...)

	var got []string
	marker := ""
	for page := 0; page < 20; page++ {
		query := url.Values{"max-keys": {"3"}}
		if marker != "" {
			query.Set("marker", marker)
		}
		result := listBucket(t, s.Handler(), query)
		got = append(got, contentKeys(result)...)
		if !result.IsTruncated {
			break
		}
		require.NotEmpty(t, result.NextMarker)
		marker = result.NextMarker
	}

	assert.Equal(t, keys, got)
}

func TestListObjects_EncodingTypeURL(t *testing.T) {
	s, _ := newListHandler(t, "dir one/a b.txt", "dir one/c+d.txt", "plain")

	result := listBucket(t, s.Handler(), url.Values{
		"delimiter":     {"/"},
		"encoding-type": {"url"},
		"max-keys":      {"1"},
	})

	assert.Equal(t, "url", result.EncodingType)
	assert.Equal(t, "%2F", result.Delimiter)
	assert.Equal(t, []string{"dir+one%2F"}, prefixes(result))
	assert.Equal(t, "dir+one%2Fc%2Bd.txt", result.NextMarker)

	rec := doGet(t, s.Handler(), "/photos?encoding-type=base64")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>InvalidArgument</Code>")
}

func TestListObjects_Errors(t *testing.T) {
	s, _ := newListHandler(t, "a")

	t.Run("missing bucket", func(t *testing.T) {
		rec := doGet(t, s.Handler(), "/nosuchbucket")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		var s3err S3Error
		require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &s3err))
		assert.Equal(t, "NoSuchBucket", s3err.Code)
		assert.Equal(t, rec.Header().Get("x-amz-request-id"), s3err.RequestId)
	})

	t.Run("list-type 2", func(t *testing.T) {
		rec := doGet(t, s.Handler(), "/photos?list-type=2")
		assert.Equal(t, http.StatusNotImplemented, rec.Code)

		var s3err S3Error
		require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &s3err))
		assert.Equal(t, string(backend.ErrNotImplemented), s3err.Code)
		assert.Equal(t, backend.ErrNotImplementedError.Message, s3err.Message)
		assert.Equal(t, "photos", s3err.Resource)
	})

	t.Run("unknown encoding type", func(t *testing.T) {
		rec := doGet(t, s.Handler(), "/photos?encoding-type=base64")
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var s3err S3Error
		require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &s3err))
		assert.Equal(t, string(backend.ErrInvalidArgument), s3err.Code)
		assert.Equal(t, "photos", s3err.Resource)
	})
}

func TestListObjects_TrailingSlash(t *testing.T) {
	s, _ := newListHandler(t, "a", "b")

	rec := doGet(t, s.Handler(), "/photos/?max-keys=1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result ListBucketResult
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "photos", result.Name)
	assert.Equal(t, []string{"a"}, contentKeys(result))
	assert.Equal(t, 1, result.MaxKeys)
	assert.True(t, result.IsTruncated)
	assert.Equal(t, "a", result.NextMarker)
}

func TestListObjects_ZeroMaxKeysAfterMarker(t *testing.T) {
	s, _ := newListHandler(t, "a", "b", "c")

	result := listBucket(t, s.Handler(), url.Values{"max-keys": {"0"}, "marker": {"a"}})
	assert.Empty(t, result.Contents)
	assert.True(t, result.IsTruncated)
	assert.Equal(t, "a", result.NextMarker, "nothing consumed, so the request marker is echoed")
}

func TestListObjects_Metrics(t *testing.T) {
	s, _ := newListHandler(t, "a", "b")

	doGet(t, s.Handler(), "/photos?max-keys=1")
	doGet(t, s.Handler(), "/nosuchbucket")

	rec := doGet(t, s.metrics.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `lister_list_requests_total{outcome="ok"} 1`)
	assert.Contains(t, string(body), `lister_list_requests_total{outcome="error"} 1`)
	assert.Contains(t, string(body), `lister_list_entries_total{kind="object"} 1`)
	assert.Contains(t, string(body), "lister_list_truncated_total 1")
}

func TestParseMaxKeys(t *testing.T) {
	assert.Nil(t, parseMaxKeys(url.Values{}))
	assert.Nil(t, parseMaxKeys(url.Values{"max-keys": {"abc"}}))
	assert.Nil(t, parseMaxKeys(url.Values{"max-keys": {""}}))

	n := parseMaxKeys(url.Values{"max-keys": {"-5"}})
	require.NotNil(t, n)
	assert.Equal(t, -5, *n)

	n = parseMaxKeys(url.Values{"max-keys": {"250"}})
	require.NotNil(t, n)
	assert.Equal(t, 250, *n)
}
