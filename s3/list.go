package s3

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mulgadc/lister/backend"
)

// parseMaxKeys reads the max-keys query parameter. A missing or
// non-numeric value leaves max-keys unset; negative values pass through
// and are treated as unset by the listing.
func parseMaxKeys(query url.Values) *int {
	raw, ok := query["max-keys"]
	if !ok || len(raw) == 0 {
		return nil
	}
	n, err := strconv.Atoi(raw[0])
	if err != nil {
		slog.Debug("Ignoring non-numeric max-keys", "value", raw[0])
		return nil
	}
	return &n
}

func (s *HTTPServer) listObjects(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	query := r.URL.Query()

	if query.Get("list-type") == "2" {
		s.handleError(w, r, backend.ErrNotImplementedError.WithResource(bucket))
		return
	}

	encodingType := query.Get("encoding-type")
	if encodingType != "" && encodingType != "url" {
		s.handleError(w, r, backend.ErrInvalidArgumentError.WithResource(bucket))
		return
	}

	start := time.Now()
	resp, err := backend.ListObjects(r.Context(), s.backend, &backend.ListObjectsRequest{
		Bucket:    bucket,
		Prefix:    query.Get("prefix"),
		Delimiter: query.Get("delimiter"),
		Marker:    query.Get("marker"),
		MaxKeys:   parseMaxKeys(query),
	})
	if err != nil {
		s.metrics.RecordList("error", 0, 0, false, time.Since(start))
		s.handleError(w, r, err)
		return
	}
	s.metrics.RecordList("ok", len(resp.Contents), len(resp.CommonPrefixes), resp.IsTruncated, time.Since(start))

	slog.Debug("Listed objects",
		"bucket", bucket,
		"prefix", resp.Prefix,
		"marker", resp.Marker,
		"maxKeys", resp.MaxKeys,
		"contents", len(resp.Contents),
		"commonPrefixes", len(resp.CommonPrefixes),
		"truncated", resp.IsTruncated,
	)

	s.writeXML(w, http.StatusOK, listBucketResult(resp, encodingType))
}

// listBucketResult renders a listing. NextMarker carries the last key
// consumed, so a client passing it back as marker resumes without skipping
// anything folded into a common prefix. When nothing was consumed and no
// marker was sent (max-keys=0), it falls back to the first key not returned.
func listBucketResult(resp *backend.ListObjectsResponse, encodingType string) ListBucketResult {
	encode := func(s string) string { return s }
	if encodingType == "url" {
		encode = url.QueryEscape
	}

	result := ListBucketResult{
		Name:           resp.Name,
		Prefix:         encode(resp.Prefix),
		Marker:         encode(resp.Marker),
		MaxKeys:        resp.MaxKeys,
		Delimiter:      encode(resp.Delimiter),
		IsTruncated:    resp.IsTruncated,
		EncodingType:   encodingType,
		Contents:       make([]ObjectContents, 0, len(resp.Contents)),
		CommonPrefixes: make([]CommonPrefix, 0, len(resp.CommonPrefixes)),
	}
	if resp.IsTruncated {
		next := resp.ResumeMarker
		if next == "" {
			next = resp.NextMarker
		}
		result.NextMarker = encode(next)
	}

	for _, obj := range resp.Contents {
		result.Contents = append(result.Contents, ObjectContents{
			Key:          encode(obj.Key),
			LastModified: formatTime(obj.LastModified),
			ETag:         quoteETag(obj.ETag),
			Size:         obj.Size,
			StorageClass: obj.StorageClass,
		})
	}
	for _, p := range resp.CommonPrefixes {
		result.CommonPrefixes = append(result.CommonPrefixes, CommonPrefix{Prefix: encode(p)})
	}

	return result
}
