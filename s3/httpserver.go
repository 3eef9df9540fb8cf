// Copyright 2025 Mulga Defense Corporation (MDC). All rights reserved.
// Use of this source code is governed by an Apache 2.0 license
// that can be found in the LICENSE file.

package s3

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mulgadc/lister/backend"
)

type contextKey string

// ContextKeyRequestID holds the x-amz-request-id of the current request
const ContextKeyRequestID contextKey = "requestID"

// HTTPServer is the S3-compatible HTTP front end of a backend
type HTTPServer struct {
	config  *Config
	backend backend.Backend
	metrics *Metrics
	router  chi.Router
	server  *http.Server
}

// NewHTTPServer wires the S3 routes onto be
func NewHTTPServer(config *Config, be backend.Backend, metrics *Metrics) *HTTPServer {
	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &HTTPServer{
		config:  config,
		backend: be,
		metrics: metrics,
		router:  chi.NewRouter(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Handler: s.router,
		// Timeouts
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// Max header size
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return s
}

func (s *HTTPServer) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(s.requestIDMiddleware)
	if !s.config.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)

	// Routes
	r.Get("/", s.listBuckets)

	// Bucket operations (without key)
	r.Put("/{bucket}", s.createBucket)
	r.Head("/{bucket}", s.headBucket)
	r.Delete("/{bucket}", s.deleteBucket)
	r.Get("/{bucket}", s.listObjects)

	// Object operations (with key). Path-style clients address the bucket
	// itself as /{bucket}/, which arrives here with an empty key.
	r.Head("/{bucket}/*", s.objectOrBucket(s.headObject, s.headBucket))
	r.Get("/{bucket}/*", s.objectOrBucket(s.getObject, s.listObjects))
	r.Put("/{bucket}/*", s.objectOrBucket(s.putObject, s.createBucket))
	r.Delete("/{bucket}/*", s.objectOrBucket(s.deleteObject, s.deleteBucket))
}

// objectOrBucket routes requests without an object key to the bucket handler
func (s *HTTPServer) objectOrBucket(object, bucket http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "*") == "" {
			bucket(w, r)
			return
		}
		object(w, r)
	}
}

// requestIDMiddleware tags every request and response with a request id
func (s *HTTPServer) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("x-amz-request-id", id)
		w.Header().Set("x-amz-id-2", id)
		ctx := context.WithValue(r.Context(), ContextKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(ContextKeyRequestID).(string); ok {
		return id
	}
	return uuid.NewString()
}

// writeS3Error writes an S3 error response
func (s *HTTPServer) writeS3Error(w http.ResponseWriter, r *http.Request, statusCode int, code, message, resource string) {
	s3error := S3Error{
		Code:      code,
		Message:   message,
		Resource:  resource,
		RequestId: requestID(r),
		HostId:    r.Host,
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(statusCode)
	if r.Method == http.MethodHead {
		return
	}
	if err := xml.NewEncoder(w).Encode(s3error); err != nil {
		slog.Debug("Error writing error response", "error", err)
	}
}

// writeXML writes an XML response
func (s *HTTPServer) writeXML(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(statusCode)
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return
	}
	if err := xml.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Error writing response", "error", err)
	}
}

// handleError converts backend errors to S3 error responses
func (s *HTTPServer) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if s3err, ok := backend.IsS3Error(err); ok {
		if s3err.StatusCode >= 500 && s3err.Code != backend.ErrNotImplemented {
			slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		}
		s.writeS3Error(w, r, s3err.StatusCode, string(s3err.Code), s3err.Message, s3err.Resource)
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.Debug("Request cancelled", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeS3Error(w, r, http.StatusInternalServerError, string(backend.ErrInternalError), backend.ErrInternalServerError.Message, "")
}

// Route handlers

func (s *HTTPServer) listBuckets(w http.ResponseWriter, r *http.Request) {
	resp, err := s.backend.ListBuckets(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	result := ListBuckets{
		Owner: BucketOwner{
			ID:          resp.Owner.ID,
			DisplayName: resp.Owner.DisplayName,
		},
	}
	for _, b := range resp.Buckets {
		result.Buckets = append(result.Buckets, ListBucket{
			Name:         b.Name,
			CreationDate: formatTime(b.CreationDate),
		})
	}

	s.writeXML(w, http.StatusOK, result)
}

func (s *HTTPServer) createBucket(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")

	region := s.config.Region
	if r.ContentLength > 0 {
		var config CreateBucketConfiguration
		body, err := io.ReadAll(r.Body)
		if err == nil {
			err = xml.Unmarshal(body, &config)
		}
		if err != nil {
			slog.Debug("Malformed CreateBucketConfiguration", "bucket", bucket, "error", err)
			s.handleError(w, r, backend.ErrMalformedXMLError.WithResource(bucket))
			return
		}
		if config.LocationConstraint != "" {
			region = config.LocationConstraint
		}
	}

	_, err := s.backend.CreateBucket(r.Context(), &backend.CreateBucketRequest{
		Bucket: bucket,
		Region: region,
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	w.Header().Set("Location", "/"+bucket)
	w.WriteHeader(http.StatusOK)
}

func (s *HTTPServer) headBucket(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")

	resp, err := s.backend.HeadBucket(r.Context(), bucket)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	w.Header().Set("x-amz-bucket-region", resp.Region)
	w.WriteHeader(http.StatusOK)
}

func (s *HTTPServer) deleteBucket(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")

	if err := s.backend.DeleteBucket(r.Context(), bucket); err != nil {
		s.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) headObject(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")

	info, err := s.backend.HeadObject(r.Context(), bucket, key)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	setObjectHeaders(w, info)
	w.WriteHeader(http.StatusOK)
}

func (s *HTTPServer) getObject(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")

	resp, err := s.backend.GetObject(r.Context(), bucket, key)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	defer resp.Body.Close()

	setObjectHeaders(w, &resp.ObjectInfo)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Debug("Error streaming object", "bucket", bucket, "key", key, "error", err)
	}
}

func (s *HTTPServer) putObject(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")

	resp, err := s.backend.PutObject(r.Context(), &backend.PutObjectRequest{
		Bucket:      bucket,
		Key:         key,
		Body:        r.Body,
		ContentType: r.Header.Get("Content-Type"),
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	w.Header().Set("ETag", quoteETag(resp.ETag))
	w.WriteHeader(http.StatusOK)
}

func (s *HTTPServer) deleteObject(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")

	err := s.backend.DeleteObject(r.Context(), &backend.DeleteObjectRequest{
		Bucket: bucket,
		Key:    key,
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func setObjectHeaders(w http.ResponseWriter, info *backend.ObjectInfo) {
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.Header().Set("ETag", quoteETag(info.ETag))
	w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
}

// ListenAndServe serves HTTP on addr, or HTTPS when a certificate is set.
// It returns http.ErrServerClosed after Shutdown.
func (s *HTTPServer) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	if s.config.TLSCert == "" || s.config.TLSKey == "" {
		slog.Info("Starting S3 server", "addr", ln.Addr().String(), "tls", false)
		return s.server.Serve(ln)
	}

	cert, err := tls.LoadX509KeyPair(s.config.TLSCert, s.config.TLSKey)
	if err != nil {
		ln.Close()
		return fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		// ALPN: "h2" = HTTP/2, "http/1.1" = HTTP/1.1 fallback
		NextProtos: []string{"h2", "http/1.1"},
		MinVersion: tls.VersionTLS12,
	}

	slog.Info("Starting S3 server", "addr", ln.Addr().String(), "tls", true)
	return s.server.Serve(tls.NewListener(ln, tlsConfig))
}

// Shutdown gracefully shuts down the server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing with httptest
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}
