package s3

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/mulgadc/lister/backend"
	"github.com/mulgadc/lister/backend/badgerdb"
	"github.com/mulgadc/lister/backend/filesystem"
	"github.com/mulgadc/lister/backend/memory"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"
)

// BackendType specifies the storage backend type
type BackendType string

const (
	// BackendMemory keeps buckets in partitioned in-memory buntdb databases
	BackendMemory BackendType = "memory"
	// BackendBadger stores buckets in badger, on disk or in memory
	BackendBadger BackendType = "badger"
	// BackendFilesystem serves buckets from local directories
	BackendFilesystem BackendType = "filesystem"
)

// shutdownTimeout bounds the graceful shutdown once the serving context ends
const shutdownTimeout = 10 * time.Second

// Server encapsulates the S3-compatible server with all its components
type Server struct {
	// Configuration
	configPath  string
	host        string
	port        int
	tlsCert     string
	tlsKey      string
	basePath    string
	debug       bool
	backendType BackendType
	metricsAddr string
	config      *Config

	// Runtime state
	backend       backend.Backend
	metrics       *Metrics
	http          *HTTPServer
	metricsServer *http.Server

	// Lifecycle
	mu      sync.Mutex
	running bool
	closed  bool
}

// Option configures a Server
type Option func(*Server) error

// NewServer creates a new S3 server with the given options. Without a
// config file or WithBackend it serves the in-memory backend.
func NewServer(opts ...Option) (*Server, error) {
	s := &Server{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := s.init(); err != nil {
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}

	return s, nil
}

// WithConfigPath sets the path to the TOML configuration file
func WithConfigPath(path string) Option {
	return func(s *Server) error {
		s.configPath = path
		return nil
	}
}

// WithConfig uses cfg as is instead of reading a configuration file
func WithConfig(cfg *Config) Option {
	return func(s *Server) error {
		if cfg == nil {
			return errors.New("nil config")
		}
		s.config = cfg
		return nil
	}
}

// WithAddress overrides the listen host and port of the config file.
// An empty host or zero port keeps the configured value.
func WithAddress(host string, port int) Option {
	return func(s *Server) error {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid port %d", port)
		}
		s.host = host
		s.port = port
		return nil
	}
}

// WithTLS sets the TLS certificate and key paths
func WithTLS(certPath, keyPath string) Option {
	return func(s *Server) error {
		s.tlsCert = certPath
		s.tlsKey = keyPath
		return nil
	}
}

// WithBasePath sets the directory relative config paths resolve against
func WithBasePath(path string) Option {
	return func(s *Server) error {
		s.basePath = path
		return nil
	}
}

// WithDebug enables debug logging
func WithDebug(enabled bool) Option {
	return func(s *Server) error {
		s.debug = enabled
		return nil
	}
}

// WithBackend sets the storage backend type. An empty value keeps the
// configured backend.
func WithBackend(backendType BackendType) Option {
	return func(s *Server) error {
		s.backendType = backendType
		return nil
	}
}

// WithMetricsAddr serves Prometheus metrics on addr
func WithMetricsAddr(addr string) Option {
	return func(s *Server) error {
		s.metricsAddr = addr
		return nil
	}
}

// init initializes the server components
func (s *Server) init() error {
	// Auto-tune GOMAXPROCS for cgroups
	if _, err := maxprocs.Set(maxprocs.Logger(log.Printf)); err != nil {
		slog.Warn("Failed to set GOMAXPROCS", "error", err)
	}

	if s.config == nil {
		s.config = NewConfig()
		if s.configPath != "" {
			if err := s.config.ReadConfig(s.configPath, s.basePath); err != nil {
				return fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	// CLI/env flags override config file settings
	if s.host != "" {
		s.config.Host = s.host
	}
	if s.port != 0 {
		s.config.Port = s.port
	}
	if s.debug {
		s.config.Debug = true
	}
	if s.backendType != "" {
		s.config.Backend.Type = string(s.backendType)
	}
	if s.metricsAddr != "" {
		s.config.MetricsAddr = s.metricsAddr
	}
	if s.tlsCert != "" {
		s.config.TLSCert = s.tlsCert
		s.config.TLSKey = s.tlsKey
	}
	if s.config.Backend.Type == "" {
		s.config.Backend.Type = string(BackendMemory)
	}

	// Set log level early so debug logs during backend initialization are visible
	var logLevel slog.Level
	if s.config.Debug {
		logLevel = slog.LevelDebug
	} else if s.config.DisableLogging {
		logLevel = slog.LevelError
	} else {
		logLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	if s.config.Debug {
		slog.Info("Debug logging enabled")
	}

	be, err := s.createBackend()
	if err != nil {
		return err
	}
	s.backend = be

	if err := s.createConfiguredBuckets(); err != nil {
		s.backend.Close()
		return err
	}

	s.metrics = NewMetrics()
	s.http = NewHTTPServer(s.config, s.backend, s.metrics)

	slog.Info("Server init", "backendType", s.config.Backend.Type, "buckets", len(s.config.Buckets))
	return nil
}

// createBackend builds the configured backend through the registry
func (s *Server) createBackend() (backend.Backend, error) {
	var cfg any
	switch BackendType(s.config.Backend.Type) {
	case BackendMemory:
		cfg = &memory.Config{Partitions: s.config.Backend.Partitions}
	case BackendBadger:
		if s.config.Backend.Path != "" {
			if err := os.MkdirAll(s.config.Backend.Path, 0750); err != nil {
				return nil, fmt.Errorf("failed to create badger directory: %w", err)
			}
		}
		cfg = &badgerdb.Config{Path: s.config.Backend.Path}
	case BackendFilesystem:
		buckets := make([]filesystem.BucketConfig, len(s.config.Buckets))
		for i, b := range s.config.Buckets {
			buckets[i] = filesystem.BucketConfig{
				Name:     b.Name,
				Pathname: b.Pathname,
				Region:   b.Region,
			}
		}
		cfg = &filesystem.Config{
			BaseDir: s.config.Backend.Path,
			Buckets: buckets,
		}
	default:
		return nil, fmt.Errorf("unknown backend type: %s (available: %v)", s.config.Backend.Type, backend.DefaultRegistry.Names())
	}

	be, err := backend.Create(s.config.Backend.Type, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", s.config.Backend.Type, err)
	}
	slog.Info("Initialized backend", "type", be.Type(), "path", s.config.Backend.Path)
	return be, nil
}

// createConfiguredBuckets creates the [[buckets]] entries on backends that
// do not map buckets onto directories
func (s *Server) createConfiguredBuckets() error {
	if BackendType(s.config.Backend.Type) == BackendFilesystem {
		return nil
	}

	for _, b := range s.config.Buckets {
		region := b.Region
		if region == "" {
			region = s.config.Region
		}
		_, err := s.backend.CreateBucket(context.Background(), &backend.CreateBucketRequest{
			Bucket: b.Name,
			Region: region,
		})
		if err != nil {
			if s3err, ok := backend.IsS3Error(err); ok && s3err.Code == backend.ErrBucketAlreadyOwnedByYou {
				continue
			}
			return fmt.Errorf("failed to create bucket %s: %w", b.Name, err)
		}
		slog.Debug("Created configured bucket", "bucket", b.Name, "region", region)
	}
	return nil
}

// Addr returns the host:port the S3 API listens on
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Config returns the effective configuration
func (s *Server) Config() *Config {
	return s.config
}

// Backend returns the storage backend
func (s *Server) Backend() backend.Backend {
	return s.backend
}

// Metrics returns the server metrics
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Handler returns the S3 API handler for testing with httptest
func (s *Server) Handler() http.Handler {
	return s.http.Handler()
}

// ListenAndServe serves the S3 API, and the metrics endpoint when one is
// configured, until ctx is done or a listener fails. It then shuts the
// server down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	if s.closed {
		s.mu.Unlock()
		return errors.New("server is shut down")
	}
	s.running = true
	if s.config.MetricsAddr != "" {
		s.metricsServer = &http.Server{
			Addr:              s.config.MetricsAddr,
			Handler:           s.metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.http.ListenAndServe(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("s3 server: %w", err)
		}
		return nil
	})

	if s.metricsServer != nil {
		g.Go(func() error {
			slog.Info("Starting metrics server", "addr", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops the listeners and closes the backend. It is safe to call
// more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	slog.Info("Shutting down S3 server...")

	var errs []error
	if s.running {
		if err := s.http.Shutdown(ctx); err != nil {
			slog.Error("Error shutting down HTTP server", "error", err)
			errs = append(errs, err)
		}
		if s.metricsServer != nil {
			if err := s.metricsServer.Shutdown(ctx); err != nil {
				slog.Error("Error shutting down metrics server", "error", err)
				errs = append(errs, err)
			}
		}
	}

	if s.backend != nil {
		slog.Info("Closing storage backend...")
		if err := s.backend.Close(); err != nil {
			slog.Error("Error closing backend", "error", err)
			errs = append(errs, err)
		}
	}

	s.running = false
	slog.Info("S3 server shutdown complete")
	return errors.Join(errs...)
}
