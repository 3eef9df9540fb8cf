package s3

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/mulgadc/lister/backend"
	"github.com/stretchr/testify/require"
)

const testBucket = "testbucket"

// TestBackend holds the server and handler for one backend type
type TestBackend struct {
	Type    BackendType
	Config  *Config
	Server  *Server
	Handler http.Handler
	Backend backend.Backend
}

// setupBackend starts a server of backendType with testBucket created
func setupBackend(t testing.TB, backendType BackendType) *TestBackend {
	t.Helper()

	config := NewConfig()
	config.Region = "ap-southeast-2"
	config.DisableLogging = true
	config.Backend.Type = string(backendType)
	config.Buckets = []BucketConfig{{Name: testBucket}}

	switch backendType {
	case BackendBadger:
		config.Backend.Path = filepath.Join(t.TempDir(), "badger")
	case BackendFilesystem:
		config.Backend.Path = t.TempDir()
		config.Buckets[0].Pathname = t.TempDir()
	}

	srv, err := NewServer(WithConfig(config))
	require.NoError(t, err, "Should create server")

	return &TestBackend{
		Type:    backendType,
		Config:  srv.Config(),
		Server:  srv,
		Handler: srv.Handler(),
		Backend: srv.Backend(),
	}
}

// RunWithBackends runs a test function against multiple backends
func RunWithBackends(t *testing.T, backends []BackendType, testFn func(t *testing.T, tb *TestBackend)) {
	for _, backendType := range backends {
		t.Run(string(backendType), func(t *testing.T) {
			tb := setupBackend(t, backendType)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				tb.Server.Shutdown(ctx)
			}()

			testFn(t, tb)
		})
	}
}

// AllBackends returns all available backend types for testing
func AllBackends() []BackendType {
	return []BackendType{BackendMemory, BackendBadger, BackendFilesystem}
}

// FilesystemOnly returns only the filesystem backend for testing
func FilesystemOnly() []BackendType {
	return []BackendType{BackendFilesystem}
}
