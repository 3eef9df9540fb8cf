package s3

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBaseDir(t *testing.T) {
	tests := []struct {
		name     string
		baseDir  string
		path     string
		expected string
	}{
		{
			name:     "relative path with base-dir set",
			baseDir:  "/srv/lister",
			path:     "data/badger/",
			expected: "/srv/lister/data/badger", // filepath.Join normalizes trailing slashes
		},
		{
			name:     "absolute path with base-dir set (should not change)",
			baseDir:  "/srv/lister",
			path:     "/var/data/buckets/",
			expected: "/var/data/buckets/",
		},
		{
			name:     "relative path with empty base-dir",
			baseDir:  "",
			path:     "data/badger/",
			expected: "data/badger/",
		},
		{
			name:     "empty path",
			baseDir:  "/srv/lister",
			path:     "",
			expected: "",
		},
		{
			name:     "both empty",
			baseDir:  "",
			path:     "",
			expected: "",
		},
		{
			name:     "base-dir with trailing slash",
			baseDir:  "/srv/lister/",
			path:     "buckets/photos",
			expected: "/srv/lister/buckets/photos",
		},
		{
			name:     "dot-relative path cleaned by filepath.Join",
			baseDir:  "/home/user/data",
			path:     "./subdir/bucket",
			expected: "/home/user/data/subdir/bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := checkBaseDir(tt.baseDir, tt.path)
			assert.Equal(t, tt.expected, result, "checkBaseDir(%q, %q)", tt.baseDir, tt.path)
		})
	}
}

func testConfig(backendType BackendType, buckets ...string) *Config {
	c := NewConfig()
	c.Host = "127.0.0.1"
	c.DisableLogging = true
	c.Backend.Type = string(backendType)
	for _, name := range buckets {
		c.Buckets = append(c.Buckets, BucketConfig{Name: name})
	}
	return c
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	srv, err := NewServer(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestNewServer_Backends(t *testing.T) {
	fsBucket := t.TempDir()

	tests := []struct {
		name   string
		config *Config
		want   string
	}{
		{
			name:   "memory",
			config: testConfig(BackendMemory, "alpha", "beta"),
			want:   "memory",
		},
		{
			name: "badger on disk",
			config: func() *Config {
				c := testConfig(BackendBadger, "alpha", "beta")
				c.Backend.Path = filepath.Join(t.TempDir(), "db")
				return c
			}(),
			want: "badger",
		},
		{
			name: "filesystem",
			config: func() *Config {
				c := testConfig(BackendFilesystem)
				c.Buckets = []BucketConfig{{Name: "alpha", Pathname: fsBucket}}
				return c
			}(),
			want: "filesystem",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, WithConfig(tt.config))
			assert.Equal(t, tt.want, srv.Backend().Type())

			buckets, err := srv.Backend().ListBuckets(context.Background())
			require.NoError(t, err)
			require.NotEmpty(t, buckets.Buckets)
			assert.Equal(t, "alpha", buckets.Buckets[0].Name)
		})
	}
}

func TestNewServer_UnknownBackend(t *testing.T) {
	_, err := NewServer(WithConfig(testConfig("cassandra")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")
}

func TestNewServer_OptionsOverrideConfig(t *testing.T) {
	srv := newTestServer(t,
		WithConfigPath(filepath.Join("tests", "config", "server.toml")),
		WithBasePath(t.TempDir()),
		WithBackend(BackendMemory),
		WithAddress("127.0.0.1", 10443),
		WithDebug(true),
		WithMetricsAddr("127.0.0.1:19090"),
	)

	cfg := srv.Config()
	assert.Equal(t, "ap-southeast-2", cfg.Region, "file value kept")
	assert.Equal(t, string(BackendMemory), cfg.Backend.Type, "option wins")
	assert.True(t, cfg.Debug)
	assert.Equal(t, "127.0.0.1:19090", cfg.MetricsAddr)
	assert.Equal(t, "127.0.0.1:10443", srv.Addr())

	_, err := srv.Backend().HeadBucket(context.Background(), "testbucket")
	assert.NoError(t, err, "configured buckets are created on the memory backend")
}

func TestNewServer_InvalidPort(t *testing.T) {
	_, err := NewServer(WithConfig(testConfig(BackendMemory)), WithAddress("127.0.0.1", 70000))
	assert.Error(t, err)
}

func TestServer_ListenAndServe(t *testing.T) {
	port := freePort(t)
	metricsPort := freePort(t)

	srv, err := NewServer(
		WithConfig(testConfig(BackendMemory, "alpha")),
		WithAddress("127.0.0.1", port),
		WithMetricsAddr(net.JoinHostPort("127.0.0.1", strconv.Itoa(metricsPort))),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	base := "http://" + srv.Addr()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/alpha")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get("http://" + srv.Config().MetricsAddr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `lister_list_requests_total{outcome="ok"}`)

	assert.Error(t, srv.ListenAndServe(ctx), "second ListenAndServe must fail")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, err = http.Get(base + "/alpha")
	assert.Error(t, err, "listener should be closed")
}

func TestServer_ListenAndServe_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv, err := NewServer(
		WithConfig(testConfig(BackendMemory)),
		WithAddress("127.0.0.1", ln.Addr().(*net.TCPAddr).Port),
	)
	require.NoError(t, err)

	err = srv.ListenAndServe(context.Background())
	assert.Error(t, err)
}

func TestServer_ShutdownTwice(t *testing.T) {
	srv, err := NewServer(WithConfig(testConfig(BackendMemory)))
	require.NoError(t, err)

	assert.NoError(t, srv.Shutdown(context.Background()))
	assert.NoError(t, srv.Shutdown(context.Background()))
	assert.Error(t, srv.ListenAndServe(context.Background()))
}

func TestServer_Handler(t *testing.T) {
	srv := newTestServer(t, WithConfig(testConfig(BackendMemory, "alpha")))

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "<Name>alpha</Name>")
	assert.NotEmpty(t, resp.Header.Get("x-amz-request-id"))
}
