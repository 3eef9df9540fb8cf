package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mulgadc/lister/backend"
	"github.com/mulgadc/lister/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, keys ...string) string {
	t.Helper()

	config := s3.NewConfig()
	config.DisableLogging = true
	config.Buckets = []s3.BucketConfig{{Name: "photos"}}

	srv, err := s3.NewServer(s3.WithConfig(config))
	require.NoError(t, err)

	for _, key := range keys {
		_, err := srv.Backend().PutObject(context.Background(), &backend.PutObjectRequest{
			Bucket: "photos",
			Key:    key,
			Body:   strings.NewReader(key),
		})
		require.NoError(t, err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
	})
	return ts.URL
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--access-key", "test", "--secret-key", "test"))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func outputKeys(out string) []string {
	var keys []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		keys = append(keys, fields[len(fields)-1])
	}
	return keys
}

func TestList_AllPages(t *testing.T) {
	endpoint := startServer(t, "a.jpg", "b.jpg", "c/d.jpg", "c/e.png", "f.txt")

	out, summary, err := execute(t, "photos", "--endpoint", endpoint, "--max-keys", "2")
	require.NoError(t, err)

	assert.Equal(t, []string{"a.jpg", "b.jpg", "c/d.jpg", "c/e.png", "f.txt"}, outputKeys(out))
	assert.Contains(t, summary, "5 objects, 0 prefixes, 3 pages")
}

func TestList_Delimiter(t *testing.T) {
	endpoint := startServer(t, "a.jpg", "c/d.jpg", "c/e.png", "f.txt")

	out, _, err := execute(t, "photos", "--endpoint", endpoint, "--delimiter", "/", "--max-keys", "1")
	require.NoError(t, err)

	assert.Equal(t, []string{"a.jpg", "c/", "f.txt"}, outputKeys(out))
	assert.Contains(t, out, "PRE c/")
}

func TestList_MatchAndPages(t *testing.T) {
	endpoint := startServer(t, "a.jpg", "b.jpg", "c/d.jpg", "c/e.png", "f.txt")

	out, _, err := execute(t, "photos", "--endpoint", endpoint, "--match", "**/*.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c/d.jpg"}, outputKeys(out))

	out, summary, err := execute(t, "photos", "--endpoint", endpoint, "--max-keys", "1", "--pages", "2", "--rate", "100")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, outputKeys(out))
	assert.Contains(t, summary, "2 pages")
}

func TestList_Errors(t *testing.T) {
	endpoint := startServer(t)

	_, _, err := execute(t, "nosuchbucket", "--endpoint", endpoint)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NoSuchBucket")

	_, _, err = execute(t, "photos", "--endpoint", endpoint, "--match", "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid match pattern")

	_, _, err = execute(t)
	assert.Error(t, err, "bucket argument is required")
}
