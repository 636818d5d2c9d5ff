package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medilens/backend/internal/apperr"
	"github.com/medilens/backend/internal/metrics"
)

// fakeS3 answers the handful of path-style calls the backends make.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	denyAll bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.denyAll {
		writeS3Error(w, http.StatusForbidden, "AccessDenied")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[path] = body
		f.types[path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		if _, ok := f.objects[path]; !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		delete(f.objects, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[path]
	return ok
}

func (f *fakeS3) contentType(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.types[path]
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+code+`</Code><Message>`+code+`</Message></Error>`)
}

func isolateAWSEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(dir, "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("AWS_PROFILE", "")
}

func newTestS3Options(endpoint string) S3Options {
	return S3Options{
		Region:       "us-east-1",
		Bucket:       "scans-bucket",
		Endpoint:     endpoint,
		AccessKey:    "test-access",
		SecretKey:    "test-secret",
		UsePathStyle: true,
	}
}

func TestS3BackendPresignedReadURL(t *testing.T) {
	isolateAWSEnv(t)
	client, err := NewS3Client(context.Background(), newTestS3Options("http://127.0.0.1:9000"))
	require.NoError(t, err)

	backend := NewS3Backend(client, "scans-bucket")
	raw, err := backend.ReadURL(context.Background(), "scans/1-abc.png", 5*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", u.Host)
	assert.Equal(t, "/scans-bucket/scans/1-abc.png", u.Path)
	assert.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestS3BackendThroughGateway(t *testing.T) {
	isolateAWSEnv(t)
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := NewS3Client(context.Background(), newTestS3Options(srv.URL))
	require.NoError(t, err)
	g := NewGateway(NewS3Backend(client, "scans-bucket"), Options{KeyPrefix: "scans"}, metrics.New(prometheus.NewRegistry()))
	ctx := context.Background()

	require.NoError(t, g.Ping(ctx))

	handle, err := g.Put(ctx, pngBytes(), "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(handle, "scans/"))
	assert.True(t, fake.has("scans-bucket/"+handle))
	assert.Equal(t, "image/png", fake.contentType("scans-bucket/"+handle))

	readURL, err := g.ResolveReadURL(ctx, handle, 0)
	require.NoError(t, err)
	assert.Contains(t, readURL, "X-Amz-Expires=300")

	require.NoError(t, g.Delete(ctx, handle))
	assert.False(t, fake.has("scans-bucket/"+handle))

	// NoSuchKey on a second delete is treated as already gone.
	require.NoError(t, g.Delete(ctx, handle))
}

func TestS3BackendFailureIsUpstreamStorage(t *testing.T) {
	isolateAWSEnv(t)
	fake := newFakeS3()
	fake.denyAll = true
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := NewS3Client(context.Background(), newTestS3Options(srv.URL))
	require.NoError(t, err)
	g := NewGateway(NewS3Backend(client, "scans-bucket"), Options{}, metrics.New(prometheus.NewRegistry()))
	ctx := context.Background()

	_, err = g.Put(ctx, pngBytes(), "image/png")
	require.ErrorIs(t, err, apperr.ErrUpstreamStorage)

	err = g.Delete(ctx, "scans/1-abc.png")
	require.ErrorIs(t, err, apperr.ErrUpstreamStorage)

	require.Error(t, g.Ping(ctx))
}

func TestPublicBackendHandleIsPermanentURL(t *testing.T) {
	isolateAWSEnv(t)
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := NewS3Client(context.Background(), newTestS3Options(srv.URL))
	require.NoError(t, err)
	backend := NewPublicBackend(client, "scans-bucket", "https://media.example.com/")
	g := NewGateway(backend, Options{KeyPrefix: "scans"}, metrics.New(prometheus.NewRegistry()))
	ctx := context.Background()

	handle, err := g.Put(ctx, pngBytes(), "image/png")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(handle, "https://media.example.com/scans/"))
	key := strings.TrimPrefix(handle, "https://media.example.com/")
	assert.True(t, fake.has("scans-bucket/"+key))

	readURL, err := g.ResolveReadURL(ctx, handle, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, handle, readURL)

	require.NoError(t, g.Delete(ctx, handle))
	assert.False(t, fake.has("scans-bucket/"+key))

	err = g.Delete(ctx, "https://elsewhere.example.com")
	require.ErrorIs(t, err, apperr.ErrUpstreamStorage)
}

func TestPublicBackendDeletesHandlesFromEarlierBaseURL(t *testing.T) {
	isolateAWSEnv(t)
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := NewS3Client(context.Background(), newTestS3Options(srv.URL))
	require.NoError(t, err)
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())

	before := NewGateway(NewPublicBackend(client, "scans-bucket", "https://media.example.com"), Options{KeyPrefix: "scans"}, m)
	handle, err := before.Put(ctx, pngBytes(), "image/png")
	require.NoError(t, err)
	key := strings.TrimPrefix(handle, "https://media.example.com/")
	require.True(t, fake.has("scans-bucket/"+key))

	after := NewGateway(NewPublicBackend(client, "scans-bucket", "https://cdn.example.net"), Options{KeyPrefix: "scans"}, m)
	require.NoError(t, after.Delete(ctx, handle))
	assert.False(t, fake.has("scans-bucket/"+key))

	// Retrying the same delete stays successful.
	require.NoError(t, after.Delete(ctx, handle))
}
