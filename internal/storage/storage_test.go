package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medilens/backend/internal/apperr"
	"github.com/medilens/backend/internal/metrics"
)

func newMemoryGateway(maxBytes int64) (*Gateway, *MemoryBackend) {
	backend := NewMemoryBackend()
	return NewGateway(backend, Options{KeyPrefix: "scans", MaxBytes: maxBytes}, metrics.New(prometheus.NewRegistry())), backend
}

func TestGatewayPutResolveDelete(t *testing.T) {
	g, backend := newMemoryGateway(1 << 20)
	ctx := context.Background()

	handle, err := g.Put(ctx, pngBytes(), "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(handle, "scans/"))
	assert.True(t, strings.HasSuffix(handle, ".png"))

	data, contentType, ok := backend.Get(handle)
	require.True(t, ok)
	assert.Equal(t, pngBytes(), data)
	assert.Equal(t, "image/png", contentType)

	url, err := g.ResolveReadURL(ctx, handle, 0)
	require.NoError(t, err)
	assert.Contains(t, url, "expires=")

	require.NoError(t, g.Delete(ctx, handle))
	_, _, ok = backend.Get(handle)
	assert.False(t, ok)

	// Deleting again is not a failure.
	require.NoError(t, g.Delete(ctx, handle))
}

func TestGatewayKeysAreUniquePerAttempt(t *testing.T) {
	g, backend := newMemoryGateway(1 << 20)
	g.now = func() time.Time { return time.Unix(1700000000, 0) }

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		handle, err := g.Put(context.Background(), pngBytes(), "image/png")
		require.NoError(t, err)
		require.False(t, seen[handle], "duplicate key %s", handle)
		seen[handle] = true
	}
	assert.Equal(t, 20, backend.Len())
}

func TestGatewayValidation(t *testing.T) {
	g, backend := newMemoryGateway(128)
	ctx := context.Background()

	_, err := g.Put(ctx, nil, "image/png")
	assert.Equal(t, apperr.CodeImageRequired, apperr.As(err).Code)

	_, err = g.Put(ctx, append(pngBytes(), bytes.Repeat([]byte{0}, 128)...), "image/png")
	assert.Equal(t, apperr.CodeImageTooLarge, apperr.As(err).Code)

	_, err = g.Put(ctx, []byte("%PDF-1.4 not an image"), "image/png")
	assert.Equal(t, apperr.CodeUnsupportedMediaType, apperr.As(err).Code)

	_, err = g.Put(ctx, pngBytes(), "application/pdf")
	assert.Equal(t, apperr.CodeUnsupportedMediaType, apperr.As(err).Code)

	// The declared type may be missing or generic; the bytes decide.
	_, err = g.Put(ctx, pngBytes(), "")
	require.NoError(t, err)
	handle, err := g.Put(ctx, []byte("\xff\xd8\xff\xe0 jpeg body"), "application/octet-stream")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(handle, ".jpg"))

	assert.Equal(t, 2, backend.Len())
}

type failingBackend struct {
	*MemoryBackend
	uploadErr, removeErr error
}

func (f *failingBackend) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return f.MemoryBackend.Upload(ctx, key, data, contentType)
}

func (f *failingBackend) Remove(ctx context.Context, handle string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	return f.MemoryBackend.Remove(ctx, handle)
}

func TestGatewayBackendFailuresAreUpstreamStorage(t *testing.T) {
	backend := &failingBackend{MemoryBackend: NewMemoryBackend(), uploadErr: errors.New("connection reset")}
	g := NewGateway(backend, Options{}, metrics.New(prometheus.NewRegistry()))
	ctx := context.Background()

	_, err := g.Put(ctx, pngBytes(), "image/png")
	require.ErrorIs(t, err, apperr.ErrUpstreamStorage)

	backend.removeErr = errors.New("access denied")
	err = g.Delete(ctx, "scans/x.png")
	require.ErrorIs(t, err, apperr.ErrUpstreamStorage)

	backend.removeErr = ErrObjectNotFound
	require.NoError(t, g.Delete(ctx, "scans/x.png"))

	_, err = g.ResolveReadURL(ctx, "", time.Minute)
	require.ErrorIs(t, err, apperr.ErrUpstreamStorage)
}

func TestPutReader(t *testing.T) {
	g, _ := newMemoryGateway(1 << 20)
	handle, err := g.PutReader(context.Background(), bytes.NewReader(pngBytes()), "image/png")
	require.NoError(t, err)
	assert.NotEmpty(t, handle)

	small, _ := newMemoryGateway(10)
	_, err = small.PutReader(context.Background(), bytes.NewReader(pngBytes()), "image/png")
	assert.Equal(t, apperr.CodeImageTooLarge, apperr.As(err).Code)
}

func TestGatewayWithoutMetrics(t *testing.T) {
	g := NewGateway(NewMemoryBackend(), Options{}, nil)
	ctx := context.Background()

	handle, err := g.Put(ctx, pngBytes(), "image/png")
	require.NoError(t, err)
	require.NoError(t, g.Delete(ctx, handle))
}
