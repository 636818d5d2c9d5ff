// Package storage is the object storage gateway for scan images. Callers code to
// ObjectStorage; the backend decides whether a handle is a bucket key that needs
// a signed URL to be read, or a permanent public URL.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medilens/backend/internal/apperr"
	"github.com/medilens/backend/internal/metrics"
)

// ErrObjectNotFound is returned by backends when the object is already gone.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage is the capability the rest of the system depends on.
type ObjectStorage interface {
	// Put validates and uploads data under a fresh key and returns its handle.
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	// ResolveReadURL returns a URL the client can fetch the object from.
	ResolveReadURL(ctx context.Context, handle string, ttl time.Duration) (string, error)
	// Delete removes the object; an already missing object is not an error.
	Delete(ctx context.Context, handle string) error
}

// Backend is one concrete place to keep bytes.
type Backend interface {
	Kind() string
	Upload(ctx context.Context, key string, data []byte, contentType string) (handle string, err error)
	ReadURL(ctx context.Context, handle string, ttl time.Duration) (string, error)
	Remove(ctx context.Context, handle string) error
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

var allowedTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

type Options struct {
	KeyPrefix  string
	MaxBytes   int64
	DefaultTTL time.Duration
}

// Gateway enforces the upload ceiling and content type policy in front of a
// Backend and translates backend failures into UpstreamStorage errors.
type Gateway struct {
	backend Backend
	opts    Options
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewGateway(backend Backend, opts Options, m *metrics.Metrics) *Gateway {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "scans"
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 << 20
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	return &Gateway{backend: backend, opts: opts, metrics: metrics.OrUnregistered(m), now: time.Now}
}

func (g *Gateway) Kind() string    { return g.backend.Kind() }
func (g *Gateway) MaxBytes() int64 { return g.opts.MaxBytes }

func (g *Gateway) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	detected, err := g.validate(data, contentType)
	if err != nil {
		return "", err
	}

	key := g.newKey(allowedTypes[detected])
	handle, err := g.backend.Upload(ctx, key, data, detected)
	g.metrics.ObserveStorage("put", err)
	if err != nil {
		return "", apperr.Storage("Image upload failed", err)
	}
	return handle, nil
}

func (g *Gateway) ResolveReadURL(ctx context.Context, handle string, ttl time.Duration) (string, error) {
	if handle == "" {
		return "", apperr.Storage("Image reference is empty", errors.New("empty handle"))
	}
	if ttl <= 0 {
		ttl = g.opts.DefaultTTL
	}
	url, err := g.backend.ReadURL(ctx, handle, ttl)
	if err != nil {
		g.metrics.ObserveStorage("resolve", err)
		return "", apperr.Storage("Failed to resolve image URL", err)
	}
	return url, nil
}

func (g *Gateway) Delete(ctx context.Context, handle string) error {
	if handle == "" {
		return nil
	}
	err := g.backend.Remove(ctx, handle)
	if errors.Is(err, ErrObjectNotFound) {
		slog.Info("object already removed", "object_key", handle)
		err = nil
	}
	g.metrics.ObserveStorage("delete", err)
	if err != nil {
		return apperr.Storage("Image delete failed", err)
	}
	return nil
}

// Ping checks the backend when it supports it.
func (g *Gateway) Ping(ctx context.Context) error {
	if p, ok := g.backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (g *Gateway) validate(data []byte, declared string) (string, error) {
	if len(data) == 0 {
		return "", apperr.Validation(apperr.CodeImageRequired, "No image provided")
	}
	if int64(len(data)) > g.opts.MaxBytes {
		return "", apperr.Validation(apperr.CodeImageTooLarge, fmt.Sprintf("Image exceeds the %d byte limit", g.opts.MaxBytes))
	}

	declared = strings.ToLower(strings.TrimSpace(strings.Split(declared, ";")[0]))
	if declared != "" && declared != "application/octet-stream" && !strings.HasPrefix(declared, "image/") {
		return "", apperr.Validation(apperr.CodeUnsupportedMediaType, "Only image uploads are supported")
	}

	detected := http.DetectContentType(data)
	if _, ok := allowedTypes[detected]; !ok {
		return "", apperr.Validation(apperr.CodeUnsupportedMediaType, "Only PNG, JPEG, WebP and GIF images are supported")
	}
	return detected, nil
}

// newKey is unique per attempt, so an abandoned upload never collides with a
// later one.
func (g *Gateway) newKey(ext string) string {
	return fmt.Sprintf("%s/%d-%s%s", strings.Trim(g.opts.KeyPrefix, "/"), g.now().UnixMilli(), uuid.NewString(), ext)
}

// PutReader reads at most the gateway's ceiling from r and uploads it.
func (g *Gateway) PutReader(ctx context.Context, r io.Reader, contentType string) (string, error) {
	data, err := ReadLimited(r, g.opts.MaxBytes)
	if err != nil {
		return "", err
	}
	return g.Put(ctx, data, contentType)
}

var _ ObjectStorage = (*Gateway)(nil)
