package storage

import (
	"context"
	"fmt"

	"github.com/medilens/backend/internal/config"
	"github.com/medilens/backend/internal/metrics"
)

// New builds the gateway for the configured driver.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Gateway, error) {
	opts := Options{
		KeyPrefix:  cfg.S3KeyPrefix,
		MaxBytes:   cfg.MaxUploadBytes,
		DefaultTTL: cfg.SignedURLTTL,
	}

	var backend Backend
	switch cfg.StorageDriver {
	case config.StorageMemory:
		backend = NewMemoryBackend()
	case config.StorageS3, config.StoragePublic:
		client, err := NewS3Client(ctx, S3Options{
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		if cfg.StorageDriver == config.StoragePublic {
			backend = NewPublicBackend(client, cfg.S3Bucket, cfg.PublicBaseURL)
		} else {
			backend = NewS3Backend(client, cfg.S3Bucket)
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	return NewGateway(backend, opts, m), nil
}
