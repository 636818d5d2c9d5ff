package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type S3Options struct {
	Region       string
	Bucket       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	HTTPClient   *http.Client
}

// NewS3Client builds an S3 client. Static credentials and a custom endpoint
// are optional, which keeps MinIO and other S3-compatible stores usable.
func NewS3Client(ctx context.Context, o S3Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(o.Region),
	}
	if o.AccessKey != "" && o.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, ""),
		))
	}
	if o.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(o.HTTPClient))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(opts *s3.Options) {
		if o.Endpoint != "" {
			opts.BaseEndpoint = aws.String(o.Endpoint)
		}
		opts.UsePathStyle = o.UsePathStyle
	}), nil
}

// S3Backend addresses objects by key in a private bucket; reads go through
// presigned GET URLs.
type S3Backend struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

func NewS3Backend(client *s3.Client, bucket string) *S3Backend {
	return &S3Backend{client: client, presign: s3.NewPresignClient(client), bucket: bucket}
}

func (b *S3Backend) Kind() string { return "s3" }

func (b *S3Backend) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := putObject(ctx, b.client, b.bucket, key, data, contentType); err != nil {
		return "", err
	}
	return key, nil
}

func (b *S3Backend) ReadURL(ctx context.Context, handle string, ttl time.Duration) (string, error) {
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(handle),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get %s: %w", handle, err)
	}
	return req.URL, nil
}

func (b *S3Backend) Remove(ctx context.Context, handle string) error {
	return deleteObject(ctx, b.client, b.bucket, handle)
}

func (b *S3Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return err
}

// PublicBackend is the media-host mode: objects are uploaded to a publicly
// served bucket and the handle is the permanent URL, so reads need no signing.
type PublicBackend struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

func NewPublicBackend(client *s3.Client, bucket, baseURL string) *PublicBackend {
	return &PublicBackend{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}
}

func (b *PublicBackend) Kind() string { return "public" }

func (b *PublicBackend) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := putObject(ctx, b.client, b.bucket, key, data, contentType); err != nil {
		return "", err
	}
	return b.baseURL + "/" + key, nil
}

func (b *PublicBackend) ReadURL(_ context.Context, handle string, _ time.Duration) (string, error) {
	return handle, nil
}

func (b *PublicBackend) Remove(ctx context.Context, handle string) error {
	key, err := b.keyFor(handle)
	if err != nil {
		return err
	}
	return deleteObject(ctx, b.client, b.bucket, key)
}

// keyFor recovers the object key from a handle. Handles minted under an
// earlier base URL fall back to their URL path, so they stay deletable after
// PUBLIC_BASE_URL changes host.
func (b *PublicBackend) keyFor(handle string) (string, error) {
	if key, ok := strings.CutPrefix(handle, b.baseURL+"/"); ok && key != "" {
		return key, nil
	}
	u, err := url.Parse(handle)
	if err != nil {
		return "", fmt.Errorf("parse handle %q: %w", handle, err)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", fmt.Errorf("handle %q has no object key", handle)
	}
	return key, nil
}

func (b *PublicBackend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return err
}

func putObject(ctx context.Context, client *s3.Client, bucket, key string, data []byte, contentType string) error {
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func deleteObject(ctx context.Context, client *s3.Client, bucket, key string) error {
	_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
