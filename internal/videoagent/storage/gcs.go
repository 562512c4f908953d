package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// singleRequestLimit matches the default resumable chunk size.
const singleRequestLimit = 16 << 20

type gcsProvider struct {
	client *gcs.Client
	bucket string
}

var _ Provider = (*gcsProvider)(nil)

// NewGCSProvider creates a Provider for a Google Cloud Storage bucket using a
// service-account key file. An empty credentialsFile falls back to
// application default credentials.
func NewGCSProvider(ctx context.Context, bucket, credentialsFile string) (Provider, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}

	return &gcsProvider{client: client, bucket: bucket}, nil
}

func (p *gcsProvider) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	obj := p.client.Bucket(p.bucket).Object(key).If(gcs.Conditions{DoesNotExist: true})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := obj.NewWriter(ctx)
	w.ContentType = ContentType(key)
	if size > 0 && size < singleRequestLimit {
		// Single request for small files.
		w.ChunkSize = 0
	}

	if _, err := io.Copy(w, r); err != nil {
		// Cancelling the context aborts the upload; Close then reports it.
		cancel()
		_ = w.Close()
		return p.mapWriteError(key, err)
	}
	if err := w.Close(); err != nil {
		return p.mapWriteError(key, err)
	}
	return nil
}

func (p *gcsProvider) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	attrs, err := p.client.Bucket(p.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return ObjectInfo{}, fmt.Errorf("%s: %w", p.Location(key), ErrObjectNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("failed to stat %s: %w", p.Location(key), err)
	}
	return ObjectInfo{
		Key:     attrs.Name,
		Size:    attrs.Size,
		ETag:    attrs.Etag,
		Updated: attrs.Updated,
	}, nil
}

func (p *gcsProvider) CheckBucket(ctx context.Context) error {
	if _, err := p.client.Bucket(p.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", p.bucket, err)
	}
	return nil
}

func (p *gcsProvider) Location(key string) string {
	return "gs://" + p.bucket + "/" + key
}

func (p *gcsProvider) Close() error {
	return p.client.Close()
}

func (p *gcsProvider) mapWriteError(key string, err error) error {
	if isGCSPreconditionFailed(err) {
		return fmt.Errorf("%s: %w", p.Location(key), ErrPreconditionFailed)
	}
	return fmt.Errorf("failed to write %s: %w", p.Location(key), err)
}

// isGCSPreconditionFailed matches both the JSON API (HTTP 412) and the gRPC
// transport (FailedPrecondition).
func isGCSPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
		return true
	}
	if s, ok := status.FromError(err); ok && s.Code() == codes.FailedPrecondition {
		return true
	}
	return false
}
