package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/videoupload/pkg/options"
)

type minioProvider struct {
	client     *minio.Client
	bucketName string
}

var _ Provider = (*minioProvider)(nil)

// NewMinIOProvider creates a Provider backed by an S3-compatible service.
func NewMinIOProvider(opts *options.S3Options) (Provider, error) {
	if opts == nil {
		return nil, errors.New("s3 options are required")
	}

	transport, err := minio.DefaultTransport(opts.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("failed to build s3 transport: %w", err)
	}
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &minioProvider{
		client:     client,
		bucketName: opts.BucketName,
	}, nil
}

func (p *minioProvider) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	opts := minio.PutObjectOptions{ContentType: ContentType(key)}
	// If-None-Match: * makes the PUT create-only.
	opts.SetMatchETagExcept("*")

	if _, err := p.client.PutObject(ctx, p.bucketName, key, r, size, opts); err != nil {
		if isMinIOPreconditionFailed(err) {
			return fmt.Errorf("%s: %w", p.Location(key), ErrPreconditionFailed)
		}
		return fmt.Errorf("failed to put %s: %w", p.Location(key), err)
	}
	return nil
}

func (p *minioProvider) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := p.client.StatObject(ctx, p.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return ObjectInfo{}, fmt.Errorf("%s: %w", p.Location(key), ErrObjectNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("failed to stat %s: %w", p.Location(key), err)
	}
	return ObjectInfo{
		Key:     info.Key,
		Size:    info.Size,
		ETag:    info.ETag,
		Updated: info.LastModified,
	}, nil
}

func (p *minioProvider) CheckBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", p.bucketName)
	}
	return nil
}

func (p *minioProvider) Location(key string) string {
	return "s3://" + p.bucketName + "/" + key
}

func (p *minioProvider) Close() error {
	return nil
}

func isMinIOPreconditionFailed(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusPreconditionFailed || resp.Code == "PreconditionFailed"
}
