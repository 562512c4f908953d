// Package storage uploads artifacts to remote object stores with
// create-only semantics.
package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
	"time"
)

var (
	// ErrPreconditionFailed is returned by Upload when the key already exists.
	ErrPreconditionFailed = errors.New("object already exists")

	// ErrObjectNotFound is returned by Stat for a missing key.
	ErrObjectNotFound = errors.New("object not found")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ETag    string
	Updated time.Time
}

// Provider is a bucket-scoped object store.
type Provider interface {
	// Upload writes r under key only if no object exists there yet. An
	// existing object yields ErrPreconditionFailed and is left untouched.
	Upload(ctx context.Context, key string, r io.Reader, size int64) error

	// Stat returns metadata for key, or ErrObjectNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// CheckBucket verifies that the bucket is reachable.
	CheckBucket(ctx context.Context) error

	// Location renders key as a URL-like string for logs.
	Location(key string) string

	Close() error
}

// ContentType guesses the MIME type of an object from its key.
func ContentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	switch ext {
	case ".mp4":
		return "video/mp4"
	case "":
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
