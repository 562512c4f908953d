// Package uploader moves saved video segments from a local directory to an
// object store, deleting each local file only after its upload is committed.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/autopeer-io/videoupload/internal/pkg/metrics"
	"github.com/autopeer-io/videoupload/internal/videoagent/storage"
	"github.com/autopeer-io/videoupload/pkg/log"
)

// DefaultExtensions lists the file extensions uploaded when none are configured.
var DefaultExtensions = []string{".mp4"}

// Artifact is a local file eligible for upload and its destination key.
type Artifact struct {
	Path string
	Name string
	Key  string
	Size int64
}

// Report lists the local paths handled by one UploadAll call.
type Report struct {
	Uploaded   []string
	Conflicts  []string
	Failed     []string
	Reconciled []string

	// Err is set when the directory could not be scanned at all.
	Err error
}

// Total is the number of artifacts attempted.
func (r Report) Total() int {
	return len(r.Uploaded) + len(r.Conflicts) + len(r.Failed) + len(r.Reconciled)
}

// Uploader scans a directory and uploads eligible files.
type Uploader struct {
	fs         afero.Fs
	provider   storage.Provider
	extensions []string
	reconcile  bool
	log        log.Logger
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithFs sets the filesystem to scan. The default is the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(u *Uploader) { u.fs = fs }
}

// WithExtensions sets the eligible extensions, compared case-sensitively.
func WithExtensions(exts ...string) Option {
	return func(u *Uploader) {
		if len(exts) > 0 {
			u.extensions = slices.Clone(exts)
		}
	}
}

// WithReconcile enables deleting a local file whose key already exists
// remotely with the same size.
func WithReconcile(enabled bool) Option {
	return func(u *Uploader) { u.reconcile = enabled }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(u *Uploader) { u.log = l }
}

// New creates an Uploader writing to provider.
func New(provider storage.Provider, opts ...Option) *Uploader {
	u := &Uploader{
		fs:         afero.NewOsFs(),
		provider:   provider,
		extensions: slices.Clone(DefaultExtensions),
		log:        log.Std(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.log = u.log.WithName("uploader")
	return u
}

// DestinationKey maps a file name to its object key. Directory structure
// below the scan root is not preserved.
func DestinationKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

func (u *Uploader) eligible(name string) bool {
	ext := filepath.Ext(name)
	return ext != "" && slices.Contains(u.extensions, ext)
}

// Plan walks localDir recursively in lexical order and returns the eligible
// artifacts. Unreadable entries are logged and skipped.
func (u *Uploader) Plan(localDir, prefix string) ([]Artifact, error) {
	info, err := u.fs.Stat(localDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat upload path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("upload path %s is not a directory", localDir)
	}

	var artifacts []Artifact
	err = afero.Walk(u.fs, localDir, func(p string, fi fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			u.log.Warn("Skipping unreadable entry", "path", p, "error", walkErr)
			if fi != nil && fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if fi.IsDir() || !fi.Mode().IsRegular() || !u.eligible(fi.Name()) {
			return nil
		}
		artifacts = append(artifacts, Artifact{
			Path: p,
			Name: fi.Name(),
			Key:  DestinationKey(prefix, fi.Name()),
			Size: fi.Size(),
		})
		return nil
	})
	if err != nil {
		return artifacts, fmt.Errorf("failed to walk %s: %w", localDir, err)
	}
	return artifacts, nil
}

// UploadAll uploads every eligible file under localDir. A file is removed
// locally only after its upload succeeded; failures are logged and the scan
// continues with the next file.
func (u *Uploader) UploadAll(ctx context.Context, localDir, prefix string) Report {
	var report Report

	artifacts, err := u.Plan(localDir, prefix)
	if err != nil {
		u.log.Error(err, "Failed to scan upload path", "path", localDir)
		report.Err = err
		if len(artifacts) == 0 {
			return report
		}
	}

	for _, a := range artifacts {
		if ctxErr := ctx.Err(); ctxErr != nil {
			u.log.Warn("Upload interrupted", "remaining", a.Path, "error", ctxErr)
			break
		}

		uerr := u.uploadOne(ctx, a)
		switch {
		case uerr == nil:
			report.Uploaded = append(report.Uploaded, a.Path)
			metrics.UploadsTotal.WithLabelValues("uploaded").Inc()
			metrics.UploadedBytes.Add(float64(a.Size))

		case errors.Is(uerr, storage.ErrPreconditionFailed):
			if u.reconcile && u.reconcileOrphan(ctx, a) {
				report.Reconciled = append(report.Reconciled, a.Path)
				metrics.UploadsTotal.WithLabelValues("reconciled").Inc()
				continue
			}
			u.log.Warn("Object already exists, keeping local file", "file", a.Path, "dest", u.provider.Location(a.Key))
			report.Conflicts = append(report.Conflicts, a.Path)
			metrics.UploadsTotal.WithLabelValues("conflict").Inc()

		default:
			u.log.Error(uerr, "Failed to upload file", "file", a.Path, "dest", u.provider.Location(a.Key))
			report.Failed = append(report.Failed, a.Path)
			metrics.UploadsTotal.WithLabelValues("failed").Inc()
		}
	}

	u.log.Info("Upload pass finished",
		"path", localDir,
		"uploaded", len(report.Uploaded),
		"conflicts", len(report.Conflicts),
		"failed", len(report.Failed),
		"reconciled", len(report.Reconciled),
	)
	return report
}

// uploadOne uploads a single artifact and deletes it locally on success.
// A delete failure after a committed upload is reported as an error so the
// file is not counted as moved.
func (u *Uploader) uploadOne(ctx context.Context, a Artifact) error {
	f, err := u.fs.Open(a.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", a.Path, err)
	}

	if err := u.provider.Upload(ctx, a.Key, f, a.Size); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		u.log.Warn("Failed to close file", "file", a.Path, "error", err)
	}

	u.log.Info("Uploaded file", "file", a.Path, "dest", u.provider.Location(a.Key), "size", a.Size)

	if err := u.fs.Remove(a.Path); err != nil {
		return fmt.Errorf("uploaded but failed to remove %s: %w", a.Path, err)
	}
	return nil
}

// reconcileOrphan deletes a local file left behind by an earlier cycle that
// uploaded it but did not get to delete it. The remote size must match.
func (u *Uploader) reconcileOrphan(ctx context.Context, a Artifact) bool {
	info, err := u.provider.Stat(ctx, a.Key)
	if err != nil {
		u.log.Warn("Cannot reconcile conflict", "file", a.Path, "error", err)
		return false
	}
	if info.Size != a.Size {
		u.log.Warn("Remote object differs from local file", "file", a.Path, "localSize", a.Size, "remoteSize", info.Size)
		return false
	}
	if err := u.fs.Remove(a.Path); err != nil {
		u.log.Error(err, "Failed to remove reconciled file", "file", a.Path)
		return false
	}
	u.log.Info("Removed local copy of already uploaded file", "file", a.Path, "dest", u.provider.Location(a.Key))
	return true
}
