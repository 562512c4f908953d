package uploader

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/videoupload/internal/videoagent/storage/storagetest"
	"github.com/autopeer-io/videoupload/pkg/log"
)

func newFs(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for p, content := range files {
		require.NoError(t, afero.WriteFile(fs, p, []byte(content), 0o644))
	}
	return fs
}

func exists(t *testing.T, fs afero.Fs, p string) bool {
	t.Helper()
	ok, err := afero.Exists(fs, p)
	require.NoError(t, err)
	return ok
}

func TestDestinationKey(t *testing.T) {
	assert.Equal(t, "games/clip1.mp4", DestinationKey("games", "clip1.mp4"))
	assert.Equal(t, "games/2024/clip1.mp4", DestinationKey("/games/2024/", "clip1.mp4"))
	assert.Equal(t, "clip1.mp4", DestinationKey("", "clip1.mp4"))
}

func TestPlan(t *testing.T) {
	fs := newFs(t, map[string]string{
		"/data/b.mp4":        "bb",
		"/data/a.mp4":        "a",
		"/data/sub/c.mp4":    "ccc",
		"/data/notes.txt":    "x",
		"/data/upper.MP4":    "x",
		"/data/sub/deep/mp4": "x",
	})
	u := New(storagetest.NewMemory("clips"), WithFs(fs), WithLogger(log.NewNopLogger()))

	plan, err := u.Plan("/data", "games")
	require.NoError(t, err)

	require.Len(t, plan, 3)
	assert.Equal(t, Artifact{Path: "/data/a.mp4", Name: "a.mp4", Key: "games/a.mp4", Size: 1}, plan[0])
	assert.Equal(t, "/data/b.mp4", plan[1].Path)
	assert.Equal(t, Artifact{Path: "/data/sub/c.mp4", Name: "c.mp4", Key: "games/c.mp4", Size: 3}, plan[2])
}

func TestPlanCustomExtensions(t *testing.T) {
	fs := newFs(t, map[string]string{"/data/a.mp4": "a", "/data/b.mkv": "b"})
	u := New(storagetest.NewMemory("clips"), WithFs(fs), WithExtensions(".mkv"), WithLogger(log.NewNopLogger()))

	plan, err := u.Plan("/data", "")
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "b.mkv", plan[0].Key)
}

func TestUploadAllMovesFiles(t *testing.T) {
	fs := newFs(t, map[string]string{
		"/data/clip1.mp4":     "one",
		"/data/sub/clip2.mp4": "two",
		"/data/notes.txt":     "keep me",
	})
	store := storagetest.NewMemory("clips")
	u := New(store, WithFs(fs), WithLogger(log.NewNopLogger()))

	report := u.UploadAll(t.Context(), "/data", "games")

	assert.NoError(t, report.Err)
	assert.Equal(t, []string{"/data/clip1.mp4", "/data/sub/clip2.mp4"}, report.Uploaded)
	assert.Equal(t, []string{"games/clip1.mp4", "games/clip2.mp4"}, store.Keys())

	b, _ := store.Object("games/clip2.mp4")
	assert.Equal(t, "two", string(b))

	assert.False(t, exists(t, fs, "/data/clip1.mp4"))
	assert.False(t, exists(t, fs, "/data/sub/clip2.mp4"))
	assert.True(t, exists(t, fs, "/data/notes.txt"))
}

func TestUploadAllIsIdempotent(t *testing.T) {
	fs := newFs(t, map[string]string{"/data/clip1.mp4": "one"})
	store := storagetest.NewMemory("clips")
	u := New(store, WithFs(fs), WithLogger(log.NewNopLogger()))

	first := u.UploadAll(t.Context(), "/data", "games")
	require.Len(t, first.Uploaded, 1)

	second := u.UploadAll(t.Context(), "/data", "games")
	assert.Zero(t, second.Total())

	// A file with an already used name is not overwritten and stays local.
	require.NoError(t, afero.WriteFile(fs, "/data/clip1.mp4", []byte("other"), 0o644))
	third := u.UploadAll(t.Context(), "/data", "games")

	assert.Equal(t, []string{"/data/clip1.mp4"}, third.Conflicts)
	assert.True(t, exists(t, fs, "/data/clip1.mp4"))
	b, _ := store.Object("games/clip1.mp4")
	assert.Equal(t, "one", string(b))
	assert.Equal(t, 1, store.Uploads())
}

func TestUploadAllIsolatesFailures(t *testing.T) {
	fs := newFs(t, map[string]string{
		"/data/clip1.mp4": "one",
		"/data/clip2.mp4": "two",
	})
	store := storagetest.NewMemory("clips")
	store.FailOn("clip1.mp4", errors.New("connection reset"))
	u := New(store, WithFs(fs), WithLogger(log.NewNopLogger()))

	report := u.UploadAll(t.Context(), "/data", "")

	assert.Equal(t, []string{"/data/clip1.mp4"}, report.Failed)
	assert.Equal(t, []string{"/data/clip2.mp4"}, report.Uploaded)
	assert.True(t, exists(t, fs, "/data/clip1.mp4"))
	assert.False(t, exists(t, fs, "/data/clip2.mp4"))
	assert.Equal(t, []string{"clip2.mp4"}, store.Keys())
}

func TestUploadAllKeepsFileWhenRemoveFails(t *testing.T) {
	base := newFs(t, map[string]string{"/data/clip1.mp4": "one"})
	fs := afero.NewReadOnlyFs(base)
	store := storagetest.NewMemory("clips")
	u := New(store, WithFs(fs), WithLogger(log.NewNopLogger()))

	report := u.UploadAll(t.Context(), "/data", "")

	assert.Equal(t, []string{"/data/clip1.mp4"}, report.Failed)
	assert.Empty(t, report.Uploaded)
	assert.True(t, exists(t, base, "/data/clip1.mp4"))
}

func TestUploadAllReconcile(t *testing.T) {
	fs := newFs(t, map[string]string{
		"/data/same.mp4":  "abc",
		"/data/other.mp4": "abc",
	})
	store := storagetest.NewMemory("clips")
	store.Put("same.mp4", []byte("abc"))
	store.Put("other.mp4", []byte("abcdef"))

	u := New(store, WithFs(fs), WithReconcile(true), WithLogger(log.NewNopLogger()))
	report := u.UploadAll(t.Context(), "/data", "")

	assert.Equal(t, []string{"/data/same.mp4"}, report.Reconciled)
	assert.Equal(t, []string{"/data/other.mp4"}, report.Conflicts)
	assert.False(t, exists(t, fs, "/data/same.mp4"))
	assert.True(t, exists(t, fs, "/data/other.mp4"))
}

func TestUploadAllConflictKeptWithoutReconcile(t *testing.T) {
	fs := newFs(t, map[string]string{"/data/same.mp4": "abc"})
	store := storagetest.NewMemory("clips")
	store.Put("same.mp4", []byte("abc"))

	u := New(store, WithFs(fs), WithLogger(log.NewNopLogger()))
	report := u.UploadAll(t.Context(), "/data", "")

	assert.Equal(t, []string{"/data/same.mp4"}, report.Conflicts)
	assert.True(t, exists(t, fs, "/data/same.mp4"))
}

func TestUploadAllMissingDirectory(t *testing.T) {
	u := New(storagetest.NewMemory("clips"), WithFs(afero.NewMemMapFs()), WithLogger(log.NewNopLogger()))

	report := u.UploadAll(t.Context(), "/nowhere", "")

	assert.Error(t, report.Err)
	assert.Zero(t, report.Total())
}

func TestUploadAllStopsOnCancelledContext(t *testing.T) {
	fs := newFs(t, map[string]string{"/data/clip1.mp4": "one"})
	store := storagetest.NewMemory("clips")
	u := New(store, WithFs(fs), WithLogger(log.NewNopLogger()))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	report := u.UploadAll(ctx, "/data", "")

	assert.Zero(t, report.Total())
	assert.True(t, exists(t, fs, "/data/clip1.mp4"))
}
