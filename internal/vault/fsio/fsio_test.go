package fsio

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestLayer() *Layer {
	return New(afero.NewMemMapFs(), nil, nil)
}

func TestReadFile_NotFound(t *testing.T) {
	l := newTestLayer()
	_, err := l.ReadFile("/vault/missing.md")
	require.Error(t, err)

	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	require.Equal(t, "read", ioErr.Op)
}

func TestHashFile_Deterministic(t *testing.T) {
	l := newTestLayer()
	require.NoError(t, afero.WriteFile(l.FS, "/vault/a.md", []byte("hello"), 0o644))

	h1, err := l.HashFile("/vault/a.md")
	require.NoError(t, err)
	h2, err := l.HashFile("/vault/a.md")
	require.NoError(t, err)

	require.Equal(t, h1, h2)
	require.Equal(t, HashBytes([]byte("hello")), h1)
}

func TestWriteFileWithRetry_Atomic(t *testing.T) {
	l := newTestLayer()
	err := l.WriteFileWithRetry("/vault/note.md", []byte("body"), true)
	require.NoError(t, err)

	data, err := l.ReadFile("/vault/note.md")
	require.NoError(t, err)
	require.Equal(t, "body", string(data))

	// No staging artifacts should remain.
	entries, err := afero.ReadDir(l.FS, "/vault")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWriteFileWithRetry_NonAtomic(t *testing.T) {
	l := newTestLayer()
	err := l.WriteFileWithRetry("/vault/note.md", []byte("direct"), false)
	require.NoError(t, err)

	data, err := l.ReadFile("/vault/note.md")
	require.NoError(t, err)
	require.Equal(t, "direct", string(data))
}

func TestRetryDelays_Bounds(t *testing.T) {
	require.Len(t, RetryDelays, 3)
	var total time.Duration
	for _, d := range RetryDelays {
		total += d
	}
	require.Equal(t, 700*time.Millisecond, total)
}

func TestWriteFileWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	l := New(afero.NewReadOnlyFs(afero.NewMemMapFs()), nil, nil)
	err := l.WriteFileWithRetry("/vault/note.md", []byte("x"), false)
	require.Error(t, err)

	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	require.Equal(t, "WRITE_ERROR", ioErr.Code)
}

func TestRenameFile(t *testing.T) {
	l := newTestLayer()
	require.NoError(t, afero.WriteFile(l.FS, "/vault/old.md", []byte("x"), 0o644))

	require.NoError(t, l.RenameFile("/vault/old.md", "/vault/new.md"))

	ok, err := l.Exists("/vault/new.md")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Exists("/vault/old.md")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteFile_IdempotentOnMissing(t *testing.T) {
	l := newTestLayer()
	require.NoError(t, l.DeleteFile("/vault/never-existed.md"))
}

func TestStagePath_HasDistinctivePrefixAndDisambiguator(t *testing.T) {
	l := newTestLayer()
	p1 := l.StagePath("/vault/note.md")
	time.Sleep(time.Millisecond)
	p2 := l.StagePath("/vault/note.md")

	require.NotEqual(t, p1, p2)
	require.Contains(t, p1, StagePrefix)
	require.Contains(t, p1, "note.md")
}
