package recovery

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/shayonpal/mcp-lifeos/internal/vault/fsio"
	"github.com/shayonpal/mcp-lifeos/internal/vault/linkscan"
	"github.com/shayonpal/mcp-lifeos/internal/vault/metrics"
	"github.com/shayonpal/mcp-lifeos/internal/vault/model"
	"github.com/shayonpal/mcp-lifeos/internal/vault/txn"
	"github.com/shayonpal/mcp-lifeos/internal/vault/wal"
)

func writeNote(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func newHarness(t *testing.T) (afero.Fs, *fsio.Layer, *txn.Manager, *wal.Manager) {
	t.Helper()
	fs := afero.NewMemMapFs()
	io := fsio.New(fs, nil, nil)
	scanner := linkscan.New(fs, nil)
	walMgr := wal.New("/config/wal", io, nil)
	m := txn.NewManager("/vault", io, scanner, walMgr, &metrics.Collector{}, nil)
	return fs, io, m, walMgr
}

func TestRunner_YoungWALLeftAlone(t *testing.T) {
	fs, _, m, walMgr := newHarness(t)
	writeNote(t, fs, "/vault/foo.md", "hello")

	entry := wal.Entry{
		CorrelationID: wal.NewCorrelationID(),
		CreatedAt:     time.Now().Add(-10 * time.Second),
	}
	path, err := walMgr.WriteEntry(entry)
	require.NoError(t, err)

	r := New(walMgr, m, nil, nil, 60*time.Second)
	report := r.Run()

	require.Equal(t, 0, report.Scanned)
	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestRunner_StaleWALIsRolledBack(t *testing.T) {
	fs, io, m, walMgr := newHarness(t)
	writeNote(t, fs, "/vault/foo.md", "primary")

	hash, err := io.HashFile("/vault/foo.md")
	require.NoError(t, err)

	manifest := model.Manifest{
		CorrelationID:   wal.NewCorrelationID(),
		OldPath:         "/vault/foo.md",
		NewPath:         "/vault/bar.md",
		PrimaryFileHash: hash,
		CreatedAt:       time.Now(),
	}

	entry := wal.Entry{
		CorrelationID:    manifest.CorrelationID,
		Manifest:         manifest,
		CreatedAt:        time.Now().Add(-90 * time.Second),
		CommittedPrimary: true,
	}
	path, err := walMgr.WriteEntry(entry)
	require.NoError(t, err)

	// The primary rename actually happened before the simulated crash.
	require.NoError(t, fs.Rename(manifest.OldPath, manifest.NewPath))

	r := New(walMgr, m, nil, nil, 60*time.Second)
	report := r.Run()

	require.Equal(t, 1, report.Scanned)
	require.Len(t, report.Reclaimed, 1)
	require.Equal(t, "success", report.Reclaimed[0].Status)

	data, err := afero.ReadFile(fs, "/vault/foo.md")
	require.NoError(t, err)
	require.Equal(t, "primary", string(data))

	walExists, _ := afero.Exists(fs, path)
	require.False(t, walExists)
}

func TestRunner_CorruptEntryIsSkippedNotFatal(t *testing.T) {
	fs, _, m, walMgr := newHarness(t)
	require.NoError(t, afero.WriteFile(fs, "/config/wal/broken.wal.json", []byte("{not json"), 0o644))

	r := New(walMgr, m, nil, nil, 0)
	report := r.Run()

	require.Len(t, report.Corrupt, 1)
	require.Equal(t, 0, report.Scanned)
}
