package txn

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/shayonpal/mcp-lifeos/internal/vault/fsio"
	"github.com/shayonpal/mcp-lifeos/internal/vault/linkscan"
	"github.com/shayonpal/mcp-lifeos/internal/vault/metrics"
	"github.com/shayonpal/mcp-lifeos/internal/vault/wal"
)

// renameFailFs fails any Rename whose destination matches failDest,
// simulating an I/O fault partway through restoring a backup.
type renameFailFs struct {
	afero.Fs
	failDest string
}

func (r *renameFailFs) Rename(oldname, newname string) error {
	if newname == r.failDest {
		return errors.New("simulated rename failure during restore")
	}
	return r.Fs.Rename(oldname, newname)
}

func TestRollback_PartialFailureReportsWALPathAndPreservesEntry(t *testing.T) {
	base := afero.NewMemMapFs()
	writeNote(t, base, "/vault/foo.md", "primary")
	writeNote(t, base, "/vault/a.md", "see [[foo]]")

	io := fsio.New(base, nil, nil)
	scanner := linkscan.New(base, nil)
	walMgr := wal.New("/config/wal", io, nil)
	m := NewManager("/vault", io, scanner, walMgr, &metrics.Collector{}, nil)

	manifest, txErr := m.plan("11111111-1111-4111-8111-111111111111", "/vault/foo.md", "/vault/bar.md", true)
	require.Nil(t, txErr)
	prepared, txErr := m.prepare(manifest)
	require.Nil(t, txErr)
	require.Nil(t, m.validate(manifest))

	require.NoError(t, m.IO.RenameFile(prepared.primaryStaged.StagedPath, manifest.NewPath))
	require.NoError(t, m.IO.DeleteFile(manifest.OldPath))
	prepared.entry.CommittedPrimary = true
	require.NoError(t, m.IO.RenameFile(prepared.stagedFiles[0].StagedPath, manifest.AffectedFiles[0].Path))
	prepared.entry.CommittedPaths = []string{manifest.AffectedFiles[0].Path}
	require.NoError(t, m.WAL.UpdateEntry(prepared.walPath, prepared.entry))

	reloaded, err := m.WAL.ReadEntry(prepared.walPath)
	require.NoError(t, err)

	// Now make restoring the affected file's backup fail.
	faulty := &renameFailFs{Fs: base, failDest: manifest.AffectedFiles[0].Path}
	faultyIO := fsio.New(faulty, nil, nil)
	faultyManager := NewManager("/vault", faultyIO, linkscan.New(faulty, nil), wal.New("/config/wal", faultyIO, nil), &metrics.Collector{}, nil)

	partial := faultyManager.Rollback(reloaded, prepared.walPath)
	require.NotEmpty(t, partial.Failed)
	require.Contains(t, partial.Failed, manifest.AffectedFiles[0].Path)
	require.Equal(t, prepared.walPath, partial.WALPath)

	// The WAL entry must survive a failed rollback for manual recovery.
	exists, err := faultyIO.Exists(prepared.walPath)
	require.NoError(t, err)
	require.True(t, exists)

	stillEntry, err := faultyManager.WAL.ReadEntry(prepared.walPath)
	require.NoError(t, err)
	require.Equal(t, "ROLLBACK_FAILED", string(stillEntry.Status))

	// Once the fault clears, rerunning rollback against the preserved
	// entry finishes the restoration and removes the WAL.
	retried := m.Rollback(stillEntry, prepared.walPath)
	require.Empty(t, retried.Failed)

	data, err := afero.ReadFile(base, manifest.AffectedFiles[0].Path)
	require.NoError(t, err)
	require.Equal(t, "see [[foo]]", string(data))

	data, err = afero.ReadFile(base, "/vault/foo.md")
	require.NoError(t, err)
	require.Equal(t, "primary", string(data))

	walExists, err := m.IO.Exists(prepared.walPath)
	require.NoError(t, err)
	require.False(t, walExists)
}

func TestRollback_NothingCommittedIsCleanNoOp(t *testing.T) {
	m, fs := newTestManager(t)
	writeNote(t, fs, "/vault/foo.md", "primary")

	manifest, txErr := m.plan("11111111-1111-4111-8111-111111111111", "/vault/foo.md", "/vault/bar.md", false)
	require.Nil(t, txErr)
	prepared, txErr := m.prepare(manifest)
	require.Nil(t, txErr)

	reloaded, err := m.WAL.ReadEntry(prepared.walPath)
	require.NoError(t, err)

	partial := m.Rollback(reloaded, prepared.walPath)
	require.Empty(t, partial.Failed)
	require.Empty(t, partial.RolledBack)

	require.Equal(t, "primary", readNote(t, fs, "/vault/foo.md"))
	exists, _ := afero.Exists(fs, "/vault/bar.md")
	require.False(t, exists)

	walExists, _ := afero.Exists(fs, prepared.walPath)
	require.False(t, walExists)
}
