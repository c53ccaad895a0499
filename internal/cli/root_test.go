package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/shayonpal/mcp-lifeos/internal/vault/fsio"
	"github.com/shayonpal/mcp-lifeos/internal/vault/metrics"
	"github.com/shayonpal/mcp-lifeos/internal/vault/model"
	"github.com/shayonpal/mcp-lifeos/internal/vault/wal"
)

// TestBootRecovery_RunsBeforeEverySubcommand writes a stale, already-
// committed WAL entry directly to disk (mirroring a crash between
// Commit and Cleanup) and verifies that invoking an unrelated
// subcommand still reclaims it first.
func TestBootRecovery_RunsBeforeEverySubcommand(t *testing.T) {
	vaultDir := t.TempDir()
	walDir := filepath.Join(t.TempDir(), "wal")

	t.Setenv("MCP_LIFEOS_VAULT_ROOT", vaultDir)
	t.Setenv("MCP_LIFEOS_WAL_DIR", walDir)

	oldPath := filepath.Join(vaultDir, "foo.md")
	newPath := filepath.Join(vaultDir, "bar.md")
	require.NoError(t, os.WriteFile(newPath, []byte("primary"), 0o644))

	osFs := afero.NewOsFs()
	io := fsio.New(osFs, nil, nil)
	walMgr := wal.New(walDir, io, nil)

	manifest := model.Manifest{
		CorrelationID: wal.NewCorrelationID(),
		OldPath:       oldPath,
		NewPath:       newPath,
		CreatedAt:     time.Now(),
	}
	entry := wal.Entry{
		CorrelationID:    manifest.CorrelationID,
		Manifest:         manifest,
		CreatedAt:        time.Now().Add(-90 * time.Second),
		CommittedPrimary: true,
	}
	walPath, err := walMgr.WriteEntry(entry)
	require.NoError(t, err)

	cmd := NewRoot()
	cmd.SetArgs([]string{"search", "--vault", vaultDir, "anything"})
	require.NoError(t, cmd.Execute())

	// Boot Recovery should have restored foo.md from bar.md and removed
	// the now-reclaimed WAL entry before the search subcommand ran.
	data, err := os.ReadFile(oldPath)
	require.NoError(t, err)
	require.Equal(t, "primary", string(data))

	_, err = os.Stat(newPath)
	require.True(t, os.IsNotExist(err))

	_, err = os.Stat(walPath)
	require.True(t, os.IsNotExist(err))
}

// TestBootRecovery_SkippedForRecoverSubcommand confirms the recover
// subcommand performs its own scan rather than relying on (or
// duplicating) the PersistentPreRunE hook.
func TestBootRecovery_SkippedForRecoverSubcommand(t *testing.T) {
	vaultDir := t.TempDir()
	walDir := filepath.Join(t.TempDir(), "wal")
	t.Setenv("MCP_LIFEOS_VAULT_ROOT", vaultDir)
	t.Setenv("MCP_LIFEOS_WAL_DIR", walDir)
	t.Setenv("MCP_LIFEOS_DISABLE_RECOVERY", "")

	runsBefore := metrics.Global.RecoveryRuns

	cmd := NewRoot()
	cmd.SetArgs([]string{"recover", "--vault", vaultDir})
	require.NoError(t, cmd.Execute())

	// Exactly one recovery pass ran: the subcommand's own, not the hook's.
	require.Equal(t, runsBefore+1, metrics.Global.RecoveryRuns)
}
