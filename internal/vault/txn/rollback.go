package txn

import (
	"github.com/shayonpal/mcp-lifeos/internal/vault/model"
	"github.com/shayonpal/mcp-lifeos/internal/vault/txnerr"
	"github.com/shayonpal/mcp-lifeos/internal/vault/wal"
)

// Rollback restores pre-transaction state from a WAL entry, whether
// called synchronously after a mid-commit failure or later by Boot
// Recovery against a WAL entry loaded from disk. It is idempotent:
// re-running it against an entry that was already fully rolled back
// finds nothing left to restore and simply cleans up.
func (m *Manager) Rollback(entry wal.Entry, walPath string) *txnerr.PartialRollback {
	partial := &txnerr.PartialRollback{WALPath: walPath}

	m.rollbackPrimary(entry, partial)
	m.rollbackAffected(entry, partial)
	m.unstageLeftovers(entry, partial)

	if len(partial.Failed) > 0 {
		entry.Status = model.StatusRollbackFailed
		if err := m.WAL.UpdateEntry(walPath, entry); err != nil {
			m.Logger.Error("rollback: failed to preserve wal entry path=%s error=%v", walPath, err)
		}
		m.Logger.Error("rollback outcome=failure correlation=%s failed=%v walPath=%s",
			entry.CorrelationID, partial.Failed, walPath)
		return partial
	}

	if err := m.WAL.DeleteEntry(walPath); err != nil {
		m.Logger.Warn("rollback: failed to delete wal entry after clean rollback path=%s error=%v", walPath, err)
	}

	outcome := "success"
	if len(partial.RolledBack) == 0 {
		outcome = "success (nothing to restore)"
	}
	m.Logger.Info("rollback outcome=%s correlation=%s rolledBack=%v", outcome, entry.CorrelationID, partial.RolledBack)
	return partial
}

// rollbackPrimary restores manifest.OldPath from manifest.NewPath if the
// primary rename was already committed.
func (m *Manager) rollbackPrimary(entry wal.Entry, partial *txnerr.PartialRollback) {
	if !entry.CommittedPrimary {
		return
	}

	oldPath := entry.Manifest.OldPath
	newPath := entry.Manifest.NewPath

	oldExists, err := m.IO.Exists(oldPath)
	if err == nil && oldExists {
		// A previous rollback attempt already restored this; nothing
		// left to do.
		return
	}

	newExists, err := m.IO.Exists(newPath)
	if err != nil {
		partial.Failed = append(partial.Failed, oldPath)
		m.Logger.Error("rollback: could not stat primary new path=%s error=%v", newPath, err)
		return
	}
	if !newExists {
		// Neither old nor new path exists: unrecoverable without the
		// staged backup, which primary never had (its bytes were never
		// rewritten, only relocated). Report as failed so an operator
		// investigates.
		partial.Failed = append(partial.Failed, oldPath)
		return
	}

	if err := m.IO.RenameFile(newPath, oldPath); err != nil {
		partial.Failed = append(partial.Failed, oldPath)
		m.Logger.Error("rollback: failed to restore primary path=%s error=%v", oldPath, err)
		return
	}
	partial.RolledBack = append(partial.RolledBack, oldPath)
}

// rollbackAffected restores every affected file that was already
// promoted in Commit, using the backup staged during Prepare.
func (m *Manager) rollbackAffected(entry wal.Entry, partial *txnerr.PartialRollback) {
	committed := make(map[string]bool, len(entry.CommittedPaths))
	for _, p := range entry.CommittedPaths {
		committed[p] = true
	}

	backupByPath := make(map[string]model.BackupFile, len(entry.BackupFiles))
	for _, bf := range entry.BackupFiles {
		backupByPath[bf.OriginalPath] = bf
	}

	for _, af := range entry.Manifest.AffectedFiles {
		if !committed[af.Path] {
			continue
		}

		backup, ok := backupByPath[af.Path]
		if !ok {
			partial.Failed = append(partial.Failed, af.Path)
			m.Logger.Error("rollback: no backup recorded for committed path=%s", af.Path)
			continue
		}

		backupExists, err := m.IO.Exists(backup.BackupPath)
		if err != nil || !backupExists {
			partial.Failed = append(partial.Failed, af.Path)
			m.Logger.Error("rollback: backup missing for path=%s backupPath=%s", af.Path, backup.BackupPath)
			continue
		}

		if err := m.IO.RenameFile(backup.BackupPath, af.Path); err != nil {
			partial.Failed = append(partial.Failed, af.Path)
			m.Logger.Error("rollback: failed to restore affected path=%s error=%v", af.Path, err)
			continue
		}
		partial.RolledBack = append(partial.RolledBack, af.Path)
	}
}

// unstageLeftovers deletes staging and backup artifacts that rollback
// no longer needs: anything for a file that was never committed (so its
// staged/backup copies are simply discarded) and anything left over from
// a file that was just restored above. Artifacts belonging to a file
// whose restoration failed are kept: the backup is the only remaining
// copy of that file's pre-transaction bytes, and a retried rollback (or
// an operator) needs it. Deletion failures are logged only; a leftover
// staging file is harmless clutter, not a correctness problem.
func (m *Manager) unstageLeftovers(entry wal.Entry, partial *txnerr.PartialRollback) {
	failed := make(map[string]bool, len(partial.Failed))
	for _, p := range partial.Failed {
		failed[p] = true
	}

	if entry.PrimaryStaged.StagedPath != "" && !failed[entry.Manifest.OldPath] {
		if exists, _ := m.IO.Exists(entry.PrimaryStaged.StagedPath); exists {
			if err := m.IO.DeleteFile(entry.PrimaryStaged.StagedPath); err != nil {
				m.Logger.Warn("rollback cleanup: %v", err)
			}
		}
	}
	for _, sf := range entry.StagedFiles {
		if failed[sf.OriginalPath] {
			continue
		}
		if exists, _ := m.IO.Exists(sf.StagedPath); exists {
			if err := m.IO.DeleteFile(sf.StagedPath); err != nil {
				m.Logger.Warn("rollback cleanup: %v", err)
			}
		}
	}
	for _, bf := range entry.BackupFiles {
		if failed[bf.OriginalPath] {
			continue
		}
		if exists, _ := m.IO.Exists(bf.BackupPath); exists {
			if err := m.IO.DeleteFile(bf.BackupPath); err != nil {
				m.Logger.Warn("rollback cleanup: %v", err)
			}
		}
	}
}

// rollback is the package-internal entry point abortDuringCommit uses;
// it is identical to Rollback but named to match the phase-local call
// sites reading naturally as "roll back this attempt".
func (m *Manager) rollback(entry wal.Entry, walPath string) *txnerr.PartialRollback {
	return m.Rollback(entry, walPath)
}
