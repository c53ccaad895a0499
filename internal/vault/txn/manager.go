// Package txn implements the five-phase atomic rename transaction
// protocol: Plan, Prepare, Validate, Commit, and Cleanup-or-Rollback.
// The Manager is a plain value type constructed with its collaborators
// injected; it retains no state across transactions.
package txn

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shayonpal/mcp-lifeos/internal/logging"
	"github.com/shayonpal/mcp-lifeos/internal/vault/fsio"
	"github.com/shayonpal/mcp-lifeos/internal/vault/linkscan"
	"github.com/shayonpal/mcp-lifeos/internal/vault/linkupdate"
	"github.com/shayonpal/mcp-lifeos/internal/vault/metrics"
	"github.com/shayonpal/mcp-lifeos/internal/vault/model"
	"github.com/shayonpal/mcp-lifeos/internal/vault/pathutil"
	"github.com/shayonpal/mcp-lifeos/internal/vault/txnerr"
	"github.com/shayonpal/mcp-lifeos/internal/vault/wal"
)

// Request is a rename request as it arrives from the external
// collaborator that owns tool dispatch.
type Request struct {
	OldPath     string
	NewPath     string
	UpdateLinks bool
}

// Result is a successful transaction outcome.
type Result struct {
	Success       bool
	OldPath       string
	NewPath       string
	CorrelationID string
	AffectedFiles int
	PhaseTimings  metrics.PhaseTimings
	Message       string
}

// Manager orchestrates the transaction protocol. It holds no
// per-transaction state between calls to Execute; txnMu only serializes
// transactions against each other, so two renames never interleave
// within one process.
type Manager struct {
	VaultRoot string
	IO        *fsio.Layer
	Scanner   *linkscan.Scanner
	WAL       *wal.Manager
	Metrics   *metrics.Collector
	Logger    logging.Logger

	txnMu sync.Mutex
	now   func() time.Time
}

// NewManager constructs a Manager from its collaborators. Nil Metrics
// defaults to metrics.Global; nil Logger defaults to the I/O layer's
// logger.
func NewManager(vaultRoot string, io *fsio.Layer, scanner *linkscan.Scanner, walMgr *wal.Manager, m *metrics.Collector, logger logging.Logger) *Manager {
	if m == nil {
		m = metrics.Global
	}
	if logger == nil {
		logger = io.Logger
	}
	return &Manager{
		VaultRoot: vaultRoot,
		IO:        io,
		Scanner:   scanner,
		WAL:       walMgr,
		Metrics:   m,
		Logger:    logger,
		now:       time.Now,
	}
}

// preparedState is everything Prepare produces and Commit/Rollback need,
// kept in memory for the lifetime of one Execute call. The WAL entry is
// the durable mirror of this state.
type preparedState struct {
	walPath       string
	entry         wal.Entry
	primaryStaged model.StagedFile
	stagedFiles   []model.StagedFile
	backupFiles   []model.BackupFile
}

// Execute runs a rename request through all five phases, returning
// either a Result or a structured *txnerr.Error. It is safe for
// concurrent use; concurrent calls are serialized.
func (m *Manager) Execute(req Request) (*Result, *txnerr.Error) {
	m.txnMu.Lock()
	defer m.txnMu.Unlock()

	correlationID := wal.NewCorrelationID()
	var timings metrics.PhaseTimings

	oldPath, err := pathutil.Normalize(req.OldPath)
	if err != nil {
		return nil, m.fail(txnerr.PhasePlan, txnerr.InvalidPath, txnerr.KindPrecondition, correlationID, err)
	}
	newPath, err := pathutil.Normalize(req.NewPath)
	if err != nil {
		return nil, m.fail(txnerr.PhasePlan, txnerr.InvalidPath, txnerr.KindPrecondition, correlationID, err)
	}

	planStart := m.now()
	manifest, txErr := m.plan(correlationID, oldPath, newPath, req.UpdateLinks)
	timings.Plan = m.now().Sub(planStart)
	if txErr != nil {
		return nil, txErr
	}

	prepareStart := m.now()
	prepared, txErr := m.prepare(manifest)
	timings.Prepare = m.now().Sub(prepareStart)
	if txErr != nil {
		m.Metrics.RecordCommitFailed()
		return nil, txErr
	}

	validateStart := m.now()
	txErr = m.validate(manifest)
	timings.Validate = m.now().Sub(validateStart)
	if txErr != nil {
		m.cleanupAfterAbort(prepared)
		if txErr.Code == txnerr.TransactionStaleContent {
			m.Metrics.RecordStaleAbort()
		} else {
			m.Metrics.RecordCommitFailed()
		}
		return nil, txErr
	}

	commitStart := m.now()
	txErr = m.commit(manifest, prepared)
	timings.Commit = m.now().Sub(commitStart)
	if txErr != nil {
		m.Metrics.RecordCommitFailed()
		return nil, txErr
	}

	cleanupStart := m.now()
	m.cleanup(prepared)
	timings.Cleanup = m.now().Sub(cleanupStart)

	m.Metrics.RecordCommitSuccess()

	return &Result{
		Success:       true,
		OldPath:       oldPath,
		NewPath:       newPath,
		CorrelationID: correlationID,
		AffectedFiles: len(manifest.AffectedFiles),
		PhaseTimings:  timings,
		Message:       fmt.Sprintf("renamed %s to %s (%d affected file(s))", oldPath, newPath, len(manifest.AffectedFiles)),
	}, nil
}

// fail builds a structured error without a prepared state to clean up.
func (m *Manager) fail(phase txnerr.Phase, code txnerr.Code, kind txnerr.Kind, correlationID string, cause error) *txnerr.Error {
	e := txnerr.New(phase, code, kind, correlationID, cause)
	m.Logger.Error("transaction failed phase=%s code=%s correlation=%s error=%v", phase, code, correlationID, cause)
	return e
}

// plan verifies preconditions, hashes the primary file and every
// affected file, and freezes the operation manifest. It produces no
// side effects.
func (m *Manager) plan(correlationID, oldPath, newPath string, updateLinks bool) (model.Manifest, *txnerr.Error) {
	if oldPath == newPath {
		return model.Manifest{}, m.fail(txnerr.PhasePlan, txnerr.InvalidPath, txnerr.KindPrecondition, correlationID,
			fmt.Errorf("oldPath and newPath must differ"))
	}
	if !pathutil.IsMarkdown(oldPath) {
		return model.Manifest{}, m.fail(txnerr.PhasePlan, txnerr.InvalidPath, txnerr.KindPrecondition, correlationID,
			fmt.Errorf("oldPath must be a .md file"))
	}

	exists, err := m.IO.Exists(oldPath)
	if err != nil {
		return model.Manifest{}, m.fail(txnerr.PhasePlan, txnerr.TransactionPlanFailed, txnerr.KindTransientIO, correlationID, err)
	}
	if !exists {
		return model.Manifest{}, m.fail(txnerr.PhasePlan, txnerr.FileNotFound, txnerr.KindPrecondition, correlationID,
			fmt.Errorf("oldPath %q does not exist", oldPath)).WithPath(oldPath)
	}

	targetExists, err := m.IO.Exists(newPath)
	if err != nil {
		return model.Manifest{}, m.fail(txnerr.PhasePlan, txnerr.TransactionPlanFailed, txnerr.KindTransientIO, correlationID, err)
	}
	if targetExists {
		return model.Manifest{}, m.fail(txnerr.PhasePlan, txnerr.FileExists, txnerr.KindPrecondition, correlationID,
			fmt.Errorf("newPath %q already exists", newPath)).WithPath(newPath)
	}

	primaryHash, err := m.IO.HashFile(oldPath)
	if err != nil {
		return model.Manifest{}, m.fail(txnerr.PhasePlan, txnerr.TransactionPlanFailed, txnerr.KindTransientIO, correlationID, err).WithPath(oldPath)
	}

	var affected []model.AffectedFile
	if updateLinks {
		refs, err := m.Scanner.ScanReferences(m.VaultRoot, pathutil.Stem(oldPath))
		if err != nil {
			return model.Manifest{}, m.fail(txnerr.PhasePlan, txnerr.LinkScanFailed, txnerr.KindStructuralFailure, correlationID, err)
		}
		for _, af := range refs {
			hash, err := m.IO.HashFile(af.Path)
			if err != nil {
				return model.Manifest{}, m.fail(txnerr.PhasePlan, txnerr.TransactionPlanFailed, txnerr.KindTransientIO, correlationID, err).WithPath(af.Path)
			}
			affected = append(affected, model.AffectedFile{
				Path:       af.Path,
				HashAtPlan: hash,
				References: af.References,
			})
		}
		sort.Slice(affected, func(i, j int) bool { return affected[i].Path < affected[j].Path })
	}

	manifest := model.Manifest{
		CorrelationID:   correlationID,
		OldPath:         oldPath,
		NewPath:         newPath,
		PrimaryFileHash: primaryHash,
		AffectedFiles:   affected,
		CreatedAt:       m.now(),
	}
	if err := manifest.Validate(); err != nil {
		return model.Manifest{}, m.fail(txnerr.PhasePlan, txnerr.TransactionPlanFailed, txnerr.KindStructuralFailure, correlationID, err)
	}

	return manifest, nil
}

// prepare stages new content for every affected file plus a backup of
// its pre-transaction bytes, stages the primary file's bytes at the new
// path, and writes the WAL entry. Backups are staged alongside new
// content so rollback can restore a file that Commit already promoted.
func (m *Manager) prepare(manifest model.Manifest) (*preparedState, *txnerr.Error) {
	prepared := &preparedState{}

	abortPrepare := func(code txnerr.Code, cause error, path string) *txnerr.Error {
		m.unstageAll(prepared)
		e := m.fail(txnerr.PhasePrepare, code, txnerr.KindTransientIO, manifest.CorrelationID, cause)
		if path != "" {
			e = e.WithPath(path)
		}
		return e
	}

	// EXDEV pre-check: fail fast with a clear error if the directories of
	// oldPath and newPath don't share a device, rather than letting a
	// cross-device rename(2) fail deep inside Commit or Rollback.
	if same, err := m.IO.SameDevice(filepath.Dir(manifest.OldPath), filepath.Dir(manifest.NewPath)); err == nil && !same {
		return nil, abortPrepare(txnerr.TransactionPrepareFailed,
			fmt.Errorf("oldPath and newPath are on different devices (cross-device rename unsupported)"), manifest.NewPath)
	}

	primaryData, err := m.IO.ReadFile(manifest.OldPath)
	if err != nil {
		return nil, abortPrepare(txnerr.TransactionPrepareFailed, err, manifest.OldPath)
	}
	primaryStagePath := m.IO.StagePath(manifest.NewPath)
	if err := m.IO.WriteFileWithRetry(primaryStagePath, primaryData, true); err != nil {
		return nil, abortPrepare(txnerr.TransactionPrepareFailed, err, manifest.OldPath)
	}
	prepared.primaryStaged = model.StagedFile{
		OriginalPath: manifest.OldPath,
		StagedPath:   primaryStagePath,
		HashAtStage:  fsio.HashBytes(primaryData),
	}

	oldStem := pathutil.Stem(manifest.OldPath)
	newStem := pathutil.Stem(manifest.NewPath)

	for _, af := range manifest.AffectedFiles {
		data, err := m.IO.ReadFile(af.Path)
		if err != nil {
			return nil, abortPrepare(txnerr.TransactionPrepareFailed, err, af.Path)
		}

		backupPath := m.IO.StagePath(af.Path)
		if err := m.IO.WriteFileWithRetry(backupPath, data, true); err != nil {
			return nil, abortPrepare(txnerr.TransactionPrepareFailed, err, af.Path)
		}
		prepared.backupFiles = append(prepared.backupFiles, model.BackupFile{
			OriginalPath: af.Path,
			BackupPath:   backupPath,
			HashAtStage:  fsio.HashBytes(data),
		})

		rendered, updated := linkupdate.RenderFile(string(data), oldStem, newStem, af.References)
		if updated != len(af.References) {
			// Every reference the Plan-time scan recorded must be
			// rewritten; anything less means either the file changed
			// under us (stale content, caught here instead of at
			// Validate) or the scanner and updater disagree on a
			// match, which must never pass as success.
			m.unstageAll(prepared)
			if fsio.HashBytes(data) != af.HashAtPlan {
				return nil, m.fail(txnerr.PhasePrepare, txnerr.TransactionStaleContent, txnerr.KindConcurrentMod, manifest.CorrelationID,
					fmt.Errorf("content changed since plan")).WithPath(af.Path).
					WithHint("the file was modified concurrently; retry the rename")
			}
			return nil, m.fail(txnerr.PhasePrepare, txnerr.TransactionPrepareFailed, txnerr.KindStructuralFailure, manifest.CorrelationID,
				fmt.Errorf("rewrote %d of %d scanned references", updated, len(af.References))).WithPath(af.Path)
		}
		newStagePath := m.IO.StagePath(af.Path)
		if err := m.IO.WriteFileWithRetry(newStagePath, []byte(rendered), true); err != nil {
			return nil, abortPrepare(txnerr.TransactionPrepareFailed, err, af.Path)
		}
		prepared.stagedFiles = append(prepared.stagedFiles, model.StagedFile{
			OriginalPath: af.Path,
			StagedPath:   newStagePath,
			HashAtStage:  fsio.HashBytes([]byte(rendered)),
		})
	}

	entry := wal.Entry{
		CorrelationID: manifest.CorrelationID,
		Status:        model.StatusPrepared,
		Manifest:      manifest,
		PrimaryStaged: prepared.primaryStaged,
		StagedFiles:   prepared.stagedFiles,
		BackupFiles:   prepared.backupFiles,
		RenameOp:      model.RenameOp{From: manifest.OldPath, To: manifest.NewPath},
		CreatedAt:     manifest.CreatedAt,
	}
	walPath, err := m.WAL.WriteEntry(entry)
	if err != nil {
		return nil, abortPrepare(txnerr.TransactionPrepareFailed, err, "")
	}

	prepared.walPath = walPath
	prepared.entry = entry
	return prepared, nil
}

// unstageAll removes every staging artifact prepare has created so far,
// used when prepare itself aborts partway through.
func (m *Manager) unstageAll(p *preparedState) {
	if p.primaryStaged.StagedPath != "" {
		if err := m.IO.DeleteFile(p.primaryStaged.StagedPath); err != nil {
			m.Logger.Warn("failed to remove primary stage file path=%s error=%v", p.primaryStaged.StagedPath, err)
		}
	}
	for _, sf := range p.stagedFiles {
		if err := m.IO.DeleteFile(sf.StagedPath); err != nil {
			m.Logger.Warn("failed to remove stage file path=%s error=%v", sf.StagedPath, err)
		}
	}
	for _, bf := range p.backupFiles {
		if err := m.IO.DeleteFile(bf.BackupPath); err != nil {
			m.Logger.Warn("failed to remove backup file path=%s error=%v", bf.BackupPath, err)
		}
	}
}

// validate re-hashes every manifest file and compares against its
// Plan-time hash. A mismatch means another actor touched the file
// mid-transaction and aborts before anything is renamed.
func (m *Manager) validate(manifest model.Manifest) *txnerr.Error {
	hash, err := m.IO.HashFile(manifest.OldPath)
	if err != nil {
		return m.fail(txnerr.PhaseValidate, txnerr.TransactionValidateFailed, txnerr.KindTransientIO, manifest.CorrelationID, err).WithPath(manifest.OldPath)
	}
	if hash != manifest.PrimaryFileHash {
		return m.fail(txnerr.PhaseValidate, txnerr.TransactionStaleContent, txnerr.KindConcurrentMod, manifest.CorrelationID,
			fmt.Errorf("content changed since plan")).WithPath(manifest.OldPath).
			WithHint("the file was modified concurrently; retry the rename")
	}

	// Above 4 affected files, re-hashing sequentially dominates Validate's
	// latency, so fan the work out across a small worker pool instead.
	if len(manifest.AffectedFiles) > 4 {
		return m.validateAffectedParallel(manifest)
	}

	for _, af := range manifest.AffectedFiles {
		hash, err := m.IO.HashFile(af.Path)
		if err != nil {
			return m.fail(txnerr.PhaseValidate, txnerr.TransactionValidateFailed, txnerr.KindTransientIO, manifest.CorrelationID, err).WithPath(af.Path)
		}
		if hash != af.HashAtPlan {
			return m.fail(txnerr.PhaseValidate, txnerr.TransactionStaleContent, txnerr.KindConcurrentMod, manifest.CorrelationID,
				fmt.Errorf("content changed since plan")).WithPath(af.Path).
				WithHint("the file was modified concurrently; retry the rename")
		}
	}
	return nil
}

// validateAffectedParallel re-hashes every affected file concurrently,
// then compares sequentially in manifest order so the first mismatch
// reported is always the lowest-path one regardless of hashing order.
func (m *Manager) validateAffectedParallel(manifest model.Manifest) *txnerr.Error {
	paths := make([]string, len(manifest.AffectedFiles))
	for i, af := range manifest.AffectedFiles {
		paths[i] = af.Path
	}

	results := m.IO.HashFilesParallel(paths)
	hashByPath := make(map[string]fsio.HashResult, len(results))
	for _, r := range results {
		hashByPath[r.Path] = r
	}

	for _, af := range manifest.AffectedFiles {
		r := hashByPath[af.Path]
		if r.Err != nil {
			return m.fail(txnerr.PhaseValidate, txnerr.TransactionValidateFailed, txnerr.KindTransientIO, manifest.CorrelationID, r.Err).WithPath(af.Path)
		}
		if r.Hash != af.HashAtPlan {
			return m.fail(txnerr.PhaseValidate, txnerr.TransactionStaleContent, txnerr.KindConcurrentMod, manifest.CorrelationID,
				fmt.Errorf("content changed since plan")).WithPath(af.Path).
				WithHint("the file was modified concurrently; retry the rename")
		}
	}
	return nil
}

// commit promotes the primary file then each affected file, in manifest
// order, updating the WAL after each promotion so a crash mid-commit
// leaves enough state for rollback to resume precisely where it
// stopped.
func (m *Manager) commit(manifest model.Manifest, prepared *preparedState) *txnerr.Error {
	// Idempotent re-entry: if a prior call already promoted the primary
	// file and every affected file, there is nothing left to commit.
	// This keeps a double-invoked commit step from double-applying a
	// rename.
	if prepared.entry.CommittedPrimary && len(prepared.entry.CommittedPaths) == len(manifest.AffectedFiles) {
		m.Logger.Info("commit already applied, no-op correlation=%s", manifest.CorrelationID)
		return nil
	}

	if err := m.IO.RenameFile(prepared.primaryStaged.StagedPath, manifest.NewPath); err != nil {
		return m.abortDuringCommit(manifest, prepared, err, manifest.NewPath)
	}
	if err := m.IO.DeleteFile(manifest.OldPath); err != nil {
		m.Logger.Warn("failed to remove old path after rename path=%s error=%v", manifest.OldPath, err)
	}
	prepared.entry.CommittedPrimary = true
	prepared.entry.Status = model.StatusCommitted
	if err := m.WAL.UpdateEntry(prepared.walPath, prepared.entry); err != nil {
		m.Logger.Warn("failed to update wal after primary commit path=%s error=%v", prepared.walPath, err)
	}

	for i, af := range manifest.AffectedFiles {
		if err := m.IO.RenameFile(prepared.stagedFiles[i].StagedPath, af.Path); err != nil {
			return m.abortDuringCommit(manifest, prepared, err, af.Path)
		}
		prepared.entry.CommittedPaths = append(prepared.entry.CommittedPaths, af.Path)
		if err := m.WAL.UpdateEntry(prepared.walPath, prepared.entry); err != nil {
			m.Logger.Warn("failed to update wal after affected commit path=%s error=%v", prepared.walPath, err)
		}
	}

	return nil
}

// abortDuringCommit attempts a full rollback after a mid-commit failure
// and returns the appropriate structured error.
func (m *Manager) abortDuringCommit(manifest model.Manifest, prepared *preparedState, cause error, failedPath string) *txnerr.Error {
	partial := m.rollback(prepared.entry, prepared.walPath)
	if partial != nil && len(partial.Failed) > 0 {
		m.Metrics.RecordRollbackFailed()
		return m.fail(txnerr.PhaseCommit, txnerr.TransactionRollbackFailed, txnerr.KindStructuralFailure, manifest.CorrelationID, cause).
			WithPath(failedPath).
			WithHint(fmt.Sprintf("rollback incomplete; preserved WAL at %s", partial.WALPath)).
			WithPartialRollback(partial)
	}
	m.Metrics.RecordRollbackSuccess()
	return m.fail(txnerr.PhaseCommit, txnerr.TransactionCommitFailed, txnerr.KindTransientIO, manifest.CorrelationID, cause).WithPath(failedPath)
}

// cleanup deletes the WAL entry and any residual staging artifacts.
// Failures here are logged, never fatal.
func (m *Manager) cleanup(prepared *preparedState) {
	if err := m.WAL.DeleteEntry(prepared.walPath); err != nil {
		m.Logger.Warn("cleanup: failed to delete wal entry path=%s error=%v", prepared.walPath, err)
	}
	for _, bf := range prepared.backupFiles {
		if err := m.IO.DeleteFile(bf.BackupPath); err != nil {
			m.Logger.Warn("cleanup: failed to delete backup file path=%s error=%v", bf.BackupPath, err)
		}
	}
}

// cleanupAfterAbort removes every staging artifact after a Validate
// failure, which never reaches Commit so nothing was renamed.
func (m *Manager) cleanupAfterAbort(prepared *preparedState) {
	m.unstageAll(prepared)
	if err := m.WAL.DeleteEntry(prepared.walPath); err != nil {
		m.Logger.Warn("abort cleanup: failed to delete wal entry path=%s error=%v", prepared.walPath, err)
	}
}
