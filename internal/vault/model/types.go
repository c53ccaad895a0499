// Package model holds the data types shared across the rename
// transaction engine: references, manifests, and the transaction state
// machine. These types are serialized into the WAL and are otherwise
// immutable once a Plan phase completes.
package model

import (
	"fmt"
	"time"
)

// ReferenceKind enumerates the five wikilink forms the Link Scanner and
// Link Updater recognize.
type ReferenceKind string

const (
	KindBasic    ReferenceKind = "basic"    // [[target]]
	KindAlias    ReferenceKind = "alias"    // [[target|alias]]
	KindHeading  ReferenceKind = "heading"  // [[target#heading]]
	KindBlockRef ReferenceKind = "blockref" // [[target#^blockref]]
	KindEmbed    ReferenceKind = "embed"    // ![[target]]
)

// Reference is a single located occurrence of a wikilink inside a note.
type Reference struct {
	SourcePath string        `json:"sourcePath"`
	Target     string        `json:"target"`
	Kind       ReferenceKind `json:"kind"`
	Offset     int           `json:"offset"`
	Matched    string        `json:"matched"`
}

// AffectedFile is a note, other than the rename target, whose wikilinks
// must be rewritten. HashAtPlan is computed once, at Plan time, and is
// never recomputed until Validate.
type AffectedFile struct {
	Path       string      `json:"path"`
	HashAtPlan string      `json:"hashAtPlan"`
	References []Reference `json:"references"`
}

// Manifest is the immutable operation plan produced by the Plan phase.
// Once Plan returns, nothing may mutate a Manifest's fields; later phases
// only read it.
type Manifest struct {
	CorrelationID   string         `json:"correlationId"`
	OldPath         string         `json:"oldPath"`
	NewPath         string         `json:"newPath"`
	PrimaryFileHash string         `json:"primaryFileHash"`
	AffectedFiles   []AffectedFile `json:"affectedFiles"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// Validate checks the structural invariants a manifest must satisfy
// before it may be persisted to a WAL entry or acted upon.
func (m *Manifest) Validate() error {
	if m.CorrelationID == "" {
		return fmt.Errorf("manifest: correlation id is required")
	}
	if m.OldPath == "" || m.NewPath == "" {
		return fmt.Errorf("manifest: oldPath and newPath are required")
	}
	if m.OldPath == m.NewPath {
		return fmt.Errorf("manifest: oldPath and newPath must differ")
	}
	if m.PrimaryFileHash == "" {
		return fmt.Errorf("manifest: primaryFileHash is required")
	}
	return nil
}

// Status is a transaction's position in the lifecycle state machine.
type Status string

const (
	StatusInit           Status = "INIT"
	StatusPlanned        Status = "PLANNED"
	StatusPrepared       Status = "PREPARED"
	StatusValidated      Status = "VALIDATED"
	StatusCommitted      Status = "COMMITTED"
	StatusCleaned        Status = "CLEANED"
	StatusAborted        Status = "ABORTED"
	StatusRolledBack     Status = "ROLLED_BACK"
	StatusRollbackFailed Status = "ROLLBACK_FAILED"
)

// IsTerminal reports whether a status is one of the state machine's
// terminal states.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCleaned, StatusRolledBack, StatusRollbackFailed:
		return true
	default:
		return false
	}
}

// StagedFile records the correspondence between an original path and the
// staging file holding its post-commit content, plus the hash of that
// content taken at staging time. Commit promotes staged files without
// re-hashing them against this value.
type StagedFile struct {
	OriginalPath string `json:"originalPath"`
	StagedPath   string `json:"stagedPath"`
	HashAtStage  string `json:"hashAtStage"`
}

// BackupFile records the staged pre-transaction bytes of a file,
// written during Prepare so that a crash mid-Commit can restore
// already-renamed files.
type BackupFile struct {
	OriginalPath string `json:"originalPath"`
	BackupPath   string `json:"backupPath"`
	HashAtStage  string `json:"hashAtStage"`
}

// RenameOp is the primary file's source/destination pair.
type RenameOp struct {
	From string `json:"from"`
	To   string `json:"to"`
}
