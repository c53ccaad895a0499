// Package wal implements the write-ahead log the transaction engine
// uses for crash durability. Every entry is a single
// JSON file stored outside the vault so editor sync clients never see
// it; entries are written atomically and named so a directory listing
// alone yields recency and correlation identity.
package wal

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/shayonpal/mcp-lifeos/internal/logging"
	"github.com/shayonpal/mcp-lifeos/internal/vault/fsio"
	"github.com/shayonpal/mcp-lifeos/internal/vault/model"
)

// SchemaVersion is the only WAL entry schema this engine understands.
// Any entry written with a different version is a hard
// WAL_SCHEMA_MISMATCH; there is no migration path.
const SchemaVersion = 1

// readmeName and readmeBody are written once, the first time a WAL
// directory is created, so anyone who stumbles on the directory in a
// file browser understands what it is.
const readmeName = "README"

const readmeBody = `This directory holds write-ahead log entries for the
note rename transaction engine. Each .wal.json file records one
in-flight or recently-finished rename so a crash mid-operation can be
rolled back on the next boot. Entries older than the recovery age floor
are safe to delete by hand if recovery ever needs a manual nudge.
`

// Entry is the durable record of one transaction, spanning every phase
// from Plan through Commit/Rollback.
type Entry struct {
	SchemaVersion    int                `json:"schemaVersion"`
	CorrelationID    string             `json:"correlationId"`
	OperationType    string             `json:"operationType"`
	Status           model.Status       `json:"status"`
	Manifest         model.Manifest     `json:"manifest"`
	PrimaryStaged    model.StagedFile   `json:"primaryStaged"`
	StagedFiles      []model.StagedFile `json:"stagedFiles,omitempty"`
	BackupFiles      []model.BackupFile `json:"backupFiles,omitempty"`
	RenameOp         model.RenameOp     `json:"renameOp"`
	CommittedPrimary bool               `json:"committedPrimary"`
	CommittedPaths   []string           `json:"committedPaths,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

// SchemaError is returned when a WAL entry's schema version does not
// match SchemaVersion.
type SchemaError struct {
	Path    string
	Version int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("WAL_SCHEMA_MISMATCH: %s has schemaVersion=%d, want %d", e.Path, e.Version, SchemaVersion)
}

// CorruptError is returned when a WAL entry's JSON cannot be parsed.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("WAL_CORRUPT: %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Manager reads and writes WAL entries under Dir, a directory outside
// the vault.
type Manager struct {
	Dir    string
	Layer  *fsio.Layer
	Logger logging.Logger

	now func() time.Time
}

// New constructs a Manager rooted at dir. A nil logger defaults to the
// layer's logger.
func New(dir string, layer *fsio.Layer, logger logging.Logger) *Manager {
	if logger == nil {
		logger = layer.Logger
	}
	return &Manager{Dir: dir, Layer: layer, Logger: logger, now: time.Now}
}

// NewCorrelationID returns a fresh, RFC-4122 version-4 UUID for use as
// a transaction's correlation identifier.
func NewCorrelationID() string {
	return uuid.New().String()
}

// entryFilename builds the {yyyymmddThhmmss}-rename-{correlationId}.wal.json
// filename, timestamp first so a lexicographic directory sort equals a
// chronological one, using UTC so recovery's age comparisons never
// depend on the host's local timezone.
func entryFilename(createdAt time.Time, correlationID string) string {
	return fmt.Sprintf("%s-rename-%s.wal.json", createdAt.UTC().Format("20060102T150405"), correlationID)
}

func (m *Manager) path(createdAt time.Time, correlationID string) string {
	return filepath.Join(m.Dir, entryFilename(createdAt, correlationID))
}

// ensureReadme writes the directory's README the first time the WAL
// directory is used, ignoring the case where it already exists.
func (m *Manager) ensureReadme() error {
	if err := m.Layer.FS.MkdirAll(m.Dir, 0o755); err != nil {
		return err
	}
	readmePath := filepath.Join(m.Dir, readmeName)
	exists, err := m.Layer.Exists(readmePath)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return afero.WriteFile(m.Layer.FS, readmePath, []byte(readmeBody), 0o644)
}

// WriteEntry persists a brand-new WAL entry for a transaction that has
// just completed Plan. The caller supplies entry.CreatedAt so the
// filename and the payload agree.
func (m *Manager) WriteEntry(entry Entry) (string, error) {
	id, err := uuid.Parse(entry.CorrelationID)
	if err != nil {
		return "", fmt.Errorf("wal: correlation id %q is not a valid UUID: %w", entry.CorrelationID, err)
	}
	if id.Version() != 4 {
		return "", fmt.Errorf("wal: correlation id %q is UUID v%d, want v4", entry.CorrelationID, id.Version())
	}
	if err := m.ensureReadme(); err != nil {
		return "", fmt.Errorf("wal: prepare directory: %w", err)
	}

	entry.SchemaVersion = SchemaVersion
	if entry.OperationType == "" {
		entry.OperationType = "rename"
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now()
	}
	entry.UpdatedAt = entry.CreatedAt

	path := m.path(entry.CreatedAt, entry.CorrelationID)
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return "", fmt.Errorf("wal: marshal entry: %w", err)
	}

	if err := m.Layer.WriteFileWithRetry(path, data, true); err != nil {
		return "", fmt.Errorf("wal: write entry: %w", err)
	}

	m.Logger.Info("wal entry written path=%s correlation=%s status=%s", path, entry.CorrelationID, entry.Status)
	return path, nil
}

// UpdateEntry overwrites the entry at path with a new status/content,
// bumping UpdatedAt. The entry must already exist; the filename encodes
// the original CreatedAt so it never changes.
func (m *Manager) UpdateEntry(path string, entry Entry) error {
	entry.SchemaVersion = SchemaVersion
	if entry.OperationType == "" {
		entry.OperationType = "rename"
	}
	entry.UpdatedAt = m.now()

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("wal: marshal entry: %w", err)
	}
	if err := m.Layer.WriteFileWithRetry(path, data, true); err != nil {
		return fmt.Errorf("wal: update entry: %w", err)
	}
	m.Logger.Info("wal entry updated path=%s correlation=%s status=%s", path, entry.CorrelationID, entry.Status)
	return nil
}

// DeleteEntry removes a WAL entry. Called during Cleanup once a
// transaction reaches a terminal status.
func (m *Manager) DeleteEntry(path string) error {
	if err := m.Layer.DeleteFile(path); err != nil {
		return fmt.Errorf("wal: delete entry: %w", err)
	}
	m.Logger.Info("wal entry deleted path=%s", path)
	return nil
}

// ReadEntry parses the WAL entry at path, validating its schema version.
func (m *Manager) ReadEntry(path string) (Entry, error) {
	data, err := m.Layer.ReadFile(path)
	if err != nil {
		return Entry{}, fmt.Errorf("wal: read entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, &CorruptError{Path: path, Err: err}
	}
	if entry.SchemaVersion != SchemaVersion {
		return Entry{}, &SchemaError{Path: path, Version: entry.SchemaVersion}
	}
	return entry, nil
}

// PendingEntry is one entry discovered by ScanPending, annotated with
// its age so recovery can apply the staleness floor.
type PendingEntry struct {
	Path  string
	Entry Entry
	Age   time.Duration
}

// ScanPending lists every *.wal.json entry in Dir whose UpdatedAt is at
// least minAge ago, sorted oldest-first by UpdatedAt so recovery visits
// the least recently active transactions first. Entries that fail to parse are reported via onCorrupt
// rather than aborting the whole scan, so one damaged file never blocks
// recovery of the rest.
func (m *Manager) ScanPending(minAge time.Duration, onCorrupt func(path string, err error)) ([]PendingEntry, error) {
	infos, err := afero.ReadDir(m.Layer.FS, m.Dir)
	if err != nil {
		return nil, fmt.Errorf("wal: scan directory: %w", err)
	}

	now := m.now()
	var pending []PendingEntry
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".wal.json") {
			continue
		}
		path := filepath.Join(m.Dir, info.Name())

		entry, err := m.ReadEntry(path)
		if err != nil {
			if onCorrupt != nil {
				onCorrupt(path, err)
			}
			continue
		}

		age := now.Sub(entry.UpdatedAt)
		if age < minAge {
			continue
		}
		pending = append(pending, PendingEntry{Path: path, Entry: entry, Age: age})
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Entry.UpdatedAt.Before(pending[j].Entry.UpdatedAt)
	})
	return pending, nil
}
