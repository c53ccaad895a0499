// Package fsio is the engine's file I/O layer, the only package
// permitted to touch the filesystem. Every higher layer
// (Link Updater, WAL Manager, Transaction Manager) goes through a
// *Layer instead of calling afero/os directly.
package fsio

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/shayonpal/mcp-lifeos/internal/logging"
)

// RetryDelays is the exponential backoff schedule for transient
// write conflicts: 3 retries at 100ms, 200ms, 400ms after the initial
// attempt, so a write makes at most 4 attempts and sleeps at most
// 700ms in total.
var RetryDelays = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
}

// StagePrefix distinguishes staging files from real vault notes.
// Exported so vault walkers (link scanner, search) can skip staging
// artifacts left behind by a crash that recovery has not reclaimed yet.
const StagePrefix = ".mcp-tmp-"

// Layer is the atomic File I/O Layer. It is safe for concurrent use; the
// only mutable state is the injected clock used for staging names in
// tests, plus an rng that no method reads.
type Layer struct {
	FS         afero.Fs
	Classifier ClassifierFunc
	Logger     logging.Logger

	// now and rand are overridable for deterministic tests.
	now  func() time.Time
	rand *rand.Rand
}

// New constructs a Layer backed by fs. A nil classifier defaults to
// DefaultClassifier; a nil logger defaults to logging.Global().
func New(fs afero.Fs, classifier ClassifierFunc, logger logging.Logger) *Layer {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	if logger == nil {
		logger = logging.Global()
	}
	return &Layer{
		FS:         fs,
		Classifier: classifier,
		Logger:     logger,
		now:        time.Now,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ReadFile reads the raw bytes of path, failing with FILE_NOT_FOUND or
// READ_ERROR.
func (l *Layer) ReadFile(path string) ([]byte, error) {
	data, err := afero.ReadFile(l.FS, path)
	if err != nil {
		code := "READ_ERROR"
		if errors.Is(err, os.ErrNotExist) {
			code = "FILE_NOT_FOUND"
		}
		return nil, &IOError{Op: "read", Path: path, Err: err, Code: code}
	}
	return data, nil
}

// HashFile returns the lowercase-hex SHA-256 digest of path's raw
// bytes.
func (l *Layer) HashFile(path string) (string, error) {
	f, err := l.FS.Open(path)
	if err != nil {
		return "", &IOError{Op: "hash", Path: path, Err: err}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", &IOError{Op: "hash", Path: path, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes is the in-memory equivalent of HashFile, used to verify
// rendered content before it is ever written to disk.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// WriteFileWithRetry writes data to path, retrying transient cloud-sync
// conflicts per the backoff schedule in RetryDelays.
func (l *Layer) WriteFileWithRetry(path string, data []byte, atomic bool) error {
	var lastErr error

	for attempt := 0; attempt <= len(RetryDelays); attempt++ {
		var err error
		if atomic {
			err = l.writeAtomic(path, data)
		} else {
			err = afero.WriteFile(l.FS, path, data, 0o644)
		}

		if err == nil {
			if attempt > 0 {
				l.Logger.Info("write succeeded after retry path=%s attempt=%d", path, attempt)
			}
			return nil
		}

		lastErr = err
		if l.Classifier(err) != Retryable || attempt == len(RetryDelays) {
			break
		}

		delay := RetryDelays[attempt]
		l.Logger.Warn("write retry path=%s attempt=%d delay_ms=%d error=%v",
			path, attempt+1, delay.Milliseconds(), err)
		time.Sleep(delay)
	}

	return &IOError{Op: "write", Path: path, Err: lastErr, Code: "WRITE_ERROR"}
}

// writeAtomic writes data to a staging sibling of path, fsyncs it, then
// renames it onto path. The temp file lives in the same directory as
// path so the rename stays within a single filesystem.
func (l *Layer) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := l.FS.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := filepath.Join(dir, fmt.Sprintf("%s%d-%s", StagePrefix, l.now().UnixNano(), filepath.Base(path)))

	f, err := l.FS.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		l.FS.Remove(tmp)
		return err
	}
	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			f.Close()
			l.FS.Remove(tmp)
			return err
		}
	}
	if err := f.Close(); err != nil {
		l.FS.Remove(tmp)
		return err
	}

	if err := l.FS.Rename(tmp, path); err != nil {
		l.FS.Remove(tmp)
		return err
	}
	return nil
}

// StagePath builds the staging sibling filename for dst: a distinctive
// prefix plus a timestamp disambiguator so staging names never collide
// with real vault files.
func (l *Layer) StagePath(dst string) string {
	dir := filepath.Dir(dst)
	base := filepath.Base(dst)
	return filepath.Join(dir, fmt.Sprintf("%s%d-%s", StagePrefix, l.now().UnixNano(), base))
}

// RenameFile performs a single filesystem rename.
func (l *Layer) RenameFile(from, to string) error {
	if err := l.FS.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return &IOError{Op: "rename", Path: to, Err: err, Code: "RENAME_FAILED"}
	}
	if err := l.FS.Rename(from, to); err != nil {
		return &IOError{Op: "rename", Path: to, Err: err, Code: "RENAME_FAILED"}
	}
	return nil
}

// DeleteFile removes path, silently succeeding if it is already absent.
func (l *Layer) DeleteFile(path string) error {
	if err := l.FS.Remove(path); err != nil {
		if exists, statErr := afero.Exists(l.FS, path); statErr == nil && !exists {
			return nil
		}
		return &IOError{Op: "delete", Path: path, Err: err, Code: "DELETE_FAILED"}
	}
	return nil
}

// Exists reports whether path exists.
func (l *Layer) Exists(path string) (bool, error) {
	return afero.Exists(l.FS, path)
}

// SameDevice reports whether two paths are stored on the same
// filesystem device, so a caller can fail fast on a would-be EXDEV
// rename rather than discover it deep inside Commit. The afero in-memory
// filesystem used in tests has no device concept and always reports
// true.
func (l *Layer) SameDevice(a, b string) (bool, error) {
	return sameDevice(l.FS, a, b)
}

// IOError wraps a filesystem error with the operation and path that
// failed, and (for read/write/rename/delete) the stable error code surfaced
// at the tool boundary.
type IOError struct {
	Op   string
	Path string
	Code string
	Err  error
}

func (e *IOError) Error() string {
	code := e.Code
	if code == "" {
		code = "IO_ERROR"
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Path, code, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
