package fsio

import (
	"errors"
	"os"
	"strings"
	"syscall"
)

// Classification is the retry decision for a failed file operation.
type Classification int

const (
	// Retryable marks an error as a transient cloud-sync conflict:
	// file-locked, temporary-busy, or access-denied on a first attempt.
	Retryable Classification = iota
	// NonRetryable marks an error the File I/O layer must fail on
	// immediately (not-found, permission-denied beyond the retry
	// window, invalid arguments).
	NonRetryable
)

// ClassifierFunc maps a raw I/O error to a retry Classification. The
// decision table is pluggable so a host platform can override which
// errno values count as transient.
type ClassifierFunc func(err error) Classification

// DefaultClassifier is the out-of-the-box error classification table.
// It treats EBUSY/EAGAIN/ETXTBSY-shaped errors, and a bare "access is
// denied" on the first attempt (the signature Windows/cloud-sync gives a
// file mid-upload), as retryable cloud-sync conflicts. Everything else
// (not-found, permission errors that persist, invalid path) fails
// immediately.
func DefaultClassifier(err error) Classification {
	if err == nil {
		return NonRetryable
	}

	if errors.Is(err, os.ErrNotExist) {
		return NonRetryable
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EBUSY, syscall.EAGAIN, syscall.ETXTBSY, syscall.EACCES:
			return Retryable
		case syscall.ENOENT, syscall.EPERM:
			return NonRetryable
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "resource busy"),
		strings.Contains(msg, "temporarily unavailable"),
		strings.Contains(msg, "locked"),
		strings.Contains(msg, "access is denied"),
		strings.Contains(msg, "being used by another process"):
		return Retryable
	default:
		return NonRetryable
	}
}
