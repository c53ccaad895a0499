//go:build !windows
// +build !windows

package fsio

import (
	"syscall"

	"github.com/spf13/afero"
)

// sameDevice compares the Stat_t.Dev field of a and b when the
// underlying afero filesystem exposes real os.FileInfo (OsFs). The
// in-memory filesystem used in tests has no device concept, so any
// FileInfo that isn't backed by a *syscall.Stat_t is treated as
// same-device (the safe default for non-OS-backed filesystems).
func sameDevice(fs afero.Fs, a, b string) (bool, error) {
	sa, err := fs.Stat(a)
	if err != nil {
		return true, err
	}
	sb, err := fs.Stat(b)
	if err != nil {
		return true, err
	}

	sta, ok1 := sa.Sys().(*syscall.Stat_t)
	stb, ok2 := sb.Sys().(*syscall.Stat_t)
	if ok1 && ok2 {
		return sta.Dev == stb.Dev, nil
	}
	return true, nil
}
