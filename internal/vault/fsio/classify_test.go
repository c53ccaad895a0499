package fsio

import (
	"errors"
	"os"
	"syscall"
	"testing"
)

func TestDefaultClassifier(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Classification
	}{
		{"not exist", os.ErrNotExist, NonRetryable},
		{"ebusy errno", syscall.EBUSY, Retryable},
		{"eagain errno", syscall.EAGAIN, Retryable},
		{"eacces errno", syscall.EACCES, Retryable},
		{"enoent errno", syscall.ENOENT, NonRetryable},
		{"locked message", errors.New("file is locked by another process"), Retryable},
		{"access denied message", errors.New("access is denied"), Retryable},
		{"generic error", errors.New("boom"), NonRetryable},
		{"nil", nil, NonRetryable},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := DefaultClassifier(c.err); got != c.want {
				t.Errorf("DefaultClassifier(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}
