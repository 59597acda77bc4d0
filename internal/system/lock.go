package system

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// RunLock is a process-wide exclusive lock tied to one configuration,
// guaranteeing at most one backup run per configuration at any time.
// The flock is dropped by the kernel even on abnormal termination.
type RunLock struct {
	file *os.File
	path string
}

// AcquireRunLock takes an exclusive, non-blocking flock on path.
// A second invocation against the same configuration fails immediately
// instead of queueing behind the running one.
func AcquireRunLock(path string) (*RunLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("another run is already active (lock held on %s)", path)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	fmt.Fprintf(file, "%d\n", os.Getpid())

	return &RunLock{file: file, path: path}, nil
}

// Release drops the lock. Safe to call twice.
func (l *RunLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
	l.file = nil
	os.Remove(l.path)
	return err
}
