package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const lockFilePermissions = 0o644

const lockDirPermissions = 0o755

// acquireRunLock writes the current process ID to path and takes an
// exclusive flock, so overlapping watch loops cannot race each other over
// the same library. Returns a release function that removes the file and
// drops the lock.
func acquireRunLock(path string) (release func(), err error) {
	if path == "" {
		return nil, fmt.Errorf("run lock path is empty: cannot determine data directory")
	}

	dir := filepath.Dir(path)
	if mkdirErr := os.MkdirAll(dir, lockDirPermissions); mkdirErr != nil {
		return nil, fmt.Errorf("creating run lock directory: %w", mkdirErr)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening run lock: %w", err)
	}

	// Non-blocking exclusive lock; fails immediately if another process holds it.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another icloudpd watch run is already active (could not lock %s)", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating run lock: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing run lock: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("syncing run lock: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}
