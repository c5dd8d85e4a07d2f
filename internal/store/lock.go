package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// locksDirName keeps lock files out of the memory tree so acquiring a lock
// never changes a category directory's mtime or shows up in a reindex walk.

// LockTimeout is the default timeout for acquiring a store lock.
const LockTimeout = 2 * time.Second

// Lock errors.
var (
	errLockTimeout  = errors.New("lock timeout")
	errLockFileOpen = errors.New("failed to open lock file")
)

// withLock executes handler while holding an exclusive flock on the named
// key under the store root. Used to serialize YAML-index writers and
// reindex runs; the SQLite layout relies on the database's own locking.
func withLock(root, key string, handler func() error) error {
	lock, lockErr := acquireLock(root, key, LockTimeout)
	if lockErr != nil {
		return fmt.Errorf("acquiring lock: %w", lockErr)
	}

	defer lock.release()

	return handler()
}

// fileLock represents a held lock file.
type fileLock struct {
	path string
	file *os.File
}

// release releases the lock and removes the lock file.
// Order matters: remove while holding lock, then unlock, then close.
func (l *fileLock) release() {
	if l.file != nil {
		_ = os.Remove(l.path)
		_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
		_ = l.file.Close()
		l.file = nil
	}
}

// acquireLock takes an exclusive flock on <root>/.locks/<key>.lock.
// Handles the race between flock acquisition and lock-file deletion by
// verifying the inode after acquiring the lock.
func acquireLock(root, key string, timeout time.Duration) (*fileLock, error) {
	locksDir := filepath.Join(root, locksDirName)
	lockPath := filepath.Join(locksDir, key+".lock")

	deadline := time.Now().Add(timeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: %s", errLockTimeout, lockPath)
		}

		mkdirErr := os.MkdirAll(locksDir, dirPerms)
		if mkdirErr != nil {
			return nil, fmt.Errorf("creating locks dir: %w", mkdirErr)
		}

		file, openErr := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, filePerms)
		if openErr != nil {
			return nil, fmt.Errorf("%w: %w", errLockFileOpen, openErr)
		}

		var openStat unix.Stat_t

		err := unix.Fstat(int(file.Fd()), &openStat)
		if err != nil {
			_ = file.Close()

			return nil, fmt.Errorf("fstat lock file: %w", err)
		}

		fd := int(file.Fd())
		done := make(chan error, 1)

		go func() {
			done <- unix.Flock(fd, unix.LOCK_EX)
		}()

		select {
		case err := <-done:
			if err != nil {
				_ = file.Close()

				return nil, fmt.Errorf("flock: %w", err)
			}

			// Verify the file at the path still has the same inode.
			// If not, a releaser deleted and a peer recreated it while
			// we were waiting.
			var pathStat unix.Stat_t

			statErr := unix.Stat(lockPath, &pathStat)
			if statErr != nil || pathStat.Ino != openStat.Ino {
				_ = unix.Flock(fd, unix.LOCK_UN)
				_ = file.Close()

				continue
			}

			return &fileLock{path: lockPath, file: file}, nil
		case <-time.After(remaining):
			_ = file.Close()

			return nil, fmt.Errorf("%w: %s", errLockTimeout, lockPath)
		}
	}
}
