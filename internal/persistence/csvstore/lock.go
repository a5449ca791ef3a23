package csvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"example.com/upkeep/internal/domain"
)

const lockRetryInterval = 25 * time.Millisecond

// FileLocker serialises writers of one section across goroutines and processes.
// Goroutines queue on an in-process lock first; the holder then takes an
// advisory flock on {root}/{section}.csv.lock.
type FileLocker struct {
	root  string
	local *domain.MutexLocker
}

// NewFileLocker constructs a FileLocker for the files under root.
func NewFileLocker(root string) *FileLocker {
	return &FileLocker{root: root, local: domain.NewMutexLocker()}
}

// Lock blocks until both the in-process and the file lock are held or ctx is done.
func (l *FileLocker) Lock(ctx context.Context, section string) (func(), error) {
	release, err := l.local.Lock(ctx, section)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(l.root, dirPerms); err != nil {
		release()
		return nil, fmt.Errorf("%w: create %s: %w", domain.ErrStorageUnavailable, l.root, err)
	}
	path := filepath.Join(l.root, section+".csv.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // section names are validated against configuration
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: open lock %s: %w", domain.ErrStorageUnavailable, path, err)
	}

	if err := flock(ctx, f); err != nil {
		_ = f.Close()
		release()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: section %s: %v", domain.ErrLockTimeout, section, err)
		}
		return nil, fmt.Errorf("%w: lock %s: %w", domain.ErrStorageUnavailable, path, err)
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		release()
	}, nil
}

func flock(ctx context.Context, f *os.File) error {
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
