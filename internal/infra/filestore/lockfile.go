package filestore

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Lock is an advisory cross-process file lock acquired by exclusively
// creating a ".lock" sidecar file. It guards multi-process writers to the
// same collection file; it does not protect against in-process races,
// which callers serialize with their own mutex.
type Lock struct {
	path string
}

// AcquireLock creates path+".lock" exclusively, retrying with backoff until
// ctx is done. Stale locks older than staleAfter are removed and retried.
func AcquireLock(ctx context.Context, path string, staleAfter time.Duration) (*Lock, error) {
	lockPath := path + ".lock"
	if err := EnsureParentDir(lockPath); err != nil {
		return nil, err
	}

	backoff := 10 * time.Millisecond
	const maxBackoff = 200 * time.Millisecond

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return &Lock{path: lockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && staleAfter > 0 {
			if time.Since(info.ModTime()) > staleAfter {
				_ = os.Remove(lockPath)
				continue
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", lockPath, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.path)
}
