//go:build !windows

// Package filelock serializes catalog edits across processes with an
// exclusive flock(2) on a companion lock file.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLockTimeout is returned when the lock is not granted within the
// configured timeout.
var ErrLockTimeout = errors.New("timed out waiting for lock")

const defaultPollInterval = 50 * time.Millisecond

// Locker takes an exclusive lock on Path. A zero Timeout waits until the lock
// is granted or the context is cancelled.
type Locker struct {
	Path         string
	Timeout      time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// New returns a locker for path.
func New(path string, timeout time.Duration, logger *slog.Logger) *Locker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{Path: path, Timeout: timeout, PollInterval: defaultPollInterval, Logger: logger}
}

// Lock blocks until the lock is held and returns the function releasing it.
func (l *Locker) Lock(ctx context.Context) (func() error, error) {
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", l.Path, err)
	}

	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	poll := l.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	waited := false
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			_ = f.Close()
			return nil, fmt.Errorf("failed to lock %s: %w", l.Path, err)
		}
		if !waited {
			l.logger().Debug("waiting for lock", "path", l.Path)
			waited = true
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && l.Timeout > 0 {
				return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, l.Path, l.Timeout)
			}
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}

	released := false
	return func() error {
		if released {
			return nil
		}
		released = true
		errUnlock := unix.Flock(int(f.Fd()), unix.LOCK_UN)
		errClose := f.Close()
		return errors.Join(errUnlock, errClose)
	}, nil
}

func (l *Locker) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
