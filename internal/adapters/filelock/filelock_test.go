//go:build !windows

package filelock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.lock")
	l := New(path, 0, nil)

	unlock, err := l.Lock(context.Background())
	require.NoError(t, err)
	require.NoError(t, unlock())
	// Releasing twice is harmless.
	require.NoError(t, unlock())

	unlock, err = l.Lock(context.Background())
	require.NoError(t, err)
	require.NoError(t, unlock())
}

func TestLock_Timeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.lock")
	holder := New(path, 0, nil)
	unlock, err := holder.Lock(context.Background())
	require.NoError(t, err)
	defer func() { _ = unlock() }()

	waiter := New(path, 100*time.Millisecond, nil)
	waiter.PollInterval = 10 * time.Millisecond

	start := time.Now()
	_, err = waiter.Lock(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestLock_ContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.lock")
	holder := New(path, 0, nil)
	unlock, err := holder.Lock(context.Background())
	require.NoError(t, err)
	defer func() { _ = unlock() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = New(path, 0, nil).Lock(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrLockTimeout)
}

func TestLock_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.lock")
	holder := New(path, 0, nil)
	unlock, err := holder.Lock(context.Background())
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		waiter := New(path, 0, nil)
		waiter.PollInterval = 5 * time.Millisecond
		release, err := waiter.Lock(context.Background())
		if err == nil {
			_ = release()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while still held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, unlock())

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("lock never acquired after release")
	}
}

func TestLock_BadPath(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing", "catalog.lock"), 0, nil).Lock(context.Background())
	assert.Error(t, err)
}
