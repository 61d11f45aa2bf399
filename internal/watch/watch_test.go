package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const debounce = 20 * time.Millisecond

func start(t *testing.T, paths []string, fn func(context.Context) error) {
	t.Helper()
	w, err := New(paths, fn, WithDebounce(debounce))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestWatchDirectory(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	start(t, []string{dir}, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	// initial run
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "0001_init.up.sql"), []byte("CREATE TABLE t (id INTEGER);"), 0o644))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "0001_init.up.sql")))
	require.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestWatchFileIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rules, []byte("rollups: []\n"), 0o644))

	var calls atomic.Int32
	start(t, []string{rules}, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(10 * debounce)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, os.WriteFile(rules, []byte("closures: []\n"), 0o644))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestWatchKeepsRunningAfterFailure(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	start(t, []string{dir}, func(context.Context) error {
		calls.Add(1)
		return errors.New("compile failed")
	})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "queries.sql"), []byte("-- name: X :one"), 0o644))
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestNewErrors(t *testing.T) {
	noop := func(context.Context) error { return nil }

	_, err := New(nil, noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no paths")

	_, err = New([]string{"", filepath.Join(t.TempDir(), "missing")}, noop)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
