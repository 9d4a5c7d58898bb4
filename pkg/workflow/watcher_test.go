package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reloadRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *reloadRecorder) record(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *reloadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func TestWatcher_InvokesReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	rec := &reloadRecorder{}

	w, err := NewWatcher(dir, rec.record, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	// Give the watcher a moment to install.
	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(dir, "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: w\nsteps: [{name: a, task: t}]\n"), 0o644))

	assert.Eventually(t, func() bool { return rec.count() >= 1 },
		2*time.Second, 20*time.Millisecond, "expected reload callback after write")
}

func TestWatcher_IgnoresNonDefinitionFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &reloadRecorder{}

	w, err := NewWatcher(dir, rec.record, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, rec.count(), "non-definition files must not trigger reloads")
}

func TestWatcher_StopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher(dir, func(string) {}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}

func TestIsDefinitionFile(t *testing.T) {
	assert.True(t, isDefinitionFile("a/b/wf.yaml"))
	assert.True(t, isDefinitionFile("wf.YML"))
	assert.True(t, isDefinitionFile("wf.json"))
	assert.False(t, isDefinitionFile("wf.txt"))
	assert.False(t, isDefinitionFile("wf"))
}
