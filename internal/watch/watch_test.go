package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumozai/layout-aware-rag-demo/internal/ingest"
)

type fakeIngester struct {
	mu    sync.Mutex
	paths []string
	fail  map[string]bool
}

func (f *fakeIngester) IngestFile(_ context.Context, path string, opts ingest.Options) (*ingest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, filepath.Base(path))
	if f.fail[filepath.Base(path)] {
		return nil, errors.New("parse failed")
	}
	return &ingest.Result{DocID: "id-" + filepath.Base(path), ChunkCount: 1}, nil
}

type outcome struct {
	name string
	err  error
}

func startWatcher(t *testing.T, dir string, ing Ingester) (<-chan outcome, context.CancelFunc) {
	t.Helper()
	results := make(chan outcome, 16)
	w := New(dir, ing, Config{
		Family: "housing",
		Settle: 20 * time.Millisecond,
		OnResult: func(path string, _ *ingest.Result, err error) {
			results <- outcome{name: filepath.Base(path), err: err}
		},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return results, cancel
}

func waitFor(t *testing.T, results <-chan outcome) outcome {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for ingestion")
		return outcome{}
	}
}

func TestWatcher_IngestsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "existing.pdf"), []byte("%PDF-1.4"), 0o644))
	ing := &fakeIngester{}

	results, _ := startWatcher(t, dir, ing)

	r := waitFor(t, results)
	assert.Equal(t, "existing.pdf", r.name)
	require.NoError(t, r.err)

	// give the watcher time to register before the drop
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.PDF"), []byte("%PDF-1.4"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r = waitFor(t, results)
	assert.Equal(t, "new.PDF", r.name)

	assert.FileExists(t, filepath.Join(dir, DoneDir, "existing.pdf"))
	assert.FileExists(t, filepath.Join(dir, DoneDir, "new.PDF"))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "existing.pdf"))
}

func TestWatcher_FailedFilesAreSetAside(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pdf"), []byte("%PDF-"), 0o644))
	ing := &fakeIngester{fail: map[string]bool{"broken.pdf": true}}

	results, _ := startWatcher(t, dir, ing)

	r := waitFor(t, results)
	assert.Error(t, r.err)
	assert.FileExists(t, filepath.Join(dir, FailedDir, "broken.pdf"))

	ing.mu.Lock()
	defer ing.mu.Unlock()
	assert.Equal(t, []string{"broken.pdf"}, ing.paths)
}

func TestCandidate(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "a.pdf")
	hidden := filepath.Join(dir, ".a.pdf")
	sub := filepath.Join(dir, "folder.pdf")
	nested := filepath.Join(dir, DoneDir, "b.pdf")
	require.NoError(t, os.WriteFile(pdf, nil, 0o644))
	require.NoError(t, os.WriteFile(hidden, nil, 0o644))
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Dir(nested), 0o755))
	require.NoError(t, os.WriteFile(nested, nil, 0o644))

	w := New(dir, &fakeIngester{}, Config{}, nil)
	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"create pdf", fsnotify.Event{Name: pdf, Op: fsnotify.Create}, true},
		{"write pdf", fsnotify.Event{Name: pdf, Op: fsnotify.Write | fsnotify.Chmod}, true},
		{"chmod only", fsnotify.Event{Name: pdf, Op: fsnotify.Chmod}, false},
		{"remove", fsnotify.Event{Name: pdf, Op: fsnotify.Remove}, false},
		{"rename", fsnotify.Event{Name: pdf, Op: fsnotify.Rename}, false},
		{"hidden", fsnotify.Event{Name: hidden, Op: fsnotify.Create}, false},
		{"directory", fsnotify.Event{Name: sub, Op: fsnotify.Create}, false},
		{"nested", fsnotify.Event{Name: nested, Op: fsnotify.Create}, false},
		{"vanished", fsnotify.Event{Name: filepath.Join(dir, "gone.pdf"), Op: fsnotify.Create}, false},
		{"text", fsnotify.Event{Name: filepath.Join(dir, "a.txt"), Op: fsnotify.Create}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := w.candidate(tt.ev)
			assert.Equal(t, tt.want, ok)
		})
	}
}
