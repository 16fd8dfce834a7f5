// Package watch ingests PDFs dropped into an inbox directory.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lumozai/layout-aware-rag-demo/internal/ingest"
)

// Subdirectories of the inbox that processed files are moved to.
const (
	DoneDir   = "done"
	FailedDir = "failed"
)

// Ingester ingests a file on disk.
type Ingester interface {
	IngestFile(ctx context.Context, path string, opts ingest.Options) (*ingest.Result, error)
}

// Config tunes the watcher.
type Config struct {
	Family string
	// Settle is how long a file must go without writes before it is
	// ingested. Zero selects 500ms.
	Settle time.Duration
	// OnResult, if set, is called after each ingestion attempt.
	OnResult func(path string, res *ingest.Result, err error)
}

// Watcher feeds new inbox files to an Ingester.
type Watcher struct {
	dir      string
	ingester Ingester
	cfg      Config
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	ready  chan string
}

// New creates a watcher for dir.
func New(dir string, ing Ingester, cfg Config, logger *slog.Logger) *Watcher {
	if cfg.Settle <= 0 {
		cfg.Settle = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		ingester: ing,
		cfg:      cfg,
		logger:   logger.With("component", "watch", "dir", dir),
		timers:   make(map[string]*time.Timer),
		ready:    make(chan string, 64),
	}
}

// Run watches until ctx is cancelled. PDFs already in the inbox are
// ingested first.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{"", DoneDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("prepare inbox: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching inbox")

	existing, err := w.scan()
	if err != nil {
		return err
	}
	for _, path := range existing {
		w.schedule(ctx, path)
	}

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if path, ok := w.candidate(ev); ok {
				w.schedule(ctx, path)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case path := <-w.ready:
			w.process(ctx, path)
		}
	}
}

// candidate reports whether ev announces a visible PDF in the inbox that
// may need ingesting.
func (w *Watcher) candidate(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}
	if !isPDFName(ev.Name) || filepath.Dir(ev.Name) != filepath.Clean(w.dir) {
		return "", false
	}
	info, err := os.Stat(ev.Name)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return ev.Name, true
}

func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("scan inbox: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && isPDFName(e.Name()) {
			out = append(out, filepath.Join(w.dir, e.Name()))
		}
	}
	return out, nil
}

// schedule (re)starts the settle timer of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.cfg.Settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.cfg.Settle, func() {
		select {
		case w.ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.timers, path)
	w.mu.Unlock()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return
	}

	res, err := w.ingester.IngestFile(ctx, path, ingest.Options{Family: w.cfg.Family})
	dest := DoneDir
	if err != nil {
		dest = FailedDir
		w.logger.Error("inbox ingest failed", "file", filepath.Base(path), "error", err)
	} else {
		w.logger.Info("inbox file ingested", "file", filepath.Base(path), "doc_id", res.DocID, "chunks", res.ChunkCount)
	}
	if merr := os.Rename(path, filepath.Join(w.dir, dest, filepath.Base(path))); merr != nil {
		w.logger.Warn("could not move inbox file", "file", filepath.Base(path), "error", merr)
	}
	if w.cfg.OnResult != nil {
		w.cfg.OnResult(path, res, err)
	}
}

func isPDFName(path string) bool {
	base := filepath.Base(path)
	return !strings.HasPrefix(base, ".") && strings.EqualFold(filepath.Ext(base), ".pdf")
}
