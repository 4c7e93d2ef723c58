// Package intake watches an inbox directory and turns settled files into
// documents for the pipeline.
package intake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/halcyonlabs/extractd/internal/logging"
	"github.com/halcyonlabs/extractd/internal/pipeline"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Options configure a Watcher.
type Options struct {
	// Dir is the inbox directory to watch.
	Dir string
	// Extensions lists accepted file extensions (with dot, case-insensitive).
	// Empty accepts every regular file.
	Extensions []string
	// SettleDelay is how long a file must stay unchanged before pickup.
	// Partially written files keep resetting the timer.
	SettleDelay time.Duration
}

// Watcher emits a Document for each file that appears in the inbox and
// stays unchanged for the settle delay.
type Watcher struct {
	opts    Options
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	documents chan pipeline.Document
	stop      chan struct{}
	stopOnce  sync.Once

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher for the configured inbox directory.
func NewWatcher(opts Options, logger *logging.Logger) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, errors.New("inbox directory is required")
	}
	if opts.SettleDelay <= 0 {
		return nil, errors.New("settle delay must be positive")
	}
	info, err := os.Stat(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("inbox directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox path %s is not a directory", opts.Dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{
		opts:      opts,
		watcher:   fsw,
		logger:    logger,
		documents: make(chan pipeline.Document, 16),
		stop:      make(chan struct{}),
		pending:   make(map[string]*time.Timer),
	}, nil
}

// Start begins watching. Files already present in the inbox are scheduled
// with the same settle delay as new arrivals. Events are processed in a
// background goroutine until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.opts.Dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.opts.Dir, err)
	}

	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		return fmt.Errorf("scanning inbox: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.schedule(ctx, filepath.Join(w.opts.Dir, entry.Name()))
	}

	go w.processEvents(ctx)
	return nil
}

// Documents returns the channel of settled documents.
func (w *Watcher) Documents() <-chan pipeline.Document {
	return w.documents
}

// Stop stops the watcher and cancels pending pickups.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()

		w.mu.Lock()
		defer w.mu.Unlock()
		for path, timer := range w.pending {
			timer.Stop()
			delete(w.pending, path)
		}
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(ctx, event.Name)
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.cancel(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "inbox watcher error", zap.Error(err))
		}
	}
}

// schedule (re)arms the settle timer for a path. Each write resets the
// timer, so a file is only picked up once it stops changing.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if !w.accepts(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.opts.SettleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(w.opts.SettleDelay, func() {
		w.emit(ctx, path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) emit(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	content, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn(ctx, "reading inbox file", zap.String("path", path), zap.Error(err))
		return
	}

	doc := pipeline.Document{
		Name: filepath.Base(path),
		Text: string(content),
	}
	select {
	case w.documents <- doc:
		w.logger.Info(ctx, "document picked up",
			zap.String("document", doc.Name), zap.Int("bytes", len(content)))
	case <-w.stop:
	case <-ctx.Done():
	}
}

func (w *Watcher) accepts(path string) bool {
	if len(w.opts.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range w.opts.Extensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
