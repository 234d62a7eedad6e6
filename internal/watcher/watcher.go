// Package watcher tracks the documents folder so the status panel can show the
// live file count and flag knowledge bases that no longer match the disk.
// It never reloads anything itself.
package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/kbagent/services"
)

// Snapshot describes the documents folder at one point in time.
type Snapshot struct {
	Present   bool      `json:"present"`
	Count     int       `json:"count"`
	ChangedAt time.Time `json:"changed_at"`
}

// Scan inspects dir once.
func Scan(dir string) Snapshot {
	names, err := services.ListDocuments(dir)
	if err != nil {
		return Snapshot{Present: !errors.Is(err, services.ErrDocumentsNotFound)}
	}
	return Snapshot{Present: true, Count: len(names)}
}

// DocumentWatcher keeps a Snapshot current using fsnotify.
type DocumentWatcher struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *zap.SugaredLogger

	mu       sync.RWMutex
	snapshot Snapshot

	started bool
	done    chan struct{}
}

func NewDocumentWatcher(dir string, logger *zap.SugaredLogger) (*DocumentWatcher, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &DocumentWatcher{
		dir:     dir,
		watcher: w,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Start takes the initial snapshot and follows the folder until ctx ends or Close is called.
func (w *DocumentWatcher) Start(ctx context.Context) error {
	initial := Scan(w.dir)
	initial.ChangedAt = time.Now().UTC()
	w.setSnapshot(initial)

	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	w.started = true
	go w.loop(ctx)
	return nil
}

func (w *DocumentWatcher) loop(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !services.IsDocumentFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			next := Scan(w.dir)
			next.ChangedAt = time.Now().UTC()
			w.setSnapshot(next)
			w.logger.Debugw("documents folder changed", "file", event.Name, "op", event.Op.String(), "count", next.Count)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("documents watcher error", "error", err)
		}
	}
}

func (w *DocumentWatcher) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshot
}

// Close stops the watcher and waits for its goroutine.
func (w *DocumentWatcher) Close() error {
	err := w.watcher.Close()
	if w.started {
		<-w.done
	}
	return err
}

func (w *DocumentWatcher) setSnapshot(s Snapshot) {
	w.mu.Lock()
	w.snapshot = s
	w.mu.Unlock()
}
