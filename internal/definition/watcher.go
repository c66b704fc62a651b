package definition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher republishes schema files when they change on disk. Changes are
// collected and flushed once per debounce interval so an editor writing a
// file in several steps produces one publish. Deleting a file does not
// deactivate its definition.
type Watcher struct {
	dirs      []string
	debounce  time.Duration
	loader    *Loader
	publisher *Publisher
	logger    *zap.Logger
	onSync    func(SyncResult)

	mu      sync.Mutex
	pending map[string]struct{}
}

// NewWatcher creates a Watcher over dirs.
func NewWatcher(dirs []string, debounce time.Duration, publisher *Publisher, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dirs:      dirs,
		debounce:  debounce,
		loader:    NewLoader(),
		publisher: publisher,
		logger:    logger,
		pending:   make(map[string]struct{}),
	}
}

// OnSync registers fn to receive the result of every reload.
func (w *Watcher) OnSync(fn func(SyncResult)) {
	w.onSync = fn
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	for _, dir := range w.dirs {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return fsw.Add(path)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	w.logger.Info("definition watcher started",
		zap.Strings("dirs", w.dirs),
		zap.Duration("debounce", w.debounce),
	)

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handle(fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("definition watcher error", zap.Error(err))

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handle(fsw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fsw.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
			return
		}
	}
	if !isSchemaFile(event.Name) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	w.pending[event.Name] = struct{}{}
	w.mu.Unlock()
}

// flush publishes every pending file that still exists.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	var docs []Document
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		doc, err := w.loader.LoadFile(p)
		if err != nil {
			w.logger.Error("definition reload failed", zap.String("path", p), zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return
	}

	res := w.publisher.Sync(ctx, docs, "watcher")
	if w.onSync != nil {
		w.onSync(res)
	}
	for _, def := range res.Published {
		w.logger.Info("definition reloaded",
			zap.String("workflow", def.Name),
			zap.Int("version", def.Version),
		)
	}
}
