package catalog

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/JonMunkholm/openpdi/internal/core"
)

// DefaultDebounce is how long the watcher waits after the last change before
// reloading, so that a batch of edits produces one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a catalog directory when its files change. A reload that
// fails validation is logged and the previous catalog stays in use.
type Watcher struct {
	dir      string
	reg      *core.Registry
	onLoad   func(*Catalog)
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// NewWatcher watches dir and every directory below it. onLoad receives each
// successfully reloaded catalog.
func NewWatcher(dir string, reg *core.Registry, onLoad func(*Catalog), logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		dir:      dir,
		reg:      reg,
		onLoad:   onLoad,
		logger:   logger,
		debounce: DefaultDebounce,
		watcher:  fw,
	}
	if err := w.addTree(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// addTree watches root and its subdirectories; fsnotify is not recursive.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(p)
		}
		return nil
	})
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addTree(event.Name)
				}
			}
			if !relevant(event) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", "error", err)
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return false
	}
	name := filepath.Base(event.Name)
	return strings.HasSuffix(name, ".json") || !strings.Contains(name, ".")
}

func (w *Watcher) reload() {
	c, err := Load(w.dir, w.reg)
	if err != nil {
		w.logger.Error("catalog reload failed, keeping previous catalog",
			"dir", w.dir,
			"error", err,
		)
		return
	}
	w.logger.Info("catalog reloaded", "dir", w.dir, "topics", c.Len())
	w.onLoad(c)
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
