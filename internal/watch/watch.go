package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	apperr "bookrag/internal/pkg/errors"
)

const defaultDebounce = 500 * time.Millisecond

// RebuildFunc rebuilds the index from the watched document.
type RebuildFunc func(ctx context.Context) error

// Watcher triggers a rebuild when the document changes. Bursts of events
// within the debounce window collapse into one rebuild.
type Watcher struct {
	path     string
	debounce time.Duration
	rebuild  RebuildFunc
}

func New(path string, debounce time.Duration, rebuild RebuildFunc) (*Watcher, error) {
	if rebuild == nil {
		return nil, fmt.Errorf("%w: rebuild func is nil", apperr.ErrInvalid)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{path: abs, debounce: debounce, rebuild: rebuild}, nil
}

// Run watches the document's directory until ctx is done. Editors often
// replace files by rename, so the directory is watched rather than the file.
func (w *Watcher) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx).With(zap.String("document", w.path))
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	logger.Info("watching document for changes", zap.Duration("debounce", w.debounce))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			logger.Debug("document event", zap.String("op", ev.Op.String()))
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", zap.Error(err))
		case <-timer.C:
			err := w.rebuild(ctx)
			switch {
			case err == nil:
				logger.Info("index rebuilt after document change")
			case errors.Is(err, apperr.ErrBusy):
				logger.Info("build already running, retrying later")
				timer.Reset(w.debounce)
			default:
				logger.Error("rebuild after document change failed", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	return name == w.path
}
