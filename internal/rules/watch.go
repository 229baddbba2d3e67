package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/issueflow/internal/logging"
	"go.uber.org/zap"
)

// Watcher reloads a rule directory after its rule files change. Bursts of
// events within the debounce window produce one reload. A directory that fails
// to load is reported and the previous rules stay in effect.
type Watcher struct {
	dir      string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *logging.Logger
	onLoad   func([]*File)

	stop chan struct{}
	done chan struct{}
}

// NewWatcher creates a watcher for dir. onLoad receives every successful
// reload.
func NewWatcher(dir string, debounce time.Duration, logger *logging.Logger, onLoad func([]*File)) (*Watcher, error) {
	if onLoad == nil {
		return nil, fmt.Errorf("onLoad callback is required")
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create rules watcher: %w", err)
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		watcher:  w,
		logger:   logger.Named("rules"),
		onLoad:   onLoad,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine. Call Stop to release the
// watcher.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	go w.processEvents(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
	<-w.done
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

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
			if !isRuleFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Trace(ctx, "rule file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "rules watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	files, err := LoadDir(w.dir)
	if err != nil {
		w.logger.Error(ctx, "rules reload failed, keeping previous rules", zap.Error(err))
		return
	}
	w.logger.Info(ctx, "rules reloaded", zap.String("dir", w.dir), zap.Int("files", len(files)))
	w.onLoad(files)
}
