package workflow

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadFunc is invoked with the changed definition file after debouncing.
type ReloadFunc func(path string)

// Watcher watches a directory of workflow definition files and invokes a
// reload callback when one changes, so long-lived drivers pick up edits
// without a restart. Rapid successive writes are coalesced.
type Watcher struct {
	dir           string
	reload        ReloadFunc
	watcher       *fsnotify.Watcher
	debounceDelay time.Duration
	logger        zerolog.Logger

	mu             sync.Mutex
	debounceTimers map[string]*time.Timer
}

// NewWatcher creates a watcher over dir. Only .yaml, .yml, and .json files
// trigger the callback. The default debounce delay is 100ms.
func NewWatcher(dir string, reload ReloadFunc, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		dir:            dir,
		reload:         reload,
		watcher:        fsw,
		debounceDelay:  100 * time.Millisecond,
		logger:         logger.With().Str("component", "workflow.watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}, nil
}

// Start begins watching. It blocks until the context is cancelled and should
// be run in its own goroutine:
//
//	go watcher.Start(ctx)
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		w.logger.Error().Err(err).Str("dir", w.dir).Msg("failed to watch workflow directory")
		return err
	}

	w.logger.Info().Str("dir", w.dir).Dur("debounce", w.debounceDelay).Msg("watching workflow definitions")

	defer func() {
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("error closing watcher")
		}
		w.logger.Info().Msg("stopped watching workflow definitions")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}

			if !isDefinitionFile(event.Name) {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				w.logger.Debug().Str("op", event.Op.String()).Str("file", event.Name).Msg("workflow definition changed")
				w.scheduleReload(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

// scheduleReload schedules a callback for path after the debounce delay,
// resetting any pending timer for the same file.
func (w *Watcher) scheduleReload(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.debounceTimers[path]; ok {
		timer.Stop()
	}

	w.debounceTimers[path] = time.AfterFunc(w.debounceDelay, func() {
		w.reload(path)
	})
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func isDefinitionFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
