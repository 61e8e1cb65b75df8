package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"keeper/internal/policy/models"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher recompiles the policy file when it changes on disk and hands each
// valid model to onReload. Invalid documents are logged and ignored so the
// model in force stays the last one that loaded cleanly.
type Watcher struct {
	path     string
	onReload func(*models.Model)
	logger   *slog.Logger
	debounce time.Duration
}

type WatcherOption func(*Watcher)

func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func NewWatcher(path string, onReload func(*models.Model), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:     filepath.Clean(path),
		onReload: onReload,
		logger:   slog.Default(),
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled. The parent directory is watched rather
// than the file so editors that replace the file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "policy watcher error", "error", err)
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	model, err := Load(w.path)
	if err != nil {
		w.logger.ErrorContext(ctx, "policy reload rejected; keeping previous policy",
			"path", w.path,
			"error", err,
		)
		return
	}
	w.onReload(model)
	w.logger.InfoContext(ctx, "policy reloaded",
		"path", w.path,
		"entity_types", len(model.EntityTypeNames()),
	)
}
