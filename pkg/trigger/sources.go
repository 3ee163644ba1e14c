package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDir submits a filesystem event whenever a PDF is created or written
// directly inside dir. Subdirectories are not watched.
func WatchDir(ctx context.Context, dir string, q *Queue, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Info("watching document directory", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isDocumentChange(ev) {
				continue
			}
			if !q.Submit(Event{Source: SourceFilesystem, Path: ev.Name}) {
				logger.Debug("trigger queue full, change folded into pending cycle", "path", ev.Name)
				continue
			}
			logger.Info("document change detected", "path", ev.Name, "op", ev.Op.String())
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

func isDocumentChange(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	if !strings.EqualFold(filepath.Ext(ev.Name), ".pdf") {
		return false
	}
	info, err := os.Stat(ev.Name)
	return err == nil && !info.IsDir()
}

// Tick submits a timer event every interval until ctx is cancelled.
func Tick(ctx context.Context, interval time.Duration, q *Queue, logger *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("periodic check enabled", "interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !q.Submit(Event{Source: SourceTimer}) {
				logger.Debug("trigger queue full, skipping periodic check")
			}
		}
	}
}
