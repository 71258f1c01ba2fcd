package workflow

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch runs the pipeline once, then re-runs it whenever the pages directory
// has been quiet for the configured debounce after a change. It returns when
// the context is cancelled. Failed runs are logged and watching continues.
func (e *Engine) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the tree, not just the root: fsnotify is not recursive.
	err = filepath.WalkDir(e.cfg.PagesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.runAndLog(ctx)

	debounce := time.NewTimer(e.cfg.Watch.Debounce)
	stopTimer(debounce)
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						e.logger.Warn("workflow: watch new directory", "path", ev.Name, "error", err)
					}
				}
			}
			e.logger.Debug("workflow: pages changed", "path", ev.Name, "op", ev.Op.String())
			stopTimer(debounce)
			debounce.Reset(e.cfg.Watch.Debounce)

		case <-debounce.C:
			e.runAndLog(ctx)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("workflow: watcher error", "error", err)
		}
	}
}

// stopTimer leaves the timer stopped with its channel drained, safe to
// Reset.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func (e *Engine) runAndLog(ctx context.Context) {
	if _, err := e.Run(ctx); err != nil {
		e.logger.Error("workflow: run failed", "error", err)
	}
}
