package outputs

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"go2tv.app/screencastd/internal/core"
)

// reloadLag coalesces the burst of events editors produce for one save.
const reloadLag = 100 * time.Millisecond

// Watch reloads the profile at path whenever it changes and passes the new
// output set to onChange. Invalid profiles are logged and ignored. The
// directory is watched rather than the file so atomic replaces are seen.
func Watch(ctx context.Context, path string, log *slog.Logger, onChange func([]core.Output)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadLag)
				} else {
					timer.Reset(reloadLag)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if _, err := os.Stat(path); err != nil {
					// Moved away mid-replace or deleted; keep the current set.
					continue
				}
				outs, err := Load(path)
				if err != nil {
					log.Warn("output profile reload failed", slog.String("path", path), slog.String("error", err.Error()))
					continue
				}
				log.Info("output profile reloaded", slog.String("path", path), slog.Int("outputs", len(outs)))
				onChange(outs)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("output profile watcher", slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}
