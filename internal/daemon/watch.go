package daemon

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchConfig signals reloadCh when the config file is written or replaced.
// The directory is watched since editors often replace files on save.
func (s *Service) watchConfig(ctx context.Context, reloadCh chan<- struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("config watch unavailable", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = watcher.Close() }()

	path := filepath.Clean(s.cfg.ConfigPath)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		s.logger.Warn("config watch unavailable", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			select {
			case reloadCh <- struct{}{}:
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("config watch error", slog.String("error", err.Error()))
		}
	}
}
