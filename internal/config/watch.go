package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it changes on disk and calls onChange
// with every configuration that loads and validates. It blocks until ctx is done.
//
// The parent directory is watched rather than the file so that editors which
// replace the file through a rename are still picked up.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("watch config dir %s: %w", filepath.Dir(absPath), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			absEvent, _ := filepath.Abs(event.Name)
			if absEvent != absPath || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			slog.Debug("Config file changed", "path", path, "op", event.Op.String())
			cfg, err := Load(path)
			if err != nil {
				slog.Warn("Fail reload config, keeping previous", "path", path, "error", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				slog.Warn("Reloaded config invalid, keeping previous", "path", path, "error", err)
				continue
			}
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Config watcher error", "error", err)
		}
	}
}
