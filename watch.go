package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchConfig calls onChange with the reloaded config each time path is
// written or replaced. A config that fails to load is logged and skipped.
// It returns when ctx is done.
//
// The watch is on the parent directory so that atomic saves, which rename
// a temp file over path, keep being noticed.
func watchConfig(ctx context.Context, path string, onChange func(*Config)) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	slog.Info("watching config", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// a rename onto path shows up as a create
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := readConfig(path)
			if err != nil {
				slog.Error("config reload failed, keeping previous config", "path", path, "err", err)
				continue
			}
			slog.Info("config reloaded", "path", path)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config watcher error", "err", err)
		}
	}
}
