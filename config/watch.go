package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 100 * time.Millisecond

// WatchLimits calls onChange with the new limits every time the file at
// path is rewritten with valid limits. It blocks until ctx is done.
// The parent directory is watched so that editors replacing the file
// by rename are seen too.
func WatchLimits(ctx context.Context, path string, base Limits, changed map[string]bool, onChange func(Limits)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				debounce = time.After(watchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("path", abs).Msg("Config watcher: fsnotify error")

		case <-debounce:
			debounce = nil
			limits, err := LoadLimits(abs, base, changed)
			if err != nil {
				log.Warn().Err(err).Str("path", abs).Msg("Config watcher: ignoring invalid limits")
				continue
			}
			log.Info().
				Float64("messages_per_second", limits.MessagesPerSecond).
				Int("message_burst", limits.MessageBurst).
				Float64("strokes_per_second", limits.StrokesPerSecond).
				Int("stroke_burst", limits.StrokeBurst).
				Msg("Config watcher: limits reloaded")
			onChange(limits)
		}
	}
}
