package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch reloads the server configuration at path whenever the file is
// written and passes it to onChange. A reload that fails to load or
// validate is logged and the previous configuration stays in effect.
// Watch runs until ctx is cancelled.
func Watch(ctx context.Context, path string, logger zerolog.Logger, onChange func(*AppConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	logger.Info().Str("path", path).Msg("Watching config for changes")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// editors that save atomically show up as create
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := LoadAppConfig(path)
			if err != nil {
				logger.Error().Err(err).Str("path", path).Msg("Config reload failed, keeping previous config")
				continue
			}

			logger.Info().Str("path", path).Msg("Config reloaded")
			onChange(cfg)

			// the inode may have been replaced
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("Config watcher error")
		}
	}
}
