package config

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// Watcher reloads the configuration file on change and notifies the
// registered callback. Only reload-safe settings (currently the log level)
// should be applied from the callback; everything else needs a restart.
type Watcher struct {
	path     string
	log      *telemetry.Logger
	onChange func(*Config)
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(path string, log *telemetry.Logger, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return &Watcher{
		path:     path,
		log:      log.NewComponentLogger("config-watcher"),
		onChange: onChange,
		watcher:  fw,
	}, nil
}

// Run blocks, delivering reloads until the context is cancelled. A config
// file that fails to parse or validate is logged and skipped; the previous
// configuration stays in effect.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.WithError(err).Warn("ignoring invalid config reload")
				continue
			}
			w.log.Info("configuration reloaded")
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("config watch error")
		}
	}
}
