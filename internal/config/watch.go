package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher hot-reloads the tunables section of a config file and hands each
// valid new snapshot to the apply callback. Sizing changes in the file are
// ignored: generation sizes are fixed at heap construction.
type Watcher struct {
	w    *fsnotify.Watcher
	path string
	done chan struct{}
}

// Watch starts watching path. apply runs on the watcher goroutine for
// every successful reload; parse failures are reported through onErr and
// leave the previous tunables in force.
func Watch(path string, apply func(Tunables), onErr func(error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watching %s: %w", path, err)
	}

	w := &Watcher{w: fw, path: path, done: make(chan struct{})}
	go w.loop(apply, onErr)
	return w, nil
}

func (w *Watcher) loop(apply func(Tunables), onErr func(error)) {
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			t, err := loadTunables(w.path)
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			apply(t)
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			if onErr != nil {
				onErr(err)
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.w.Close()
}

func loadTunables(path string) (Tunables, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Tunables{}, fmt.Errorf("config: reload %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Tunables{}, fmt.Errorf("config: reload unmarshal: %w", err)
	}
	if cfg.Tunables.TenureAge == 0 {
		cfg.Tunables.TenureAge = 1
	}
	return cfg.Tunables, nil
}
