package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeListener receives the new configuration after a reload.
type ChangeListener func(*Config)

// Watcher keeps a live snapshot of the config file and notifies
// listeners when it changes on disk. Editors rewrite files with
// rename+create, so the parent directory is watched, not the file.
type Watcher struct {
	path string
	log  zerolog.Logger

	mu        sync.RWMutex
	current   *Config
	listeners []ChangeListener

	fw   *fsnotify.Watcher
	done chan struct{}
}

const reloadDebounce = 200 * time.Millisecond

// Watch loads path and starts watching it.
func Watch(path string, log zerolog.Logger) (*Watcher, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		log:     log.With().Str("component", "config").Logger(),
		current: cfg,
		fw:      fw,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Snapshot returns the current configuration.
func (w *Watcher) Snapshot() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers a listener and immediately delivers the current
// snapshot.
func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	cur := w.current
	w.mu.Unlock()
	fn(cur)
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) loop() {
	var timer *time.Timer
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			// collapse editor write bursts into one reload
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, w.reload)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFromFile(w.path)
	if err != nil {
		w.log.Error().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous")
		return
	}

	w.mu.Lock()
	w.current = cfg
	listeners := make([]ChangeListener, len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.log.Info().Str("path", w.path).Msg("config reloaded")
	for _, fn := range listeners {
		fn(cfg)
	}
}
