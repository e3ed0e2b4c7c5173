package config

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads configuration when the .env file changes. Only variables
// that originally came from the file are updated; values set in the process
// environment keep priority.
type Watcher struct {
	path      string
	overrides Overrides
	onChange  func(*Config)
	log       zerolog.Logger

	mu       sync.Mutex
	fileKeys map[string]bool
	timer    *time.Timer

	watcher  *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for cfg.EnvFile. onChange receives each
// successfully reloaded config.
func NewWatcher(cfg *Config, overrides Overrides, onChange func(*Config), log zerolog.Logger) *Watcher {
	keys := make(map[string]bool, len(cfg.FileKeys))
	for _, k := range cfg.FileKeys {
		keys[k] = true
	}
	return &Watcher{
		path:      cfg.EnvFile,
		overrides: overrides,
		onChange:  onChange,
		log:       log.With().Str("component", "config-watcher").Logger(),
		fileKeys:  keys,
		stop:      make(chan struct{}),
	}
}

// Start watches the directory holding the env file, since editors often
// replace the file instead of writing it in place.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw
	go w.loop()
	w.log.Info().Str("path", w.path).Msg("watching env file for changes")
	return nil
}

// Stop ends the watch loop.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.watcher != nil {
			w.watcher.Close()
		}
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) loop() {
	target := filepath.Clean(w.path)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// schedule coalesces bursts of events into one reload.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(reloadDebounce)
		return
	}
	w.timer = time.AfterFunc(reloadDebounce, func() {
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()
		w.reload()
	})
}

func (w *Watcher) reload() {
	vals, err := godotenv.Read(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("env file unreadable, keeping current config")
		return
	}

	w.mu.Lock()
	var changed []string
	for k, v := range vals {
		_, inEnv := os.LookupEnv(k)
		if !w.fileKeys[k] && inEnv {
			continue
		}
		if cur, _ := os.LookupEnv(k); cur != v || !inEnv {
			changed = append(changed, k)
		}
		os.Setenv(k, v)
		w.fileKeys[k] = true
	}
	for k := range w.fileKeys {
		if _, ok := vals[k]; !ok {
			os.Unsetenv(k)
			delete(w.fileKeys, k)
			changed = append(changed, k)
		}
	}
	keys := make([]string, 0, len(w.fileKeys))
	for k := range w.fileKeys {
		keys = append(keys, k)
	}
	w.mu.Unlock()
	sort.Strings(keys)
	sort.Strings(changed)

	cfg, err := Load(w.overrides)
	if err != nil {
		w.log.Error().Err(err).Msg("reloaded config is invalid, keeping current config")
		return
	}
	cfg.EnvFile = w.path
	cfg.FileKeys = keys

	// Only key names are logged; values may be secrets.
	w.log.Info().Strs("changed", changed).Msg("configuration reloaded")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
