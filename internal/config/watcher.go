package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher notifies when the config file on disk changes. Bursts of file
// system events collapse into a single notification per debounce interval.
type Watcher struct {
	fsw      *fsnotify.Watcher
	path     string
	debounce time.Duration
	signal   chan struct{}
	quit     chan struct{}
}

// WatcherConfig holds watcher configuration options.
type WatcherConfig struct {
	ConfigPath  string
	DebounceDur time.Duration
}

// DefaultWatcherConfig returns sensible defaults for the watcher.
func DefaultWatcherConfig(configPath string) WatcherConfig {
	return WatcherConfig{
		ConfigPath:  configPath,
		DebounceDur: 1 * time.Second,
	}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsw:      fsw,
		path:     cfg.ConfigPath,
		debounce: cfg.DebounceDur,
		signal:   make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}, nil
}

// Start begins watching and returns the notification channel. The watch is
// placed on the containing directory rather than the file itself, because
// editors replace files on save and a watch on the old inode goes stale.
func (w *Watcher) Start() (<-chan struct{}, error) {
	dir := filepath.Dir(w.path)
	if err := w.fsw.Add(dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	go w.run()

	return w.signal, nil
}

// Stop terminates the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.quit)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.matches(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case <-fire:
			timer = nil
			fire = nil
			select {
			case w.signal <- struct{}{}:
			default:
				// A notification is already pending; coalesce.
			}

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Keep watching on errors. Callers can wrap the watcher if they
			// need error visibility.

		case <-w.quit:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// matches reports whether the event concerns the watched file. Write, create
// and rename cover in-place edits as well as atomic replaces.
func (w *Watcher) matches(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Base(event.Name) == filepath.Base(w.path)
}
