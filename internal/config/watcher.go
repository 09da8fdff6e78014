package config

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a file's modification time and fires a callback when
// it changes. Used to hot-reload the tool manifest without a restart.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	onChange func()
	stop     chan struct{}
	once     sync.Once
	lastMod  time.Time
}

// NewWatcher creates a file watcher that polls for changes.
func NewWatcher(path string, interval time.Duration, logger *slog.Logger, onChange func()) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		path:     path,
		interval: interval,
		logger:   logger.With("component", "watcher"),
		onChange: onChange,
		stop:     make(chan struct{}),
	}
}

// Start begins polling in a goroutine.
func (w *Watcher) Start() {
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}

	go w.poll()
	w.logger.Info("file watcher started", "path", w.path, "interval", w.interval)
}

// Stop halts polling. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("cannot stat watched file", "path", w.path, "error", err)
		return
	}

	if mod := info.ModTime(); mod.After(w.lastMod) {
		w.lastMod = mod
		w.logger.Info("watched file changed", "path", w.path)
		if w.onChange != nil {
			w.onChange()
		}
	}
}
