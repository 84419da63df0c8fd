package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultPollInterval = 2 * time.Second

// Watcher observes one key of a durable store and reports every new value.
// File-system events on the database directory trigger a re-read; a ticker
// covers platforms and filesystems where events are not delivered.
type Watcher struct {
	kv       KV
	key      string
	path     string
	interval time.Duration

	mu       sync.Mutex
	primed   bool
	last     string
	handlers []func(value string)
}

type WatcherOptions struct {
	// Path is the database file. Empty disables file-system notifications.
	Path         string
	PollInterval time.Duration
}

func NewWatcher(kv KV, key string, opts WatcherOptions) *Watcher {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Watcher{
		kv:       kv,
		key:      key,
		path:     opts.Path,
		interval: interval,
	}
}

// Subscribe registers fn for every value change observed after the baseline.
func (w *Watcher) Subscribe(fn func(value string)) {
	w.mu.Lock()
	w.handlers = append(w.handlers, fn)
	w.mu.Unlock()
}

// Prime records the current value as the baseline without notifying.
// Values present before Prime are never reported.
func (w *Watcher) Prime(ctx context.Context) error {
	value, err := Lookup(ctx, w.kv, w.key)
	if err != nil {
		return fmt.Errorf("prime watcher for %s: %w", w.key, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.primed {
		w.last = value
		w.primed = true
	}
	return nil
}

// Observe records value as seen, so a write made by this process is not
// reported back to it.
func (w *Watcher) Observe(value string) {
	w.mu.Lock()
	w.last = value
	w.primed = true
	w.mu.Unlock()
}

// Check reads the key once and notifies subscribers if it holds a new,
// non-empty value. The first Check on an unprimed watcher only primes it.
func (w *Watcher) Check(ctx context.Context) error {
	value, err := Lookup(ctx, w.kv, w.key)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.key, err)
	}

	w.mu.Lock()
	if !w.primed {
		w.primed = true
		w.last = value
		w.mu.Unlock()
		return nil
	}
	if value == "" || value == w.last {
		w.mu.Unlock()
		return nil
	}
	w.last = value
	handlers := append([]func(string){}, w.handlers...)
	w.mu.Unlock()

	for _, fn := range handlers {
		fn(value)
	}
	return nil
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Prime(ctx); err != nil {
		return err
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.path != "" && w.path != ":memory:" {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn().Err(err).Msg("[Watcher] file notifications unavailable, polling only")
		} else {
			defer fsw.Close()
			if err := fsw.Add(filepath.Dir(w.path)); err != nil {
				log.Warn().Err(err).Str("path", w.path).Msg("[Watcher] failed to watch directory, polling only")
			} else {
				events = fsw.Events
				errs = fsw.Errors
			}
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	base := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !strings.HasPrefix(filepath.Base(event.Name), base) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) {
				continue
			}
			w.check(ctx)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn().Err(err).Msg("[Watcher] file notification error")
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	if err := w.Check(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("key", w.key).Msg("[Watcher] check failed")
	}
}
