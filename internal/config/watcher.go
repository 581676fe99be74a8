package config

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a config file on disk and hands a freshly validated
// Config to OnReload whenever it changes. An invalid replacement is
// logged and discarded; the previously loaded Config keeps running.
type Watcher struct {
	path     string
	OnReload func(*Config)
}

// NewWatcher builds a Watcher for the given path. Call Start to begin
// watching.
func NewWatcher(path string, onReload func(*Config)) *Watcher {
	return &Watcher{path: path, OnReload: onReload}
}

// Start watches the config file for writes, falling back to 60-second
// polling if the fsnotify watch itself cannot be established (e.g. the
// file doesn't exist yet at startup).
func (w *Watcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false
	if err != nil {
		log.Printf("[WARN] config watcher: fsnotify init failed (%v), falling back to polling", err)
		usePolling = true
	} else if addErr := watcher.Add(w.path); addErr != nil {
		log.Printf("[WARN] config watcher: could not watch %s (%v), falling back to polling", w.path, addErr)
		usePolling = true
		watcher.Close()
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
						time.Sleep(100 * time.Millisecond)
						w.reload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[ERROR] config watcher: %v", err)
				}
			}
		}()
		return
	}

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.reload()
			}
		}
	}()
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Printf("[ERROR] config watcher: reload of %s rejected, keeping previous config: %v", w.path, err)
		return
	}
	if w.OnReload != nil {
		w.OnReload(cfg)
	}
}
