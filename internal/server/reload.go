package server

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the Reloader waits after the last write.
const DefaultDebounce = 500 * time.Millisecond

// Reloader watches policy and denylist files for changes and triggers hot-reload.
type Reloader struct {
	watcher  *fsnotify.Watcher
	server   *Server
	paths    []string
	debounce time.Duration
	reloaded chan error
}

// NewReloader creates a file watcher for the given paths. Missing files
// are skipped.
func NewReloader(server *Server, paths []string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	var watched []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", p, err)
		}
		watched = append(watched, p)
	}

	return &Reloader{
		watcher:  watcher,
		server:   server,
		paths:    watched,
		debounce: DefaultDebounce,
	}, nil
}

// Paths returns the files being watched.
func (r *Reloader) Paths() []string { return r.paths }

// Run watches for file changes and reloads policy. Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer
	log := r.server.logger

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			// Editors that replace files drop the watch; re-add on create.
			if event.Has(fsnotify.Create) {
				_ = r.watcher.Add(event.Name)
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(r.debounce, func() {
					err := r.server.ReloadPolicy()
					if err != nil {
						log.Warn("hot-reload failed", zap.Error(err))
					} else {
						log.Info("hot-reload: policy reloaded", zap.String("policy_hash", r.server.PolicyHash()))
					}
					select {
					case r.reloaded <- err:
					default:
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("file watcher error", zap.Error(err))
		}
	}
}
