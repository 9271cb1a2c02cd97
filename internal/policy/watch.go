// ABOUTME: fsnotify watcher that hot-reloads the policy file on change.
// ABOUTME: Reload failures keep the previous policy and are logged.

package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the policy whenever the file at path changes, until the
// context is canceled. It watches the parent directory so atomic
// rename-into-place writes (the common editor and configuration-management
// pattern) are picked up.
func (p *Policy) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	log := logger.With("component", "policy", "path", path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if err := p.Reload(path); err != nil {
					log.Warn("policy reload failed, keeping previous policy", "error", err)
					continue
				}
				log.Info("policy reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("policy watcher error", "error", err)
			}
		}
	}()
	return nil
}
