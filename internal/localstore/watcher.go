package localstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// debounceInterval is how often pending events are checked, batching
	// rapid writes into a single notification per document.
	debounceInterval = 500 * time.Millisecond

	// quietPeriod is how long a document must go without events before
	// it is reported.
	quietPeriod = 300 * time.Millisecond
)

// Watch reports changed documents to onChange until ctx is cancelled.
// Writes made through Put are not reported. Deletions are logged only;
// they are not propagated to the remote.
func (s *Store) Watch(ctx context.Context, onChange func(name string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}

	s.logger.Info("file watcher started", slog.String("dir", s.dir))

	pending := make(map[string]time.Time)

	ticker := time.NewTicker(debounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			name, ok := nameFromFile(filepath.Base(event.Name))
			if !ok {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[name] = time.Now()
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, name)
				s.logger.Debug("local document removed, not propagated", slog.String("name", name))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			s.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for name, t := range pending {
				if now.Sub(t) < quietPeriod {
					continue
				}

				delete(pending, name)
				s.handleWrite(name, onChange)
			}
		}
	}
}

func (s *Store) handleWrite(name string, onChange func(string)) {
	path := filepath.Join(s.dir, name+Ext)

	s.mu.RLock()
	info, err := os.Lstat(path)

	var content []byte
	if err == nil && info.Mode().IsRegular() {
		content, err = os.ReadFile(path) //nolint:gosec // G304: path built from a validated directory entry
	}
	s.mu.RUnlock()

	if errors.Is(err, fs.ErrNotExist) {
		return
	}

	if err != nil {
		s.logger.Warn("reading changed document", slog.String("name", name), slog.String("error", err.Error()))
		return
	}

	if !info.Mode().IsRegular() {
		return
	}

	if s.consumeEcho(name, content) {
		s.logger.Debug("ignoring own write", slog.String("name", name))
		return
	}

	s.logger.Debug("local document changed", slog.String("name", name))
	onChange(name)
}
