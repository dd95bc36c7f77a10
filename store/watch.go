package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDelay coalesces the burst of events a single rename produces.
const reloadDelay = 100 * time.Millisecond

// Watch reloads the model whenever another process replaces the model file.
// It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return errors.New("watch requires a model path")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(s.path)
	timer := time.NewTimer(reloadDelay)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(reloadDelay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("model watcher error", zap.Error(err))
		case <-timer.C:
			if err := s.reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("model reload failed", zap.String("path", s.path), zap.Error(err))
			}
		}
	}
}
