package scheduler

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type fileWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// Watch triggers a reload whenever path is written, created or renamed into
// place. The parent directory is watched so that editors replacing the file
// atomically are picked up too. Stop also ends the watch.
func (s *Scheduler) Watch(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.watcher != nil {
		return fmt.Errorf("already watching")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	fw := &fileWatcher{watcher: w, done: make(chan struct{})}
	s.watcher = fw
	go s.watchEvents(fw, target)

	s.logger.Info("watching configuration file", zap.String("path", target))
	return nil
}

func (s *Scheduler) watchEvents(fw *fileWatcher, target string) {
	defer close(fw.done)

	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if s.Trigger() {
					s.logger.Debug("configuration file event", zap.Stringer("op", event.Op))
				}
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("configuration file watcher error", zap.Error(err))
		}
	}
}

func (fw *fileWatcher) close() {
	fw.once.Do(func() {
		_ = fw.watcher.Close()
	})
	<-fw.done
}
