package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/charlesng35/governor/pkg/logger"
)

// DefaultDebounce is how long the watcher waits after the last filesystem
// event before triggering a rescan. Editors fire bursts of events per save.
const DefaultDebounce = 500 * time.Millisecond

// Watch observes the scanner's roots and invokes onChange after each settled
// burst of filesystem events. Excluded directories are not watched, and
// directories created while watching are added on the fly. Watch blocks
// until ctx is done.
func (s *Scanner) Watch(ctx context.Context, debounce time.Duration, onChange func(context.Context)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, root := range s.cfg.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		if err := s.addWatchRecursive(watcher, abs); err != nil {
			return err
		}
	}

	log := logger.WithModule("scanner.watch")
	log.Info("watching for source changes", zap.Strings("roots", s.cfg.Roots), zap.Duration("debounce", debounce))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if s.excludedPath(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := s.addWatchRecursive(watcher, ev.Name); err != nil {
						log.Warn("cannot watch new directory", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				log.Debug("source change settled, rescanning")
				onChange(ctx)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", zap.Error(err))
		}
	}
}

func (s *Scanner) addWatchRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, skip := s.excludes[d.Name()]; skip && path != root {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// excludedPath reports whether an event path sits under an excluded
// directory.
func (s *Scanner) excludedPath(path string) bool {
	for _, part := range strings.Split(filepath.Clean(path), string(filepath.Separator)) {
		if _, skip := s.excludes[part]; skip {
			return true
		}
	}
	return false
}
