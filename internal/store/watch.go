package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events an editor produces on save.
const watchDebounce = 100 * time.Millisecond

// Watch calls fn with the reloaded configuration whenever the document is
// changed by someone other than this store. It blocks until ctx is done.
// When fn receives a non-nil error the configuration is the default and
// callers should keep what they have.
//
// The parent directory is watched rather than the file, because editors
// and Save itself replace the file by rename.
func (s *FileStore) Watch(ctx context.Context, fn func(Configuration, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close() //nolint:errcheck // shutdown path

	abs, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", s.path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(watchDebounce)

		case <-debounce.C:
			data, err := os.ReadFile(abs)
			if err != nil {
				if !os.IsNotExist(err) {
					fn(DefaultConfiguration(), fmt.Errorf("%w: reading %s: %v", ErrIO, s.path, err))
				}
				continue
			}
			if s.ownWrite(data) {
				continue
			}
			fn(decode(data))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fn(DefaultConfiguration(), fmt.Errorf("%w: watcher: %v", ErrIO, err))
		}
	}
}
