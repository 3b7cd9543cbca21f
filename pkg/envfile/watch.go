package envfile

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Change describes one variable whose value differs between two snapshots.
// Added and Removed keys have an empty Old or New respectively.
type Change struct {
	Key     string
	Old     string
	New     string
	Added   bool
	Removed bool
}

// Diff compares two files key by key.
func Diff(before, after *File) []Change {
	oldValues := before.Values()
	newValues := after.Values()

	var changes []Change
	for k, nv := range newValues {
		ov, ok := oldValues[k]
		switch {
		case !ok:
			changes = append(changes, Change{Key: k, New: nv, Added: true})
		case ov != nv:
			changes = append(changes, Change{Key: k, Old: ov, New: nv})
		}
	}
	for k, ov := range oldValues {
		if _, ok := newValues[k]; !ok {
			changes = append(changes, Change{Key: k, Old: ov, Removed: true})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	return changes
}

// Watcher reports key-level changes made to an env file by other programs.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   zerolog.Logger
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		debounce: 300 * time.Millisecond,
		logger:   logger.With().Str("component", "envwatch").Str("path", path).Logger(),
	}
}

// Watch blocks until ctx is done, calling fn with the changes found after
// each burst of writes. The parent directory is watched so editors that
// replace the file on save are handled.
func (w *Watcher) Watch(ctx context.Context, fn func([]Change)) error {
	current, err := Load(w.path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	target := filepath.Clean(w.path)
	var settle <-chan time.Time

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
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug().Str("op", event.Op.String()).Msg("Env file event")
			settle = time.After(w.debounce)

		case <-settle:
			settle = nil
			next, err := Load(w.path)
			if err != nil {
				// The file may be mid-replacement; the next event retries.
				w.logger.Debug().Err(err).Msg("Env file not readable yet")
				continue
			}
			if changes := Diff(current, next); len(changes) > 0 {
				fn(changes)
			}
			current = next

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
