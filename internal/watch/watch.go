// Package watch monitors a fixed set of files and emits debounced change
// notifications. Bursts of filesystem activity within the debounce window
// coalesce into a single event carrying the set of changed paths.
//
// The watch set is fixed at construction. Inotify-style backends report
// events per directory, so the watcher registers parent directories and
// filters to the canonicalized file set; this also survives the
// rename-and-replace dance editors do on save. Events whose file content
// hash is unchanged are suppressed.
package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/blake3"
)

// Event is one coalesced change notification.
type Event struct {
	// Paths are the canonicalized files that changed within the debounce
	// window, in first-seen order, deduplicated.
	Paths []string
}

// Watcher watches a fixed set of files.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	watched  map[string]struct{}

	events chan Event
	errs   chan error
	done   chan struct{}

	closeOnce sync.Once

	// hashes is touched only by the run goroutine
	hashes map[string][32]byte
}

// New creates a watcher for the given file paths with the given debounce
// duration. Construction fails if the underlying watch subsystem cannot be
// set up or a parent directory cannot be registered.
func New(paths []string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		watched:  make(map[string]struct{}, len(paths)),
		events:   make(chan Event, 16),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		hashes:   make(map[string][32]byte, len(paths)),
	}

	dirs := make(map[string]struct{})
	for _, p := range paths {
		canonical := canonicalize(p)
		w.watched[canonical] = struct{}{}
		if sum, err := hashFile(canonical); err == nil {
			w.hashes[canonical] = sum
		}
		dirs[filepath.Dir(canonical)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	go w.run()
	return w, nil
}

// Events delivers coalesced change notifications.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors delivers at most one fatal watch-subsystem error. After an error
// the watcher no longer detects changes; the consumer decides whether to
// continue without hot reload or stop.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the watcher. Idempotent.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
	return nil
}

func canonicalize(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

func hashFile(path string) ([32]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(content), nil
}

// contentChanged reports whether the file's content hash differs from the
// last one seen, updating the stored hash. Unreadable files never count as
// changed.
func (w *Watcher) contentChanged(path string) bool {
	sum, err := hashFile(path)
	if err != nil {
		slog.Debug("skipping unreadable watched file", "path", path, "error", err)
		return false
	}
	if old, ok := w.hashes[path]; ok && old == sum {
		return false
	}
	w.hashes[path] = sum
	return true
}

func (w *Watcher) run() {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	var pending []string
	pendingSet := make(map[string]struct{})

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := canonicalize(ev.Name)
			if _, watched := w.watched[path]; !watched {
				continue
			}
			if !w.contentChanged(path) {
				continue
			}
			slog.Debug("watched file changed", "path", path)
			if _, dup := pendingSet[path]; !dup {
				pendingSet[path] = struct{}{}
				pending = append(pending, path)
			}
			// restart the quiet period
			if armed && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			armed = true

		case <-timer.C:
			armed = false
			if len(pending) == 0 {
				continue
			}
			paths := pending
			pending = nil
			pendingSet = make(map[string]struct{})
			select {
			case w.events <- Event{Paths: paths}:
			case <-w.done:
				return
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- fmt.Errorf("file watch failed: %w", err):
			default:
			}
			return

		case <-w.done:
			return
		}
	}
}
