package filestore

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// MoveCallback receives the store-relative destination path of a file that
// was moved into the tree.
type MoveCallback func(path string)

// moveWatcher wraps fsnotify with recursive directory registration and a
// single dispatcher goroutine so callbacks are serialized.
type moveWatcher struct {
	store     *Store
	watcher   *fsnotify.Watcher
	events    chan string
	done      chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	callbacks []MoveCallback
}

// WatchMoves registers a callback fired for every file moved into the tree.
// Renames within the tree (including the store's own atomic writes) count as
// moves. The first call starts the watcher; callbacks are invoked one at a
// time on a single dispatcher goroutine.
func (s *Store) WatchMoves(cb MoveCallback) error {
	if s.watcher == nil {
		w, err := newMoveWatcher(s)
		if err != nil {
			return err
		}
		s.watcher = w
	}
	s.watcher.addCallback(cb)
	return nil
}

// CloseWatcher stops move watching and waits for in-flight callbacks.
func (s *Store) CloseWatcher() {
	if s.watcher != nil {
		s.watcher.close()
		s.watcher = nil
	}
}

func newMoveWatcher(s *Store) (*moveWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	mw := &moveWatcher{
		store:   s,
		watcher: fw,
		events:  make(chan string, 256),
		done:    make(chan struct{}),
	}
	if err := mw.watchTree(s.root); err != nil {
		fw.Close()
		return nil, err
	}
	mw.wg.Add(2)
	go mw.collect()
	go mw.dispatch()
	return mw, nil
}

func (mw *moveWatcher) addCallback(cb MoveCallback) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.callbacks = append(mw.callbacks, cb)
}

// watchTree registers path and every directory below it.
func (mw *moveWatcher) watchTree(path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Directory vanished mid-walk; skip.
		}
		if d.IsDir() {
			return mw.watcher.Add(p)
		}
		return nil
	})
}

// collect turns raw fsnotify events into relative file paths on mw.events.
func (mw *moveWatcher) collect() {
	defer mw.wg.Done()
	for {
		select {
		case <-mw.done:
			return
		case event, ok := <-mw.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				// New directories must be watched for nested moves.
				if err := mw.watchTree(event.Name); err != nil {
					slog.Warn("Failed to watch new directory", "path", event.Name, "error", err)
				}
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), "~") {
				continue // In-flight temp file from an atomic write.
			}
			rel, err := filepath.Rel(mw.store.root, event.Name)
			if err != nil {
				continue
			}
			select {
			case mw.events <- filepath.ToSlash(rel):
			case <-mw.done:
				return
			}
		case err, ok := <-mw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("File watcher error", "error", err)
		}
	}
}

// dispatch serializes callback invocations.
func (mw *moveWatcher) dispatch() {
	defer mw.wg.Done()
	for {
		select {
		case <-mw.done:
			return
		case path := <-mw.events:
			mw.mu.Lock()
			cbs := append([]MoveCallback(nil), mw.callbacks...)
			mw.mu.Unlock()
			for _, cb := range cbs {
				cb(path)
			}
		}
	}
}

func (mw *moveWatcher) close() {
	close(mw.done)
	mw.watcher.Close()
	mw.wg.Wait()
}
