// Package watcher observes the project source directories and turns file
// system events into rebuild triggers, passing every matching event through
// a Gate.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/trafficlight/internal/config"
	"github.com/conneroisu/trafficlight/internal/logging"
)

// Subscription selects the files of one directory that trigger rebuilds.
// Patterns are matched against the base name with filepath.Match.
type Subscription struct {
	Dir       string
	Recursive bool
	Patterns  []string
}

// Matches reports whether path belongs to the subscription.
func (s Subscription) Matches(path string) bool {
	rel, err := filepath.Rel(s.Dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	if !s.Recursive && strings.ContainsRune(rel, filepath.Separator) {
		return false
	}

	base := filepath.Base(path)
	for _, pattern := range s.Patterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}

	return false
}

// DefaultSubscriptions returns the subscriptions covering every build input.
// Compiled catalogs are written by the build itself and are left out.
func DefaultSubscriptions(inputs config.InputsConfig) []Subscription {
	return []Subscription{
		{Dir: inputs.Styles, Recursive: true, Patterns: []string{"*.*"}},
		{Dir: inputs.Templates, Recursive: true, Patterns: []string{"*.*"}},
		{Dir: inputs.Assets, Recursive: true, Patterns: []string{"*.*"}},
		{Dir: inputs.Data, Patterns: []string{"*.json"}},
		{Dir: inputs.Locales, Recursive: true, Patterns: []string{"*.yaml"}},
	}
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// ChangeHandler handles file change events
type ChangeHandler func(ctx context.Context, events []ChangeEvent) error

// FileWatcher watches the subscribed directories and runs its handlers when
// the gate fires. Handlers run on the goroutine calling Run, one batch at a
// time.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	gate    Gate
	logger  logging.Logger

	mutex    sync.RWMutex
	subs     []Subscription
	filters  []FileFilter
	handlers []ChangeHandler
}

// NewFileWatcher creates a new file watcher
func NewFileWatcher(gate Gate, logger logging.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &FileWatcher{
		watcher: watcher,
		gate:    gate,
		logger:  logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// Subscribe starts watching sub. A missing directory is skipped with a
// warning so a project without assets can still be watched.
func (fw *FileWatcher) Subscribe(sub Subscription) error {
	sub.Dir = filepath.Clean(sub.Dir)

	info, err := os.Stat(sub.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		fw.logger.Warn(context.Background(), err, "Skipping missing directory", "dir", sub.Dir)
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", sub.Dir)
	}

	if sub.Recursive {
		err = fw.addTree(sub.Dir)
	} else {
		err = fw.watcher.Add(sub.Dir)
	}
	if err != nil {
		return fmt.Errorf("watching %s: %w", sub.Dir, err)
	}

	fw.mutex.Lock()
	fw.subs = append(fw.subs, sub)
	fw.mutex.Unlock()

	fw.logger.Debug(context.Background(), "Subscribed", "dir", sub.Dir, "recursive", sub.Recursive, "patterns", sub.Patterns)

	return nil
}

// addTree adds root and every directory below it.
func (fw *FileWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.watcher.Add(path)
		}
		return nil
	})
}

// Run processes events until ctx is cancelled, then closes the underlying
// watcher.
func (fw *FileWatcher) Run(ctx context.Context) error {
	defer fw.gate.Stop()
	defer fw.watcher.Close()

	fw.logger.Info(ctx, "Watching for changes")

	for {
		select {
		case <-ctx.Done():
			fw.logger.Info(ctx, "Stopped watching")
			return nil
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		case batch := <-fw.gate.C():
			fw.dispatch(ctx, batch)
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	info, statErr := os.Stat(event.Name)

	fw.mutex.RLock()
	subs := fw.subs
	filters := fw.filters
	fw.mutex.RUnlock()

	if statErr == nil && info.IsDir() && event.Has(fsnotify.Create) {
		fw.watchNewDir(ctx, subs, event.Name)
		return
	}

	if !matchesAny(subs, event.Name) {
		return
	}
	for _, filter := range filters {
		if !filter(event.Name) {
			return
		}
	}

	change := ChangeEvent{Type: eventType(event.Op), Path: event.Name}
	if statErr == nil {
		change.ModTime = info.ModTime()
		change.Size = info.Size()
	}

	fw.logger.Debug(ctx, "File changed", "path", change.Path, "type", change.Type)

	if batch, fire := fw.gate.Add(change); fire {
		fw.dispatch(ctx, batch)
	}
}

// watchNewDir adds a directory created inside a recursive subscription.
func (fw *FileWatcher) watchNewDir(ctx context.Context, subs []Subscription, dir string) {
	for _, sub := range subs {
		if !sub.Recursive {
			continue
		}
		rel, err := filepath.Rel(sub.Dir, dir)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		if err := fw.addTree(dir); err != nil {
			fw.logger.Warn(ctx, err, "Watching new directory failed", "dir", dir)
		}
		return
	}
}

func (fw *FileWatcher) dispatch(ctx context.Context, events []ChangeEvent) {
	fw.mutex.RLock()
	handlers := fw.handlers
	fw.mutex.RUnlock()

	fw.logger.Info(ctx, "Changes detected", "events", len(events), "first", events[0].Path)

	for _, handler := range handlers {
		if err := handler(ctx, events); err != nil {
			fw.logger.Warn(ctx, err, "File watcher handler error")
		}
	}
}

func matchesAny(subs []Subscription, path string) bool {
	for _, sub := range subs {
		if sub.Matches(path) {
			return true
		}
	}
	return false
}

func eventType(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Write):
		return EventTypeModified
	case op.Has(fsnotify.Remove):
		return EventTypeDeleted
	case op.Has(fsnotify.Rename):
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

// NoHiddenFilter rejects dot files such as editor lock files.
func NoHiddenFilter(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}

// NoBackupFilter rejects editor backup and swap files.
func NoBackupFilter(path string) bool {
	base := filepath.Base(path)
	return !strings.HasSuffix(base, "~") && !strings.HasSuffix(base, ".swp") && !strings.HasSuffix(base, ".tmp")
}

// WriteLog remembers files written by the build itself. Its Filter drops
// events for such a file while its modification time is still the recorded
// one, so a later edit of the same file passes.
type WriteLog struct {
	mutex sync.Mutex
	files map[string]time.Time
}

// NewWriteLog creates an empty write log.
func NewWriteLog() *WriteLog {
	return &WriteLog{files: make(map[string]time.Time)}
}

// Record stores the current modification time of every path.
func (w *WriteLog) Record(paths ...string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.files, filepath.Clean(path))
			continue
		}
		w.files[filepath.Clean(path)] = info.ModTime()
	}
}

// Filter is a FileFilter rejecting unchanged recorded files.
func (w *WriteLog) Filter(path string) bool {
	path = filepath.Clean(path)

	w.mutex.Lock()
	recorded, ok := w.files[path]
	w.mutex.Unlock()
	if !ok {
		return true
	}

	info, err := os.Stat(path)
	return err != nil || !info.ModTime().Equal(recorded)
}
