package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/modset/internal/logfields"
)

// Watcher monitors the workspace for descriptor changes and triggers a
// debounced rescan callback. Watching directories rather than the files
// themselves survives editors that write via rename.
type Watcher struct {
	workspace    string
	pattern      string
	excludes     []string
	onChange     func(ctx context.Context)
	watcher      *fsnotify.Watcher
	mu           sync.Mutex
	stopChan     chan struct{}
	rescanChan   chan struct{}
	debounceTime time.Duration
}

// NewWatcher creates a watcher over the same workspace, pattern, and
// excludes the scanner uses. onChange runs after the debounce window
// whenever a descriptor is written, created, removed, or renamed.
func NewWatcher(workspace, pattern string, excludes []string, onChange func(ctx context.Context)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("resolve workspace path: %w", err)
	}

	if pattern == "" {
		pattern = "ivy.xml"
	}
	return &Watcher{
		workspace:    absWorkspace,
		pattern:      pattern,
		excludes:     excludes,
		onChange:     onChange,
		watcher:      fsw,
		stopChan:     make(chan struct{}),
		rescanChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
	}, nil
}

// Start registers all workspace directories and begins monitoring.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.addDirs(); err != nil {
		return fmt.Errorf("watch workspace %s: %w", w.workspace, err)
	}

	slog.Info("Starting descriptor watcher", slog.String("workspace", w.workspace))
	go w.watchLoop(ctx)
	go w.rescanLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	slog.Info("Stopping descriptor watcher")
	close(w.stopChan)
	return w.watcher.Close()
}

// addDirs walks the workspace and watches every non-excluded directory.
// New module directories created later are picked up on Create events.
func (w *Watcher) addDirs() error {
	excluded := func(name string) bool {
		for _, pattern := range w.excludes {
			if ok, err := filepath.Match(pattern, name); err == nil && ok {
				return true
			}
		}
		return false
	}

	return filepath.WalkDir(w.workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.workspace && excluded(d.Name()) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Descriptor watcher error", logfields.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// A freshly created directory may hold a descriptor; watch it and
	// rescan to be safe.
	if event.Op&fsnotify.Create == fsnotify.Create {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			_ = w.watcher.Add(event.Name)
			w.triggerRescan()
			return
		}
	}

	matched, err := filepath.Match(w.pattern, filepath.Base(event.Name))
	if err != nil || !matched {
		return
	}

	switch {
	case event.Op&fsnotify.Write == fsnotify.Write:
		slog.Debug("Descriptor write detected", logfields.Descriptor(event.Name))
		w.triggerRescan()
	case event.Op&fsnotify.Create == fsnotify.Create:
		slog.Debug("Descriptor create detected", logfields.Descriptor(event.Name))
		w.triggerRescan()
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		slog.Info("Descriptor removed", logfields.Descriptor(event.Name))
		w.triggerRescan()
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		slog.Debug("Descriptor rename detected", logfields.Descriptor(event.Name))
		w.triggerRescan()
	}
}

func (w *Watcher) rescanLoop(ctx context.Context) {
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.rescanChan:
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounceTime, func() {
				w.onChange(ctx)
			})
		}
	}
}

func (w *Watcher) triggerRescan() {
	select {
	case w.rescanChan <- struct{}{}:
	default:
		// Rescan already pending
	}
}
