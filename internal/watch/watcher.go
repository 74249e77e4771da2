// Package watch reconverts USD scenes when they change on disk.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultPatterns match the scene files a conversion starts from
var DefaultPatterns = []string{"*.usda", "*.usd"}

// DefaultIgnored match editor swap, backup and lock files
var DefaultIgnored = []string{"*~", "*.swp", "*.swx", "*.tmp", "#*#", "4913"}

// DefaultDebounce groups the burst of events a single save produces
const DefaultDebounce = 200 * time.Millisecond

// Config configures a FileWatcher
type Config struct {
	// Dir is the root directory to watch
	Dir string
	// Recursive also watches subdirectories, including ones created later
	Recursive bool
	// Patterns select files by base name; empty means DefaultPatterns
	Patterns []string
	// Ignored exclude files by base name, in addition to hidden files
	Ignored []string
	// SkipDirs are not descended into, e.g. the conversion output directory
	SkipDirs []string
	Debounce time.Duration
	Logger   *zap.Logger
}

// ChangeFunc handles a batch of changed files, sorted by path
type ChangeFunc func(ctx context.Context, files []string) error

// FileWatcher monitors file system changes and triggers callbacks
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	config    Config
	logger    *zap.Logger
	onChange  ChangeFunc
	ctx       context.Context
	cancel    context.CancelFunc
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewFileWatcher creates a new file watcher instance
func NewFileWatcher(config Config, onChange ChangeFunc) (*FileWatcher, error) {
	if config.Dir == "" {
		config.Dir = "."
	}
	if len(config.Patterns) == 0 {
		config.Patterns = DefaultPatterns
	}
	if config.Ignored == nil {
		config.Ignored = DefaultIgnored
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	fw := &FileWatcher{
		watcher:   watcher,
		debouncer: NewDebouncer(config.Debounce),
		config:    config,
		logger:    logger,
		onChange:  onChange,
		ctx:       ctx,
		cancel:    cancel,
	}

	fw.debouncer.SetCallback(func(files []string) {
		if err := fw.onChange(fw.ctx, files); err != nil {
			fw.logger.Warn("handling scene changes failed", zap.Strings("files", files), zap.Error(err))
		}
	})

	return fw, nil
}

// Start begins watching the file system
func (fw *FileWatcher) Start() error {
	info, err := os.Stat(fw.config.Dir)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", fw.config.Dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("failed to watch %s: not a directory", fw.config.Dir)
	}

	if err := fw.addTree(fw.config.Dir); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.watch()

	return nil
}

// Run watches until ctx is done
func (fw *FileWatcher) Run(ctx context.Context) error {
	if err := fw.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return fw.Stop()
}

// Stop stops the file watcher. Pending changes are dropped.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		fw.cancel()
		err = fw.watcher.Close()
		fw.wg.Wait()
		fw.debouncer.Stop()
	})
	return err
}

// watch is the main event loop
func (fw *FileWatcher) watch() {
	defer fw.wg.Done()

	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("file watcher error", zap.Error(err))

		case <-fw.ctx.Done():
			return
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event) {
	if fw.shouldIgnore(event.Name) {
		return
	}

	if event.Has(fsnotify.Create) && fw.config.Recursive {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if fw.skipDir(event.Name) {
				return
			}
			if err := fw.addTree(event.Name); err != nil {
				fw.logger.Warn("watching new directory failed", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}

	// Only handle Write and Create events
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if fw.matchesPattern(event.Name) {
		fw.logger.Debug("scene changed", zap.String("file", event.Name), zap.Stringer("op", event.Op))
		fw.debouncer.Add(event.Name)
	}
}

// addTree watches dir and, when recursive, every directory below it
func (fw *FileWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (!fw.config.Recursive || fw.skipDir(path)) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		fw.logger.Debug("watching directory", zap.String("dir", path))
		return nil
	})
}

func (fw *FileWatcher) skipDir(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	clean := filepath.Clean(path)
	for _, skip := range fw.config.SkipDirs {
		if clean == filepath.Clean(skip) {
			return true
		}
	}
	return false
}

// shouldIgnore checks if a file path should be ignored
func (fw *FileWatcher) shouldIgnore(path string) bool {
	baseName := filepath.Base(path)

	// Hidden files, including emacs lock files (.#scene.usda)
	if strings.HasPrefix(baseName, ".") {
		return true
	}

	for _, pattern := range fw.config.Ignored {
		if matched, _ := filepath.Match(pattern, baseName); matched {
			return true
		}
	}

	return false
}

// matchesPattern checks if a file matches any of the watch patterns
func (fw *FileWatcher) matchesPattern(path string) bool {
	baseName := filepath.Base(path)
	for _, pattern := range fw.config.Patterns {
		if matched, _ := filepath.Match(pattern, baseName); matched {
			return true
		}
	}
	return false
}
