package modes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileInstructions serves the custom mode's instructions from a text file.
// While Watch runs, edits are picked up as soon as the file is saved.
type FileInstructions struct {
	path string
	log  *slog.Logger

	mu       sync.RWMutex
	text     string
	watching bool
}

func NewFileInstructions(path string, logger *slog.Logger) *FileInstructions {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileInstructions{path: path, log: logger}
}

func (f *FileInstructions) Path() string {
	return f.path
}

// CustomInstructions returns the current file contents. A missing file
// yields empty instructions.
func (f *FileInstructions) CustomInstructions() (string, error) {
	f.mu.RLock()
	if f.watching {
		defer f.mu.RUnlock()
		return f.text, nil
	}
	f.mu.RUnlock()
	return f.read()
}

// Save replaces the instructions on disk.
func (f *FileInstructions) Save(text string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create instructions dir: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write instructions: %w", err)
	}
	return f.reload()
}

func (f *FileInstructions) read() (string, error) {
	if f.path == "" {
		return "", nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read custom instructions: %w", err)
	}
	return string(data), nil
}

func (f *FileInstructions) reload() error {
	text, err := f.read()
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.text = text
	f.mu.Unlock()
	return nil
}

// Watch caches the file and refreshes it on change until ctx is cancelled.
// The parent directory is watched so editors that replace the file by
// rename are handled. ready is closed once the watcher is registered or
// Watch has given up.
func (f *FileInstructions) Watch(ctx context.Context, ready chan<- struct{}) error {
	var once sync.Once
	signal := func() {
		if ready != nil {
			once.Do(func() { close(ready) })
		}
	}
	defer signal()

	if f.path == "" {
		return errors.New("no custom instructions file configured")
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create instructions dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}

	if err := f.reload(); err != nil {
		return err
	}
	f.mu.Lock()
	f.watching = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.watching = false
		f.mu.Unlock()
	}()
	signal()

	target := filepath.Clean(f.path)
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
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if err := f.reload(); err != nil {
					f.log.Warn("reload custom instructions failed", "path", f.path, "error", err)
					continue
				}
				f.log.Debug("custom instructions reloaded", "path", f.path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.log.Warn("custom instructions watcher error", "error", err)
		}
	}
}
