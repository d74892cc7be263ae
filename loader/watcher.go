// Package loader is the batch ingest daemon: it watches a drop directory and
// feeds settled files through the retrieval pipeline, archiving them after.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"policypilot/types"
)

// Watcher polls the source directory and emits files that have sat unchanged
// for the configured settle time, so half-copied documents are never picked
// up.
type Watcher struct {
	cfg types.Config

	mu              sync.Mutex
	fileFirstSeen   map[string]time.Time
	filesProcessing map[string]bool
}

func NewWatcher(cfg types.Config) *Watcher {
	createDirectories(cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir)
	return &Watcher{
		cfg:             cfg,
		fileFirstSeen:   make(map[string]time.Time),
		filesProcessing: make(map[string]bool),
	}
}

func createDirectories(dirs ...string) {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Printf("error creating directory %s: %v\n", dir, err)
		}
	}
}

// Watch emits settled file paths into fileChan until the context is
// cancelled. Files already emitted stay marked as processing until Release.
func (w *Watcher) Watch(ctx context.Context, fileChan chan<- string) {
	fmt.Printf("Start monitoring folder: %s\n", w.cfg.SourceDir)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	defer fmt.Println("File watcher stopped and cleaned up")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan(ctx, fileChan)
		}
	}
}

func (w *Watcher) scan(ctx context.Context, fileChan chan<- string) {
	files, err := os.ReadDir(w.cfg.SourceDir)
	if err != nil {
		fmt.Printf("error while reading source directory: %s\n", err)
		return
	}

	currentFiles := make(map[string]bool)

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		filePath := filepath.Join(w.cfg.SourceDir, file.Name())
		currentFiles[filePath] = true

		w.mu.Lock()
		if w.filesProcessing[filePath] {
			w.mu.Unlock()
			continue
		}
		firstSeen, exists := w.fileFirstSeen[filePath]
		if !exists {
			w.fileFirstSeen[filePath] = time.Now()
			fmt.Printf("New file detected: %s\n", filePath)
			w.mu.Unlock()
			continue
		}
		w.mu.Unlock()

		if time.Since(firstSeen) <= w.cfg.MonitoringTime {
			continue
		}

		w.mu.Lock()
		w.filesProcessing[filePath] = true
		w.mu.Unlock()

		select {
		case fileChan <- filePath:
		case <-ctx.Done():
			return
		}
	}

	// drop tracking for files that disappeared from the directory
	w.mu.Lock()
	for filePath := range w.fileFirstSeen {
		if !currentFiles[filePath] {
			delete(w.fileFirstSeen, filePath)
			delete(w.filesProcessing, filePath)
		}
	}
	w.mu.Unlock()
}

// Release clears a file's tracking state after processing finished.
func (w *Watcher) Release(filePath string) {
	w.mu.Lock()
	delete(w.filesProcessing, filePath)
	delete(w.fileFirstSeen, filePath)
	w.mu.Unlock()
}

// MoveToArchive relocates a processed file: state 0 goes to the archive
// directory, anything else to the bad directory for manual inspection.
func (w *Watcher) MoveToArchive(filePath string, fileState int) {
	target := w.cfg.ArchiveDir
	if fileState != 0 {
		target = w.cfg.BadDir
	}

	dest := filepath.Join(target, filepath.Base(filePath))
	if err := os.Rename(filePath, dest); err != nil {
		fmt.Printf("error moving %s to %s: %v\n", filePath, target, err)
		return
	}
	fmt.Printf("Moved %s to %s\n", filePath, target)
}
