// Package watch ingests job descriptor files dropped into a spool
// directory. Each *.json file is parsed into a job, handed to a
// submit callback, and then moved into a processed or failed
// subdirectory so it is never picked up twice.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/DICKY1987/pipeline-core/job"
)

const (
	// processedDir holds descriptors that were submitted successfully.
	processedDir = "processed"
	// failedDir holds descriptors that could not be parsed or submitted.
	failedDir = "failed"
)

// SubmitFunc receives each job parsed from the spool directory.
type SubmitFunc func(ctx context.Context, j *job.Job) error

// SpoolWatcher watches a spool directory for job descriptor files.
type SpoolWatcher struct {
	spoolDir string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	submit   SubmitFunc
	logger   *slog.Logger

	// Debouncing: collect changes before processing
	pendingMu sync.Mutex
	pending   map[string]struct{}
}

// NewSpoolWatcher creates a watcher over spoolDir. The debounce delay
// gives writers time to finish before a descriptor is read.
func NewSpoolWatcher(spoolDir string, debounce time.Duration, submit SubmitFunc, logger *slog.Logger) (*SpoolWatcher, error) {
	if submit == nil {
		return nil, fmt.Errorf("submit callback is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &SpoolWatcher{
		spoolDir: spoolDir,
		debounce: debounce,
		watcher:  fsw,
		submit:   submit,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}, nil
}

// Start begins watching the spool directory. Descriptors already
// present in the directory are queued immediately so jobs dropped
// while the watcher was down are not lost.
func (w *SpoolWatcher) Start(ctx context.Context) error {
	for _, dir := range []string{w.spoolDir, filepath.Join(w.spoolDir, processedDir), filepath.Join(w.spoolDir, failedDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	if err := w.watcher.Add(w.spoolDir); err != nil {
		return err
	}

	if err := w.queueExisting(); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Spool watcher started",
		"spool_dir", w.spoolDir,
		"debounce", w.debounce)

	return nil
}

// Stop stops the watcher.
func (w *SpoolWatcher) Stop() error {
	return w.watcher.Close()
}

// queueExisting marks descriptor files already in the spool as pending.
func (w *SpoolWatcher) queueExisting() error {
	entries, err := os.ReadDir(w.spoolDir)
	if err != nil {
		return err
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() || !isDescriptor(entry.Name()) {
			continue
		}
		w.pending[filepath.Join(w.spoolDir, entry.Name())] = struct{}{}
	}
	return nil
}

// processEvents handles fsnotify events with debouncing.
func (w *SpoolWatcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

// handleFSEvent accumulates a single fsnotify event.
func (w *SpoolWatcher) handleFSEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !isDescriptor(event.Name) {
		return
	}

	w.pendingMu.Lock()
	w.pending[event.Name] = struct{}{}
	w.pendingMu.Unlock()

	w.logger.Debug("Job descriptor change detected",
		"path", event.Name,
		"op", event.Op.String())
}

// flushPending submits accumulated descriptors.
func (w *SpoolWatcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := make([]string, 0, len(w.pending))
	for path := range w.pending {
		toProcess = append(toProcess, path)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	for _, path := range toProcess {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.ingest(ctx, path)
	}
}

// ingest parses one descriptor file, submits the job, and files the
// descriptor away under processed/ or failed/.
func (w *SpoolWatcher) ingest(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Removed before we got to it.
			return
		}
		w.logger.Error("Failed to read job descriptor", "path", path, "error", err)
		w.archive(path, failedDir)
		return
	}

	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		w.logger.Error("Malformed job descriptor", "path", path, "error", err)
		w.archive(path, failedDir)
		return
	}
	if err := j.Validate(); err != nil {
		w.logger.Error("Invalid job descriptor", "path", path, "error", err)
		w.archive(path, failedDir)
		return
	}

	if err := w.submit(ctx, &j); err != nil {
		w.logger.Error("Job submission failed",
			"path", path,
			"job_id", j.ID,
			"error", err)
		w.archive(path, failedDir)
		return
	}

	w.logger.Info("Job submitted from spool",
		"job_id", j.ID,
		"tool", j.Tool,
		"path", path)
	w.archive(path, processedDir)
}

// archive moves a descriptor into a subdirectory of the spool.
func (w *SpoolWatcher) archive(path, subdir string) {
	dest := filepath.Join(w.spoolDir, subdir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		w.logger.Warn("Failed to archive job descriptor",
			"path", path,
			"dest", dest,
			"error", err)
	}
}

func isDescriptor(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".json")
}
