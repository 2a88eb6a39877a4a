package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
)

// HeartbeatWatcher tracks writes to heartbeat files. Writes seen through
// fsnotify are cached so a file whose mtime is coarse or reset still counts;
// the file's mtime is consulted as well for writes made before the watch began.
type HeartbeatWatcher struct {
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	seen    map[string]time.Time
	watched map[string]bool
}

// NewHeartbeatWatcher creates a watcher. Call Run to start consuming events.
func NewHeartbeatWatcher(logger *zap.Logger) (*HeartbeatWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create heartbeat watcher: %w", err)
	}
	return &HeartbeatWatcher{
		watcher: w,
		logger:  logger,
		now:     time.Now,
		seen:    make(map[string]time.Time),
		watched: make(map[string]bool),
	}, nil
}

// Run consumes filesystem events until ctx is done.
func (h *HeartbeatWatcher) Run(ctx context.Context) {
	defer h.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Chmod) {
				h.mu.Lock()
				h.seen[filepath.Clean(ev.Name)] = h.now()
				h.mu.Unlock()
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("heartbeat watcher error", zap.Error(err))
		}
	}
}

// LastBeat returns the newest of the observed write time and the file mtime.
func (h *HeartbeatWatcher) LastBeat(path string) (time.Time, error) {
	path = filepath.Clean(path)
	h.ensureWatched(path)

	h.mu.Lock()
	last := h.seen[path]
	h.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		if last.IsZero() {
			return time.Time{}, fmt.Errorf("heartbeat %s: %w", path, err)
		}
		return last, nil
	}
	if info.ModTime().After(last) {
		last = info.ModTime()
	}
	return last, nil
}

// ensureWatched adds the heartbeat's directory to the watch list so atomic
// rename-over writes are seen too.
func (h *HeartbeatWatcher) ensureWatched(path string) {
	dir := filepath.Dir(path)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watched[dir] {
		return
	}
	if err := h.watcher.Add(dir); err != nil {
		h.logger.Debug("cannot watch heartbeat directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	h.watched[dir] = true
}

var _ domain.Heartbeat = (*HeartbeatWatcher)(nil)
