// Package watch submits spreadsheets dropped into watched directories.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/okian/sheetsync/internal/adapters/source"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/logger"
	"github.com/zeebo/xxh3"
)

const defaultSettle = 2 * time.Second

// ErrInvalidEntry is returned for a watch without a directory or target.
var ErrInvalidEntry = errors.New("invalid watch entry")

// Service is what a watcher drives.
type Service interface {
	PrepareUpload(ctx context.Context, name string, data []byte, sheet string) (model.Dataset, model.FileInfo, error)
	Submit(ctx context.Context, req model.SyncRequest) (jobID string, duplicate bool, err error)
}

// Entry binds a directory to a destination.
type Entry struct {
	Dir    string
	Sheet  string
	Target model.Target
}

// Watcher turns file drops into sync jobs.
type Watcher struct {
	fs      *fsnotify.Watcher
	svc     Service
	entries map[string]Entry
	settle  time.Duration
	logger  logger.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup

	// submitted, when set, observes each submission attempt.
	submitted func(path, jobID string, err error)
}

// New registers every entry directory with fsnotify.
func New(svc Service, entries []Entry, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{
		fs:      fw,
		svc:     svc,
		entries: make(map[string]Entry, len(entries)),
		settle:  defaultSettle,
		logger:  logger.Get().Named("watch"),
		pending: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, e := range entries {
		if e.Dir == "" || e.Target.AppToken == "" || e.Target.Credentials.Empty() {
			_ = fw.Close()
			return nil, fmt.Errorf("%w: %q", ErrInvalidEntry, e.Dir)
		}
		dir := filepath.Clean(e.Dir)
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
		e.Dir = dir
		w.entries[dir] = e
	}
	return w, nil
}

// Dirs returns the watched directories.
func (w *Watcher) Dirs() []string {
	return w.fs.WatchList()
}

// Run processes file events until ctx is done, then waits for in-flight
// submissions and releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		w.mu.Lock()
		for path, t := range w.pending {
			if t.Stop() {
				w.wg.Done()
			}
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.wg.Wait()
		_ = w.fs.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "watcher error", logger.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") || !source.IsTabular(base) {
		return
	}
	entry, ok := w.entries[filepath.Dir(ev.Name)]
	if !ok {
		return
	}

	// Writers emit bursts of events; each one pushes the deadline back.
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[ev.Name]; ok {
		if t.Stop() {
			w.wg.Done()
		}
	}
	w.wg.Add(1)
	path := ev.Name
	var t *time.Timer
	t = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.process(ctx, path, entry)
	})
	w.pending[path] = t
}

func (w *Watcher) process(ctx context.Context, path string, e Entry) {
	id, err := w.submit(ctx, path, e)
	if err != nil {
		w.logger.Error(ctx, "watched file not submitted",
			logger.String("path", path),
			logger.Error(err),
		)
	}
	if w.submitted != nil {
		w.submitted(path, id, err)
	}
}

func (w *Watcher) submit(ctx context.Context, path string, e Entry) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	name := filepath.Base(path)
	ds, info, err := w.svc.PrepareUpload(ctx, name, data, e.Sheet)
	if err != nil {
		return "", fmt.Errorf("prepare %s: %w", name, err)
	}

	id, dup, err := w.svc.Submit(ctx, model.SyncRequest{
		Credentials:    e.Target.Credentials,
		AppToken:       e.Target.AppToken,
		TableIDs:       e.Target.TableIDs,
		Dataset:        ds,
		File:           &info,
		IdempotencyKey: "watch:" + path + ":" + strconv.FormatUint(xxh3.Hash(data), 16),
		Source:         "watch:" + e.Dir,
	})
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", name, err)
	}
	w.logger.Info(ctx, "watched file submitted",
		logger.String("file", name),
		logger.String("job", id),
		logger.Int("rows", len(ds.Rows)),
		logger.Bool("duplicate", dup),
	)
	return id, nil
}
