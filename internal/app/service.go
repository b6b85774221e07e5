// Package service wires the matching, building and submission components
// into the operations exposed by the HTTP API, the CLI and the background
// schedulers.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/sheetsync/internal/adapters/bitable"
	jobqueue "github.com/okian/sheetsync/internal/adapters/mq/queue"
	workerpool "github.com/okian/sheetsync/internal/adapters/mq/worker"
	repository "github.com/okian/sheetsync/internal/adapters/repository"
	"github.com/okian/sheetsync/internal/adapters/schedule"
	"github.com/okian/sheetsync/internal/adapters/storage"
	"github.com/okian/sheetsync/internal/adapters/watch"
	"github.com/okian/sheetsync/internal/domain/batch"
	"github.com/okian/sheetsync/internal/domain/coerce"
	"github.com/okian/sheetsync/internal/domain/dedupe"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/internal/domain/records"
	"github.com/okian/sheetsync/pkg/logger"
	"github.com/okian/sheetsync/pkg/metrics"
)

// Remote is the part of the bitable client the service drives.
type Remote interface {
	batch.Writer
	ListTables(ctx context.Context, creds model.Credentials, appToken string, skipCache bool) ([]model.Table, error)
	ListFields(ctx context.Context, creds model.Credentials, ref model.TableRef, skipCache bool) ([]model.TargetField, error)
	CreateTable(ctx context.Context, creds model.Credentials, appToken, name string, fields []bitable.FieldSpec) (model.Table, error)
	CreateField(ctx context.Context, creds model.Credentials, ref model.TableRef, spec bitable.FieldSpec) (model.TargetField, error)
	ListRecords(ctx context.Context, creds model.Credentials, ref model.TableRef, pageSize int, pageToken string) (bitable.RecordPage, error)
	InvalidateApp(appToken string)
	InvalidateFields(ref model.TableRef)
	Stats() map[string]any
}

// Service runs synchronizations, synchronously or through the job queue.
type Service struct {
	// lifecycle serializes Start and Stop; mu guards the started components.
	lifecycle sync.Mutex
	mu        sync.RWMutex

	remote    Remote
	store     repository.Store
	uploader  storage.Uploader
	builder   *records.Builder
	submitter *batch.Submitter

	// Started components
	deduper   dedupe.Deduper
	jobs      jobqueue.Queue
	pool      *workerpool.Pool
	scheduler *schedule.Scheduler
	watcher   *watch.Watcher
	stopWatch context.CancelFunc
	watchDone chan struct{}
	cancel    context.CancelFunc

	// Configuration
	loc              *time.Location
	now              func() time.Time
	chunkSize        int
	workerCount      int
	queueSize        int
	dedupeSize       int
	tableParallelism int
	jobTimeout       time.Duration
	maxUpload        int64
	schedules        []schedule.Entry
	watches          []watch.Entry
	watchSettle      time.Duration

	started bool
	logger  logger.Logger
}

// New constructs a Service. Without options it talks to the public endpoint,
// keeps history in memory and does not store uploads.
func New(opts ...Option) *Service {
	s := &Service{
		loc:              time.Local,
		now:              time.Now,
		chunkSize:        batch.MaxChunkSize,
		workerCount:      runtime.NumCPU(),
		queueSize:        1000,
		dedupeSize:       10_000,
		tableParallelism: 4,
		jobTimeout:       30 * time.Minute,
		maxUpload:        100 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.remote == nil {
		s.remote = bitable.New()
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	if s.uploader == nil {
		s.uploader = storage.NopUploader{}
	}

	coercer := coerce.New(coerce.WithLocation(s.loc), coerce.WithClock(s.now))
	s.builder = records.New(coercer)
	s.submitter = batch.New(s.remote, batch.WithChunkSize(s.chunkSize))
	return s
}

// Start brings up the job queue, the worker pool, the scheduler and the
// directory watchers.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting sync service...")

	// Workers outlive the start context.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.jobs = jobqueue.NewInMemoryQueue(
		jobqueue.WithCapacity(s.queueSize),
		jobqueue.WithBufferSize(s.queueSize),
	)
	s.pool = workerpool.NewPool(s.workerCount, s.jobs, s, workerpool.WithJobTimeout(s.jobTimeout))
	s.pool.Start(runCtx)

	if len(s.schedules) > 0 {
		s.scheduler = schedule.New(s, schedule.WithLocation(s.loc))
		for _, e := range s.schedules {
			if err := s.scheduler.Add(e); err != nil {
				cancel()
				return fmt.Errorf("start: %w", err)
			}
		}
		s.scheduler.Start()
	}

	if len(s.watches) > 0 {
		w, err := watch.New(s, s.watches, watch.WithSettle(s.watchSettle))
		if err != nil {
			if s.scheduler != nil {
				_ = s.scheduler.Stop(ctx)
			}
			cancel()
			return fmt.Errorf("start: %w", err)
		}
		watchCtx, stopWatch := context.WithCancel(runCtx)
		s.watcher, s.stopWatch = w, stopWatch
		s.watchDone = make(chan struct{})
		go func() {
			defer close(s.watchDone)
			if err := w.Run(watchCtx); err != nil {
				s.logger.Error(watchCtx, "watcher stopped", logger.Error(err))
			}
		}()
	}

	s.cancel = cancel
	s.started = true
	s.logger.Info(ctx, "sync service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("schedules", len(s.schedules)),
		logger.Int("watches", len(s.watches)),
	)
	return nil
}

// Stop stops intake, lets the workers drain the queue and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.Started() {
		return nil
	}
	s.logger.Info(ctx, "stopping sync service...")

	// Scheduler ticks and watched files still in flight call Submit, so they
	// are stopped before intake closes.
	var errs []error
	if s.scheduler != nil {
		errs = append(errs, s.scheduler.Stop(ctx))
	}
	if s.watcher != nil {
		s.stopWatch()
		select {
		case <-s.watchDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("watcher stop: %w", ctx.Err()))
		}
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	errs = append(errs, s.pool.Shutdown(ctx))
	s.cancel()
	errs = append(errs, s.store.Close())

	s.logger.Info(ctx, "sync service stopped")
	return errors.Join(errs...)
}

// Started reports whether Start has run.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":          s.started,
		"workerCount":      s.workerCount,
		"queueSize":        s.queueSize,
		"dedupeSize":       s.dedupeSize,
		"chunkSize":        s.submitter.ChunkSize(),
		"tableParallelism": s.tableParallelism,
		"timezone":         s.loc.String(),
		"remote":           s.remote.Stats(),
	}
	if n, err := s.store.Count(ctx); err == nil {
		stats["runs"] = n
	}

	if s.started {
		queueLen := s.jobs.Len(ctx)
		stats["queueLength"] = queueLen
		stats["jobsProcessed"] = s.pool.Processed()
		stats["idempotencyKeys"] = s.deduper.Size()
		metrics.UpdateQueueSize(queueLen)
		if s.scheduler != nil {
			stats["schedules"] = s.scheduler.Len()
		}
		if s.watcher != nil {
			stats["watchedDirs"] = s.watcher.Dirs()
		}
	}
	return stats
}
