package service

import (
	"time"

	repository "github.com/okian/sheetsync/internal/adapters/repository"
	"github.com/okian/sheetsync/internal/adapters/schedule"
	"github.com/okian/sheetsync/internal/adapters/storage"
	"github.com/okian/sheetsync/internal/adapters/watch"
	"github.com/okian/sheetsync/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithRemote replaces the remote client.
func WithRemote(r Remote) Option {
	return func(s *Service) {
		if r != nil {
			s.remote = r
		}
	}
}

// WithStore sets the run history store.
func WithStore(st repository.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.store = st
		}
	}
}

// WithUploader sets where uploaded files are kept.
func WithUploader(u storage.Uploader) Option {
	return func(s *Service) {
		if u != nil {
			s.uploader = u
		}
	}
}

// WithLocation sets the zone upload times and dates are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithChunkSize sets the number of records per batch call.
func WithChunkSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending jobs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many idempotency keys are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithTableParallelism bounds how many tables of one request sync at once.
func WithTableParallelism(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.tableParallelism = n
		}
	}
}

// WithJobTimeout bounds one queued job.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithMaxUploadBytes caps PrepareUpload input. Zero disables the check.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxUpload = n
		}
	}
}

// WithSchedules registers recurring imports started with the service.
func WithSchedules(entries ...schedule.Entry) Option {
	return func(s *Service) {
		s.schedules = append(s.schedules, entries...)
	}
}

// WithWatches registers directories watched while the service runs.
func WithWatches(settle time.Duration, entries ...watch.Entry) Option {
	return func(s *Service) {
		s.watches = append(s.watches, entries...)
		if settle > 0 {
			s.watchSettle = settle
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
