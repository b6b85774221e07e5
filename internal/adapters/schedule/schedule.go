// Package schedule submits recurring sync jobs on cron specs.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/sheetsync/internal/adapters/source"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Sentinel errors.
var (
	ErrInvalidEntry = errors.New("invalid schedule entry")
	ErrUnknownEntry = errors.New("unknown schedule entry")
)

// Entry is one recurring import.
type Entry struct {
	Name   string
	Spec   string
	Target model.Target
	Source source.Spec
}

// Submitter accepts sync requests for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, req model.SyncRequest) (jobID string, duplicate bool, err error)
}

// ReaderFactory builds a row reader for a source spec.
type ReaderFactory func(spec source.Spec) (source.Reader, error)

// Scheduler runs entries on their cron specs.
type Scheduler struct {
	cron      *cron.Cron
	submitter Submitter
	open      ReaderFactory
	loc       *time.Location
	timeout   time.Duration
	logger    logger.Logger

	mu      sync.Mutex
	entries map[string]Entry
	ids     map[string]cron.EntryID
}

// New creates a scheduler. It does nothing until Start.
func New(submitter Submitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		submitter: submitter,
		open:      source.New,
		loc:       time.Local,
		timeout:   5 * time.Minute,
		logger:    logger.Get().Named("schedule"),
		entries:   make(map[string]Entry),
		ids:       make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{l: s.logger}
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Add registers an entry. Names must be unique.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidEntry)
	}
	if e.Target.AppToken == "" || e.Target.Credentials.Empty() {
		return fmt.Errorf("%w: %s: target needs an app token and credentials", ErrInvalidEntry, e.Name)
	}
	if _, err := cron.ParseStandard(e.Spec); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidEntry, e.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[e.Name]; dup {
		return fmt.Errorf("%w: %s: duplicate name", ErrInvalidEntry, e.Name)
	}

	id, err := s.cron.AddFunc(e.Spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		key := fmt.Sprintf("schedule:%s:%d", e.Name, time.Now().In(s.loc).Truncate(time.Minute).Unix())
		if _, err := s.fire(ctx, e, key); err != nil {
			s.logger.Error(ctx, "scheduled import failed",
				logger.String("entry", e.Name),
				logger.Error(err),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidEntry, e.Name, err)
	}
	s.entries[e.Name] = e
	s.ids[e.Name] = id
	return nil
}

// Trigger runs an entry immediately and returns the submitted job id.
func (s *Scheduler) Trigger(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownEntry, name)
	}
	return s.fire(ctx, e, "")
}

// Next returns the next activation time of an entry.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.ids[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Len returns the number of registered entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start begins firing entries in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running ticks or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("schedule stop: %w", ctx.Err())
	}
}

func (s *Scheduler) fire(ctx context.Context, e Entry, key string) (string, error) {
	reader, err := s.open(e.Source)
	if err != nil {
		return "", fmt.Errorf("%s: %w", e.Name, err)
	}
	ds, err := reader.Read(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: read %s: %w", e.Name, e.Source.Name(), err)
	}

	id, dup, err := s.submitter.Submit(ctx, model.SyncRequest{
		Credentials:    e.Target.Credentials,
		AppToken:       e.Target.AppToken,
		TableIDs:       e.Target.TableIDs,
		Dataset:        ds,
		IdempotencyKey: key,
		Source:         "schedule:" + e.Name,
	})
	if err != nil {
		return "", fmt.Errorf("%s: submit: %w", e.Name, err)
	}
	s.logger.Info(ctx, "scheduled import submitted",
		logger.String("entry", e.Name),
		logger.String("job", id),
		logger.Int("rows", len(ds.Rows)),
		logger.Bool("duplicate", dup),
	)
	return id, nil
}

// cronLogger routes cron's own logging through the package logger.
type cronLogger struct {
	l logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(context.Background(), msg, pairs(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(context.Background(), msg, append(pairs(keysAndValues), logger.Error(err))...)
}

func pairs(kv []any) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
