// Package batch submits target records to a remote table in bounded chunks.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/logger"
	"github.com/okian/sheetsync/pkg/metrics"
)

// MaxChunkSize is the most records the remote accepts in one batch write.
const MaxChunkSize = 500

// Writer performs one batch write.
type Writer interface {
	BatchCreate(ctx context.Context, creds model.Credentials, ref model.TableRef, records []model.TargetRecord) (model.BatchOutcome, error)
}

// Option applies a configuration option to the Submitter.
type Option func(*Submitter)

// WithChunkSize sets the records per call, clamped to [1, MaxChunkSize].
func WithChunkSize(n int) Option {
	return func(s *Submitter) {
		s.chunkSize = clampChunk(n)
	}
}

// WithLogger sets the submitter logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Submitter) {
		if l != nil {
			s.log = l
		}
	}
}

// Submitter writes records chunk by chunk, strictly in order.
type Submitter struct {
	w         Writer
	chunkSize int
	log       logger.Logger
}

// New creates a Submitter writing through w.
func New(w Writer, opts ...Option) *Submitter {
	s := &Submitter{
		w:         w,
		chunkSize: MaxChunkSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("batch")
	}
	return s
}

// ChunkSize returns the effective chunk size.
func (s *Submitter) ChunkSize() int { return s.chunkSize }

// Submit writes records to ref. Rows rejected individually are counted as
// failed and do not stop the run. A failed call or a cancelled context stops
// the run; the partial result is returned together with the error and
// nothing already written is undone.
func (s *Submitter) Submit(ctx context.Context, creds model.Credentials, ref model.TableRef, records []model.TargetRecord) (model.SyncRunResult, error) {
	chunks := (len(records) + s.chunkSize - 1) / s.chunkSize
	res := model.SyncRunResult{ChunkCount: chunks}

	for i := 0; i < chunks; i++ {
		if err := ctx.Err(); err != nil {
			return s.abort(ctx, res, ref, err), err
		}

		lo := i * s.chunkSize
		hi := min(lo+s.chunkSize, len(records))

		res.APICallCount++
		start := time.Now()
		out, err := s.w.BatchCreate(ctx, creds, ref, records[lo:hi])
		metrics.RecordChunk(err == nil, float64(time.Since(start).Milliseconds()))
		if err != nil {
			return s.abort(ctx, res, ref, err), fmt.Errorf("chunk %d of %d: %w", i+1, chunks, err)
		}

		res.SyncedRowCount += out.Succeeded
		res.FailedRowCount += out.Failed
		res.ChunksCompleted++
		metrics.RecordRows(out.Succeeded, out.Failed)

		if out.Failed > 0 {
			s.log.Warn(ctx, "chunk had rejected rows",
				logger.String("table", ref.TableID),
				logger.Int("chunk", i+1),
				logger.Int("failed", out.Failed),
				logger.Any("errors", firstN(out.Errors, 3)),
			)
		}
	}

	res.Message = fmt.Sprintf("%d rows synced, %d rows failed", res.SyncedRowCount, res.FailedRowCount)
	s.log.Info(ctx, "batch submission finished",
		logger.String("table", ref.TableID),
		logger.Int("chunks", chunks),
		logger.Int("synced", res.SyncedRowCount),
		logger.Int("failed", res.FailedRowCount),
	)
	return res, nil
}

func (s *Submitter) abort(ctx context.Context, res model.SyncRunResult, ref model.TableRef, err error) model.SyncRunResult {
	res.Aborted = true
	res.Message = fmt.Sprintf("run aborted after %d of %d chunks: %v", res.ChunksCompleted, res.ChunkCount, err)

	log := s.log.Error
	if errors.Is(err, context.Canceled) {
		log = s.log.Warn
	}
	log(ctx, "batch submission aborted",
		logger.String("table", ref.TableID),
		logger.Int("completed", res.ChunksCompleted),
		logger.Int("chunks", res.ChunkCount),
		logger.Error(err),
	)
	return res
}

func clampChunk(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxChunkSize:
		return MaxChunkSize
	default:
		return n
	}
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
