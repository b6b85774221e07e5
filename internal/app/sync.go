package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/okian/sheetsync/internal/adapters/bitable"
	repository "github.com/okian/sheetsync/internal/adapters/repository"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/internal/domain/records"
	"github.com/okian/sheetsync/pkg/logger"
	"github.com/okian/sheetsync/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// PlanRequest asks how a dataset would map onto a table without writing.
type PlanRequest struct {
	Credentials   model.Credentials `json:"-"`
	AppToken      string            `json:"app_token"`
	TableID       string            `json:"table_id,omitempty"`
	Columns       []string          `json:"columns"`
	File          *model.FileInfo   `json:"file,omitempty"`
	RefreshSchema bool              `json:"refresh_schema,omitempty"`
}

// PlanResult is the mapping of a dataset onto one table.
type PlanResult struct {
	TableID string              `json:"table_id"`
	Fields  []model.TargetField `json:"fields"`
	Matched int                 `json:"matched"`
	records.Plan
}

// Plan resolves the table, fetches its schema and matches the columns.
func (s *Service) Plan(ctx context.Context, req PlanRequest) (PlanResult, error) {
	if req.AppToken == "" {
		return PlanResult{}, fmt.Errorf("plan: %w: app token is required", ErrInvalidRequest)
	}
	var ids []string
	if req.TableID != "" {
		ids = []string{req.TableID}
	}
	tables, err := s.resolveTables(ctx, req.Credentials, req.AppToken, ids, req.RefreshSchema)
	if err != nil {
		return PlanResult{}, fmt.Errorf("plan: %w", err)
	}

	ref := model.TableRef{AppToken: req.AppToken, TableID: tables[0]}
	fields, err := s.remote.ListFields(ctx, req.Credentials, ref, req.RefreshSchema)
	if err != nil {
		return PlanResult{}, fmt.Errorf("plan: %w", err)
	}
	plan := records.NewPlan(req.Columns, fields, req.File)
	return PlanResult{
		TableID: ref.TableID,
		Fields:  fields,
		Matched: plan.MatchedCount(),
		Plan:    plan,
	}, nil
}

// Sync writes the dataset into every requested table, or into the first table
// of the app when none is named. Tables run in parallel up to the configured
// limit and one table failing does not stop the others; per-table failures
// are reported in the results, not as the returned error.
func (s *Service) Sync(ctx context.Context, req model.SyncRequest) ([]model.TableResult, error) {
	if err := validate(req); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	tables, err := s.resolveTables(ctx, req.Credentials, req.AppToken, req.TableIDs, req.RefreshSchema)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	results := make([]model.TableResult, len(tables))
	var g errgroup.Group
	g.SetLimit(s.tableParallelism)
	for i, id := range tables {
		g.Go(func() error {
			results[i] = s.syncTable(ctx, req, model.TableRef{AppToken: req.AppToken, TableID: id})
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (s *Service) syncTable(ctx context.Context, req model.SyncRequest, ref model.TableRef) model.TableResult {
	tr := model.TableResult{TableID: ref.TableID}

	fields, err := s.remote.ListFields(ctx, req.Credentials, ref, req.RefreshSchema)
	if err != nil {
		tr.Error = err.Error()
		tr.Result.Message = "schema lookup failed"
		return tr
	}

	plan := records.NewPlan(req.Dataset.Columns, fields, req.File)
	built := s.builder.Build(req.Dataset.Rows, plan, fields)
	tr.MatchedColumns = plan.MatchedCount()
	tr.Warnings = built.Warnings

	if len(built.Records) == 0 {
		tr.Result = model.SyncRunResult{
			DroppedRowCount: built.Dropped,
			FallbackCount:   built.Fallbacks,
			Message:         "no records to submit",
		}
		s.logger.Warn(ctx, "nothing to submit",
			logger.String("table", ref.String()),
			logger.Int("columns", len(req.Dataset.Columns)),
			logger.Int("matched", tr.MatchedColumns),
			logger.Int("dropped", built.Dropped),
		)
		return tr
	}

	res, err := s.submitter.Submit(ctx, req.Credentials, ref, built.Records)
	res.DroppedRowCount = built.Dropped
	res.FallbackCount = built.Fallbacks
	tr.Result = res
	if err != nil {
		tr.Error = err.Error()
	}
	return tr
}

// resolveTables returns the named tables, or the first table of the app.
func (s *Service) resolveTables(ctx context.Context, creds model.Credentials, appToken string, ids []string, refresh bool) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) > 0 {
		return out, nil
	}

	tables, err := s.remote.ListTables(ctx, creds, appToken, refresh)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTables, appToken)
	}
	return []string{tables[0].ID}, nil
}

func validate(req model.SyncRequest) error {
	switch {
	case req.Credentials.Empty():
		return fmt.Errorf("%w: app id and app secret are required", bitable.ErrAuthenticationMissing)
	case req.AppToken == "":
		return fmt.Errorf("%w: app token is required", ErrInvalidRequest)
	case len(req.Dataset.Columns) == 0 && req.File == nil:
		return fmt.Errorf("%w: dataset has no columns and no file", ErrInvalidRequest)
	}
	return nil
}

// Import runs a request synchronously and records it in the run history.
func (s *Service) Import(ctx context.Context, req model.SyncRequest) (repository.Run, error) {
	if err := validate(req); err != nil {
		return repository.Run{}, fmt.Errorf("import: %w", err)
	}
	run := s.newRun(uuid.NewString(), req)
	return s.execute(ctx, run, req, false)
}

// Submit queues a request and returns its job id. A request carrying an
// idempotency key already seen returns the original job id with duplicate set.
func (s *Service) Submit(ctx context.Context, req model.SyncRequest) (string, bool, error) {
	if err := validate(req); err != nil {
		return "", false, fmt.Errorf("submit: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return "", false, fmt.Errorf("submit: %w", ErrNotStarted)
	}

	id := uuid.NewString()
	if req.IdempotencyKey != "" {
		if owner, dup := s.deduper.Claim(ctx, req.IdempotencyKey, id); dup {
			metrics.RecordJobDuplicate()
			s.logger.Debug(ctx, "duplicate submission",
				logger.String("key", req.IdempotencyKey),
				logger.String("job", owner),
			)
			return owner, true, nil
		}
	}

	unclaim := func() {
		if req.IdempotencyKey != "" {
			s.deduper.Release(ctx, req.IdempotencyKey)
		}
	}

	run := s.newRun(id, req)
	if err := s.store.Save(ctx, run); err != nil {
		unclaim()
		return "", false, fmt.Errorf("submit: %w", err)
	}

	job := model.SyncJob{ID: id, Request: req, EnqueuedAt: s.now()}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		unclaim()
		run.Status = repository.StatusFailed
		run.Error = err.Error()
		run.FinishedAt = s.now()
		if serr := s.store.Save(context.WithoutCancel(ctx), run); serr != nil {
			s.logger.Error(ctx, "failed to record rejected job", logger.String("job", id), logger.Error(serr))
		}
		return "", false, fmt.Errorf("submit: %w", err)
	}

	s.logger.Info(ctx, "job queued",
		logger.String("job", id),
		logger.String("app", req.AppToken),
		logger.Int("rows", len(req.Dataset.Rows)),
		logger.String("source", req.Source),
	)
	return id, false, nil
}

// Execute runs a queued job. It is the worker pool's runner.
func (s *Service) Execute(ctx context.Context, job model.SyncJob) error {
	run, err := s.store.Get(ctx, job.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("execute %s: %w", job.ID, err)
		}
		run = s.newRun(job.ID, job.Request)
	}

	run, err = s.execute(ctx, run, job.Request, true)
	if err != nil {
		return err
	}
	if run.Status == repository.StatusFailed {
		return fmt.Errorf("execute %s: %s", job.ID, run.Error)
	}
	return nil
}

// execute runs req under run and records each state change. When claimed is
// set, a failed run gives its idempotency key back so the caller can retry.
func (s *Service) execute(ctx context.Context, run repository.Run, req model.SyncRequest, claimed bool) (repository.Run, error) {
	// History writes survive a cancelled run.
	saveCtx := context.WithoutCancel(ctx)

	run.Status = repository.StatusRunning
	run.StartedAt = s.now()
	if err := s.store.Save(saveCtx, run); err != nil {
		if claimed {
			s.release(ctx, req)
		}
		return run, fmt.Errorf("record run %s: %w", run.ID, err)
	}

	results, err := s.Sync(ctx, req)
	run.Results = results
	run.FinishedAt = s.now()
	run.Status = repository.StatusSucceeded
	switch {
	case err != nil:
		run.Status = repository.StatusFailed
		run.Error = err.Error()
	default:
		if failed := countFailed(results); failed > 0 {
			run.Status = repository.StatusFailed
			run.Error = fmt.Sprintf("%d of %d tables failed", failed, len(results))
		}
	}

	if claimed && run.Status == repository.StatusFailed {
		s.release(ctx, req)
	}

	took := run.FinishedAt.Sub(run.StartedAt)
	metrics.RecordRun(run.Status, float64(took.Milliseconds()))
	if serr := s.store.Save(saveCtx, run); serr != nil {
		return run, fmt.Errorf("record run %s: %w", run.ID, serr)
	}

	log := s.logger.Info
	if run.Status == repository.StatusFailed {
		log = s.logger.Warn
	}
	log(ctx, "run finished",
		logger.String("run", run.ID),
		logger.String("status", run.Status),
		logger.Int("tables", len(results)),
		logger.Duration("took", took),
	)
	return run, nil
}

func (s *Service) newRun(id string, req model.SyncRequest) repository.Run {
	return repository.Run{
		ID:        id,
		Status:    repository.StatusQueued,
		AppToken:  req.AppToken,
		TableIDs:  req.TableIDs,
		Source:    req.Source,
		CreatedAt: s.now(),
	}
}

func (s *Service) release(ctx context.Context, req model.SyncRequest) {
	if req.IdempotencyKey == "" {
		return
	}
	s.mu.RLock()
	d := s.deduper
	s.mu.RUnlock()
	if d != nil {
		d.Release(ctx, req.IdempotencyKey)
	}
}

func countFailed(results []model.TableResult) int {
	n := 0
	for _, r := range results {
		if r.Failed() {
			n++
		}
	}
	return n
}

// Run returns one run from the history.
func (s *Service) Run(ctx context.Context, id string) (repository.Run, error) {
	return s.store.Get(ctx, id)
}

// Runs returns the most recent runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]repository.Run, error) {
	return s.store.List(ctx, limit)
}
