// Package repository persists the history of synchronization runs.
package repository

import (
	"context"
	"time"

	"github.com/okian/sheetsync/internal/domain/model"
)

// Run states.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// MaxListLimit bounds List.
const MaxListLimit = 1000

// Run is one synchronization request and what became of it.
type Run struct {
	ID         string              `json:"id"`
	Status     string              `json:"status"`
	AppToken   string              `json:"app_token"`
	TableIDs   []string            `json:"table_ids,omitempty"`
	Source     string              `json:"source,omitempty"`
	Results    []model.TableResult `json:"results,omitempty"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Done reports whether the run reached a final state.
func (r Run) Done() bool { return r.Status == StatusSucceeded || r.Status == StatusFailed }

// Store provides read/write access to run history.
type Store interface {
	// Save inserts or replaces a run by id.
	Save(ctx context.Context, run Run) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (Run, error)
	// List returns up to limit runs, newest first.
	List(ctx context.Context, limit int) ([]Run, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

func checkLimit(limit int) error {
	if limit <= 0 || limit > MaxListLimit {
		return ErrInvalidLimit
	}
	return nil
}
