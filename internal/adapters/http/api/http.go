// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/sheetsync/internal/adapters/bitable"
	repository "github.com/okian/sheetsync/internal/adapters/repository"
	service "github.com/okian/sheetsync/internal/app"
	"github.com/okian/sheetsync/internal/domain/model"
	"github.com/okian/sheetsync/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	Plan(ctx context.Context, req service.PlanRequest) (service.PlanResult, error)
	// Import runs a request now and records it in the run history.
	Import(ctx context.Context, req model.SyncRequest) (repository.Run, error)
	// Submit queues a request; duplicate is set for a repeated idempotency key.
	Submit(ctx context.Context, req model.SyncRequest) (jobID string, duplicate bool, err error)
	PrepareUpload(ctx context.Context, name string, data []byte, sheet string) (model.Dataset, model.FileInfo, error)

	Run(ctx context.Context, id string) (repository.Run, error)
	Runs(ctx context.Context, limit int) ([]repository.Run, error)

	Tables(ctx context.Context, creds model.Credentials, appToken string, refresh bool) ([]model.Table, error)
	Fields(ctx context.Context, creds model.Credentials, ref model.TableRef, refresh bool) ([]model.TargetField, error)
	CreateTable(ctx context.Context, creds model.Credentials, appToken, name string, fields []bitable.FieldSpec) (model.Table, error)
	CreateField(ctx context.Context, creds model.Credentials, ref model.TableRef, spec bitable.FieldSpec) (model.TargetField, error)
	Records(ctx context.Context, creds model.Credentials, ref model.TableRef, pageSize int, pageToken string) (bitable.RecordPage, error)
	InvalidateSchema(appToken, tableID string)
}

// Default limits.
const (
	DefaultMaxUploadBytes = 32 << 20
	defaultJobsLimit      = 50
)

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	syncHandler   *SyncHandler
	jobsHandler   *JobsHandler
	tablesHandler *TablesHandler
}

// Option configures a Server.
type Option func(*Server)

// WithMaxUploadBytes caps the size of a multipart sync request.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.syncHandler.maxUpload = n
		}
	}
}

// WithLogger sets the logger used by the handlers.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.syncHandler.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		syncHandler:   NewSyncHandler(deps),
		jobsHandler:   NewJobsHandler(deps),
		tablesHandler: NewTablesHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /v1/plan", MetricsMiddleware(s.syncHandler.HandlePlan, "plan"))
	mux.HandleFunc("POST /v1/sync", MetricsMiddleware(s.syncHandler.HandleSync, "sync"))

	mux.HandleFunc("GET /v1/jobs", MetricsMiddleware(s.jobsHandler.HandleList, "jobs"))
	mux.HandleFunc("GET /v1/jobs/{id}", MetricsMiddleware(s.jobsHandler.HandleGet, "job"))

	mux.HandleFunc("GET /v1/tables", MetricsMiddleware(s.tablesHandler.HandleList, "tables"))
	mux.HandleFunc("POST /v1/tables", MetricsMiddleware(s.tablesHandler.HandleCreate, "tables"))
	mux.HandleFunc("GET /v1/tables/{tableId}/fields", MetricsMiddleware(s.tablesHandler.HandleFields, "fields"))
	mux.HandleFunc("POST /v1/tables/{tableId}/fields", MetricsMiddleware(s.tablesHandler.HandleCreateField, "fields"))
	mux.HandleFunc("GET /v1/tables/{tableId}/records", MetricsMiddleware(s.tablesHandler.HandleRecords, "records"))
	mux.HandleFunc("DELETE /v1/cache", MetricsMiddleware(s.tablesHandler.HandleInvalidate, "cache"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeFailure writes err with the status its kind maps to.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := statusOf(err)
	writeError(w, status, code, err)
}
