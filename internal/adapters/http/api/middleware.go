package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/sheetsync/pkg/logger"
	"github.com/okian/sheetsync/pkg/metrics"
)

// errPanic is reported for handlers that panicked.
var errPanic = errors.New("handler panicked")

// MetricsMiddleware wraps HTTP handlers to record Prometheus metrics. A
// panicking handler is answered with 500 and logged.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				logger.Named("api").Error(r.Context(), "handler panic",
					logger.String("endpoint", endpoint),
					logger.Any("panic", p),
				)
				if !rec.wrote {
					writeError(rec, http.StatusInternalServerError, "internal", errPanic)
				}
			}
			observe(endpoint, r.Method, rec.status, time.Since(start))
		}()

		next.ServeHTTP(rec, r)
	}
}

func observe(endpoint, method string, status int, took time.Duration) {
	ms := float64(took.Milliseconds())
	code := strconv.Itoa(status)
	metrics.RecordHTTPRequest(endpoint, method, code)
	metrics.RecordHTTPRequestDuration(endpoint, method, code, ms)
	if status < http.StatusBadRequest {
		return
	}
	errorType, severity := classify(status)
	metrics.RecordErrorByEndpoint(endpoint, method, errorType)
	metrics.RecordErrorByType(errorType, severity)
	metrics.RecordErrorLatency("http", errorType, ms)
}

// classify returns the error type and severity labels for a failing status.
func classify(status int) (string, string) {
	switch {
	case status == http.StatusBadGateway, status == http.StatusGatewayTimeout:
		return "upstream", "high"
	case status >= http.StatusInternalServerError:
		return "server_error", "high"
	case status == http.StatusTooManyRequests:
		return "rate_limit", "medium"
	case status == http.StatusUnauthorized:
		return "auth", "medium"
	case status == http.StatusNotFound:
		return "not_found", "low"
	default:
		return "client_error", "medium"
	}
}

// statusRecorder remembers the status written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.wrote {
		return
	}
	rw.status = code
	rw.wrote = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wrote = true
	return rw.ResponseWriter.Write(b)
}
