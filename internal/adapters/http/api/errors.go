package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/sheetsync/internal/adapters/bitable"
	"github.com/okian/sheetsync/internal/adapters/mq/queue"
	repository "github.com/okian/sheetsync/internal/adapters/repository"
	service "github.com/okian/sheetsync/internal/app"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
)

// WrapKind returns "op: kind: cause" matching both kind and cause with errors.Is.
func WrapKind(op string, kind, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, kind, cause)
}

// NewKind returns "op: kind".
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// statusOf maps an error to the HTTP status and code written to the client.
func statusOf(err error) (int, string) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig), errors.Is(err, service.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, service.ErrUnsupportedFile):
		return http.StatusUnsupportedMediaType, "unsupported_file"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, bitable.ErrInvalidLink),
		errors.Is(err, repository.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrNoTables):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrBackpressure), errors.Is(err, queue.ErrFull):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, queue.ErrClosed), errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}

	if kind, ok := bitable.KindOf(err); ok {
		return remoteStatus(kind), string(kind)
	}
	if errors.Is(err, bitable.ErrAuthenticationMissing) {
		return http.StatusUnauthorized, string(bitable.KindAuthenticationMissing)
	}
	return http.StatusInternalServerError, "internal"
}

func remoteStatus(kind bitable.Kind) int {
	switch kind {
	case bitable.KindAuthenticationMissing, bitable.KindAuthenticationInvalid, bitable.KindTokenExpired:
		return http.StatusUnauthorized
	case bitable.KindRateLimited:
		return http.StatusTooManyRequests
	case bitable.KindResourceNotFound:
		return http.StatusNotFound
	case bitable.KindParamInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
