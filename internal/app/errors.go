package service

import "errors"

// Sentinel errors returned by the service.
var (
	ErrNotStarted      = errors.New("service not started")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrNoTables        = errors.New("app has no tables")
	ErrUnsupportedFile = errors.New("file type not allowed")
	ErrFileTooLarge    = errors.New("file too large")
)
