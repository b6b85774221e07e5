package watch

import (
	"time"

	"github.com/okian/sheetsync/pkg/logger"
)

// Option applies a configuration option to the Watcher.
type Option func(*Watcher)

// WithSettle sets how long a file must stay quiet before it is submitted.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithNotify registers a callback invoked after each submission attempt.
func WithNotify(fn func(path, jobID string, err error)) Option {
	return func(w *Watcher) {
		w.submitted = fn
	}
}
