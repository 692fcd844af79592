package worker

import (
	"github.com/okian/liscrape/internal/domain/model"
	"github.com/okian/liscrape/pkg/logger"
)

// Option applies a configuration option to the FetchWorker.
type Option func(*FetchWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *FetchWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *FetchWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithIgnoreDuplicates stores profiles even when they were recorded before.
func WithIgnoreDuplicates(ignore bool) Option {
	return func(w *FetchWorker) {
		w.ignoreDuplicates = ignore
	}
}

// WithResultHandler registers the callback that receives every outcome.
// It runs on the worker goroutine.
func WithResultHandler(fn func(model.ItemResult)) Option {
	return func(w *FetchWorker) {
		if fn != nil {
			w.onResult = fn
		}
	}
}
