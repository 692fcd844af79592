package service

import (
	"github.com/okian/liscrape/internal/domain/model"
	"github.com/okian/liscrape/pkg/logger"
)

// Option applies a configuration option to the Controller.
type Option func(*Controller)

// WithQueueSize sets the ingestion queue capacity.
func WithQueueSize(size int) Option {
	return func(c *Controller) {
		if size > 0 {
			c.queueSize = size
		}
	}
}

// WithIgnoreDuplicates stores profiles that were recorded before.
func WithIgnoreDuplicates(ignore bool) Option {
	return func(c *Controller) {
		c.ignoreDuplicates = ignore
	}
}

// WithLogger sets a custom logger for the controller.
func WithLogger(logger logger.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNotifier registers a listener for worker outcomes. Listeners run on
// the worker goroutine after counters are updated and must not block.
func WithNotifier(fn func(model.ItemResult)) Option {
	return func(c *Controller) {
		if fn != nil {
			c.notifiers = append(c.notifiers, fn)
		}
	}
}
