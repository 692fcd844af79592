package ledger

import (
	"time"

	"github.com/okian/liscrape/pkg/logger"
)

// Option applies a configuration option to the Ledger.
type Option func(*Ledger)

// WithHourlyLimit caps the calls admitted per window.
// If limit > 0: calls are counted against it.
// If limit <= 0: unlimited mode, every check passes.
func WithHourlyLimit(limit int) Option {
	return func(l *Ledger) {
		l.hourlyLimit = limit
	}
}

// WithWindow overrides the trailing quota window.
func WithWindow(window time.Duration) Option {
	return func(l *Ledger) {
		if window > 0 {
			l.window = window
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets a custom logger for the ledger.
func WithLogger(log logger.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.logger = log
		}
	}
}
