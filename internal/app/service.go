// Package service wires the ingestion pipeline together and is the single
// entry point for front ends: submit a profile, read counters, shut down.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/okian/liscrape/internal/adapters/mq/queue"
	"github.com/okian/liscrape/internal/adapters/mq/worker"
	"github.com/okian/liscrape/internal/adapters/sink"
	"github.com/okian/liscrape/internal/domain/ledger"
	"github.com/okian/liscrape/internal/domain/model"
	"github.com/okian/liscrape/internal/domain/normalize"
	"github.com/okian/liscrape/pkg/logger"
	"github.com/okian/liscrape/pkg/metrics"
)

// Stats is a snapshot of controller state for front ends.
type Stats struct {
	RunID     string    `json:"run_id"`
	Session   int64     `json:"session"`
	Total     int64     `json:"total"`
	QueueLen  int       `json:"queue_length"`
	QueueCap  int       `json:"queue_capacity"`
	InWindow  int       `json:"quota_used"`
	Limit     int       `json:"hourly_limit"`
	Pending   int       `json:"pending"`
	Recorded  int       `json:"history_size"`
	SinkPath  string    `json:"sheet_path"`
	SinkKind  sink.Kind `json:"sheet_type"`
	LastError string    `json:"last_error,omitempty"`
	Started   bool      `json:"started"`
}

// Controller owns the queue, the worker, the ledger and the sink.
type Controller struct {
	mu     sync.RWMutex
	sinkMu sync.Mutex // serializes appends with RemoveContacts

	// Core components
	ledger  *ledger.Ledger
	fetcher worker.Fetcher
	sink    sink.Sink
	queue   *queue.Queue
	worker  *worker.FetchWorker

	// Configuration
	queueSize        int
	ignoreDuplicates bool
	notifiers        []func(model.ItemResult)

	// State
	runID        string
	session      atomic.Int64
	total        atomic.Int64
	lastErr      atomic.Value // string
	started      bool
	stopped      bool
	cancelWorker context.CancelFunc

	// Logging
	logger logger.Logger
}

// New constructs a controller. Nothing runs until Start.
func New(l *ledger.Ledger, f worker.Fetcher, s sink.Sink, opts ...Option) *Controller {
	c := &Controller{
		ledger:    l,
		fetcher:   f,
		sink:      s,
		queueSize: queue.DefaultCapacity,
		runID:     uuid.NewString(),
		logger:    logger.Discard(),
	}
	c.lastErr.Store("")

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start loads the ledger, seeds the total from the sink and starts the
// worker. The worker outlives ctx; stop it with Shutdown.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}
	c.logger.Info(ctx, "starting ingestion controller", logger.String("run_id", c.runID))

	c.ledger.Load(ctx)

	rows, err := c.sink.Len(ctx)
	if err != nil {
		c.logger.Error(ctx, "could not count existing rows, starting from zero",
			logger.String("path", c.sink.Path()),
			logger.Error(err))
		rows = 0
	}
	c.total.Store(int64(rows))
	metrics.UpdateStoredCounts(0, int64(rows))

	c.queue = queue.New(queue.WithCapacity(c.queueSize))
	out := countedSink{Sink: c.sink, mu: &c.sinkMu, total: &c.total}
	c.worker = worker.New(c.queue, c.fetcher, normalize.New(normalize.WithLogger(c.logger.Named("normalize"))), c.ledger, out,
		worker.WithName("fetch-worker"),
		worker.WithLogger(c.logger),
		worker.WithIgnoreDuplicates(c.ignoreDuplicates),
		worker.WithResultHandler(c.handleResult),
	)

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancelWorker = cancel
	go func() {
		defer c.Guard(workerCtx)
		c.worker.Run(workerCtx)
	}()

	c.started = true
	c.logger.Info(ctx, "ingestion controller started",
		logger.Int("queue_size", c.queueSize),
		logger.Int64("total", int64(rows)),
		logger.String("sheet", c.sink.Path()),
		logger.String("sheet_type", string(c.sink.Kind())),
	)
	return nil
}

// Submit parses raw into a profile id and queues it if the quota allows.
// A full queue blocks until there is room or ctx ends.
func (c *Controller) Submit(ctx context.Context, raw string) (model.SubmitResult, error) {
	c.mu.RLock()
	started, q := c.started, c.queue
	c.mu.RUnlock()
	if !started {
		return model.SubmitResult{}, ErrNotStarted
	}

	id, err := model.ParseProfileID(raw)
	if err != nil {
		return model.SubmitResult{}, fmt.Errorf("submit %q: %w", raw, err)
	}

	ok, retryAfter := c.ledger.TryReserve(ctx)
	if !ok {
		res := model.SubmitResult{ProfileID: id, Status: model.RateLimited, RetryAfter: retryAfter}
		metrics.RecordSubmission(string(model.RateLimited))
		c.logger.Info(ctx, "hourly limit reached",
			logger.String("profile_id", id.String()),
			logger.Int("retry_after_minutes", res.RetryAfterMinutes()))
		return res, nil
	}

	if err := q.Submit(ctx, id); err != nil {
		c.ledger.Release()
		return model.SubmitResult{}, fmt.Errorf("enqueue %s: %w", id, err)
	}
	metrics.RecordSubmission(string(model.Accepted))
	c.logger.Debug(ctx, "profile queued", logger.String("profile_id", id.String()))
	return model.SubmitResult{ProfileID: id, Status: model.Accepted}, nil
}

// handleResult runs on the worker goroutine for every processed id.
func (c *Controller) handleResult(res model.ItemResult) {
	switch res.Outcome {
	case model.Stored:
		// total was bumped by countedSink when the row was written.
		c.session.Add(1)
	case model.FailedProfile, model.FailedStore:
		if res.Err != nil {
			c.lastErr.Store(fmt.Sprintf("%s: %v", res.ProfileID, res.Err))
		}
	}
	metrics.UpdateStoredCounts(c.session.Load(), c.total.Load())
	metrics.UpdateQuotaUsed(c.ledger.Stats().InWindow)

	for _, fn := range c.notifiers {
		fn(res)
	}
}

// SessionCount is the number of profiles stored since Start.
func (c *Controller) SessionCount() int64 { return c.session.Load() }

// TotalCount is the number of rows in the sink.
func (c *Controller) TotalCount() int64 { return c.total.Load() }

// LastError is the most recent per-item failure, or "".
func (c *Controller) LastError() string {
	s, _ := c.lastErr.Load().(string)
	return s
}

// Stats returns a snapshot of counters and quota usage.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ls := c.ledger.Stats()
	st := Stats{
		RunID:     c.runID,
		Session:   c.session.Load(),
		Total:     c.total.Load(),
		QueueCap:  c.queueSize,
		InWindow:  ls.InWindow,
		Limit:     ls.HourlyLimit,
		Pending:   ls.Pending,
		Recorded:  ls.Recorded,
		SinkPath:  c.sink.Path(),
		SinkKind:  c.sink.Kind(),
		LastError: c.LastError(),
		Started:   c.started && !c.stopped,
	}
	if c.queue != nil {
		st.QueueLen = c.queue.Len()
	}
	metrics.UpdateQuotaUsed(ls.InWindow)
	return st
}

// ClearHistory forgets which profiles were recorded. Stored rows are kept
// and this hour's calls still count against the quota.
func (c *Controller) ClearHistory(ctx context.Context) error {
	if err := c.ledger.Reset(ctx); err != nil {
		c.logger.Error(ctx, "failed to clear history", logger.Error(err))
		return err
	}
	return nil
}

// RemoveContacts deletes the sink file and resets the total. It waits for
// an append in progress, so total always matches the file.
func (c *Controller) RemoveContacts(ctx context.Context) error {
	c.sinkMu.Lock()
	defer c.sinkMu.Unlock()
	if err := c.sink.Remove(ctx); err != nil {
		c.logger.Error(ctx, "failed to remove contacts", logger.Error(err))
		return err
	}
	c.total.Store(0)
	metrics.UpdateStoredCounts(c.session.Load(), 0)
	c.logger.Info(ctx, "contacts removed", logger.String("path", c.sink.Path()))
	return nil
}

// Flush persists the ledger without stopping anything.
func (c *Controller) Flush(ctx context.Context) error {
	err := c.ledger.Store(ctx)
	metrics.RecordLedgerStore(err == nil)
	return err
}

// Guard must be deferred directly at the top of a goroutine. If that
// goroutine panics, Guard persists the ledger and re-panics.
func (c *Controller) Guard(ctx context.Context) {
	r := recover()
	if r == nil {
		return
	}
	c.logger.Error(ctx, "unexpected panic, persisting call history",
		logger.Any("panic", r),
		logger.String("stack", string(debug.Stack())))
	if err := c.Flush(context.WithoutCancel(ctx)); err != nil {
		c.logger.Error(ctx, "emergency history store failed", logger.Error(err))
	}
	panic(r)
}

// Shutdown stops accepting submissions, waits for the queue to drain and
// persists the ledger. If ctx ends first the worker is stopped after its
// current item and the ledger is persisted anyway.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	q, w, cancel := c.queue, c.worker, c.cancelWorker
	c.mu.Unlock()

	c.logger.Info(ctx, "stopping ingestion controller", logger.Int("queued", q.Len()))

	var errs []error
	_ = q.Close()
	if err := w.Shutdown(ctx); err != nil {
		cancel()
		<-w.Done()
		errs = append(errs, err)
	}
	cancel()

	if err := c.Flush(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}
	if err := c.sink.Close(); err != nil {
		errs = append(errs, err)
	}

	c.logger.Info(ctx, "ingestion controller stopped",
		logger.Int64("session", c.session.Load()),
		logger.Int64("total", c.total.Load()))
	return errors.Join(errs...)
}

// countedSink bumps total under mu for every row written.
type countedSink struct {
	sink.Sink
	mu    *sync.Mutex
	total *atomic.Int64
}

func (s countedSink) Append(ctx context.Context, r model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.Sink.Append(ctx, r); err != nil {
		return err
	}
	s.total.Add(1)
	return nil
}
