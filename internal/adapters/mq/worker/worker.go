// Package worker drains the ingestion queue: fetch, normalize, dedupe, store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/okian/liscrape/internal/domain/model"
	"github.com/okian/liscrape/pkg/logger"
	"github.com/okian/liscrape/pkg/metrics"
)

// ErrPanic marks an item whose processing panicked.
var ErrPanic = errors.New("profile processing panicked")

// Fetcher retrieves raw profile data from upstream.
type Fetcher interface {
	FetchProfile(ctx context.Context, id model.ProfileID) (model.RawProfile, error)
	FetchContactInfo(ctx context.Context, id model.ProfileID) (model.RawContactInfo, error)
}

// Normalizer turns raw responses into a record.
type Normalizer interface {
	Normalize(ctx context.Context, p model.RawProfile, c model.RawContactInfo) model.Record
}

// Ledger charges calls and detects duplicates.
type Ledger interface {
	Add(ctx context.Context, id model.ProfileID, ignoreDuplicates bool) bool
	Release()
}

// Sink stores records.
type Sink interface {
	Append(ctx context.Context, r model.Record) error
}

// Queue defines how the worker receives profile ids.
type Queue interface {
	Dequeue() <-chan model.ProfileID
}

// FetchWorker processes one profile at a time, in queue order.
type FetchWorker struct {
	queue      Queue
	fetcher    Fetcher
	normalizer Normalizer
	ledger     Ledger
	sink       Sink
	name       string

	ignoreDuplicates bool
	onResult         func(model.ItemResult)

	done chan struct{}

	logger logger.Logger
}

// New creates a worker.
func New(q Queue, f Fetcher, n Normalizer, l Ledger, s Sink, opts ...Option) *FetchWorker {
	w := &FetchWorker{
		queue:      q,
		fetcher:    f,
		normalizer: n,
		ledger:     l,
		sink:       s,
		name:       "worker",
		onResult:   func(model.ItemResult) {},
		done:       make(chan struct{}),
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run processes ids until the queue is closed and drained, or ctx ends.
// Cancelling ctx never interrupts an item that has started.
func (w *FetchWorker) Run(ctx context.Context) {
	defer close(w.done)

	ids := w.queue.Dequeue()
	for {
		select {
		case <-ctx.Done():
			w.logger.Warn(ctx, "worker stopped before the queue drained")
			return
		case id, ok := <-ids:
			if !ok {
				w.logger.Info(ctx, "queue drained, worker stopping")
				return
			}
			res := w.process(context.WithoutCancel(ctx), id)
			metrics.RecordOutcome(string(res.Outcome))
			w.deliver(ctx, res)
		}
	}
}

// Done is closed when Run returns.
func (w *FetchWorker) Done() <-chan struct{} { return w.done }

// Shutdown waits for Run to return. The queue must be closed first.
func (w *FetchWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// deliver hands res to the result handler. A panicking handler is logged and
// the loop continues.
func (w *FetchWorker) deliver(ctx context.Context, res model.ItemResult) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(ctx, "result handler panicked",
				logger.String("profile_id", res.ProfileID.String()),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
		}
	}()
	w.onResult(res)
}

// process runs one item to its outcome. A panic in any collaborator becomes
// a failed outcome; the reservation is released if the call was never charged.
func (w *FetchWorker) process(ctx context.Context, id model.ProfileID) (res model.ItemResult) {
	var (
		charged bool
		record  model.Record
	)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err := fmt.Errorf("%w: %v", ErrPanic, r)
		w.logger.Error(ctx, "profile processing panicked",
			logger.String("profile_id", id.String()),
			logger.Error(err),
			logger.String("stack", string(debug.Stack())))
		if !charged {
			w.ledger.Release()
			res = model.ItemResult{ProfileID: id, Outcome: model.FailedProfile, Err: err}
			return
		}
		res = model.ItemResult{ProfileID: id, Outcome: model.FailedStore, Record: record, Err: err}
	}()

	start := time.Now()
	profile, err := w.fetcher.FetchProfile(ctx, id)
	metrics.RecordFetchLatency("profile", float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordFetchError("profile")
		w.ledger.Release()
		w.logger.Error(ctx, "profile fetch failed",
			logger.String("profile_id", id.String()),
			logger.Error(err))
		return model.ItemResult{ProfileID: id, Outcome: model.FailedProfile, Err: err}
	}

	start = time.Now()
	contact, err := w.fetcher.FetchContactInfo(ctx, id)
	metrics.RecordFetchLatency("contact_info", float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.RecordFetchError("contact_info")
		w.logger.Warn(ctx, "contact info fetch failed, continuing without it",
			logger.String("profile_id", id.String()),
			logger.Error(err))
		contact = model.RawContactInfo{}
	}

	record = w.normalizer.Normalize(ctx, profile, contact)

	if record.ProfileID() == "" {
		// The response had no profile_id; keep what was asked for.
		record[model.ColProfileID] = id.String()
	}
	stored := w.ledger.Add(ctx, record.ProfileID(), w.ignoreDuplicates)
	charged = true
	if !stored {
		return model.ItemResult{ProfileID: id, Outcome: model.SkippedDuplicate, Record: record}
	}

	start = time.Now()
	err = w.sink.Append(ctx, record)
	metrics.RecordSinkLatency(float64(time.Since(start).Milliseconds()))
	if err != nil {
		w.logger.Error(ctx, "failed to store record",
			logger.String("profile_id", id.String()),
			logger.Error(err))
		return model.ItemResult{ProfileID: id, Outcome: model.FailedStore, Record: record, Err: err}
	}

	w.logger.Info(ctx, "profile stored", logger.String("profile_id", id.String()))
	return model.ItemResult{ProfileID: id, Outcome: model.Stored, Record: record}
}
