package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/liscrape/internal/adapters/mq/queue"
	worker "github.com/okian/liscrape/internal/adapters/mq/worker"
	model "github.com/okian/liscrape/internal/domain/model"
	"github.com/okian/liscrape/internal/domain/normalize"
	"github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing.
type mockFetcher struct {
	profileErr map[model.ProfileID]error
	contactErr map[model.ProfileID]error
	panicOn    map[model.ProfileID]bool
	missingID  bool
	mu         sync.Mutex
	calls      int
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{
		profileErr: make(map[model.ProfileID]error),
		contactErr: make(map[model.ProfileID]error),
		panicOn:    make(map[model.ProfileID]bool),
	}
}

func (m *mockFetcher) FetchProfile(ctx context.Context, id model.ProfileID) (model.RawProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.panicOn[id] {
		panic("malformed response for " + id.String())
	}
	if err := m.profileErr[id]; err != nil {
		return model.RawProfile{}, err
	}
	p := model.RawProfile{FirstName: model.Set("First " + id.String())}
	if !m.missingID {
		p.ProfileID = model.Set(id.String())
	}
	return p, nil
}

func (m *mockFetcher) FetchContactInfo(ctx context.Context, id model.ProfileID) (model.RawContactInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.contactErr[id]; err != nil {
		return model.RawContactInfo{}, err
	}
	return model.RawContactInfo{EmailAddress: model.Set(id.String() + "@example.com")}, nil
}

type mockLedger struct {
	mu       sync.Mutex
	seen     map[model.ProfileID]bool
	added    []model.ProfileID
	released int
}

func newMockLedger() *mockLedger {
	return &mockLedger{seen: make(map[model.ProfileID]bool)}
}

func (l *mockLedger) Add(ctx context.Context, id model.ProfileID, ignoreDuplicates bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.added = append(l.added, id)
	dup := l.seen[id]
	l.seen[id] = true
	return !dup || ignoreDuplicates
}

func (l *mockLedger) Release() {
	l.mu.Lock()
	l.released++
	l.mu.Unlock()
}

type mockSink struct {
	mu      sync.Mutex
	rows    []model.Record
	err     error
	panicOn string
}

func (s *mockSink) Append(ctx context.Context, r model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOn != "" && r[model.ColProfileID] == s.panicOn {
		panic("sheet driver crashed")
	}
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, r)
	return nil
}

type collector struct {
	mu      sync.Mutex
	results []model.ItemResult
}

func (c *collector) handle(r model.ItemResult) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

func (c *collector) outcomes() []model.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Outcome, len(c.results))
	for i, r := range c.results {
		out[i] = r.Outcome
	}
	return out
}

// runAll submits ids, closes the queue and waits for the worker to drain it.
func runAll(w *worker.FetchWorker, q *queue.Queue, ids ...model.ProfileID) {
	ctx := context.Background()
	for _, id := range ids {
		convey.So(q.Submit(ctx, id), convey.ShouldBeNil)
	}
	convey.So(q.Close(), convey.ShouldBeNil)
	go w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
}

func TestFetchWorker(t *testing.T) {
	convey.Convey("Given a FetchWorker", t, func() {
		q := queue.New(queue.WithCapacity(10))
		fetcher := newMockFetcher()
		ledger := newMockLedger()
		sink := &mockSink{}
		results := &collector{}
		opts := []worker.Option{worker.WithName("test-worker"), worker.WithResultHandler(results.handle)}

		newWorker := func(extra ...worker.Option) *worker.FetchWorker {
			return worker.New(q, fetcher, normalize.New(), ledger, sink, append(opts, extra...)...)
		}

		convey.Convey("When processing new profiles", func() {
			runAll(newWorker(), q, "jdoe", "asmith")

			convey.Convey("Then each is stored in order", func() {
				convey.So(results.outcomes(), convey.ShouldResemble, []model.Outcome{model.Stored, model.Stored})
				convey.So(sink.rows, convey.ShouldHaveLength, 2)
				convey.So(sink.rows[0][model.ColProfileID], convey.ShouldEqual, "jdoe")
				convey.So(sink.rows[0][model.ColEmail], convey.ShouldEqual, "jdoe@example.com")
				convey.So(sink.rows[1][model.ColProfileID], convey.ShouldEqual, "asmith")
			})
		})

		convey.Convey("When the same profile is queued twice", func() {
			runAll(newWorker(), q, "jdoe", "jdoe")

			convey.Convey("Then the repeat is skipped but still charged", func() {
				convey.So(results.outcomes(), convey.ShouldResemble, []model.Outcome{model.Stored, model.SkippedDuplicate})
				convey.So(sink.rows, convey.ShouldHaveLength, 1)
				convey.So(ledger.added, convey.ShouldHaveLength, 2)
				convey.So(fetcher.calls, convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When duplicates are ignored", func() {
			runAll(newWorker(worker.WithIgnoreDuplicates(true)), q, "jdoe", "jdoe")

			convey.Convey("Then both are stored", func() {
				convey.So(sink.rows, convey.ShouldHaveLength, 2)
			})
		})

		convey.Convey("When the profile fetch fails", func() {
			fetcher.profileErr["broken"] = errors.New("upstream down")
			runAll(newWorker(), q, "broken", "jdoe")

			convey.Convey("Then the reservation is released and the worker moves on", func() {
				convey.So(results.outcomes(), convey.ShouldResemble, []model.Outcome{model.FailedProfile, model.Stored})
				convey.So(ledger.released, convey.ShouldEqual, 1)
				convey.So(ledger.added, convey.ShouldResemble, []model.ProfileID{"jdoe"})
				convey.So(results.results[0].Err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the contact info fetch fails", func() {
			fetcher.contactErr["jdoe"] = errors.New("forbidden")
			runAll(newWorker(), q, "jdoe")

			convey.Convey("Then the profile is stored without contact columns", func() {
				convey.So(results.outcomes(), convey.ShouldResemble, []model.Outcome{model.Stored})
				convey.So(sink.rows[0][model.ColEmail], convey.ShouldEqual, "")
				convey.So(sink.rows[0][model.ColFirstName], convey.ShouldEqual, "First jdoe")
			})
		})

		convey.Convey("When the sink fails", func() {
			sink.err = errors.New("disk full")
			runAll(newWorker(), q, "jdoe")

			convey.Convey("Then the outcome is a store failure", func() {
				convey.So(results.outcomes(), convey.ShouldResemble, []model.Outcome{model.FailedStore})
				convey.So(results.results[0].Record, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When the fetcher panics on one profile", func() {
			fetcher.panicOn["bad"] = true
			runAll(newWorker(), q, "bad", "jdoe")

			convey.Convey("Then that item fails, its slot is released and the next one is stored", func() {
				convey.So(results.outcomes(), convey.ShouldResemble, []model.Outcome{model.FailedProfile, model.Stored})
				convey.So(errors.Is(results.results[0].Err, worker.ErrPanic), convey.ShouldBeTrue)
				convey.So(ledger.released, convey.ShouldEqual, 1)
				convey.So(ledger.added, convey.ShouldResemble, []model.ProfileID{"jdoe"})
				convey.So(sink.rows, convey.ShouldHaveLength, 1)
				convey.So(sink.rows[0][model.ColProfileID], convey.ShouldEqual, "jdoe")
			})
		})

		convey.Convey("When the sink panics after the call was charged", func() {
			sink.panicOn = "bad"
			runAll(newWorker(), q, "bad", "jdoe")

			convey.Convey("Then it is a store failure and nothing is released", func() {
				convey.So(results.outcomes(), convey.ShouldResemble, []model.Outcome{model.FailedStore, model.Stored})
				convey.So(errors.Is(results.results[0].Err, worker.ErrPanic), convey.ShouldBeTrue)
				convey.So(ledger.released, convey.ShouldEqual, 0)
				convey.So(ledger.added, convey.ShouldResemble, []model.ProfileID{"bad", "jdoe"})
				convey.So(sink.rows, convey.ShouldHaveLength, 1)
			})
		})

		convey.Convey("When the result handler panics", func() {
			var handled []model.ProfileID
			handler := worker.WithResultHandler(func(r model.ItemResult) {
				handled = append(handled, r.ProfileID)
				if r.ProfileID == "bad" {
					panic("listener failed")
				}
			})
			runAll(newWorker(handler), q, "bad", "jdoe")

			convey.Convey("Then the worker keeps going", func() {
				convey.So(handled, convey.ShouldResemble, []model.ProfileID{"bad", "jdoe"})
				convey.So(sink.rows, convey.ShouldHaveLength, 2)
			})
		})

		convey.Convey("When the response has no profile id", func() {
			fetcher.missingID = true
			runAll(newWorker(), q, "jdoe", "jdoe")

			convey.Convey("Then the requested id is stored and used for dedupe", func() {
				convey.So(ledger.added, convey.ShouldResemble, []model.ProfileID{"jdoe", "jdoe"})
				convey.So(results.outcomes(), convey.ShouldResemble, []model.Outcome{model.Stored, model.SkippedDuplicate})
				convey.So(sink.rows[0][model.ColProfileID], convey.ShouldEqual, "jdoe")
			})
		})

		convey.Convey("When the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			w := newWorker()
			go w.Run(ctx)
			cancel()

			convey.Convey("Then the worker stops without the queue closing", func() {
				select {
				case <-w.Done():
				case <-time.After(time.Second):
					convey.So("worker did not stop", convey.ShouldBeEmpty)
				}
				convey.So(q.IsClosed(), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When shutdown times out", func() {
			w := newWorker()
			go w.Run(context.Background())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()

			convey.Convey("Then an error is returned", func() {
				convey.So(w.Shutdown(ctx), convey.ShouldNotBeNil)
				_ = q.Close()
				<-w.Done()
			})
		})
	})
}
