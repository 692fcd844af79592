package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/liscrape/internal/adapters/repository"
	"github.com/okian/liscrape/internal/domain/ledger"
	"github.com/okian/liscrape/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// memStore is an in-memory ledger.Store.
type memStore struct {
	mu      sync.Mutex
	history map[string]string
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) LoadHistory(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(map[string]string, len(m.history))
	for k, v := range m.history {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SaveHistory(_ context.Context, h map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.history = h
	return nil
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Unix(1_700_000_000, 0)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestQuota(t *testing.T) {
	Convey("Given a ledger with an hourly limit of 3", t, func() {
		ctx := context.Background()
		clk := newClock()
		l := ledger.New(&memStore{}, ledger.WithHourlyLimit(3), ledger.WithClock(clk.Now))
		l.Load(ctx)

		Convey("When fewer calls than the limit were made", func() {
			l.Add(ctx, "a", false)
			l.Add(ctx, "b", false)
			ok, retry := l.CheckValidity(ctx)

			Convey("Then another call is allowed", func() {
				So(ok, ShouldBeTrue)
				So(retry, ShouldEqual, 0)
			})
		})

		Convey("When the limit is reached", func() {
			l.Add(ctx, "a", false)
			clk.Advance(10 * time.Minute)
			l.Add(ctx, "b", false)
			l.Add(ctx, "c", false)
			clk.Advance(5 * time.Minute)

			ok, retry := l.CheckValidity(ctx)

			Convey("Then the call is denied until the oldest call expires", func() {
				So(ok, ShouldBeFalse)
				So(retry, ShouldEqual, 45*time.Minute)
			})

			Convey("Then retryAfter shrinks as time passes", func() {
				clk.Advance(time.Minute)
				_, later := l.CheckValidity(ctx)
				So(later, ShouldBeLessThan, retry)
			})

			Convey("Then the first call leaving the window frees a slot", func() {
				clk.Advance(45*time.Minute + time.Second)
				ok, _ := l.CheckValidity(ctx)
				So(ok, ShouldBeTrue)
				So(l.Stats().InWindow, ShouldEqual, 2)
			})
		})

		Convey("When reservations fill the quota", func() {
			l.Reserve()
			l.Reserve()
			l.Reserve()
			ok, retry := l.CheckValidity(ctx)

			Convey("Then the call is denied with the minimum wait", func() {
				So(ok, ShouldBeFalse)
				So(retry, ShouldEqual, time.Minute)
				So(l.Stats().Pending, ShouldEqual, 3)
			})

			Convey("Then releasing a reservation frees a slot", func() {
				l.Release()
				ok, _ := l.CheckValidity(ctx)
				So(ok, ShouldBeTrue)
			})

			Convey("Then Add consumes a reservation", func() {
				l.Add(ctx, "a", false)
				So(l.Stats().Pending, ShouldEqual, 2)
				So(l.Stats().InWindow, ShouldEqual, 1)
			})
		})

		Convey("When reserving concurrently", func() {
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				granted int
			)
			for range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if ok, _ := l.TryReserve(ctx); ok {
						mu.Lock()
						granted++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly the limit is granted", func() {
				So(granted, ShouldEqual, 3)
				So(l.Stats().Pending, ShouldEqual, 3)
			})
		})

		Convey("When releasing without reservations", func() {
			l.Release()
			So(l.Stats().Pending, ShouldEqual, 0)
		})
	})

	Convey("Given an unlimited ledger", t, func() {
		ctx := context.Background()
		l := ledger.New(&memStore{}, ledger.WithHourlyLimit(0))
		for i := range 500 {
			l.Add(ctx, model.ProfileID(fmt.Sprintf("p%d", i)), false)
		}

		Convey("Then every check passes", func() {
			ok, retry := l.CheckValidity(ctx)
			So(ok, ShouldBeTrue)
			So(retry, ShouldEqual, 0)
		})
	})
}

func TestAdd(t *testing.T) {
	Convey("Given an empty ledger", t, func() {
		ctx := context.Background()
		l := ledger.New(&memStore{}, ledger.WithHourlyLimit(10))

		Convey("When a profile is added twice", func() {
			first := l.Add(ctx, "jdoe", false)
			second := l.Add(ctx, "jdoe", false)

			Convey("Then only the first is accepted but both are charged", func() {
				So(first, ShouldBeTrue)
				So(second, ShouldBeFalse)
				So(l.Stats().Recorded, ShouldEqual, 2)
				So(l.Stats().InWindow, ShouldEqual, 2)
			})
		})

		Convey("When duplicates are ignored", func() {
			l.Add(ctx, "jdoe", true)
			again := l.Add(ctx, "jdoe", true)

			Convey("Then the repeat is accepted", func() {
				So(again, ShouldBeTrue)
			})
		})

		Convey("When many goroutines add the same profile", func() {
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				accepted int
			)
			for range 50 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if l.Add(ctx, "jdoe", false) {
						mu.Lock()
						accepted++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one is accepted", func() {
				So(accepted, ShouldEqual, 1)
				So(l.Stats().Recorded, ShouldEqual, 50)
			})
		})
	})
}

func TestLoadAndStore(t *testing.T) {
	Convey("Given persisted history", t, func() {
		ctx := context.Background()
		clk := newClock()
		store := &memStore{history: map[string]string{
			"1699999000.5":        "legacy",
			"1699999900.000001#7": "jdoe",
			"garbage":             "skipped",
		}}
		l := ledger.New(store, ledger.WithHourlyLimit(1), ledger.WithClock(clk.Now))

		Convey("When loading", func() {
			records := l.Load(ctx)

			Convey("Then readable entries are kept in time order", func() {
				So(records, ShouldHaveLength, 2)
				So(records[0].SubjectID, ShouldEqual, model.ProfileID("legacy"))
				So(records[1].SubjectID, ShouldEqual, model.ProfileID("jdoe"))
				So(records[1].At.Equal(time.Unix(1699999900, 1000)), ShouldBeTrue)
			})

			Convey("Then loaded profiles count as seen", func() {
				So(l.Add(ctx, "jdoe", false), ShouldBeFalse)
			})

			Convey("Then the quota is recounted on the first check", func() {
				ok, retry := l.CheckValidity(ctx)
				So(ok, ShouldBeFalse)
				// oldest in window is the legacy entry, 999.5s old
				So(retry, ShouldEqual, 3600*time.Second-(999*time.Second+500*time.Millisecond))
			})
		})

		Convey("When storing after a load", func() {
			l.Load(ctx)
			l.Add(ctx, "new", false)
			l.Add(ctx, "new", true)
			So(l.Store(ctx), ShouldBeNil)

			Convey("Then every call is persisted under a unique key", func() {
				So(store.history, ShouldHaveLength, 4)
				reloaded := ledger.New(store).Load(ctx)
				So(reloaded, ShouldHaveLength, 4)
				So(reloaded[3].SubjectID, ShouldEqual, model.ProfileID("new"))
			})
		})

		Convey("When storing fails", func() {
			l.Load(ctx)
			l.Add(ctx, "x", false)
			store.saveErr = errors.New("disk full")
			err := l.Store(ctx)

			Convey("Then the error is returned and memory is intact", func() {
				So(err, ShouldNotBeNil)
				So(l.Stats().Recorded, ShouldEqual, 3)
			})
		})
	})

	Convey("Given an unreadable history", t, func() {
		ctx := context.Background()
		store := &memStore{loadErr: repository.ErrCorruptDocument}
		l := ledger.New(store)

		records := l.Load(ctx)

		Convey("Then the ledger starts empty and rewrites the history", func() {
			So(records, ShouldBeEmpty)
			So(store.saves, ShouldEqual, 1)
			So(store.history, ShouldBeEmpty)
		})
	})

	Convey("Given a missing history", t, func() {
		store := &memStore{loadErr: fs.ErrNotExist}
		records := ledger.New(store).Load(context.Background())
		So(records, ShouldBeEmpty)
		So(store.saves, ShouldEqual, 1)
	})
}

func TestResetKeepsQuota(t *testing.T) {
	Convey("Given a ledger at its hourly limit of 2", t, func() {
		ctx := context.Background()
		clk := newClock()
		store := &memStore{}
		l := ledger.New(store, ledger.WithHourlyLimit(2), ledger.WithClock(clk.Now))
		l.Load(ctx)
		So(l.Add(ctx, "jdoe", false), ShouldBeTrue)
		clk.Advance(time.Minute)
		So(l.Add(ctx, "asmith", false), ShouldBeTrue)

		Convey("When the history is reset", func() {
			So(l.Reset(ctx), ShouldBeNil)

			Convey("Then profiles are forgotten but the quota is still spent", func() {
				ok, retryAfter := l.CheckValidity(ctx)
				So(ok, ShouldBeFalse)
				So(retryAfter, ShouldEqual, 59*time.Minute)
				So(l.Stats().InWindow, ShouldEqual, 2)
				So(store.history, ShouldHaveLength, 2)
				for _, id := range store.history {
					So(id, ShouldEqual, "")
				}
			})

			Convey("Then a reloaded ledger agrees", func() {
				reloaded := ledger.New(store, ledger.WithHourlyLimit(2), ledger.WithClock(clk.Now))
				So(reloaded.Load(ctx), ShouldHaveLength, 2)
				ok, _ := reloaded.CheckValidity(ctx)
				So(ok, ShouldBeFalse)

				clk.Advance(time.Hour)
				So(reloaded.Add(ctx, "jdoe", false), ShouldBeTrue)
			})
		})

		Convey("When the window has passed before the reset", func() {
			clk.Advance(2 * time.Hour)
			So(l.Reset(ctx), ShouldBeNil)

			Convey("Then nothing is kept", func() {
				So(l.Stats().Recorded, ShouldEqual, 0)
				So(store.history, ShouldBeEmpty)
				ok, _ := l.CheckValidity(ctx)
				So(ok, ShouldBeTrue)
			})
		})
	})
}

func TestReset(t *testing.T) {
	Convey("Given a ledger backed by a config file with users", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "config.json")
		So(os.WriteFile(path, []byte(`{"users":{"me@example.com":"tok"},"history":{"1.0":"old"},"theme":"DarkAmber"}`), 0o600), ShouldBeNil)

		files := repository.NewFileStore(path)
		l := ledger.New(repository.NewHistoryStore(files))
		So(l.Load(ctx), ShouldHaveLength, 1)
		l.Reserve()

		Convey("When the history is reset", func() {
			So(l.Reset(ctx), ShouldBeNil)

			Convey("Then history is empty and other sections survive", func() {
				doc, err := files.Read(ctx)
				So(err, ShouldBeNil)
				So(string(doc[repository.SectionHistory]), ShouldEqual, "{}")

				var users map[string]string
				_, err = doc.Section(repository.SectionUsers, &users)
				So(err, ShouldBeNil)
				So(users["me@example.com"], ShouldEqual, "tok")
				So(string(doc[repository.SectionTheme]), ShouldEqual, `"DarkAmber"`)

				So(l.Stats().Recorded, ShouldEqual, 0)
				So(l.Stats().Pending, ShouldEqual, 1)
				So(l.Add(ctx, "old", false), ShouldBeTrue)
			})
		})
	})
}
