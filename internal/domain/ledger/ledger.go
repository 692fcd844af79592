// Package ledger keeps the durable record of upstream calls. It answers two
// questions: may another call be made within the hourly quota, and has a
// profile been recorded before.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/okian/liscrape/internal/domain/model"
	"github.com/okian/liscrape/pkg/logger"
)

const (
	// DefaultWindow is the trailing quota window.
	DefaultWindow = time.Hour

	// minRetryAfter is reported when the window is full of reservations that
	// have not reached the ledger yet.
	minRetryAfter = time.Minute
)

// Store persists the history map (key -> profile id).
type Store interface {
	LoadHistory(ctx context.Context) (map[string]string, error)
	SaveHistory(ctx context.Context, history map[string]string) error
}

// CallRecord is one upstream call.
type CallRecord struct {
	Seq       uint64
	At        time.Time
	SubjectID model.ProfileID
}

// Stats is a point-in-time view of the ledger.
type Stats struct {
	InWindow    int
	Recorded    int
	Pending     int
	HourlyLimit int
}

// Ledger tracks calls against the hourly quota and remembers every profile
// it has seen. Safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	store  Store
	logger logger.Logger
	now    func() time.Time

	window      time.Duration
	hourlyLimit int

	records   []CallRecord
	seen      map[model.ProfileID]int
	callCount int
	pending   int
	nextSeq   uint64
}

// New creates a ledger persisted through store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: logger.Discard(),
		now:    time.Now,
		window: DefaultWindow,
		seen:   make(map[model.ProfileID]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load replaces the in-memory state with the persisted history. Missing or
// corrupt history is reset to a well-formed empty state; Load never fails.
func (l *Ledger) Load(ctx context.Context) []CallRecord {
	history, err := l.store.LoadHistory(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger.Info(ctx, "no call history yet, creating it")
		} else {
			l.logger.Error(ctx, "call history unreadable, resetting", logger.Error(err))
		}
		if err := l.store.SaveHistory(ctx, map[string]string{}); err != nil {
			l.logger.Error(ctx, "failed to write empty call history", logger.Error(err))
		}
		history = nil
	}

	records := make([]CallRecord, 0, len(history))
	for key, id := range history {
		at, seq, err := decodeKey(key)
		if err != nil {
			l.logger.Warn(ctx, "skipping history entry", logger.String("key", key), logger.Error(err))
			continue
		}
		records = append(records, CallRecord{Seq: seq, At: at, SubjectID: model.ProfileID(id)})
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].At.Equal(records[j].At) {
			return records[i].At.Before(records[j].At)
		}
		return records[i].Seq < records[j].Seq
	})
	// Legacy keys carry no sequence; renumber so every key is unique.
	for i := range records {
		records[i].Seq = uint64(i + 1)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = records
	l.seen = make(map[model.ProfileID]int, len(records))
	for _, r := range records {
		// Calls kept only for the quota after a reset have no subject.
		if r.SubjectID != "" {
			l.seen[r.SubjectID]++
		}
	}
	// Every record counts until the first check recounts the window.
	l.callCount = len(records)
	l.nextSeq = uint64(len(records)) + 1

	l.logger.Info(ctx, "call history loaded", logger.Int("records", len(records)))
	return append([]CallRecord(nil), records...)
}

// CheckValidity reports whether one more call fits in the quota. When it does
// not, retryAfter is the time until the oldest in-window call expires.
func (l *Ledger) CheckValidity(ctx context.Context) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(ctx)
}

// TryReserve is CheckValidity followed by Reserve under one lock, so
// concurrent submitters cannot both take the last slot.
func (l *Ledger) TryReserve(ctx context.Context) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, retryAfter := l.checkLocked(ctx)
	if ok {
		l.pending++
	}
	return ok, retryAfter
}

func (l *Ledger) checkLocked(ctx context.Context) (bool, time.Duration) {
	if l.hourlyLimit <= 0 {
		return true, 0
	}
	if l.callCount+l.pending < l.hourlyLimit {
		return true, 0
	}

	now := l.now()
	inWindow, oldest := l.windowLocked(now)
	l.callCount = inWindow
	if l.callCount+l.pending < l.hourlyLimit {
		return true, 0
	}

	retryAfter := minRetryAfter
	if inWindow > 0 {
		retryAfter = l.window - now.Sub(oldest)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
	}
	l.logger.Debug(ctx, "quota exhausted",
		logger.Int("in_window", inWindow),
		logger.Int("pending", l.pending),
		logger.Duration("retry_after", retryAfter))
	return false, retryAfter
}

// Reserve takes a quota slot for a call that has been accepted but not made.
func (l *Ledger) Reserve() {
	l.mu.Lock()
	l.pending++
	l.mu.Unlock()
}

// Release returns a slot taken by Reserve without charging a call.
func (l *Ledger) Release() {
	l.mu.Lock()
	if l.pending > 0 {
		l.pending--
	}
	l.mu.Unlock()
}

// Add records a call for id. The call is always charged. It returns false
// when id was already recorded and ignoreDuplicates is false.
func (l *Ledger) Add(ctx context.Context, id model.ProfileID, ignoreDuplicates bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.callCount++
	if l.pending > 0 {
		l.pending--
	}
	duplicate := l.seen[id] > 0

	l.records = append(l.records, CallRecord{Seq: l.nextSeq, At: l.now(), SubjectID: id})
	l.nextSeq++
	l.seen[id]++

	if duplicate && !ignoreDuplicates {
		l.logger.Info(ctx, "duplicate profile", logger.String("profile_id", id.String()))
		return false
	}
	return true
}

// Store persists every record. On failure the in-memory state is untouched.
func (l *Ledger) Store(ctx context.Context) error {
	l.mu.Lock()
	history := make(map[string]string, len(l.records))
	for _, r := range l.records {
		history[encodeKey(r.At, r.Seq)] = r.SubjectID.String()
	}
	l.mu.Unlock()

	if err := l.store.SaveHistory(ctx, history); err != nil {
		l.logger.Error(ctx, "failed to store call history", logger.Error(err))
		return fmt.Errorf("store history: %w", err)
	}
	return nil
}

// Reset forgets which profiles were recorded and persists the result. Calls
// still inside the quota window are kept with no subject so the hourly limit
// cannot be sidestepped; older calls are dropped. Pending reservations
// survive.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	cutoff := l.now().Add(-l.window)
	kept := make([]CallRecord, 0, len(l.records))
	for _, r := range l.records {
		if r.At.Before(cutoff) {
			continue
		}
		r.SubjectID = ""
		kept = append(kept, r)
	}
	l.records = kept
	l.seen = make(map[model.ProfileID]int)
	l.callCount = len(kept)
	history := make(map[string]string, len(kept))
	for _, r := range kept {
		history[encodeKey(r.At, r.Seq)] = ""
	}
	l.mu.Unlock()

	if err := l.store.SaveHistory(ctx, history); err != nil {
		return fmt.Errorf("reset history: %w", err)
	}
	l.logger.Info(ctx, "call history cleared", logger.Int("kept_for_quota", len(kept)))
	return nil
}

// Stats returns current counters.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	inWindow, _ := l.windowLocked(l.now())
	return Stats{
		InWindow:    inWindow,
		Recorded:    len(l.records),
		Pending:     l.pending,
		HourlyLimit: l.hourlyLimit,
	}
}

// windowLocked counts records within the window ending at now. The window
// is inclusive at its far edge.
func (l *Ledger) windowLocked(now time.Time) (int, time.Time) {
	cutoff := now.Add(-l.window)
	var (
		count  int
		oldest time.Time
	)
	for _, r := range l.records {
		if r.At.Before(cutoff) {
			continue
		}
		if count == 0 || r.At.Before(oldest) {
			oldest = r.At
		}
		count++
	}
	return count, oldest
}

// encodeKey renders "<unix seconds with microseconds>#<seq>".
func encodeKey(at time.Time, seq uint64) string {
	return fmt.Sprintf("%d.%06d#%d", at.Unix(), at.Nanosecond()/int(time.Microsecond), seq)
}

// decodeKey accepts encodeKey output and bare float timestamps.
func decodeKey(key string) (time.Time, uint64, error) {
	ts, seqPart, hasSeq := strings.Cut(strings.TrimSpace(key), "#")
	at, err := parseUnix(ts)
	if err != nil {
		return time.Time{}, 0, err
	}
	var seq uint64
	if hasSeq {
		seq, err = strconv.ParseUint(seqPart, 10, 64)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("%w: %q", ErrBadHistoryKey, key)
		}
	}
	return at, seq, nil
}

// parseUnix reads "<secs>[.<fraction>]" without going through float64 so
// microsecond keys round-trip exactly. Other float spellings fall back to
// ParseFloat.
func parseUnix(ts string) (time.Time, error) {
	whole, frac, _ := strings.Cut(ts, ".")
	secs, err := strconv.ParseInt(whole, 10, 64)
	if err == nil && isDigits(frac) && len(frac) <= 9 {
		nanos, _ := strconv.ParseInt((frac + "000000000")[:9], 10, 64)
		return time.Unix(secs, nanos), nil
	}
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadHistoryKey, ts)
	}
	w, fr := math.Modf(f)
	return time.Unix(int64(w), int64(math.Round(fr*1e9))), nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
