// Package watch submits profile urls from text files dropped into an inbox
// directory.
package watch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/okian/liscrape/internal/domain/model"
	"github.com/okian/liscrape/pkg/logger"
)

const (
	inboxExt     = ".txt"
	processedExt = ".done"
	retryExt     = ".retry"
	dirPerm      = 0o755
	filePerm     = 0o644
)

// Submitter accepts profile urls.
type Submitter interface {
	Submit(ctx context.Context, raw string) (model.SubmitResult, error)
}

// Inbox watches a directory for *.txt files holding one url per line. Blank
// lines and lines starting with '#' are skipped. A processed file is renamed
// to <name>.done and lines that were not submitted go to <name>.retry.
// Producers should write elsewhere and rename into the inbox.
type Inbox struct {
	dir    string
	sub    Submitter
	logger logger.Logger
}

// New returns an inbox watcher for dir.
func New(dir string, sub Submitter, log logger.Logger) *Inbox {
	if log == nil {
		log = logger.Discard()
	}
	return &Inbox{dir: dir, sub: sub, logger: log}
}

// Run processes files already in the inbox, then watches it until ctx ends.
// Lines that hit the hourly limit are retried once the quota frees up.
func (w *Inbox) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, dirPerm); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info(ctx, "watching inbox", logger.String("dir", w.dir))

	// Armed only while rate-limited lines are waiting.
	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()
	schedule := func(after time.Duration) {
		if after > 0 {
			retry.Reset(after)
		}
	}

	after, err := w.backfill(ctx)
	if err != nil {
		w.logger.Error(ctx, "inbox backfill failed", logger.Error(err))
	}
	schedule(after)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-retry.C:
			after, err := w.retryPending(ctx)
			if err != nil {
				w.logger.Error(ctx, "inbox retry failed", logger.Error(err))
			}
			schedule(after)
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && isInboxFile(evt.Name) {
				schedule(w.processFile(ctx, evt.Name))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "watcher error", logger.Error(err))
		}
	}
}

// Backfill processes every inbox file present now, including lines left
// over from earlier runs.
func (w *Inbox) Backfill(ctx context.Context) error {
	_, err := w.backfill(ctx)
	return err
}

func (w *Inbox) backfill(ctx context.Context) (time.Duration, error) {
	after, err := w.retryPending(ctx)
	if err != nil {
		return after, err
	}
	more, err := w.processGlob(ctx, "*"+inboxExt)
	return earliest(after, more), err
}

// retryPending resubmits lines kept back from earlier files.
func (w *Inbox) retryPending(ctx context.Context) (time.Duration, error) {
	return w.processGlob(ctx, "*"+retryExt)
}

func (w *Inbox) processGlob(ctx context.Context, pattern string) (time.Duration, error) {
	entries, err := filepath.Glob(filepath.Join(w.dir, pattern))
	if err != nil {
		return 0, err
	}
	var after time.Duration
	for _, e := range entries {
		if ctx.Err() != nil {
			return after, ctx.Err()
		}
		after = earliest(after, w.processFile(ctx, e))
	}
	return after, nil
}

// processFile submits each url in path in order. Submissions block while the
// queue is full. The file is renamed to <name>.done; lines that could not be
// submitted (rate limited, queue stopped, or ctx ended) are written to
// <name>.retry. It returns how long until the earliest rate-limited line can
// be retried, or 0.
func (w *Inbox) processFile(ctx context.Context, path string) time.Duration {
	lines, err := readLines(path)
	if err != nil {
		// Renamed away between the event and now.
		w.logger.Debug(ctx, "inbox file vanished", logger.String("file", path), logger.Error(err))
		return 0
	}

	var (
		accepted, limited, invalid int
		pending                    []string
		retryAfter                 time.Duration
	)
	for _, line := range lines {
		if ctx.Err() != nil {
			pending = append(pending, line)
			continue
		}
		res, err := w.sub.Submit(ctx, line)
		switch {
		case errors.Is(err, model.ErrInvalidProfile):
			invalid++
			w.logger.Warn(ctx, "inbox line rejected", logger.String("file", path), logger.String("line", line), logger.Error(err))
		case err != nil:
			pending = append(pending, line)
			w.logger.Warn(ctx, "inbox line not submitted, keeping it", logger.String("file", path), logger.String("line", line), logger.Error(err))
		case res.Status == model.RateLimited:
			limited++
			pending = append(pending, line)
			retryAfter = earliest(retryAfter, res.RetryAfter)
			w.logger.Info(ctx, "inbox line hit the hourly limit",
				logger.String("profile_id", res.ProfileID.String()),
				logger.Int("retry_after_minutes", res.RetryAfterMinutes()))
		default:
			accepted++
		}
	}

	if err := os.Rename(path, path+processedExt); err != nil {
		w.logger.Error(ctx, "could not mark inbox file processed", logger.String("file", path), logger.Error(err))
	}
	if len(pending) > 0 {
		retryPath := strings.TrimSuffix(path, filepath.Ext(path)) + retryExt
		if err := appendLines(retryPath, pending); err != nil {
			w.logger.Error(ctx, "could not keep unsubmitted lines",
				logger.String("file", retryPath),
				logger.Int("lines", len(pending)),
				logger.Error(err))
		}
	}
	w.logger.Info(ctx, "inbox file processed",
		logger.String("file", filepath.Base(path)),
		logger.Int("accepted", accepted),
		logger.Int("rate_limited", limited),
		logger.Int("rejected", invalid),
		logger.Int("kept", len(pending)))
	return retryAfter
}

// readLines returns the non-blank, non-comment lines of path, trimmed.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}

func appendLines(path string, lines []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// earliest returns the smaller positive duration, treating 0 as unset.
func earliest(a, b time.Duration) time.Duration {
	if a <= 0 || (b > 0 && b < a) {
		return b
	}
	return a
}

func isInboxFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), inboxExt)
}
