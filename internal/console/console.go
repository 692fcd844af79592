// Package console is the interactive terminal front end: one profile url per
// line, plus a few ':' commands.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	service "github.com/okian/liscrape/internal/app"
	"github.com/okian/liscrape/internal/domain/model"
)

const helpText = `Paste a profile url (or id) and press enter.
Commands:
  :stats            show counters and quota
  :clear-history    forget recorded profiles (this hour's calls still count)
  :remove-contacts  delete the output file
  :help             show this text
  :quit             stop accepting profiles and exit`

// Controller is what the console drives.
type Controller interface {
	Submit(ctx context.Context, raw string) (model.SubmitResult, error)
	Stats() service.Stats
	ClearHistory(ctx context.Context) error
	RemoveContacts(ctx context.Context) error
}

// Console reads commands from in and writes status text to out.
type Console struct {
	ctrl Controller
	in   io.Reader

	mu  sync.Mutex
	out io.Writer
}

// New returns a console.
func New(ctrl Controller, in io.Reader, out io.Writer) *Console {
	return &Console{ctrl: ctrl, in: in, out: out}
}

// Notify renders a worker outcome. Pass it to the controller's notifier
// option.
func (c *Console) Notify(res model.ItemResult) {
	switch res.Outcome {
	case model.Stored:
		c.printf("stored %s\n", res.ProfileID)
	case model.SkippedDuplicate:
		c.printf("%s was already scraped, skipped\n", res.ProfileID)
	case model.FailedProfile:
		c.printf("error loading %s: %v\n", res.ProfileID, res.Err)
	case model.FailedStore:
		c.printf("error saving %s: %v\n", res.ProfileID, res.Err)
	}
}

// Run processes input until EOF, :quit or ctx ends.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	c.printf("%s\n", helpText)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read console input: %w", err)
					}
				default:
				}
				return nil
			}
			if quit := c.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (c *Console) handle(ctx context.Context, line string) bool {
	switch line {
	case "":
		return false
	case ":quit", ":q", ":exit":
		c.printf("stopping...\n")
		return true
	case ":help":
		c.printf("%s\n", helpText)
	case ":stats":
		st := c.ctrl.Stats()
		limit := "unlimited"
		if st.Limit > 0 {
			limit = fmt.Sprintf("%d/%d", st.InWindow+st.Pending, st.Limit)
		}
		c.printf("session %d, total %d, queued %d/%d, quota %s, file %s\n",
			st.Session, st.Total, st.QueueLen, st.QueueCap, limit, st.SinkPath)
		if st.LastError != "" {
			c.printf("last error: %s\n", st.LastError)
		}
	case ":clear-history":
		if err := c.ctrl.ClearHistory(ctx); err != nil {
			c.printf("could not clear history: %v\n", err)
		} else {
			c.printf("history cleared\n")
		}
	case ":remove-contacts":
		if err := c.ctrl.RemoveContacts(ctx); err != nil {
			c.printf("could not remove contacts: %v\n", err)
		} else {
			c.printf("contacts removed\n")
		}
	default:
		if strings.HasPrefix(line, ":") {
			c.printf("unknown command %s, try :help\n", line)
			return false
		}
		c.submit(ctx, line)
	}
	return false
}

func (c *Console) submit(ctx context.Context, line string) {
	res, err := c.ctrl.Submit(ctx, line)
	if err != nil {
		c.printf("not queued: %v\n", err)
		return
	}
	if res.Status == model.RateLimited {
		c.printf("hourly limit reached, try again in %d minutes\n", res.RetryAfterMinutes())
		return
	}
	c.printf("queued %s\n", res.ProfileID)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}
