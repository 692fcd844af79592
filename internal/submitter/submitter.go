// Package submitter posts batches of profile URLs to a running service.
package submitter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/liscrape/pkg/logger"
)

// ReadURLs returns the non-blank, non-comment lines of r.
func ReadURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}

// Run checks the service is healthy and submits every url.
func Run(ctx context.Context, cfg Config, urls []string) (Stats, error) {
	start := time.Now()
	log := logger.Get().Named("submitter")
	client := &http.Client{Timeout: cfg.Timeout}
	base := strings.TrimRight(cfg.BaseURL, "/")

	if err := checkHealth(ctx, client, base); err != nil {
		return Stats{}, fmt.Errorf("service health check failed: %w", err)
	}
	log.Info(ctx, "submitting profiles", logger.Int("count", len(urls)), logger.Int("workers", cfg.Workers))

	var (
		mu    sync.Mutex
		stats Stats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Workers, 1))
	for _, u := range urls {
		g.Go(func() error {
			res, minutes := submitOne(gctx, client, base+"/profiles", u)
			if cfg.Verbose {
				log.Info(gctx, "submitted", logger.String("url", u), logger.String("result", string(res)))
			}
			mu.Lock()
			defer mu.Unlock()
			stats.Submitted++
			switch res {
			case ResultAccepted:
				stats.Accepted++
			case ResultRateLimited:
				stats.RateLimited++
				stats.RetryAfterMinutes = max(stats.RetryAfterMinutes, minutes)
			case ResultRejected:
				stats.Rejected++
			default:
				stats.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	stats.Duration = time.Since(start)

	log.Info(ctx, "submission completed",
		logger.Int("accepted", stats.Accepted),
		logger.Int("rate_limited", stats.RateLimited),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failed", stats.Failed),
		logger.Duration("duration", stats.Duration))
	return stats, ctx.Err()
}

func checkHealth(ctx context.Context, client *http.Client, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// submitOne posts a single url and returns its result and, when rate
// limited, the advertised wait.
func submitOne(ctx context.Context, client *http.Client, endpoint, url string) (Result, int) {
	body, err := json.Marshal(submitRequest{URL: url})
	if err != nil {
		return ResultFailed, 0
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ResultFailed, 0
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return ResultFailed, 0
	}
	defer resp.Body.Close()

	var ack submitResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&ack)

	switch resp.StatusCode {
	case http.StatusAccepted:
		return ResultAccepted, 0
	case http.StatusTooManyRequests:
		return ResultRateLimited, ack.RetryAfterMinutes
	case http.StatusBadRequest:
		return ResultRejected, 0
	default:
		return ResultFailed, 0
	}
}
