// Package profileapi talks to the profile gateway: a JSON-over-HTTP service
// that fronts the professional network's profile and contact-info endpoints.
package profileapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/liscrape/internal/domain/model"
	"github.com/okian/liscrape/pkg/logger"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 2
	defaultBackoff    = 500 * time.Millisecond
	maxBodyBytes      = 10 << 20
)

// Client fetches profiles from the gateway with a bearer token.
type Client struct {
	base       *url.URL
	token      string
	http       *http.Client
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	logger     logger.Logger
}

// New returns an authenticated client handle. An empty token fails with
// ErrAuthFailure, as does a base URL that cannot be parsed.
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.token == "" {
		return nil, fmt.Errorf("%w: no session token configured", ErrAuthFailure)
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid gateway url %q", ErrAuthFailure, baseURL)
	}
	c.base = u
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// FetchProfile returns the profile object for id.
func (c *Client) FetchProfile(ctx context.Context, id model.ProfileID) (model.RawProfile, error) {
	obj, err := c.getObject(ctx, "profiles", url.PathEscape(id.String()))
	if err != nil {
		return model.RawProfile{}, err
	}
	return model.ProfileFromMap(obj), nil
}

// FetchContactInfo returns the contact-info object for id.
func (c *Client) FetchContactInfo(ctx context.Context, id model.ProfileID) (model.RawContactInfo, error) {
	obj, err := c.getObject(ctx, "profiles", url.PathEscape(id.String()), "contact-info")
	if err != nil {
		return model.RawContactInfo{}, err
	}
	return model.ContactInfoFromMap(obj), nil
}

// getObject GETs base/segments... and decodes a JSON object, retrying
// transient failures with exponential backoff.
func (c *Client) getObject(ctx context.Context, segments ...string) (map[string]any, error) {
	endpoint := c.base.JoinPath(segments...).String()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		obj, err := c.do(ctx, endpoint)
		if err == nil {
			return obj, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt < c.maxRetries {
			wait := c.backoff * (1 << uint(attempt))
			c.logger.Warn(ctx, "retrying gateway call",
				logger.String("url", endpoint),
				logger.Int("attempt", attempt+1),
				logger.Int("max_retries", c.maxRetries),
				logger.Int64("backoff_ms", wait.Milliseconds()),
				logger.Error(err))
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(wait):
			}
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, endpoint string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: http %d", ErrAuthFailure, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, endpoint)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUpstream, err)
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}

// statusError is an unexpected HTTP status.
type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("%s: http %d", ErrUpstream, e.code) }
func (e *statusError) Unwrap() error { return ErrUpstream }

// retryable reports whether another attempt may succeed: transport errors,
// 429 and 5xx.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return errors.Is(err, ErrUpstream)
}
