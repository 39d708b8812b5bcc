// Package transport performs authenticated requests against the backend with
// bounded retries, request pacing and bulk downloads.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Veraticus/fencewatch/internal/common"
	"github.com/Veraticus/fencewatch/internal/service"
)

const (
	// DefaultMaxRetry is the number of retries after the first attempt.
	DefaultMaxRetry = 3
	// DefaultTimeout bounds one foreground request attempt.
	DefaultTimeout = 60 * time.Second
	// DefaultDownloadTimeout bounds one bulk download attempt.
	DefaultDownloadTimeout = 24 * time.Hour
	// DefaultRequestsPerSecond paces outbound requests.
	DefaultRequestsPerSecond = 5.0
)

// Config configures a Client.
type Config struct {
	BaseURL           string
	Username          string
	Password          string
	UserAgent         string
	Timeout           time.Duration
	DownloadTimeout   time.Duration
	RetryDelay        time.Duration
	MaxRetry          int
	RequestsPerSecond float64
}

// Client is safe for concurrent use.
type Client struct {
	base       *url.URL
	http       *http.Client
	download   *http.Client
	limiter    *rate.Limiter
	username   string
	password   string
	userAgent  string
	retryDelay time.Duration
	maxRetry   int
}

// NewClient validates cfg and fills in defaults.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: backend base URL is required", common.ErrMissingConfig)
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL %q: %w", common.ErrInvalidConfig, cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%w: base URL must be http or https, got %q", common.ErrInvalidConfig, cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}
	if cfg.MaxRetry < 0 {
		cfg.MaxRetry = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "fencewatch"
	}

	return &Client{
		base:       base,
		http:       &http.Client{Timeout: cfg.Timeout},
		download:   &http.Client{Timeout: cfg.DownloadTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		username:   cfg.Username,
		password:   cfg.Password,
		userAgent:  cfg.UserAgent,
		retryDelay: cfg.RetryDelay,
		maxRetry:   cfg.MaxRetry,
	}, nil
}

// URL resolves path against the base URL and attaches query.
func (c *Client) URL(path string, query url.Values) string {
	u := c.base.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) retryOptions() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  c.maxRetry + 1,
		InitialDelay: c.retryDelay,
		MaxDelay:     30 * c.retryDelay,
		Multiplier:   2.0,
	}
}

func (c *Client) newRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

// wait paces the next attempt. A limiter failure is never retried.
func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return common.Permanent(err)
	}
	return nil
}

// Do performs the request, retrying network failures and non-2xx statuses
// up to the retry ceiling. Cancellation of ctx stops immediately and is
// reported as KindCancelled.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body []byte) Result {
	target := c.URL(path, query)
	var (
		result   Result
		attempts int
	)

	err := common.WithRetry(ctx, func() error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		attempts++

		req, err := c.newRequest(ctx, method, target, body)
		if err != nil {
			return common.Permanent(err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return common.Permanent(err)
			}
			result = Result{Kind: KindError, Err: fmt.Errorf("%s %s: %w", method, path, err)}
			return result.Err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			if ctx.Err() != nil {
				return common.Permanent(err)
			}
			result = Result{Kind: KindError, Err: fmt.Errorf("failed to read response body: %w", err)}
			return result.Err
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			result = Result{Kind: KindHTTPStatus, StatusCode: resp.StatusCode, Body: data}
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return fmt.Errorf("%w: %w", common.ErrRateLimit, result.Error())
			case resp.StatusCode >= http.StatusInternalServerError:
				return fmt.Errorf("%w: %w", common.ErrBackendUnavailable, result.Error())
			}
			return result.Error()
		}

		result = Result{Kind: KindOK, StatusCode: resp.StatusCode, Body: data}
		return nil
	}, c.retryOptions())

	result.Attempts = attempts
	switch {
	case err == nil:
		return result
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		slog.Debug("Request cancelled", "method", method, "path", path, "attempts", attempts)
		return Result{Kind: KindCancelled, Err: ErrCancelled, Attempts: attempts}
	case result.Kind == KindHTTPStatus || result.Kind == KindError:
		slog.Warn("Request failed",
			"method", method,
			"path", path,
			"kind", result.Kind.String(),
			"status", result.StatusCode,
			"attempts", attempts)
		return result
	default:
		return Result{Kind: KindError, Err: err, Attempts: attempts}
	}
}

// PostJSON is Do with a POST and a JSON body.
func (c *Client) PostJSON(ctx context.Context, path string, body []byte) Result {
	return c.Do(ctx, http.MethodPost, path, nil, body)
}

// Get is Do with a GET and no body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) Result {
	return c.Do(ctx, http.MethodGet, path, query, nil)
}
