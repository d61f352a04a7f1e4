// Package renderer talks to the external static-site renderer's
// revalidation endpoint.
package renderer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/Rosersn/rose-vanblog/internal/blog"
)

// Config controls the revalidation client's retry budget.
type Config struct {
	// BaseURL is the renderer's revalidation endpoint, e.g.
	// http://127.0.0.1:3001/api/revalidate. The path to regenerate is passed
	// as the "path" query parameter.
	BaseURL    string
	Attempts   int
	RetryDelay time.Duration
	Timeout    time.Duration
}

const (
	defaultAttempts   = 3
	defaultRetryDelay = time.Second
	defaultTimeout    = 10 * time.Second
)

// Client issues liveness probes and per-path revalidation calls. It retries a
// single path within a fixed budget; cycle-level retry policy belongs to the
// dispatcher.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

var _ blog.Renderer = (*Client)(nil)

// NewClient builds a Client, filling zero config fields with defaults.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Probe performs one liveness check against the renderer. Any transport error
// or non-2xx response counts as down; there is no retry here.
func (c *Client) Probe(ctx context.Context) bool {
	if err := c.revalidate(ctx, "/"); err != nil {
		return false
	}
	return true
}

// Invoke revalidates one path, retrying up to the configured attempt budget
// with a fixed delay between attempts. The final outcome is always logged;
// intermediate failures only at warn level when verbose is set.
func (c *Client) Invoke(ctx context.Context, path string, verbose bool) blog.InvokeResult {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		err := c.revalidate(ctx, path)
		if err == nil {
			c.logger.Info("revalidated path",
				zap.String("url", path),
				zap.Int("attempts", attempt),
			)
			return blog.InvokeResult{Path: path, Attempts: attempt}
		}
		lastErr = err
		if attempt == c.cfg.Attempts {
			break
		}
		if verbose {
			c.logger.Warn("revalidation attempt failed, retrying",
				zap.String("url", path),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			c.logger.Error("revalidation canceled",
				zap.String("url", path),
				zap.Int("attempts", attempt),
				zap.Error(lastErr),
			)
			return blog.InvokeResult{Path: path, Attempts: attempt, Err: lastErr}
		case <-time.After(c.cfg.RetryDelay):
		}
	}
	c.logger.Error("revalidation failed",
		zap.String("url", path),
		zap.Int("attempts", c.cfg.Attempts),
		zap.Error(lastErr),
	)
	return blog.InvokeResult{Path: path, Attempts: c.cfg.Attempts, Err: lastErr}
}

func (c *Client) revalidate(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return fmt.Errorf("build revalidate request: %w", err)
	}
	// Intermediary caches must not swallow the revalidation call.
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("revalidate %s: %w", path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("revalidate %s: renderer returned status %d", path, resp.StatusCode)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return c.cfg.BaseURL + "?path=" + url.QueryEscape(path)
}
