// Package fetch retrieves attachment bytes for the ingestion pipeline.
// Board posts reference files three ways: plain http(s) URLs, inline
// data: URIs, and the board software's proxy endpoints (view_image.php,
// download.php). All three resolve through one Fetcher.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// Result is one fetched file.
type Result struct {
	Data        []byte
	Filename    string
	ContentType string
	ResolvedURL string
}

// Fetcher retrieves file bytes from a URL-like string.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Result, error)
}

// Config tunes the HTTP client.
type Config struct {
	// Timeout bounds each request attempt. Default 30 s.
	Timeout time.Duration

	// MaxRetries is the attempt count for transient failures. Default 3.
	MaxRetries int

	// RetryDelay is the backoff base; attempt n waits RetryDelay * 2^n.
	// Default 1 s.
	RetryDelay time.Duration

	// UserAgent identifies the crawler to the board server.
	UserAgent string

	// PoolSize bounds idle connections. Default 10.
	PoolSize int
}

// DefaultConfig returns the fetch defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
		UserAgent:  "deptqa-crawler/1.0",
		PoolSize:   10,
	}
}

// Client implements Fetcher over net/http.
type Client struct {
	client    *http.Client
	transport *http.Transport
	cfg       Config
	logger    *slog.Logger
}

// Verify interface implementation at compile time
var _ Fetcher = (*Client)(nil)

// NewClient builds a fetch client with a pooled transport. Per-request
// timeouts come from context deadlines, not http.Client.Timeout, so a
// caller's cancellation always wins.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = def.PoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}

	return &Client{
		client:    &http.Client{Transport: transport},
		transport: transport,
		cfg:       cfg,
		logger:    logger,
	}
}

// Fetch resolves rawURL to bytes. data: URIs decode locally; the proxy
// forms rewrite or cookie-warm before the final GET; everything else is
// a plain GET with redirects followed.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, qaerrors.New(qaerrors.ErrCodeInvalidInput, "empty URL", nil)
	}

	if strings.HasPrefix(rawURL, "data:") {
		return decodeDataURI(rawURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeInvalidInput, "unparseable URL", err).
			WithDetail("url", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, qaerrors.New(qaerrors.ErrCodeUnsupportedContent,
			fmt.Sprintf("unsupported URL scheme %q", u.Scheme), nil).
			WithDetail("url", rawURL)
	}

	switch {
	case isViewImageProxy(u):
		rewritten, hint, err := rewriteViewImage(u)
		if err != nil {
			return nil, err
		}
		return c.get(ctx, rewritten, hint, nil)
	case isDownloadProxy(u):
		jar, err := c.warmDownloadCookies(ctx, u)
		if err != nil {
			return nil, err
		}
		return c.get(ctx, u.String(), "", jar)
	default:
		return c.get(ctx, u.String(), "", nil)
	}
}

// get performs the GET with retry on transient failures. A non-nil jar
// carries cookies warmed for download.php.
func (c *Client) get(ctx context.Context, fetchURL, filenameHint string, jar http.CookieJar) (*Result, error) {
	client := c.client
	if jar != nil {
		client = &http.Client{Transport: c.transport, Jar: jar}
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.RetryDelay << (attempt - 1)
			c.logger.Debug("fetch retry",
				slog.String("url", fetchURL),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := c.doGet(ctx, client, fetchURL, filenameHint)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !qaerrors.IsRetryable(err) {
			return nil, err
		}
	}

	return nil, qaerrors.New(qaerrors.ErrCodeFetchFailed,
		fmt.Sprintf("fetch failed after %d attempts", c.cfg.MaxRetries), lastErr).
		WithDetail("url", fetchURL)
}

// doGet is a single attempt.
func (c *Client) doGet(ctx context.Context, client *http.Client, fetchURL, filenameHint string) (*Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeInvalidInput, "build request", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(fetchURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(fetchURL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(fetchURL, err)
	}

	resolved := fetchURL
	if resp.Request != nil && resp.Request.URL != nil {
		resolved = resp.Request.URL.String()
	}
	contentType := mediaType(resp.Header.Get("Content-Type"))

	return &Result{
		Data:        data,
		Filename:    resolveFilename(resp.Header.Get("Content-Disposition"), filenameHint, resolved, contentType),
		ContentType: contentType,
		ResolvedURL: resolved,
	}, nil
}

// classifyTransportError sorts connection failures into timeout
// (retryable), unreachable (retryable), or plain fetch failure.
func classifyTransportError(fetchURL string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return qaerrors.New(qaerrors.ErrCodeNetworkTimeout, "fetch timed out", err).
			WithDetail("url", fetchURL)
	case errors.As(err, &netErr) && netErr.Timeout():
		return qaerrors.New(qaerrors.ErrCodeNetworkTimeout, "fetch timed out", err).
			WithDetail("url", fetchURL)
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &netErr):
		return qaerrors.New(qaerrors.ErrCodeNetworkUnavailable, "server unreachable", err).
			WithDetail("url", fetchURL)
	default:
		return qaerrors.New(qaerrors.ErrCodeFetchFailed, "fetch failed", err).
			WithDetail("url", fetchURL)
	}
}

// classifyStatus sorts HTTP status codes: 404/410 are permanent misses,
// 429 and 5xx are transient, everything else is a plain failure.
func classifyStatus(fetchURL string, status int) error {
	msg := fmt.Sprintf("unexpected status %d", status)
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return qaerrors.New(qaerrors.ErrCodeNotFound, msg, nil).
			WithDetail("url", fetchURL)
	case status == http.StatusTooManyRequests:
		return qaerrors.New(qaerrors.ErrCodeRateLimited, msg, nil).
			WithDetail("url", fetchURL)
	case status >= 500:
		return qaerrors.New(qaerrors.ErrCodeNetworkUnavailable, msg, nil).
			WithDetail("url", fetchURL)
	default:
		return qaerrors.New(qaerrors.ErrCodeFetchFailed, msg, nil).
			WithDetail("url", fetchURL)
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}
