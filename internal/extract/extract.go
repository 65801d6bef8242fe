// Package extract turns attachment bytes into text through the
// document-parse API: one multipart endpoint that OCRs images and
// parses PDF/Office/HWP documents into text, markdown, and HTML.
// Calls run through a circuit breaker so a dead parse service fails
// fast instead of burning the whole ingestion run's time budget.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// Kind classifies a filename for extraction routing.
type Kind int

const (
	KindUnsupported Kind = iota
	KindImage
	KindDocument
	KindZip
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tiff": true, ".webp": true,
}

var documentExtensions = map[string]bool{
	".pdf": true, ".docx": true, ".pptx": true, ".xlsx": true,
	".hwp": true, ".hwpx": true,
}

// KindOf routes a filename by extension. Members of a zip archive go
// through the same routing, which keeps nested archives unsupported.
func KindOf(filename string) Kind {
	ext := strings.ToLower(path.Ext(filename))
	switch {
	case imageExtensions[ext]:
		return KindImage
	case documentExtensions[ext]:
		return KindDocument
	case ext == ".zip":
		return KindZip
	default:
		return KindUnsupported
	}
}

// ElementContent is the per-element text in its three renderings.
type ElementContent struct {
	Text     string `json:"text"`
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

// Element is one structural unit the parse API found: a paragraph,
// table, heading, or figure.
type Element struct {
	ID       int            `json:"id"`
	Category string         `json:"category"`
	Page     int            `json:"page"`
	Content  ElementContent `json:"content"`
}

// Result is one extraction.
type Result struct {
	Text     string
	Markdown string
	HTML     string
	Elements []Element
}

// ComposedText applies the composition priority: markdown keeps table
// structure, flat text is second, HTML-derived text is the last resort.
func (r *Result) ComposedText() string {
	if strings.TrimSpace(r.Markdown) != "" {
		return r.Markdown
	}
	if strings.TrimSpace(r.Text) != "" {
		return r.Text
	}
	if strings.TrimSpace(r.HTML) != "" {
		return HTMLToText(r.HTML)
	}
	return ""
}

// Extractor is the extraction surface the ingestion pipeline consumes.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string) (*Result, error)
	ExtractZip(ctx context.Context, data []byte) (*ZipResult, error)
}

// Config tunes the parse API client.
type Config struct {
	// Endpoint is the document-parse URL.
	Endpoint string

	// Model selects the parse model.
	Model string

	// OCR is the OCR mode sent with every call: "force" or "auto".
	OCR string

	// APIKey authenticates as a bearer token.
	APIKey string

	// Timeout bounds each call. Default 60 s; parsing a scanned PDF is
	// slow.
	Timeout time.Duration

	// MaxZipSizeMB caps the archive itself. Default 100.
	MaxZipSizeMB int

	// MaxTotalFiles caps archive members. Default 50.
	MaxTotalFiles int

	// MaxExtractionSizeMB caps cumulative uncompressed size. Default 500.
	MaxExtractionSizeMB int
}

// DefaultConfig returns the extraction defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:            "https://api.upstage.ai/v1/document-digitization",
		Model:               "document-parse",
		OCR:                 "force",
		Timeout:             60 * time.Second,
		MaxZipSizeMB:        100,
		MaxTotalFiles:       50,
		MaxExtractionSizeMB: 500,
	}
}

// Client implements Extractor against the parse API.
type Client struct {
	client  *http.Client
	cfg     Config
	breaker *qaerrors.CircuitBreaker
	logger  *slog.Logger
}

// Verify interface implementation at compile time
var _ Extractor = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *qaerrors.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = cb
	}
}

// NewClient builds a parse API client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.OCR == "" {
		cfg.OCR = def.OCR
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxZipSizeMB <= 0 {
		cfg.MaxZipSizeMB = def.MaxZipSizeMB
	}
	if cfg.MaxTotalFiles <= 0 {
		cfg.MaxTotalFiles = def.MaxTotalFiles
	}
	if cfg.MaxExtractionSizeMB <= 0 {
		cfg.MaxExtractionSizeMB = def.MaxExtractionSizeMB
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		client:  &http.Client{Transport: &http.Transport{MaxIdleConnsPerHost: 4}},
		cfg:     cfg,
		breaker: qaerrors.NewCircuitBreaker("extraction"),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract sends one file through the parse API. Unsupported extensions
// fail before any network traffic.
func (c *Client) Extract(ctx context.Context, data []byte, filename string) (*Result, error) {
	if KindOf(filename) == KindUnsupported || KindOf(filename) == KindZip {
		return nil, qaerrors.New(qaerrors.ErrCodeUnsupportedContent,
			fmt.Sprintf("unsupported file type %q", path.Ext(filename)), nil).
			WithDetail("filename", filename)
	}

	var result *Result
	err := c.breaker.Execute(func() error {
		r, err := c.doExtract(ctx, data, filename)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if errors.Is(err, qaerrors.ErrCircuitOpen) {
		return nil, qaerrors.New(qaerrors.ErrCodeExtractionFailed,
			"extraction service unavailable", err).
			WithDetail("filename", filename).
			WithSuggestion("wait for the parse service to recover, then re-run ingestion")
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

type apiContent struct {
	Text     string `json:"text"`
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

type apiResponse struct {
	Content  apiContent `json:"content"`
	Elements []Element  `json:"elements"`
}

// doExtract is one multipart call.
func (c *Client) doExtract(ctx context.Context, data []byte, filename string) (*Result, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("document", path.Base(filename))
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeInternal, "multipart form", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeInternal, "multipart write", err)
	}
	if err := w.WriteField("model", c.cfg.Model); err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeInternal, "multipart field", err)
	}
	if err := w.WriteField("ocr", c.cfg.OCR); err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeInternal, "multipart field", err)
	}
	if err := w.Close(); err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeInternal, "multipart close", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.Endpoint, &buf)
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeInternal, "build request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyExtractError(filename, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyExtractStatus(filename, resp.StatusCode, string(body))
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeExtractionFailed, "malformed parse response", err).
			WithDetail("filename", filename)
	}

	c.logger.Debug("extraction complete",
		slog.String("filename", filename),
		slog.Int("bytes", len(data)),
		slog.Int("elements", len(parsed.Elements)),
		slog.Duration("elapsed", time.Since(started)))

	return &Result{
		Text:     parsed.Content.Text,
		Markdown: parsed.Content.Markdown,
		HTML:     parsed.Content.HTML,
		Elements: parsed.Elements,
	}, nil
}

func classifyExtractError(filename string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return qaerrors.New(qaerrors.ErrCodeNetworkTimeout, "extraction timed out", err).
			WithDetail("filename", filename)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return qaerrors.New(qaerrors.ErrCodeExtractionFailed, "extraction request failed", err).
			WithDetail("filename", filename)
	}
}

func classifyExtractStatus(filename string, status int, body string) error {
	msg := fmt.Sprintf("parse API returned %d", status)
	e := qaerrors.New(statusCode(status), msg, nil).
		WithDetail("filename", filename).
		WithDetail("response", body)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return e.WithSuggestion("check DEPTQA_EXTRACTION_API_KEY (or DEPTQA_API_KEY)")
	}
	return e
}

func statusCode(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return qaerrors.ErrCodeRateLimited
	case status == http.StatusRequestEntityTooLarge:
		return qaerrors.ErrCodeArchiveTooLarge
	case status == http.StatusUnsupportedMediaType:
		return qaerrors.ErrCodeUnsupportedContent
	case status >= 500:
		return qaerrors.ErrCodeNetworkUnavailable
	default:
		return qaerrors.ErrCodeExtractionFailed
	}
}
