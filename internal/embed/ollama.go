package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// Ollama defaults.
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"

	// ollamaPoolSize bounds idle connections to the local server.
	ollamaPoolSize = 4
)

// OllamaEmbedder generates embeddings through a local Ollama server.
// Local models are symmetric: the same model embeds both questions and
// passages. Meant for development without hosted API keys.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	host      string
	model     string
	batchSize int
	timeout   time.Duration

	mu     sync.Mutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder creates an embedder backed by a local Ollama server.
// No connectivity check happens here; Available reports readiness.
func NewOllamaEmbedder(cfg config.EmbeddingsConfig) *OllamaEmbedder {
	host := cfg.OllamaHost
	if host == "" {
		host = DefaultOllamaHost
	}
	model := cfg.PassageModel
	if model == "" {
		model = DefaultOllamaModel
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	// Idle connections drop quickly so a finished ingest run does not
	// pin sockets to the local server.
	transport := &http.Transport{
		MaxIdleConns:        ollamaPoolSize,
		MaxIdleConnsPerHost: ollamaPoolSize,
		MaxConnsPerHost:     ollamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	// No http.Client.Timeout: it would override per-request contexts.
	return &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		host:      host,
		model:     model,
		batchSize: batchSize,
		timeout:   DefaultTimeout,
		dims:      cfg.Dimensions,
	}
}

// EmbedQuery embeds a question. Ollama models are symmetric, so this is
// the same call as the passage side.
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedPassages embeds document chunks in batches.
func (e *OllamaEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeEmbeddingFailed, "ollama request failed", err).
			WithDetail("host", e.host).
			WithSuggestion("check that Ollama is running (ollama serve)")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, qaerrors.New(qaerrors.ErrCodeEmbeddingFailed, "ollama returned an error", nil).
			WithDetail("status", strconv.Itoa(resp.StatusCode)).
			WithDetail("body", string(msg))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeEmbeddingFailed, "ollama response malformed", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, qaerrors.New(qaerrors.ErrCodeEmbeddingFailed, "embedding count mismatch", nil).
			WithDetail("want", strconv.Itoa(len(texts))).
			WithDetail("got", strconv.Itoa(len(result.Embeddings)))
	}

	e.rememberDims(result.Embeddings)
	return result.Embeddings, nil
}

// rememberDims captures the dimension from the first successful response
// when the config left it unset.
func (e *OllamaEmbedder) rememberDims(vecs [][]float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dims == 0 && len(vecs) > 0 {
		e.dims = len(vecs[0])
	}
}

// Dimensions returns the embedding dimension. Zero until the first
// embedding when the config does not pin it.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.model
}

// Available checks that the Ollama server responds and the model is pulled.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close shuts down idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
