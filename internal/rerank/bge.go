package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

const (
	bgeDefaultEndpoint = "http://localhost:8080"
	bgeDefaultModel    = "BAAI/bge-reranker-v2-m3"
	bgeRequestTimeout  = 30 * time.Second
	bgeHealthTimeout   = 5 * time.Second
)

// BGEReranker talks to a local rerank service hosting a BGE
// cross-encoder. Scores are raw logits, so negative values are normal
// and only extreme ones indicate a hopeless candidate.
type BGEReranker struct {
	client   *http.Client
	endpoint string
	model    string
	useFP16  bool
	logger   *slog.Logger
}

var _ Reranker = (*BGEReranker)(nil)

// NewBGEReranker builds the client. No network traffic happens here;
// callers probe Available before relying on it.
func NewBGEReranker(cfg config.RerankConfig, logger *slog.Logger) *BGEReranker {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = bgeDefaultEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = bgeDefaultModel
	}
	return &BGEReranker{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		endpoint: endpoint,
		model:    model,
		useFP16:  cfg.UseFP16,
		logger:   logger,
	}
}

type bgeRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	UseFP16   bool     `json:"use_fp16,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type bgeResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Rerank scores all documents in one request.
func (r *BGEReranker) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]Result, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = scoringText(d)
	}

	body, err := json.Marshal(bgeRequest{
		Query:     query,
		Documents: texts,
		Model:     r.model,
		UseFP16:   r.useFP16,
		TopK:      topK,
	})
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeRerankFailed, "encoding rerank request failed", err)
	}

	ctx, cancel := context.WithTimeout(ctx, bgeRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeRerankFailed, "building rerank request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeRerankFailed, "rerank request failed", err).
			WithDetail("endpoint", r.endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, qaerrors.New(qaerrors.ErrCodeRerankFailed, "rerank service returned an error", nil).
			WithDetail("status", resp.Status).
			WithDetail("body", string(msg))
	}

	var decoded bgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeRerankFailed, "decoding rerank response failed", err)
	}

	results := make([]Result, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		if item.Index < 0 || item.Index >= len(docs) {
			return nil, qaerrors.New(qaerrors.ErrCodeRerankFailed, "rerank response index out of range", nil).
				WithDetail("endpoint", r.endpoint)
		}
		results = append(results, Result{Index: item.Index, Score: item.Score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	r.logger.Debug("rerank finished",
		slog.String("query", truncateForLog(query, 50)),
		slog.Int("docs", len(docs)),
		slog.Duration("took", time.Since(started)))
	return results, nil
}

// ComputeScore scores one pair.
func (r *BGEReranker) ComputeScore(ctx context.Context, query string, doc Document) (float64, error) {
	results, err := r.Rerank(ctx, query, []Document{doc}, 1)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, qaerrors.New(qaerrors.ErrCodeRerankFailed, "rerank service returned no score", nil)
	}
	return results[0].Score, nil
}

// Available probes the service health endpoint.
func (r *BGEReranker) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, bgeHealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Info names the backend for logs.
func (r *BGEReranker) Info() string {
	return "bge/" + r.model
}

// Close drops idle connections.
func (r *BGEReranker) Close() error {
	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
