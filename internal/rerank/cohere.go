package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

const (
	cohereDefaultEndpoint = "https://api.cohere.com"
	cohereDefaultModel    = "rerank-v3.5"
	cohereRequestTimeout  = 30 * time.Second
)

// CohereReranker calls the hosted Cohere rerank API. Scores land in
// [0,1]; relevance below ~0.01 is effectively noise.
type CohereReranker struct {
	client   *http.Client
	endpoint string
	model    string
	apiKey   string
	logger   *slog.Logger
}

var _ Reranker = (*CohereReranker)(nil)

// NewCohereReranker builds the hosted client. The API key is required
// up front since there is no local fallback to probe.
func NewCohereReranker(cfg config.RerankConfig, logger *slog.Logger) (*CohereReranker, error) {
	if cfg.APIKey == "" {
		return nil, qaerrors.New(qaerrors.ErrCodeMissingAPIKey, "cohere rerank API key not configured", nil).
			WithSuggestion("set DEPTQA_RERANK_API_KEY")
	}
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" || endpoint == bgeDefaultEndpoint {
		endpoint = cohereDefaultEndpoint
	}
	model := cfg.Model
	if model == "" || model == bgeDefaultModel {
		model = cohereDefaultModel
	}
	return &CohereReranker{
		client:   &http.Client{Timeout: cohereRequestTimeout},
		endpoint: endpoint,
		model:    model,
		apiKey:   cfg.APIKey,
		logger:   logger,
	}, nil
}

type cohereRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores all documents in one hosted API call.
func (r *CohereReranker) Rerank(ctx context.Context, query string, docs []Document, topK int) ([]Result, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = scoringText(d)
	}

	body, err := json.Marshal(cohereRequest{
		Model:     r.model,
		Query:     query,
		Documents: texts,
		TopN:      topK,
	})
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeRerankFailed, "encoding rerank request failed", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v2/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeRerankFailed, "building rerank request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	started := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeRerankFailed, "rerank request failed", err).
			WithDetail("endpoint", r.endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, qaerrors.New(qaerrors.ErrCodeRateLimited, "rerank API rate limited", nil)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, qaerrors.New(qaerrors.ErrCodeRerankFailed, "rerank API returned an error", nil).
			WithDetail("status", resp.Status).
			WithDetail("body", string(msg))
	}

	var decoded cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeRerankFailed, "decoding rerank response failed", err)
	}

	// Cohere returns results already sorted by relevance.
	results := make([]Result, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		if item.Index < 0 || item.Index >= len(docs) {
			return nil, qaerrors.New(qaerrors.ErrCodeRerankFailed, "rerank response index out of range", nil)
		}
		results = append(results, Result{Index: item.Index, Score: item.RelevanceScore})
	}

	r.logger.Debug("rerank finished",
		slog.String("query", truncateForLog(query, 50)),
		slog.Int("docs", len(docs)),
		slog.Duration("took", time.Since(started)))
	return results, nil
}

// ComputeScore scores one pair.
func (r *CohereReranker) ComputeScore(ctx context.Context, query string, doc Document) (float64, error) {
	results, err := r.Rerank(ctx, query, []Document{doc}, 1)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, qaerrors.New(qaerrors.ErrCodeRerankFailed, "rerank API returned no score", nil)
	}
	return results[0].Score, nil
}

// Available is true whenever a key is configured; the hosted API has
// no health endpoint worth probing per query.
func (r *CohereReranker) Available(context.Context) bool {
	return r.apiKey != ""
}

// Info names the backend for logs.
func (r *CohereReranker) Info() string {
	return "cohere/" + r.model
}

// Close is a no-op for the hosted client.
func (r *CohereReranker) Close() error { return nil }
