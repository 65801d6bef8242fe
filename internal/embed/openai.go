package embed

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// OpenAIEmbedder talks to an OpenAI-compatible embeddings endpoint.
// The hosted default is the solar embedding family, which serves
// separate query and passage models behind one base URL.
type OpenAIEmbedder struct {
	client       openai.Client
	queryModel   string
	passageModel string
	dims         int
	batchSize    int
	timeout      time.Duration
	logger       *slog.Logger
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder from the embeddings config section.
func NewOpenAIEmbedder(cfg config.EmbeddingsConfig, logger *slog.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, qaerrors.New(qaerrors.ErrCodeMissingAPIKey, "embeddings API key not configured", nil).
			WithSuggestion("set DEPTQA_EMBEDDINGS_API_KEY or DEPTQA_API_KEY")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}

	return &OpenAIEmbedder{
		client:       openai.NewClient(opts...),
		queryModel:   cfg.QueryModel,
		passageModel: cfg.PassageModel,
		dims:         dims,
		batchSize:    batchSize,
		timeout:      DefaultTimeout,
		logger:       logger,
	}, nil
}

// EmbedQuery embeds a question with the query-side model.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, e.queryModel, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedPassages embeds document chunks with the passage-side model,
// batching to respect the API's per-request input cap.
func (e *OpenAIEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embed(ctx, e.passageModel, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embed runs one embeddings request and returns vectors in input order.
func (e *OpenAIEmbedder) embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, qaerrors.New(qaerrors.ErrCodeEmbeddingFailed, "embedding request failed", err).
			WithDetail("model", model).
			WithDetail("inputs", strconv.Itoa(len(texts)))
	}
	if len(resp.Data) != len(texts) {
		return nil, qaerrors.New(qaerrors.ErrCodeEmbeddingFailed, "embedding count mismatch", nil).
			WithDetail("model", model).
			WithDetail("want", strconv.Itoa(len(texts))).
			WithDetail("got", strconv.Itoa(len(resp.Data)))
	}

	// The API may return data out of order; Index is authoritative.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, qaerrors.New(qaerrors.ErrCodeEmbeddingFailed, "embedding index out of range", nil).
				WithDetail("index", strconv.FormatInt(d.Index, 10))
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		vecs[d.Index] = vec
	}

	e.logger.Debug("embedded batch",
		slog.String("model", model),
		slog.Int("inputs", len(texts)),
		slog.Duration("took", time.Since(started)))

	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the passage model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.passageModel
}

// Available probes the endpoint with a single short embedding request.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{"ping"}},
		Model: openai.EmbeddingModel(e.queryModel),
	})
	return err == nil
}

// Close releases resources. The underlying client holds no connections
// beyond the standard transport pool.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
