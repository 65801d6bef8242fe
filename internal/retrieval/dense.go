package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/map-community/CHATBOT-AI-sub000/internal/embed"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

const (
	// denseTopK is how many neighbors one vector query pulls.
	denseTopK = 50

	// denseScoreScale lifts cosine similarities onto the BM25 score
	// range so the combiner can add the two.
	denseScoreScale = 3.26

	// nounMatchWeight and nounMatchCap bound the per-token bonus for
	// query nouns appearing in the retrieved preview.
	nounMatchWeight = 0.1
	nounMatchCap    = 0.5
)

// DenseRetriever embeds the query and searches the vector index.
type DenseRetriever struct {
	embedder embed.Embedder
	index    store.VectorIndex
	weigher  *Weigher
	logger   *slog.Logger
}

// NewDenseRetriever wires the dense search path.
func NewDenseRetriever(embedder embed.Embedder, index store.VectorIndex, weigher *Weigher, logger *slog.Logger) *DenseRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &DenseRetriever{embedder: embedder, index: index, weigher: weigher, logger: logger}
}

// Search returns recency- and noun-adjusted candidates for the query,
// best first.
func (r *DenseRetriever) Search(ctx context.Context, query string, queryTokens []string) ([]Candidate, error) {
	started := time.Now()

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := r.index.Query(ctx, vector, denseTopK, true)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		doc := snapshot.FromPayload(m.Payload)

		score := float64(m.Score) * denseScoreScale
		score *= r.weigher.Weight(doc.Date, queryTokens)
		score += nounMatchBonus(doc.Text, queryTokens)

		out = append(out, fromDocument(doc, score))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	r.logger.Debug("dense search done",
		slog.Int("matches", len(out)),
		slog.Duration("took", time.Since(started)))
	return out, nil
}

// nounMatchBonus rewards previews that literally contain query nouns.
// Embeddings surface paraphrases; this pulls exact mentions back up.
func nounMatchBonus(text string, queryTokens []string) float64 {
	if text == "" {
		return 0
	}

	bonus := 0.0
	seen := make(map[string]bool, len(queryTokens))
	for _, tok := range queryTokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		if strings.Contains(text, tok) {
			bonus += nounMatchWeight
		}
	}
	if bonus > nounMatchCap {
		bonus = nounMatchCap
	}
	return bonus
}
