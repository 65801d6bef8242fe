package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

func TestNew_SelectsProvider(t *testing.T) {
	t.Run("bge is the default", func(t *testing.T) {
		r, err := New(config.RerankConfig{}, nil)
		require.NoError(t, err)
		assert.IsType(t, &BGEReranker{}, r)
	})

	t.Run("cohere needs a key", func(t *testing.T) {
		_, err := New(config.RerankConfig{Provider: "cohere"}, nil)
		require.Error(t, err)

		r, err := New(config.RerankConfig{Provider: "cohere", APIKey: "k"}, nil)
		require.NoError(t, err)
		assert.IsType(t, &CohereReranker{}, r)
	})

	t.Run("none disables reranking", func(t *testing.T) {
		r, err := New(config.RerankConfig{Provider: "none"}, nil)
		require.NoError(t, err)
		assert.False(t, r.Available(context.Background()))
	})

	t.Run("unknown provider rejected", func(t *testing.T) {
		_, err := New(config.RerankConfig{Provider: "mystery"}, nil)
		require.Error(t, err)
		assert.Equal(t, qaerrors.ErrCodeConfigInvalid, qaerrors.GetCode(err))
	})
}

func TestNoop_PreservesOrder(t *testing.T) {
	n := NewNoop()
	docs := []Document{{Title: "a"}, {Title: "b"}, {Title: "c"}}

	results, err := n.Rerank(context.Background(), "질문", docs, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, 1, results[1].Index)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestScoringText(t *testing.T) {
	t.Run("joins title and body", func(t *testing.T) {
		got := scoringText(Document{Title: "공지", Body: "본문"})
		assert.Equal(t, "공지\n본문", got)
	})

	t.Run("title only", func(t *testing.T) {
		assert.Equal(t, "공지", scoringText(Document{Title: "공지"}))
	})

	t.Run("body only", func(t *testing.T) {
		assert.Equal(t, "본문", scoringText(Document{Body: "본문"}))
	})
}
