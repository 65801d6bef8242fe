package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
	"github.com/map-community/CHATBOT-AI-sub000/internal/snapshot"
	"github.com/map-community/CHATBOT-AI-sub000/internal/store"
)

func testItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			Text:       fmt.Sprintf("본문 조각 %d", i),
			ChunkIndex: i,
			ChunkTotal: n,
			Doc: snapshot.Document{
				Title:       "테스트 공지",
				Text:        fmt.Sprintf("본문 조각 %d", i),
				URL:         "https://cse.example.ac.kr/bbs/board.php?wr_id=1",
				Date:        "2025-03-04T10:00:00+09:00",
				ContentType: snapshot.ContentText,
				Source:      snapshot.SourceOriginalPost,
			},
		}
	}
	return items
}

func TestUploadAssignsSequentialIDs(t *testing.T) {
	embedder := newFakeEmbedder()
	vectors := newFakeVectors()
	ctx := context.Background()

	// Pre-existing points; new ids must continue from the count.
	require.NoError(t, vectors.Upsert(ctx, []store.VectorPoint{
		{ID: 0}, {ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5}, {ID: 6},
	}))

	u := NewUploader(embedder, vectors, 0, quietLogger())
	docs, err := u.Upload(ctx, testItems(5))

	require.NoError(t, err)
	assert.Len(t, docs, 5)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, vectors.allIDs())

	point := vectors.points[7]
	assert.Equal(t, "테스트 공지", point.Payload[snapshot.KeyTitle])
	assert.Equal(t, "본문 조각 0", point.Payload[snapshot.KeyText])
	assert.Equal(t, 0, point.Payload[keyChunkIndex])
	assert.Equal(t, 5, point.Payload[keyTotalChunks])
	assert.Len(t, point.Vector, embedder.Dimensions())
}

func TestUploadBatchesBySize(t *testing.T) {
	embedder := newFakeEmbedder()
	vectors := newFakeVectors()

	u := NewUploader(embedder, vectors, 2, quietLogger())
	_, err := u.Upload(context.Background(), testItems(5))

	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, embedder.batchSizes())
	require.Len(t, vectors.upserted, 3)
	assert.Equal(t, []uint64{0, 1}, vectors.upserted[0])
	assert.Equal(t, []uint64{2, 3}, vectors.upserted[1])
	assert.Equal(t, []uint64{4}, vectors.upserted[2])
}

func TestUploadEmbedFailureAborts(t *testing.T) {
	embedder := newFakeEmbedder()
	embedder.err = errors.New("provider unavailable")
	vectors := newFakeVectors()

	u := NewUploader(embedder, vectors, 0, quietLogger())
	docs, err := u.Upload(context.Background(), testItems(3))

	require.Error(t, err)
	assert.Equal(t, qaerrors.ErrCodeEmbeddingFailed, qaerrors.GetCode(err))
	assert.Nil(t, docs)
	assert.Empty(t, vectors.upserted, "nothing may land after an embed failure")
}

func TestUploadCountMismatchAborts(t *testing.T) {
	embedder := newFakeEmbedder()
	embedder.short = true
	vectors := newFakeVectors()

	u := NewUploader(embedder, vectors, 0, quietLogger())
	_, err := u.Upload(context.Background(), testItems(3))

	require.Error(t, err)
	assert.Equal(t, qaerrors.ErrCodeEmbeddingFailed, qaerrors.GetCode(err))
	assert.Empty(t, vectors.upserted)
}

func TestUploadUpsertFailureAborts(t *testing.T) {
	embedder := newFakeEmbedder()
	vectors := newFakeVectors()
	vectors.upsertErr = errors.New("qdrant down")

	u := NewUploader(embedder, vectors, 0, quietLogger())
	_, err := u.Upload(context.Background(), testItems(3))

	require.Error(t, err)
	assert.Equal(t, qaerrors.ErrCodeIndexUnavailable, qaerrors.GetCode(err))
}

func TestUploadEmptyItems(t *testing.T) {
	u := NewUploader(newFakeEmbedder(), newFakeVectors(), 0, quietLogger())

	docs, err := u.Upload(context.Background(), nil)

	require.NoError(t, err)
	assert.Nil(t, docs)
}
