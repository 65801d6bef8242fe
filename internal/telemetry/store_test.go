package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
)

func newTestMetricsStore(t *testing.T) *GormMetricsStore {
	t.Helper()
	s, err := OpenMetricsStore(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "documents.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMetricsStore_OutcomeCountsAccumulate(t *testing.T) {
	s := newTestMetricsStore(t)

	// Given two flushes on the same day and one on another
	require.NoError(t, s.AddOutcomeCounts("2025-08-10", map[Outcome]int64{
		OutcomeAnswered: 10,
		OutcomeNoAnswer: 2,
	}))
	require.NoError(t, s.AddOutcomeCounts("2025-08-10", map[Outcome]int64{
		OutcomeAnswered: 5,
	}))
	require.NoError(t, s.AddOutcomeCounts("2025-08-11", map[Outcome]int64{
		OutcomeAnswered: 1,
	}))

	// When summing the full range
	counts, err := s.GetOutcomeCounts("2025-08-10", "2025-08-11")
	require.NoError(t, err)

	// Then same-day writes added up
	assert.Equal(t, int64(16), counts[OutcomeAnswered])
	assert.Equal(t, int64(2), counts[OutcomeNoAnswer])

	// And a narrower range excludes the other day
	counts, err = s.GetOutcomeCounts("2025-08-11", "2025-08-11")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[OutcomeAnswered])
}

func TestMetricsStore_TermCountsUpsert(t *testing.T) {
	s := newTestMetricsStore(t)

	require.NoError(t, s.AddTermCounts(map[string]int64{"수강신청": 3, "장학금": 1}))
	require.NoError(t, s.AddTermCounts(map[string]int64{"수강신청": 2}))

	terms, err := s.TopTerms(10)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, TermCount{Term: "수강신청", Count: 5}, terms[0])
	assert.Equal(t, TermCount{Term: "장학금", Count: 1}, terms[1])
}

func TestMetricsStore_TopTermsLimit(t *testing.T) {
	s := newTestMetricsStore(t)
	require.NoError(t, s.AddTermCounts(map[string]int64{"a": 3, "b": 2, "c": 1}))

	terms, err := s.TopTerms(2)
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "a", terms[0].Term)
}

func TestMetricsStore_NoAnswerQueriesNewestFirst(t *testing.T) {
	s := newTestMetricsStore(t)

	now := time.Now()
	require.NoError(t, s.AddNoAnswerQuery("첫번째 질문", now))
	require.NoError(t, s.AddNoAnswerQuery("두번째 질문", now))
	require.NoError(t, s.AddNoAnswerQuery("세번째 질문", now))

	queries, err := s.RecentNoAnswerQueries(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"세번째 질문", "두번째 질문"}, queries)
}

func TestMetricsStore_NoAnswerLogTrimmed(t *testing.T) {
	s := newTestMetricsStore(t)

	for i := 0; i < noAnswerTableCap+25; i++ {
		require.NoError(t, s.AddNoAnswerQuery("질문", time.Now()))
	}

	var n int64
	require.NoError(t, s.db.Model(&noAnswerQueryRow{}).Count(&n).Error)
	assert.Equal(t, int64(noAnswerTableCap), n)
}

func TestMetricsStore_LatencyCounts(t *testing.T) {
	s := newTestMetricsStore(t)

	require.NoError(t, s.AddLatencyCounts("2025-08-10", map[LatencyBucket]int64{
		BucketP1s: 4,
		BucketP5s: 1,
	}))
	require.NoError(t, s.AddLatencyCounts("2025-08-10", map[LatencyBucket]int64{
		BucketP1s: 1,
	}))

	counts, err := s.GetLatencyCounts("2025-08-10", "2025-08-10")
	require.NoError(t, err)
	assert.Equal(t, int64(5), counts[BucketP1s])
	assert.Equal(t, int64(1), counts[BucketP5s])
}

func TestMetricsStore_StageAverages(t *testing.T) {
	s := newTestMetricsStore(t)

	require.NoError(t, s.AddStageTotals("2025-08-10", map[Stage]StageTotal{
		StageBM25:  {Total: 40 * time.Millisecond, Count: 4},
		StageDense: {Total: 900 * time.Millisecond, Count: 3},
	}))
	require.NoError(t, s.AddStageTotals("2025-08-11", map[Stage]StageTotal{
		StageBM25: {Total: 20 * time.Millisecond, Count: 2},
	}))

	avgs, err := s.StageAverages("2025-08-10", "2025-08-11")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, avgs[StageBM25])
	assert.Equal(t, 300*time.Millisecond, avgs[StageDense])
}

func TestMetricsPath(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "telemetry.db"), metricsPath(filepath.Join("data", "documents.db")))
	assert.Equal(t, "telemetry.db", metricsPath(""))
}
