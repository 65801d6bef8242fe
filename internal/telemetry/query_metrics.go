// Package telemetry collects per-query pipeline metrics: stage
// latencies, answer outcomes, hot query terms. Everything stays local;
// nothing is reported off the box.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Outcome classifies how a query ended.
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeNoAnswer Outcome = "no_answer"
	OutcomeListing  Outcome = "listing"
	OutcomeError    Outcome = "error"
)

// Stage names one step of the query pipeline.
type Stage string

const (
	StageTokenize Stage = "tokenize"
	StageIntent   Stage = "intent"
	StageBM25     Stage = "bm25"
	StageDense    Stage = "dense"
	StageCombine  Stage = "combine"
	StageRerank   Stage = "rerank"
	StageEnrich   Stage = "enrich"
	StageCompose  Stage = "compose"
)

// LatencyBucket is one bin of the end-to-end latency histogram.
type LatencyBucket string

const (
	BucketP100  LatencyBucket = "p100"  // <100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1s   LatencyBucket = "p1s"   // 500ms-1s
	BucketP5s   LatencyBucket = "p5s"   // 1-5s
	BucketP15s  LatencyBucket = "p15s"  // 5-15s
	BucketPSlow LatencyBucket = "pslow" // >=15s
)

// LatencyToBucket bins a duration. The bins suit a pipeline whose slow
// path includes two model calls, not a millisecond-scale index lookup.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	case ms < 1000:
		return BucketP1s
	case ms < 5000:
		return BucketP5s
	case ms < 15000:
		return BucketP15s
	default:
		return BucketPSlow
	}
}

// QueryEvent describes one completed query for recording.
type QueryEvent struct {
	Query       string
	Tokens      []string
	Outcome     Outcome
	ResultCount int
	Stages      map[Stage]time.Duration
	Latency     time.Duration
	Timestamp   time.Time
}

// StageTotal aggregates one stage across queries.
type StageTotal struct {
	Total time.Duration
	Count int64
}

// TermCount is a query term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer holding at most capacity items.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}
	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
	} else {
		copy(out, b.items[b.head:])
		copy(out[b.capacity-b.head:], b.items[:b.head])
	}
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear empties the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// MetricsSnapshot is an immutable view of collected metrics.
type MetricsSnapshot struct {
	OutcomeCounts       map[Outcome]int64       `json:"outcome_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	NoAnswerQueries     []string                `json:"no_answer_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	StageAverages       map[Stage]time.Duration `json:"stage_averages"`
	TotalQueries        int64                   `json:"total_queries"`
	NoAnswerCount       int64                   `json:"no_answer_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	ExactRepeatRate     float64                 `json:"exact_repeat_rate"`
	Since               time.Time               `json:"since"`
}

// NoAnswerPercentage returns the share of queries that produced no
// answer.
func (s *MetricsSnapshot) NoAnswerPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.NoAnswerCount) / float64(s.TotalQueries) * 100
}

// RepetitionSummary renders the repeat metrics for logs.
func (s *MetricsSnapshot) RepetitionSummary() string {
	if s.TotalQueries == 0 {
		return "no queries recorded"
	}
	return fmt.Sprintf("repeats=%.1f%% of %d queries", s.ExactRepeatRate*100, s.TotalQueries)
}

// MetricsStore persists aggregated metrics between runs.
type MetricsStore interface {
	// AddOutcomeCounts adds the deltas to the per-day outcome counts.
	AddOutcomeCounts(date string, counts map[Outcome]int64) error

	// GetOutcomeCounts sums outcome counts over a date range.
	GetOutcomeCounts(from, to string) (map[Outcome]int64, error)

	// AddTermCounts adds the deltas to the term frequencies.
	AddTermCounts(terms map[string]int64) error

	// TopTerms returns the most frequent terms.
	TopTerms(limit int) ([]TermCount, error)

	// AddNoAnswerQuery appends a query that produced no answer.
	AddNoAnswerQuery(query string, timestamp time.Time) error

	// RecentNoAnswerQueries returns the latest unanswered queries.
	RecentNoAnswerQueries(limit int) ([]string, error)

	// AddLatencyCounts adds the deltas to the per-day latency histogram.
	AddLatencyCounts(date string, counts map[LatencyBucket]int64) error

	// GetLatencyCounts sums the histogram over a date range.
	GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error)

	// AddStageTotals adds the deltas to the per-day stage aggregates.
	AddStageTotals(date string, totals map[Stage]StageTotal) error

	// StageAverages computes mean stage latency over a date range.
	StageAverages(from, to string) (map[Stage]time.Duration, error)

	// Close releases resources.
	Close() error
}

// MetricsConfig configures the collector.
type MetricsConfig struct {
	TopTermsCapacity      int           // terms tracked in memory (default 100)
	NoAnswerCapacity      int           // unanswered queries kept (default 100)
	RecentQueriesCapacity int           // hashes kept for repeat detection (default 500)
	FlushInterval         time.Duration // 0 disables the flush loop
}

// DefaultMetricsConfig returns the collector defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		TopTermsCapacity:      100,
		NoAnswerCapacity:      100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// QueryMetrics collects query pipeline telemetry. Safe for concurrent
// use; Record never blocks on the store.
type QueryMetrics struct {
	mu sync.RWMutex

	outcomes    map[Outcome]int64
	topTerms    *lru.Cache[string, int64]
	noAnswers   *CircularBuffer[string]
	latencies   map[LatencyBucket]int64
	stageTotals map[Stage]StageTotal

	totalQueries  int64
	noAnswerCount int64
	startTime     time.Time

	recentQueries    *lru.Cache[string, struct{}]
	exactRepeatCount int64

	// Flush baselines, guarded by flushMu. Deltas since the last
	// successful flush are what reach the store, so repeated flushes
	// never double-count.
	flushMu          sync.Mutex
	flushedOutcomes  map[Outcome]int64
	flushedTerms     map[string]int64
	flushedLatencies map[LatencyBucket]int64
	flushedStages    map[Stage]StageTotal
	flushedNoAnswers int64

	store       MetricsStore
	config      MetricsConfig
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewQueryMetrics creates a collector with default configuration. A
// nil store keeps metrics in memory only.
func NewQueryMetrics(store MetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector with explicit limits.
func NewQueryMetricsWithConfig(store MetricsStore, cfg MetricsConfig) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.NoAnswerCapacity <= 0 {
		cfg.NoAnswerCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		outcomes:         make(map[Outcome]int64),
		topTerms:         topTerms,
		noAnswers:        NewCircularBuffer[string](cfg.NoAnswerCapacity),
		latencies:        make(map[LatencyBucket]int64),
		stageTotals:      make(map[Stage]StageTotal),
		startTime:        time.Now(),
		recentQueries:    recentQueries,
		flushedOutcomes:  make(map[Outcome]int64),
		flushedTerms:     make(map[string]int64),
		flushedLatencies: make(map[LatencyBucket]int64),
		flushedStages:    make(map[Stage]StageTotal),
		store:            store,
		config:           cfg,
		stopCh:           make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.flushTicker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.flushTicker.C:
			_ = m.Flush()
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one finished query.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.outcomes[event.Outcome]++
	m.totalQueries++

	for _, term := range event.Tokens {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if event.Outcome == OutcomeNoAnswer {
		m.noAnswers.Add(event.Query)
		m.noAnswerCount++
	}

	m.latencies[LatencyToBucket(event.Latency)]++

	for stage, d := range event.Stages {
		agg := m.stageTotals[stage]
		agg.Total += d
		agg.Count++
		m.stageTotals[stage] = agg
	}

	hash := hashQuery(event.Query)
	if _, seen := m.recentQueries.Get(hash); seen {
		m.exactRepeatCount++
	}
	m.recentQueries.Add(hash, struct{}{})
}

// hashQuery normalizes and hashes a query for repeat detection.
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the current metrics.
func (m *QueryMetrics) Snapshot() *MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *QueryMetrics) snapshotLocked() *MetricsSnapshot {
	outcomes := make(map[Outcome]int64, len(m.outcomes))
	for k, v := range m.outcomes {
		outcomes[k] = v
	}

	var terms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	stageAvgs := make(map[Stage]time.Duration, len(m.stageTotals))
	for stage, agg := range m.stageTotals {
		if agg.Count > 0 {
			stageAvgs[stage] = agg.Total / time.Duration(agg.Count)
		}
	}

	var repeatRate float64
	if m.totalQueries > 0 {
		repeatRate = float64(m.exactRepeatCount) / float64(m.totalQueries)
	}

	return &MetricsSnapshot{
		OutcomeCounts:       outcomes,
		TopTerms:            terms,
		NoAnswerQueries:     m.noAnswers.Items(),
		LatencyDistribution: latencies,
		StageAverages:       stageAvgs,
		TotalQueries:        m.totalQueries,
		NoAnswerCount:       m.noAnswerCount,
		ExactRepeatCount:    m.exactRepeatCount,
		ExactRepeatRate:     repeatRate,
		Since:               m.startTime,
	}
}

// Flush persists the deltas accumulated since the previous flush. Safe
// without a store. Store writes happen outside the record lock so slow
// persistence never stalls query handling.
func (m *QueryMetrics) Flush() error {
	if m.store == nil {
		return nil
	}

	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.RLock()
	outcomes := make(map[Outcome]int64, len(m.outcomes))
	for k, v := range m.outcomes {
		outcomes[k] = v
	}
	noAnswerCount := m.noAnswerCount
	noAnswers := m.noAnswers.Items()
	terms := make(map[string]int64)
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms[key] = count
		}
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}
	stages := make(map[Stage]StageTotal, len(m.stageTotals))
	for k, v := range m.stageTotals {
		stages[k] = v
	}
	m.mu.RUnlock()

	today := time.Now().Format("2006-01-02")

	outcomeDelta := make(map[Outcome]int64)
	for k, v := range outcomes {
		if d := v - m.flushedOutcomes[k]; d > 0 {
			outcomeDelta[k] = d
		}
	}
	if len(outcomeDelta) > 0 {
		if err := m.store.AddOutcomeCounts(today, outcomeDelta); err != nil {
			return err
		}
		for k, v := range outcomes {
			m.flushedOutcomes[k] = v
		}
	}

	termDelta := make(map[string]int64)
	for k, v := range terms {
		if d := v - m.flushedTerms[k]; d > 0 {
			termDelta[k] = d
		}
	}
	if len(termDelta) > 0 {
		if err := m.store.AddTermCounts(termDelta); err != nil {
			return err
		}
		for k, d := range termDelta {
			m.flushedTerms[k] += d
		}
	}

	latencyDelta := make(map[LatencyBucket]int64)
	for k, v := range latencies {
		if d := v - m.flushedLatencies[k]; d > 0 {
			latencyDelta[k] = d
		}
	}
	if len(latencyDelta) > 0 {
		if err := m.store.AddLatencyCounts(today, latencyDelta); err != nil {
			return err
		}
		for k, v := range latencies {
			m.flushedLatencies[k] = v
		}
	}

	stageDelta := make(map[Stage]StageTotal)
	for k, v := range stages {
		prev := m.flushedStages[k]
		if v.Count > prev.Count {
			stageDelta[k] = StageTotal{Total: v.Total - prev.Total, Count: v.Count - prev.Count}
		}
	}
	if len(stageDelta) > 0 {
		if err := m.store.AddStageTotals(today, stageDelta); err != nil {
			return err
		}
		for k, v := range stages {
			m.flushedStages[k] = v
		}
	}

	if fresh := noAnswerCount - m.flushedNoAnswers; fresh > 0 {
		// The ring evicts, so at most its contents are new.
		if fresh > int64(len(noAnswers)) {
			fresh = int64(len(noAnswers))
		}
		now := time.Now()
		for _, q := range noAnswers[int64(len(noAnswers))-fresh:] {
			if err := m.store.AddNoAnswerQuery(q, now); err != nil {
				return err
			}
		}
		m.flushedNoAnswers = noAnswerCount
	}

	return nil
}

// Close stops the flush loop, flushes once more, and shuts down.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.flushTicker != nil {
		m.flushTicker.Stop()
		close(m.stopCh)
	}
	return m.Flush()
}
