package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
)

// noAnswerTableCap bounds the persisted no-answer query log.
const noAnswerTableCap = 500

type queryOutcomeStat struct {
	Date    string `gorm:"primaryKey;size:10"`
	Outcome string `gorm:"primaryKey;size:16"`
	Count   int64
}

func (queryOutcomeStat) TableName() string { return "query_outcome_stats" }

type queryTermStat struct {
	Term     string `gorm:"primaryKey;size:128"`
	Count    int64  `gorm:"index:idx_query_term_stats_count,sort:desc"`
	LastSeen time.Time
}

func (queryTermStat) TableName() string { return "query_term_stats" }

type noAnswerQueryRow struct {
	ID        uint `gorm:"primaryKey"`
	Query     string
	Timestamp time.Time
}

func (noAnswerQueryRow) TableName() string { return "no_answer_queries" }

type queryLatencyStat struct {
	Date   string `gorm:"primaryKey;size:10"`
	Bucket string `gorm:"primaryKey;size:8"`
	Count  int64
}

func (queryLatencyStat) TableName() string { return "query_latency_stats" }

type stageLatencyStat struct {
	Date        string `gorm:"primaryKey;size:10"`
	Stage       string `gorm:"primaryKey;size:16"`
	TotalMicros int64
	Count       int64
}

func (stageLatencyStat) TableName() string { return "stage_latency_stats" }

// GormMetricsStore persists query metrics next to the document store.
// sqlite runs get their own file so metric flushes never contend with
// ingestion writes; postgres shares the server.
type GormMetricsStore struct {
	db *gorm.DB
}

var _ MetricsStore = (*GormMetricsStore)(nil)

// OpenMetricsStore opens the metrics database selected by cfg and
// migrates the schema.
func OpenMetricsStore(cfg config.DatabaseConfig) (*GormMetricsStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		path := metricsPath(cfg.Path)
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create metrics directory: %w", err)
			}
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open metrics store: %w", err)
	}

	if err := db.AutoMigrate(
		&queryOutcomeStat{}, &queryTermStat{}, &noAnswerQueryRow{},
		&queryLatencyStat{}, &stageLatencyStat{},
	); err != nil {
		return nil, fmt.Errorf("migrate metrics store: %w", err)
	}

	return &GormMetricsStore{db: db}, nil
}

// metricsPath places the metrics file beside the document database.
func metricsPath(documentsPath string) string {
	if documentsPath == "" {
		return "telemetry.db"
	}
	return filepath.Join(filepath.Dir(documentsPath), "telemetry.db")
}

// AddOutcomeCounts adds the deltas to the per-day outcome counts.
func (s *GormMetricsStore) AddOutcomeCounts(date string, counts map[Outcome]int64) error {
	if len(counts) == 0 {
		return nil
	}
	rows := make([]queryOutcomeStat, 0, len(counts))
	for outcome, count := range counts {
		rows = append(rows, queryOutcomeStat{Date: date, Outcome: string(outcome), Count: count})
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "outcome"}},
		DoUpdates: clause.Assignments(map[string]any{
			"count": gorm.Expr("query_outcome_stats.count + excluded.count"),
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("save outcome counts: %w", err)
	}
	return nil
}

// GetOutcomeCounts sums outcome counts over an inclusive date range.
func (s *GormMetricsStore) GetOutcomeCounts(from, to string) (map[Outcome]int64, error) {
	var rows []struct {
		Outcome string
		Count   int64
	}
	err := s.db.Model(&queryOutcomeStat{}).
		Select("outcome, SUM(count) AS count").
		Where("date >= ? AND date <= ?", from, to).
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load outcome counts: %w", err)
	}

	counts := make(map[Outcome]int64, len(rows))
	for _, r := range rows {
		counts[Outcome(r.Outcome)] = r.Count
	}
	return counts, nil
}

// AddTermCounts adds the deltas to the persisted term frequencies.
func (s *GormMetricsStore) AddTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]queryTermStat, 0, len(terms))
	for term, count := range terms {
		rows = append(rows, queryTermStat{Term: term, Count: count, LastSeen: now})
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "term"}},
		DoUpdates: clause.Assignments(map[string]any{
			"count":     gorm.Expr("query_term_stats.count + excluded.count"),
			"last_seen": gorm.Expr("excluded.last_seen"),
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("save term counts: %w", err)
	}
	return nil
}

// TopTerms returns the most frequent terms.
func (s *GormMetricsStore) TopTerms(limit int) ([]TermCount, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []queryTermStat
	err := s.db.Order("count DESC, term ASC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load top terms: %w", err)
	}

	terms := make([]TermCount, 0, len(rows))
	for _, r := range rows {
		terms = append(terms, TermCount{Term: r.Term, Count: r.Count})
	}
	return terms, nil
}

// AddNoAnswerQuery appends one unanswered query, trimming the log to
// its cap.
func (s *GormMetricsStore) AddNoAnswerQuery(query string, timestamp time.Time) error {
	row := noAnswerQueryRow{Query: query, Timestamp: timestamp}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("save no-answer query: %w", err)
	}
	err := s.db.Exec(
		"DELETE FROM no_answer_queries WHERE id NOT IN (SELECT id FROM no_answer_queries ORDER BY id DESC LIMIT ?)",
		noAnswerTableCap,
	).Error
	if err != nil {
		return fmt.Errorf("trim no-answer queries: %w", err)
	}
	return nil
}

// RecentNoAnswerQueries returns the latest unanswered queries, newest
// first.
func (s *GormMetricsStore) RecentNoAnswerQueries(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	var queries []string
	err := s.db.Model(&noAnswerQueryRow{}).
		Order("id DESC").Limit(limit).
		Pluck("query", &queries).Error
	if err != nil {
		return nil, fmt.Errorf("load no-answer queries: %w", err)
	}
	return queries, nil
}

// AddLatencyCounts adds the deltas to the per-day latency histogram.
func (s *GormMetricsStore) AddLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	if len(counts) == 0 {
		return nil
	}
	rows := make([]queryLatencyStat, 0, len(counts))
	for bucket, count := range counts {
		rows = append(rows, queryLatencyStat{Date: date, Bucket: string(bucket), Count: count})
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "bucket"}},
		DoUpdates: clause.Assignments(map[string]any{
			"count": gorm.Expr("query_latency_stats.count + excluded.count"),
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("save latency counts: %w", err)
	}
	return nil
}

// GetLatencyCounts sums the histogram over an inclusive date range.
func (s *GormMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	var rows []struct {
		Bucket string
		Count  int64
	}
	err := s.db.Model(&queryLatencyStat{}).
		Select("bucket, SUM(count) AS count").
		Where("date >= ? AND date <= ?", from, to).
		Group("bucket").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load latency counts: %w", err)
	}

	counts := make(map[LatencyBucket]int64, len(rows))
	for _, r := range rows {
		counts[LatencyBucket(r.Bucket)] = r.Count
	}
	return counts, nil
}

// AddStageTotals adds the deltas to the per-day stage aggregates.
func (s *GormMetricsStore) AddStageTotals(date string, totals map[Stage]StageTotal) error {
	if len(totals) == 0 {
		return nil
	}
	rows := make([]stageLatencyStat, 0, len(totals))
	for stage, agg := range totals {
		rows = append(rows, stageLatencyStat{
			Date:        date,
			Stage:       string(stage),
			TotalMicros: agg.Total.Microseconds(),
			Count:       agg.Count,
		})
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "stage"}},
		DoUpdates: clause.Assignments(map[string]any{
			"total_micros": gorm.Expr("stage_latency_stats.total_micros + excluded.total_micros"),
			"count":        gorm.Expr("stage_latency_stats.count + excluded.count"),
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("save stage totals: %w", err)
	}
	return nil
}

// StageAverages computes mean stage latency over an inclusive date
// range.
func (s *GormMetricsStore) StageAverages(from, to string) (map[Stage]time.Duration, error) {
	var rows []struct {
		Stage       string
		TotalMicros int64
		Count       int64
	}
	err := s.db.Model(&stageLatencyStat{}).
		Select("stage, SUM(total_micros) AS total_micros, SUM(count) AS count").
		Where("date >= ? AND date <= ?", from, to).
		Group("stage").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load stage averages: %w", err)
	}

	avgs := make(map[Stage]time.Duration, len(rows))
	for _, r := range rows {
		if r.Count > 0 {
			avgs[Stage(r.Stage)] = time.Duration(r.TotalMicros/r.Count) * time.Microsecond
		}
	}
	return avgs, nil
}

// Close releases the database handle.
func (s *GormMetricsStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("metrics store handle: %w", err)
	}
	return sqlDB.Close()
}
