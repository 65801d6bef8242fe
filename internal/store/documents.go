package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
)

// documentDB implements DocumentStore on gorm. The schema migrates on
// open; sqlite serves local runs, postgres serves deployments.
type documentDB struct {
	db *gorm.DB
}

// OpenDocuments opens the document store selected by cfg and migrates
// the schema.
func OpenDocuments(cfg config.DatabaseConfig) (DocumentStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}

	if err := db.AutoMigrate(&Post{}, &MultimodalEntry{}, &CrawlState{}); err != nil {
		return nil, fmt.Errorf("migrate document store: %w", err)
	}

	return &documentDB{db: db}, nil
}

func (d *documentDB) GetPost(ctx context.Context, title string) (*Post, error) {
	var post Post
	err := d.db.WithContext(ctx).Where("title = ?", title).First(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post %q: %w", title, err)
	}
	return &post, nil
}

func (d *documentDB) HasPost(ctx context.Context, title, contentHash string) (bool, error) {
	var n int64
	err := d.db.WithContext(ctx).Model(&Post{}).
		Where("title = ? AND content_hash = ?", title, contentHash).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check post %q: %w", title, err)
	}
	return n > 0, nil
}

func (d *documentDB) UpsertPost(ctx context.Context, post *Post) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "title"}},
		DoUpdates: clause.AssignmentColumns([]string{"image_urls", "content_hash", "board_type", "date", "updated_at"}),
	}).Create(post).Error
	if err != nil {
		return fmt.Errorf("upsert post %q: %w", post.Title, err)
	}
	return nil
}

func (d *documentDB) DeleteAllPosts(ctx context.Context) error {
	err := d.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&Post{}).Error
	if err != nil {
		return fmt.Errorf("delete posts: %w", err)
	}
	return nil
}

func (d *documentDB) CountPosts(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.WithContext(ctx).Model(&Post{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

func (d *documentDB) GetEntryByURL(ctx context.Context, url string) (*MultimodalEntry, error) {
	var entry MultimodalEntry
	err := d.db.WithContext(ctx).Where("url = ?", url).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry by url: %w", err)
	}
	return &entry, nil
}

func (d *documentDB) GetEntryByFileHash(ctx context.Context, hash string) (*MultimodalEntry, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	var entry MultimodalEntry
	err := d.db.WithContext(ctx).Where("file_hash = ?", hash).
		Order("id").First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry by hash: %w", err)
	}
	return &entry, nil
}

func (d *documentDB) UpsertEntry(ctx context.Context, entry *MultimodalEntry) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"file_hash", "type", "filename",
			"ocr_text", "ocr_markdown", "ocr_html",
			"text", "markdown", "html",
			"updated_at",
		}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("upsert entry %q: %w", entry.URL, err)
	}
	return nil
}

func (d *documentDB) DeleteAllEntries(ctx context.Context) error {
	err := d.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&MultimodalEntry{}).Error
	if err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	return nil
}

func (d *documentDB) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	if err := d.db.WithContext(ctx).Model(&MultimodalEntry{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (d *documentDB) GetCrawlState(ctx context.Context, boardType string) (*CrawlState, error) {
	var state CrawlState
	err := d.db.WithContext(ctx).Where("board_type = ?", boardType).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get crawl state %q: %w", boardType, err)
	}
	return &state, nil
}

func (d *documentDB) UpsertCrawlState(ctx context.Context, state *CrawlState) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "board_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_processed_id", "last_updated", "processed_count"}),
	}).Create(state).Error
	if err != nil {
		return fmt.Errorf("upsert crawl state %q: %w", state.BoardType, err)
	}
	return nil
}

func (d *documentDB) DeleteAllCrawlStates(ctx context.Context) error {
	err := d.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&CrawlState{}).Error
	if err != nil {
		return fmt.Errorf("delete crawl states: %w", err)
	}
	return nil
}

func (d *documentDB) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("document store handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("document store ping: %w", err)
	}
	return nil
}

func (d *documentDB) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return fmt.Errorf("document store handle: %w", err)
	}
	return sqlDB.Close()
}
