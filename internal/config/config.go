package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BoardType identifies one of the crawled department boards.
type BoardType string

const (
	BoardNotice       BoardType = "notice"
	BoardJob          BoardType = "job"
	BoardSeminar      BoardType = "seminar"
	BoardFaculty      BoardType = "faculty"
	BoardGuestFaculty BoardType = "guest-faculty"
	BoardStaff        BoardType = "staff"
)

// KnownBoardTypes lists every board type a crawler exists for.
var KnownBoardTypes = []BoardType{
	BoardNotice, BoardJob, BoardSeminar,
	BoardFaculty, BoardGuestFaculty, BoardStaff,
}

// String returns the board type name.
func (b BoardType) String() string {
	return string(b)
}

// IsKnown reports whether a crawler exists for this board type.
func (b BoardType) IsKnown() bool {
	for _, t := range KnownBoardTypes {
		if b == t {
			return true
		}
	}
	return false
}

// ParseBoardType converts a string to a BoardType.
func ParseBoardType(s string) (BoardType, error) {
	b := BoardType(strings.ToLower(strings.TrimSpace(s)))
	if !b.IsKnown() {
		return "", fmt.Errorf("unknown board type %q (known: %v)", s, KnownBoardTypes)
	}
	return b, nil
}

// Config is the complete service configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Qdrant     QdrantConfig     `yaml:"qdrant" json:"qdrant"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Extraction ExtractionConfig `yaml:"extraction" json:"extraction"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Rerank     RerankConfig     `yaml:"rerank" json:"rerank"`
	Crawl      CrawlConfig      `yaml:"crawl" json:"crawl"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
}

// ServerConfig configures the answer HTTP server.
type ServerConfig struct {
	Host            string   `yaml:"host" json:"host"`
	Port            int      `yaml:"port" json:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins" json:"allowed_origins"`
	LogLevel        string   `yaml:"log_level" json:"log_level"`
	RequestTimeout  string   `yaml:"request_timeout" json:"request_timeout"`
	ShutdownTimeout string   `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DatabaseConfig configures the document store.
// sqlite is the zero-config default; postgres is for shared deployments.
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path" json:"path"`     // sqlite file path
	DSN    string `yaml:"dsn" json:"dsn"`       // postgres DSN; DEPTQA_DATABASE_DSN overrides
}

// RedisConfig configures the key/value cache.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	DB       int    `yaml:"db" json:"db"`
	Password string `yaml:"-" json:"-"` // env only: DEPTQA_REDIS_PASSWORD
}

// QdrantConfig configures the vector index.
type QdrantConfig struct {
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	UseTLS     bool   `yaml:"use_tls" json:"use_tls"`
	Collection string `yaml:"collection" json:"collection"`
	APIKey     string `yaml:"-" json:"-"` // env only: DEPTQA_QDRANT_API_KEY
}

// EmbeddingsConfig configures the embedding provider.
// "openai" talks to any OpenAI-compatible endpoint (the hosted default);
// "ollama" talks to a local Ollama server.
type EmbeddingsConfig struct {
	Provider     string `yaml:"provider" json:"provider"`
	BaseURL      string `yaml:"base_url" json:"base_url"`
	QueryModel   string `yaml:"query_model" json:"query_model"`
	PassageModel string `yaml:"passage_model" json:"passage_model"`
	Dimensions   int    `yaml:"dimensions" json:"dimensions"`
	BatchSize    int    `yaml:"batch_size" json:"batch_size"`
	CacheSize    int    `yaml:"cache_size" json:"cache_size"` // LRU entries for repeated query embeddings
	OllamaHost   string `yaml:"ollama_host" json:"ollama_host"`
	APIKey       string `yaml:"-" json:"-"` // env only: DEPTQA_EMBEDDINGS_API_KEY
}

// ExtractionConfig configures the OCR/document-parse API and the
// archive guards applied before anything is sent to it.
type ExtractionConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Model    string `yaml:"model" json:"model"`
	OCR      string `yaml:"ocr" json:"ocr"` // "force" or "auto"
	Timeout  string `yaml:"timeout" json:"timeout"`

	MaxZipSizeMB        int    `yaml:"max_zip_size_mb" json:"max_zip_size_mb"`
	MaxTotalFiles       int    `yaml:"max_total_files" json:"max_total_files"`
	MaxExtractionSizeMB int    `yaml:"max_extraction_size_mb" json:"max_extraction_size_mb"`
	APIKey              string `yaml:"-" json:"-"` // env only: DEPTQA_EXTRACTION_API_KEY
}

// LLMConfig configures answer generation.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url" json:"base_url"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	APIKey      string  `yaml:"-" json:"-"` // env only: DEPTQA_LLM_API_KEY
}

// RerankConfig selects and configures the reranker.
type RerankConfig struct {
	Provider string `yaml:"provider" json:"provider"` // "bge", "cohere", or "none"
	Endpoint string `yaml:"endpoint" json:"endpoint"` // bge: local rerank service URL
	Model    string `yaml:"model" json:"model"`
	UseFP16  bool   `yaml:"use_fp16" json:"use_fp16"`
	APIKey   string `yaml:"-" json:"-"` // env only: DEPTQA_RERANK_API_KEY (cohere)
}

// BoardConfig describes one crawl target.
type BoardConfig struct {
	Type BoardType `yaml:"type" json:"type"`
	URL  string    `yaml:"url" json:"url"`

	// FloorID is the lowest post id ever crawled on a fresh board.
	// Boards carry years of stale posts below it.
	FloorID int `yaml:"floor_id" json:"floor_id"`
}

// CrawlConfig configures the ingestion crawlers.
type CrawlConfig struct {
	Boards     []BoardConfig  `yaml:"boards" json:"boards"`
	MaxWorkers int            `yaml:"max_workers" json:"max_workers"`
	MaxRetries int            `yaml:"max_retries" json:"max_retries"`
	RetryDelay string         `yaml:"retry_delay" json:"retry_delay"`
	Timeout    string         `yaml:"timeout" json:"timeout"`
	RateLimit  float64        `yaml:"rate_limit" json:"rate_limit"` // requests per second per host
	UserAgent  string         `yaml:"user_agent" json:"user_agent"`
	Schedule   ScheduleConfig `yaml:"schedule" json:"schedule"`
}

// ScheduleConfig enables periodic ingestion runs inside serve mode.
// When disabled, ingestion happens only through `deptqa ingest`.
type ScheduleConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Interval string `yaml:"interval" json:"interval"`

	// Jitter spreads run starts so replicas sharing a board do not
	// hammer it in lockstep.
	Jitter string `yaml:"jitter" json:"jitter"`
}

// SearchConfig holds chunking and retrieval tuning.
type SearchConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`

	BM25K1 float64 `yaml:"bm25_k1" json:"bm25_k1"`
	BM25B  float64 `yaml:"bm25_b" json:"bm25_b"`

	// TopKDocuments is how many fused candidates enter reranking.
	TopKDocuments int `yaml:"top_k_documents" json:"top_k_documents"`

	// ClusterSimilarityThreshold groups near-duplicate candidates.
	ClusterSimilarityThreshold float64 `yaml:"cluster_similarity_threshold" json:"cluster_similarity_threshold"`

	// MinimumSimilarityScore is the pre-rerank relevance floor.
	MinimumSimilarityScore float64 `yaml:"minimum_similarity_score" json:"minimum_similarity_score"`

	// RecencyFlatBoost multiplies scores of posts newer than the
	// recency baseline; RecencyFloor is the lowest multiplier old
	// posts can decay to.
	RecencyFlatBoost float64 `yaml:"recency_flat_boost" json:"recency_flat_boost"`
	RecencyFloor     float64 `yaml:"recency_floor" json:"recency_floor"`
}

// CacheConfig configures cache blob lifetimes.
type CacheConfig struct {
	TTL string `yaml:"ttl" json:"ttl"`
}

// NewConfig returns the configuration defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			AllowedOrigins:  []string{"*"},
			LogLevel:        "info",
			RequestTimeout:  "120s", // answer generation can take a while
			ShutdownTimeout: "30s",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   defaultDatabasePath(),
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			UseTLS:     false,
			Collection: "dept-notices",
		},
		Embeddings: EmbeddingsConfig{
			Provider:     "openai",
			BaseURL:      "https://api.upstage.ai/v1",
			QueryModel:   "embedding-query",
			PassageModel: "embedding-passage",
			Dimensions:   4096,
			BatchSize:    64,
			CacheSize:    512,
			OllamaHost:   "http://localhost:11434",
		},
		Extraction: ExtractionConfig{
			Endpoint:            "https://api.upstage.ai/v1/document-digitization",
			Model:               "document-parse",
			OCR:                 "force",
			Timeout:             "60s",
			MaxZipSizeMB:        100,
			MaxTotalFiles:       50,
			MaxExtractionSizeMB: 500,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.upstage.ai/v1",
			Model:       "solar-pro",
			Temperature: 0,
			MaxTokens:   4096,
		},
		Rerank: RerankConfig{
			Provider: "bge",
			Endpoint: "http://localhost:8080",
			Model:    "BAAI/bge-reranker-v2-m3",
			UseFP16:  true,
		},
		Crawl: CrawlConfig{
			Boards:     nil, // must be configured per deployment
			MaxWorkers: 3,
			MaxRetries: 3,
			RetryDelay: "1s",
			Timeout:    "30s",
			RateLimit:  2,
			UserAgent:  "deptqa-crawler/1.0",
			Schedule: ScheduleConfig{
				Enabled:  false,
				Interval: "30m",
				Jitter:   "2m",
			},
		},
		Search: SearchConfig{
			ChunkSize:                  850,
			ChunkOverlap:               100,
			BM25K1:                     1.5,
			BM25B:                      0.75,
			TopKDocuments:              30,
			ClusterSimilarityThreshold: 0.89,
			MinimumSimilarityScore:     1.8,
			RecencyFlatBoost:           1.35,
			RecencyFloor:               0.88,
		},
		Cache: CacheConfig{
			TTL: "24h",
		},
	}
}

// defaultDatabasePath returns the default sqlite file location.
func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "deptqa", "deptqa.db")
	}
	return filepath.Join(home, ".deptqa", "deptqa.db")
}

// GetUserConfigPath returns the machine-level configuration path.
// Follows XDG: $XDG_CONFIG_HOME/deptqa/config.yaml, defaulting to
// ~/.config/deptqa/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "deptqa", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "deptqa", "config.yaml")
	}
	return filepath.Join(home, ".config", "deptqa", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user configuration if present.
// A missing file is not an error.
func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// Load assembles the configuration for a service rooted at dir, in order
// of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/deptqa/config.yaml)
//  3. Service config (deptqa.yaml or .deptqa.yaml in dir)
//  4. Environment variables (DEPTQA_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads configuration from an explicit file (the --config flag),
// layered over defaults and under environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromDir loads deptqa.yaml (or .deptqa.yaml) from dir when present.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{"deptqa.yaml", "deptqa.yml", ".deptqa.yaml", ".deptqa.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	// No config file is fine, defaults apply.
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Server
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if len(other.Server.AllowedOrigins) > 0 {
		c.Server.AllowedOrigins = other.Server.AllowedOrigins
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.RequestTimeout != "" {
		c.Server.RequestTimeout = other.Server.RequestTimeout
	}
	if other.Server.ShutdownTimeout != "" {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}

	// Database
	if other.Database.Driver != "" {
		c.Database.Driver = other.Database.Driver
	}
	if other.Database.Path != "" {
		c.Database.Path = other.Database.Path
	}
	if other.Database.DSN != "" {
		c.Database.DSN = other.Database.DSN
	}

	// Redis
	if other.Redis.Addr != "" {
		c.Redis.Addr = other.Redis.Addr
	}
	if other.Redis.DB != 0 {
		c.Redis.DB = other.Redis.DB
	}

	// Qdrant
	if other.Qdrant.Host != "" {
		c.Qdrant.Host = other.Qdrant.Host
	}
	if other.Qdrant.Port != 0 {
		c.Qdrant.Port = other.Qdrant.Port
	}
	if other.Qdrant.UseTLS {
		c.Qdrant.UseTLS = true
	}
	if other.Qdrant.Collection != "" {
		c.Qdrant.Collection = other.Qdrant.Collection
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.BaseURL != "" {
		c.Embeddings.BaseURL = other.Embeddings.BaseURL
	}
	if other.Embeddings.QueryModel != "" {
		c.Embeddings.QueryModel = other.Embeddings.QueryModel
	}
	if other.Embeddings.PassageModel != "" {
		c.Embeddings.PassageModel = other.Embeddings.PassageModel
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}

	// Extraction
	if other.Extraction.Endpoint != "" {
		c.Extraction.Endpoint = other.Extraction.Endpoint
	}
	if other.Extraction.Model != "" {
		c.Extraction.Model = other.Extraction.Model
	}
	if other.Extraction.OCR != "" {
		c.Extraction.OCR = other.Extraction.OCR
	}
	if other.Extraction.Timeout != "" {
		c.Extraction.Timeout = other.Extraction.Timeout
	}
	if other.Extraction.MaxZipSizeMB != 0 {
		c.Extraction.MaxZipSizeMB = other.Extraction.MaxZipSizeMB
	}
	if other.Extraction.MaxTotalFiles != 0 {
		c.Extraction.MaxTotalFiles = other.Extraction.MaxTotalFiles
	}
	if other.Extraction.MaxExtractionSizeMB != 0 {
		c.Extraction.MaxExtractionSizeMB = other.Extraction.MaxExtractionSizeMB
	}

	// LLM
	if other.LLM.BaseURL != "" {
		c.LLM.BaseURL = other.LLM.BaseURL
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Temperature != 0 {
		c.LLM.Temperature = other.LLM.Temperature
	}
	if other.LLM.MaxTokens != 0 {
		c.LLM.MaxTokens = other.LLM.MaxTokens
	}

	// Rerank
	if other.Rerank.Provider != "" {
		c.Rerank.Provider = other.Rerank.Provider
	}
	if other.Rerank.Endpoint != "" {
		c.Rerank.Endpoint = other.Rerank.Endpoint
	}
	if other.Rerank.Model != "" {
		c.Rerank.Model = other.Rerank.Model
	}
	if other.Rerank.Provider != "" {
		// use_fp16 defaults true; only meaningful when the provider
		// block was actually specified.
		c.Rerank.UseFP16 = other.Rerank.UseFP16
	}

	// Crawl
	if len(other.Crawl.Boards) > 0 {
		c.Crawl.Boards = other.Crawl.Boards
	}
	if other.Crawl.MaxWorkers != 0 {
		c.Crawl.MaxWorkers = other.Crawl.MaxWorkers
	}
	if other.Crawl.MaxRetries != 0 {
		c.Crawl.MaxRetries = other.Crawl.MaxRetries
	}
	if other.Crawl.RetryDelay != "" {
		c.Crawl.RetryDelay = other.Crawl.RetryDelay
	}
	if other.Crawl.Timeout != "" {
		c.Crawl.Timeout = other.Crawl.Timeout
	}
	if other.Crawl.RateLimit != 0 {
		c.Crawl.RateLimit = other.Crawl.RateLimit
	}
	if other.Crawl.UserAgent != "" {
		c.Crawl.UserAgent = other.Crawl.UserAgent
	}
	if other.Crawl.Schedule.Enabled {
		c.Crawl.Schedule.Enabled = true
	}
	if other.Crawl.Schedule.Interval != "" {
		c.Crawl.Schedule.Interval = other.Crawl.Schedule.Interval
	}
	if other.Crawl.Schedule.Jitter != "" {
		c.Crawl.Schedule.Jitter = other.Crawl.Schedule.Jitter
	}

	// Search
	if other.Search.ChunkSize != 0 {
		c.Search.ChunkSize = other.Search.ChunkSize
	}
	if other.Search.ChunkOverlap != 0 {
		c.Search.ChunkOverlap = other.Search.ChunkOverlap
	}
	if other.Search.BM25K1 != 0 {
		c.Search.BM25K1 = other.Search.BM25K1
	}
	if other.Search.BM25B != 0 {
		c.Search.BM25B = other.Search.BM25B
	}
	if other.Search.TopKDocuments != 0 {
		c.Search.TopKDocuments = other.Search.TopKDocuments
	}
	if other.Search.ClusterSimilarityThreshold != 0 {
		c.Search.ClusterSimilarityThreshold = other.Search.ClusterSimilarityThreshold
	}
	if other.Search.MinimumSimilarityScore != 0 {
		c.Search.MinimumSimilarityScore = other.Search.MinimumSimilarityScore
	}
	if other.Search.RecencyFlatBoost != 0 {
		c.Search.RecencyFlatBoost = other.Search.RecencyFlatBoost
	}
	if other.Search.RecencyFloor != 0 {
		c.Search.RecencyFloor = other.Search.RecencyFloor
	}

	// Cache
	if other.Cache.TTL != "" {
		c.Cache.TTL = other.Cache.TTL
	}
}

// applyEnvOverrides applies DEPTQA_* environment variable overrides.
// DEPTQA_API_KEY is a convenience for deployments where extraction,
// embeddings, and the LLM share one vendor account; the specific
// variables win over it.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DEPTQA_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("DEPTQA_SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("DEPTQA_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}

	if v := os.Getenv("DEPTQA_DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DEPTQA_DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("DEPTQA_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("DEPTQA_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("DEPTQA_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil && db >= 0 {
			c.Redis.DB = db
		}
	}
	c.Redis.Password = os.Getenv("DEPTQA_REDIS_PASSWORD")

	if v := os.Getenv("DEPTQA_QDRANT_HOST"); v != "" {
		c.Qdrant.Host = v
	}
	if v := os.Getenv("DEPTQA_QDRANT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Qdrant.Port = p
		}
	}
	if v := os.Getenv("DEPTQA_QDRANT_COLLECTION"); v != "" {
		c.Qdrant.Collection = v
	}
	c.Qdrant.APIKey = os.Getenv("DEPTQA_QDRANT_API_KEY")

	if v := os.Getenv("DEPTQA_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DEPTQA_EMBEDDINGS_BASE_URL"); v != "" {
		c.Embeddings.BaseURL = v
	}
	if v := os.Getenv("DEPTQA_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}

	if v := os.Getenv("DEPTQA_EXTRACTION_ENDPOINT"); v != "" {
		c.Extraction.Endpoint = v
	}

	if v := os.Getenv("DEPTQA_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("DEPTQA_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}

	if v := os.Getenv("DEPTQA_RERANK_PROVIDER"); v != "" {
		c.Rerank.Provider = v
	}
	if v := os.Getenv("DEPTQA_RERANK_ENDPOINT"); v != "" {
		c.Rerank.Endpoint = v
	}

	shared := os.Getenv("DEPTQA_API_KEY")
	c.Extraction.APIKey = firstNonEmpty(os.Getenv("DEPTQA_EXTRACTION_API_KEY"), shared)
	c.Embeddings.APIKey = firstNonEmpty(os.Getenv("DEPTQA_EMBEDDINGS_API_KEY"), shared)
	c.LLM.APIKey = firstNonEmpty(os.Getenv("DEPTQA_LLM_API_KEY"), shared)
	c.Rerank.APIKey = os.Getenv("DEPTQA_RERANK_API_KEY")
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Validate checks configuration shape. Secret presence is checked
// separately per process role (RequireServeSecrets/RequireIngestSecrets)
// so that offline commands work without keys.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if _, err := parseDuration(c.Server.RequestTimeout); err != nil {
		return fmt.Errorf("server.request_timeout: %w", err)
	}
	if _, err := parseDuration(c.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("server.shutdown_timeout: %w", err)
	}

	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be 'sqlite' or 'postgres', got %s", c.Database.Driver)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "openai", "ollama":
	default:
		return fmt.Errorf("embeddings.provider must be 'openai' or 'ollama', got %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	if _, err := parseDuration(c.Extraction.Timeout); err != nil {
		return fmt.Errorf("extraction.timeout: %w", err)
	}
	if c.Extraction.MaxZipSizeMB <= 0 {
		return fmt.Errorf("extraction.max_zip_size_mb must be positive, got %d", c.Extraction.MaxZipSizeMB)
	}
	if c.Extraction.MaxTotalFiles <= 0 {
		return fmt.Errorf("extraction.max_total_files must be positive, got %d", c.Extraction.MaxTotalFiles)
	}
	if c.Extraction.MaxExtractionSizeMB <= 0 {
		return fmt.Errorf("extraction.max_extraction_size_mb must be positive, got %d", c.Extraction.MaxExtractionSizeMB)
	}

	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %f", c.LLM.Temperature)
	}

	switch strings.ToLower(c.Rerank.Provider) {
	case "bge", "cohere", "none":
	default:
		return fmt.Errorf("rerank.provider must be 'bge', 'cohere', or 'none', got %s", c.Rerank.Provider)
	}

	for i, b := range c.Crawl.Boards {
		if !b.Type.IsKnown() {
			return fmt.Errorf("crawl.boards[%d]: unknown board type %q (known: %v)", i, b.Type, KnownBoardTypes)
		}
		if b.URL == "" {
			return fmt.Errorf("crawl.boards[%d] (%s): url is required", i, b.Type)
		}
		if b.FloorID < 0 {
			return fmt.Errorf("crawl.boards[%d] (%s): floor_id must be non-negative, got %d", i, b.Type, b.FloorID)
		}
	}
	if c.Crawl.MaxWorkers < 1 {
		return fmt.Errorf("crawl.max_workers must be at least 1, got %d", c.Crawl.MaxWorkers)
	}
	if c.Crawl.MaxRetries < 0 {
		return fmt.Errorf("crawl.max_retries must be non-negative, got %d", c.Crawl.MaxRetries)
	}
	if _, err := parseDuration(c.Crawl.RetryDelay); err != nil {
		return fmt.Errorf("crawl.retry_delay: %w", err)
	}
	if _, err := parseDuration(c.Crawl.Timeout); err != nil {
		return fmt.Errorf("crawl.timeout: %w", err)
	}
	if c.Crawl.RateLimit <= 0 {
		return fmt.Errorf("crawl.rate_limit must be positive, got %f", c.Crawl.RateLimit)
	}
	if _, err := parseDuration(c.Crawl.Schedule.Interval); err != nil {
		return fmt.Errorf("crawl.schedule.interval: %w", err)
	}
	if c.Crawl.Schedule.Jitter != "" {
		if _, err := parseDuration(c.Crawl.Schedule.Jitter); err != nil {
			return fmt.Errorf("crawl.schedule.jitter: %w", err)
		}
	}

	if c.Search.ChunkSize <= 0 {
		return fmt.Errorf("search.chunk_size must be positive, got %d", c.Search.ChunkSize)
	}
	if c.Search.ChunkOverlap < 0 || c.Search.ChunkOverlap >= c.Search.ChunkSize {
		return fmt.Errorf("search.chunk_overlap must be in [0, chunk_size), got %d", c.Search.ChunkOverlap)
	}
	if c.Search.BM25K1 <= 0 {
		return fmt.Errorf("search.bm25_k1 must be positive, got %f", c.Search.BM25K1)
	}
	if c.Search.BM25B < 0 || c.Search.BM25B > 1 {
		return fmt.Errorf("search.bm25_b must be between 0 and 1, got %f", c.Search.BM25B)
	}
	if c.Search.TopKDocuments <= 0 {
		return fmt.Errorf("search.top_k_documents must be positive, got %d", c.Search.TopKDocuments)
	}
	if c.Search.ClusterSimilarityThreshold <= 0 || c.Search.ClusterSimilarityThreshold > 1 {
		return fmt.Errorf("search.cluster_similarity_threshold must be in (0, 1], got %f", c.Search.ClusterSimilarityThreshold)
	}
	if c.Search.MinimumSimilarityScore < 0 {
		return fmt.Errorf("search.minimum_similarity_score must be non-negative, got %f", c.Search.MinimumSimilarityScore)
	}
	if c.Search.RecencyFlatBoost < 1 {
		return fmt.Errorf("search.recency_flat_boost must be at least 1, got %f", c.Search.RecencyFlatBoost)
	}
	if c.Search.RecencyFloor <= 0 || c.Search.RecencyFloor > 1 {
		return fmt.Errorf("search.recency_floor must be in (0, 1], got %f", c.Search.RecencyFloor)
	}

	if _, err := parseDuration(c.Cache.TTL); err != nil {
		return fmt.Errorf("cache.ttl: %w", err)
	}

	return nil
}

// RequireServeSecrets checks the API keys the answer server needs.
func (c *Config) RequireServeSecrets() error {
	var missing []string
	if strings.ToLower(c.Embeddings.Provider) == "openai" && c.Embeddings.APIKey == "" {
		missing = append(missing, "DEPTQA_EMBEDDINGS_API_KEY")
	}
	if c.LLM.APIKey == "" {
		missing = append(missing, "DEPTQA_LLM_API_KEY")
	}
	if strings.ToLower(c.Rerank.Provider) == "cohere" && c.Rerank.APIKey == "" {
		missing = append(missing, "DEPTQA_RERANK_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing API keys: set %s (or DEPTQA_API_KEY)", strings.Join(missing, ", "))
	}
	return nil
}

// RequireIngestSecrets checks the API keys an ingest run needs.
func (c *Config) RequireIngestSecrets() error {
	var missing []string
	if c.Extraction.APIKey == "" {
		missing = append(missing, "DEPTQA_EXTRACTION_API_KEY")
	}
	if strings.ToLower(c.Embeddings.Provider) == "openai" && c.Embeddings.APIKey == "" {
		missing = append(missing, "DEPTQA_EMBEDDINGS_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing API keys: set %s (or DEPTQA_API_KEY)", strings.Join(missing, ", "))
	}
	return nil
}

// Board returns the configuration for a board type.
func (c *CrawlConfig) Board(t BoardType) (BoardConfig, bool) {
	for _, b := range c.Boards {
		if b.Type == t {
			return b, true
		}
	}
	return BoardConfig{}, false
}

// Addr returns the host:port the answer server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Duration accessors. Validate has already checked the strings parse, so
// these fall back to the default only for a zero-value Config.

// RequestTimeout returns the per-request budget of the answer server.
func (c *Config) RequestTimeout() time.Duration {
	return durationOr(c.Server.RequestTimeout, 120*time.Second)
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return durationOr(c.Server.ShutdownTimeout, 30*time.Second)
}

// CrawlTimeout returns the per-HTTP-call timeout for crawlers.
func (c *Config) CrawlTimeout() time.Duration {
	return durationOr(c.Crawl.Timeout, 30*time.Second)
}

// CrawlRetryDelay returns the base backoff delay between crawl retries.
func (c *Config) CrawlRetryDelay() time.Duration {
	return durationOr(c.Crawl.RetryDelay, time.Second)
}

// ScheduleInterval returns the gap between scheduled ingestion runs.
func (c *Config) ScheduleInterval() time.Duration {
	return durationOr(c.Crawl.Schedule.Interval, 30*time.Minute)
}

// ScheduleJitter returns the random spread added to each gap. Empty
// means no jitter.
func (c *Config) ScheduleJitter() time.Duration {
	if strings.TrimSpace(c.Crawl.Schedule.Jitter) == "" {
		return 0
	}
	return durationOr(c.Crawl.Schedule.Jitter, 0)
}

// ExtractionTimeout returns the OCR/parse API call timeout.
func (c *Config) ExtractionTimeout() time.Duration {
	return durationOr(c.Extraction.Timeout, 60*time.Second)
}

// CacheTTL returns the lifetime of cache blobs.
func (c *Config) CacheTTL() time.Duration {
	return durationOr(c.Cache.TTL, 24*time.Hour)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := parseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// MergeNewDefaults adds fields introduced after the config file was
// written, preserving existing values. Returns the added field names.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Search.RecencyFlatBoost == 0 {
		c.Search.RecencyFlatBoost = defaults.Search.RecencyFlatBoost
		added = append(added, "search.recency_flat_boost")
	}
	if c.Search.RecencyFloor == 0 {
		c.Search.RecencyFloor = defaults.Search.RecencyFloor
		added = append(added, "search.recency_floor")
	}
	if c.Embeddings.CacheSize == 0 {
		c.Embeddings.CacheSize = defaults.Embeddings.CacheSize
		added = append(added, "embeddings.cache_size")
	}
	if c.Rerank.Provider == "" {
		c.Rerank.Provider = defaults.Rerank.Provider
		added = append(added, "rerank.provider")
	}
	if c.Cache.TTL == "" {
		c.Cache.TTL = defaults.Cache.TTL
		added = append(added, "cache.ttl")
	}

	return added
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
