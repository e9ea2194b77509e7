// Package config loads and validates regcopilot configuration.
//
// Configuration is applied in order of increasing precedence: hardcoded
// defaults, the user config (~/.config/regcopilot/config.yaml), a project
// config (.regcopilot.yaml in the working directory or an explicit --config
// path), and finally environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete regcopilot configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	OpenAI    OpenAIConfig    `yaml:"openai" json:"openai"`
	Chunking  ChunkingConfig  `yaml:"chunking" json:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Corpus    CorpusConfig    `yaml:"corpus" json:"corpus"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Host is the listen address (default: all interfaces).
	Host string `yaml:"host" json:"host"`
	// Port is the listen port. The PORT environment variable overrides it.
	Port int `yaml:"port" json:"port"`
	// CORSOrigins lists allowed origins. ["*"] allows any origin.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
	// ReadTimeout bounds request reads (e.g. "30s").
	ReadTimeout string `yaml:"read_timeout" json:"read_timeout"`
	// ShutdownTimeout bounds graceful shutdown (e.g. "10s").
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// MaxUploadMB caps multipart upload size in megabytes.
	MaxUploadMB int `yaml:"max_upload_mb" json:"max_upload_mb"`
}

// OpenAIConfig configures the upstream model service.
type OpenAIConfig struct {
	// APIKey is the server-side fallback key. Set via OPENAI_API_KEY;
	// never written to config files.
	APIKey string `yaml:"-" json:"-"`
	// BaseURL is the API root (default: https://api.openai.com).
	BaseURL string `yaml:"base_url" json:"base_url"`
	// ChatModel is the completion model (default: gpt-4o-mini).
	ChatModel string `yaml:"chat_model" json:"chat_model"`
	// EmbeddingModel is the embedding model (default: text-embedding-3-small).
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`
	// EmbeddingDimensions is the expected vector width (default: 1536).
	EmbeddingDimensions int `yaml:"embedding_dimensions" json:"embedding_dimensions"`
	// RequestTimeout bounds a single upstream call (e.g. "60s").
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`
	// MaxRetries is the retry count for transient upstream failures.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// BatchSize is the maximum texts per embeddings request.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// MaxConcurrency bounds parallel embedding batches.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
	// CacheSize is the query-embedding LRU capacity (0 disables).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ChunkingConfig configures the text splitter.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
}

// RetrievalConfig configures search and regulatory re-ranking.
// The weights combine as final = cosine_weight*cosine + regulatory_weight*reg,
// and must sum to 1.0.
type RetrievalConfig struct {
	// TopK is the default number of chunks retrieved per query.
	TopK int `yaml:"top_k" json:"top_k"`
	// OverFetch is the candidate multiplier before regulatory re-ranking.
	OverFetch int `yaml:"over_fetch" json:"over_fetch"`
	// CosineWeight is the similarity share of the combined score (0.0-1.0).
	CosineWeight float64 `yaml:"cosine_weight" json:"cosine_weight"`
	// RegulatoryWeight is the domain-score share of the combined score (0.0-1.0).
	RegulatoryWeight float64 `yaml:"regulatory_weight" json:"regulatory_weight"`
	// PriorityBoost multiplies cosine for priority_sources matches (>= 1).
	PriorityBoost float64 `yaml:"priority_boost" json:"priority_boost"`
}

// CorpusConfig configures the preloaded corpus and ingestion directories.
type CorpusConfig struct {
	// SnapshotPath points at a preprocessed snapshot JSON.
	// Empty uses the embedded default snapshot.
	SnapshotPath string `yaml:"snapshot_path" json:"snapshot_path"`
	// UploadsDir persists accepted uploads on disk. Empty disables.
	UploadsDir string `yaml:"uploads_dir" json:"uploads_dir"`
	// WatchDir is auto-ingested on file changes. Empty disables.
	WatchDir string `yaml:"watch_dir" json:"watch_dir"`
	// WatchDebounce coalesces file events (e.g. "200ms").
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// Format is "json", "text", or "auto".
	Format string `yaml:"format" json:"format"`
	// File is the log file path. Empty means stderr only.
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			CORSOrigins:     []string{"*"},
			ReadTimeout:     "30s",
			ShutdownTimeout: "10s",
			MaxUploadMB:     32,
		},
		OpenAI: OpenAIConfig{
			BaseURL:             "https://api.openai.com",
			ChatModel:           "gpt-4o-mini",
			EmbeddingModel:      "text-embedding-3-small",
			EmbeddingDimensions: 1536,
			RequestTimeout:      "60s",
			MaxRetries:          2,
			BatchSize:           1024,
			MaxConcurrency:      8,
			CacheSize:           512,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    800,
			ChunkOverlap: 50,
		},
		Retrieval: RetrievalConfig{
			TopK:             4,
			OverFetch:        2,
			CosineWeight:     0.7,
			RegulatoryWeight: 0.3,
			PriorityBoost:    1.5,
		},
		Corpus: CorpusConfig{
			SnapshotPath:  "",
			UploadsDir:    "",
			WatchDir:      "",
			WatchDebounce: "200ms",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "auto",
			File:      "",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/regcopilot/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/regcopilot/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "regcopilot", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "regcopilot", "config.yaml")
	}
	return filepath.Join(home, ".config", "regcopilot", "config.yaml")
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration with the working directory as the project root.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/regcopilot/config.yaml)
//  3. Project config (.regcopilot.yaml in dir)
//  4. Environment variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
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

// LoadFile loads configuration from an explicit file path, then applies
// environment overrides and validates. The file must exist.
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

// loadFromDir attempts to load .regcopilot.yaml or .regcopilot.yml from dir.
func (c *Config) loadFromDir(dir string) error {
	// Try .yaml first (takes precedence)
	yamlPath := filepath.Join(dir, ".regcopilot.yaml")
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}

	// Try .yml as fallback
	ymlPath := filepath.Join(dir, ".regcopilot.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Parse into a scratch struct so type errors surface before merging.
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	// Server
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if len(other.Server.CORSOrigins) > 0 {
		c.Server.CORSOrigins = other.Server.CORSOrigins
	}
	if other.Server.ReadTimeout != "" {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.ShutdownTimeout != "" {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}
	if other.Server.MaxUploadMB != 0 {
		c.Server.MaxUploadMB = other.Server.MaxUploadMB
	}

	// OpenAI
	if other.OpenAI.BaseURL != "" {
		c.OpenAI.BaseURL = other.OpenAI.BaseURL
	}
	if other.OpenAI.ChatModel != "" {
		c.OpenAI.ChatModel = other.OpenAI.ChatModel
	}
	if other.OpenAI.EmbeddingModel != "" {
		c.OpenAI.EmbeddingModel = other.OpenAI.EmbeddingModel
	}
	if other.OpenAI.EmbeddingDimensions != 0 {
		c.OpenAI.EmbeddingDimensions = other.OpenAI.EmbeddingDimensions
	}
	if other.OpenAI.RequestTimeout != "" {
		c.OpenAI.RequestTimeout = other.OpenAI.RequestTimeout
	}
	if other.OpenAI.MaxRetries != 0 {
		c.OpenAI.MaxRetries = other.OpenAI.MaxRetries
	}
	if other.OpenAI.BatchSize != 0 {
		c.OpenAI.BatchSize = other.OpenAI.BatchSize
	}
	if other.OpenAI.MaxConcurrency != 0 {
		c.OpenAI.MaxConcurrency = other.OpenAI.MaxConcurrency
	}
	if other.OpenAI.CacheSize != 0 {
		c.OpenAI.CacheSize = other.OpenAI.CacheSize
	}

	// Chunking
	if other.Chunking.ChunkSize != 0 {
		c.Chunking.ChunkSize = other.Chunking.ChunkSize
	}
	if other.Chunking.ChunkOverlap != 0 {
		c.Chunking.ChunkOverlap = other.Chunking.ChunkOverlap
	}

	// Retrieval weights
	// Note: 0 is not a practical value for weights, so only non-zero merges.
	if other.Retrieval.TopK != 0 {
		c.Retrieval.TopK = other.Retrieval.TopK
	}
	if other.Retrieval.OverFetch != 0 {
		c.Retrieval.OverFetch = other.Retrieval.OverFetch
	}
	if other.Retrieval.CosineWeight != 0 {
		c.Retrieval.CosineWeight = other.Retrieval.CosineWeight
	}
	if other.Retrieval.RegulatoryWeight != 0 {
		c.Retrieval.RegulatoryWeight = other.Retrieval.RegulatoryWeight
	}
	if other.Retrieval.PriorityBoost != 0 {
		c.Retrieval.PriorityBoost = other.Retrieval.PriorityBoost
	}

	// Corpus
	if other.Corpus.SnapshotPath != "" {
		c.Corpus.SnapshotPath = other.Corpus.SnapshotPath
	}
	if other.Corpus.UploadsDir != "" {
		c.Corpus.UploadsDir = other.Corpus.UploadsDir
	}
	if other.Corpus.WatchDir != "" {
		c.Corpus.WatchDir = other.Corpus.WatchDir
	}
	if other.Corpus.WatchDebounce != "" {
		c.Corpus.WatchDebounce = other.Corpus.WatchDebounce
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.Format != "" {
		c.Logging.Format = other.Logging.Format
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies environment variable overrides.
// OPENAI_API_KEY and PORT are the conventional deploy-time knobs; the
// REGCOPILOT_* family covers the rest.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.OpenAI.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			c.Server.Port = p
		}
	}

	if v := os.Getenv("REGCOPILOT_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("REGCOPILOT_CHAT_MODEL"); v != "" {
		c.OpenAI.ChatModel = v
	}
	if v := os.Getenv("REGCOPILOT_EMBEDDING_MODEL"); v != "" {
		c.OpenAI.EmbeddingModel = v
	}
	if v := os.Getenv("REGCOPILOT_SNAPSHOT"); v != "" {
		c.Corpus.SnapshotPath = v
	}
	if v := os.Getenv("REGCOPILOT_UPLOADS_DIR"); v != "" {
		c.Corpus.UploadsDir = v
	}
	if v := os.Getenv("REGCOPILOT_WATCH_DIR"); v != "" {
		c.Corpus.WatchDir = v
	}
	if v := os.Getenv("REGCOPILOT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("REGCOPILOT_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}

	// Retrieval weights (explicit zero is meaningful here, hence env-only)
	if v := os.Getenv("REGCOPILOT_COSINE_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.CosineWeight = w
		}
	}
	if v := os.Getenv("REGCOPILOT_REGULATORY_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Retrieval.RegulatoryWeight = w
		}
	}
	if v := os.Getenv("REGCOPILOT_PRIORITY_BOOST"); v != "" {
		if b, err := parseFloat64(v); err == nil && b >= 1 {
			c.Retrieval.PriorityBoost = b
		}
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if _, err := time.ParseDuration(c.Server.ReadTimeout); err != nil {
		return fmt.Errorf("server.read_timeout is not a duration: %q", c.Server.ReadTimeout)
	}
	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("server.shutdown_timeout is not a duration: %q", c.Server.ShutdownTimeout)
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}

	if c.OpenAI.BaseURL == "" {
		return fmt.Errorf("openai.base_url must not be empty")
	}
	if c.OpenAI.EmbeddingDimensions < 1 {
		return fmt.Errorf("openai.embedding_dimensions must be positive, got %d", c.OpenAI.EmbeddingDimensions)
	}
	if _, err := time.ParseDuration(c.OpenAI.RequestTimeout); err != nil {
		return fmt.Errorf("openai.request_timeout is not a duration: %q", c.OpenAI.RequestTimeout)
	}
	if c.OpenAI.MaxRetries < 0 {
		return fmt.Errorf("openai.max_retries must be non-negative, got %d", c.OpenAI.MaxRetries)
	}
	if c.OpenAI.BatchSize < 1 {
		return fmt.Errorf("openai.batch_size must be positive, got %d", c.OpenAI.BatchSize)
	}
	if c.OpenAI.MaxConcurrency < 1 {
		return fmt.Errorf("openai.max_concurrency must be positive, got %d", c.OpenAI.MaxConcurrency)
	}
	if c.OpenAI.CacheSize < 0 {
		return fmt.Errorf("openai.cache_size must be non-negative, got %d", c.OpenAI.CacheSize)
	}

	if c.Chunking.ChunkSize < 1 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 {
		return fmt.Errorf("chunking.chunk_overlap must be non-negative, got %d", c.Chunking.ChunkOverlap)
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}

	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.OverFetch < 1 {
		return fmt.Errorf("retrieval.over_fetch must be at least 1, got %d", c.Retrieval.OverFetch)
	}
	if c.Retrieval.CosineWeight < 0 || c.Retrieval.CosineWeight > 1 {
		return fmt.Errorf("retrieval.cosine_weight must be between 0 and 1, got %f", c.Retrieval.CosineWeight)
	}
	if c.Retrieval.RegulatoryWeight < 0 || c.Retrieval.RegulatoryWeight > 1 {
		return fmt.Errorf("retrieval.regulatory_weight must be between 0 and 1, got %f", c.Retrieval.RegulatoryWeight)
	}
	sum := c.Retrieval.CosineWeight + c.Retrieval.RegulatoryWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("retrieval.cosine_weight + retrieval.regulatory_weight must equal 1.0, got %.2f", sum)
	}
	if c.Retrieval.PriorityBoost < 1 {
		return fmt.Errorf("retrieval.priority_boost must be at least 1, got %f", c.Retrieval.PriorityBoost)
	}

	if c.Corpus.WatchDebounce != "" {
		if _, err := time.ParseDuration(c.Corpus.WatchDebounce); err != nil {
			return fmt.Errorf("corpus.watch_debounce is not a duration: %q", c.Corpus.WatchDebounce)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"auto": true, "json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("logging.format must be 'auto', 'json', or 'text', got %s", c.Logging.Format)
	}

	return nil
}

// ReadTimeoutDuration returns the parsed server read timeout.
func (c *Config) ReadTimeoutDuration() time.Duration {
	return parseDurationOr(c.Server.ReadTimeout, 30*time.Second)
}

// ShutdownTimeoutDuration returns the parsed graceful-shutdown timeout.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	return parseDurationOr(c.Server.ShutdownTimeout, 10*time.Second)
}

// RequestTimeoutDuration returns the parsed upstream request timeout.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(c.OpenAI.RequestTimeout, 60*time.Second)
}

// WatchDebounceDuration returns the parsed watcher debounce window.
func (c *Config) WatchDebounceDuration() time.Duration {
	return parseDurationOr(c.Corpus.WatchDebounce, 200*time.Millisecond)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
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

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
