package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DocumentConfig points at the single source document.
type DocumentConfig struct {
	Path string `yaml:"path"`
}

// ChunkerConfig configures how the document is split into word windows.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// CacheConfig sizes the query embedding cache. A negative size disables it.
type CacheConfig struct {
	Size    int `yaml:"size"`
	TTLSecs int `yaml:"ttl_secs"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// EmbedderConfig selects and configures the embedding model.
type EmbedderConfig struct {
	Type        string      `yaml:"type"`
	Model       string      `yaml:"model"`
	Dimension   int         `yaml:"dimension"`
	BaseURL     string      `yaml:"base_url"`
	APIKeyEnv   string      `yaml:"api_key_env"`
	TimeoutSecs int         `yaml:"timeout_secs"`
	BatchSize   int         `yaml:"batch_size"`
	Cache       CacheConfig `yaml:"cache"`
}

// IndexConfig locates the persisted vector index.
type IndexConfig struct {
	Dir string `yaml:"dir"`
}

// RetrievalConfig controls query-time ranking.
type RetrievalConfig struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

// GeneratorConfig selects and configures the answer generator.
type GeneratorConfig struct {
	Type         string  `yaml:"type"`
	Model        string  `yaml:"model"`
	BaseURL      string  `yaml:"base_url"`
	APIKeyEnv    string  `yaml:"api_key_env"`
	Temperature  float32 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`
	TimeoutSecs  int     `yaml:"timeout_secs"`
	MaxSentences int     `yaml:"max_sentences"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	Console    bool   `yaml:"console"`
	FileCount  int    `yaml:"file_count"`
	FileSizeMB int    `yaml:"file_size_mb"`
	KeepDays   int    `yaml:"keep_days"`
}

// MCPConfig configures the MCP server. An empty Addr serves over stdio.
type MCPConfig struct {
	Addr string `yaml:"addr"`
}

// WatchConfig configures rebuild-on-change.
type WatchConfig struct {
	DebounceMs int `yaml:"debounce_ms"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Document  DocumentConfig  `yaml:"document"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Index     IndexConfig     `yaml:"index"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Generator GeneratorConfig `yaml:"generator"`
	Log       LogConfig       `yaml:"log"`
	MCP       MCPConfig       `yaml:"mcp"`
	Watch     WatchConfig     `yaml:"watch"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/bookrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/bookrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects settings the retrieval core cannot run with.
func (c *AppConfig) Validate() error {
	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("chunker.chunk_size must be positive")
	}
	if c.Chunker.ChunkOverlap < 0 {
		return fmt.Errorf("chunker.chunk_overlap must not be negative")
	}
	if c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("chunker.chunk_overlap (%d) must be smaller than chunker.chunk_size (%d)", c.Chunker.ChunkOverlap, c.Chunker.ChunkSize)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive")
	}
	if c.Retrieval.MinScore < -1 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be within [-1, 1]")
	}
	if c.Index.Dir == "" {
		return fmt.Errorf("index.dir is required")
	}
	if c.Document.Path == "" {
		return fmt.Errorf("document.path is required")
	}
	switch c.Embedder.Type {
	case "hashing":
		if c.Embedder.Dimension <= 0 {
			return fmt.Errorf("embedder.dimension must be positive for the hashing embedder")
		}
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown embedder: %s", c.Embedder.Type)
	}
	switch c.Generator.Type {
	case "extractive", "openai", "gemini":
	default:
		return fmt.Errorf("unknown generator: %s", c.Generator.Type)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bookrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Document:  DocumentConfig{Path: filepath.Join("data", "book.pdf")},
		Chunker:   ChunkerConfig{ChunkSize: 1000, ChunkOverlap: 200},
		Embedder:  EmbedderConfig{Type: "hashing"},
		Index:     IndexConfig{Dir: filepath.Join("data", "faiss_indexes")},
		Retrieval: RetrievalConfig{TopK: 5},
		Generator: GeneratorConfig{Type: "extractive"},
		Log:       LogConfig{Level: "info", Console: true},
		Watch:     WatchConfig{DebounceMs: 500},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = 30
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Embedder.Cache.Size == 0 {
		cfg.Embedder.Cache.Size = 1024
	}
	if cfg.Embedder.Cache.TTLSecs == 0 {
		cfg.Embedder.Cache.TTLSecs = 3600
	}
	switch cfg.Embedder.Type {
	case "hashing":
		if cfg.Embedder.Dimension == 0 {
			cfg.Embedder.Dimension = 384
		}
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = fmt.Sprintf("hashing-%d", cfg.Embedder.Dimension)
		}
	case "openai":
		if cfg.Embedder.BaseURL == "" {
			cfg.Embedder.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.APIKeyEnv == "" {
			cfg.Embedder.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = "text-embedding-3-small"
		}
	case "gemini":
		if cfg.Embedder.APIKeyEnv == "" {
			cfg.Embedder.APIKeyEnv = "GEMINI_API_KEY"
		}
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = "text-embedding-004"
		}
	}

	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "extractive"
	}
	if cfg.Generator.TimeoutSecs == 0 {
		cfg.Generator.TimeoutSecs = 60
	}
	if cfg.Generator.MaxSentences == 0 {
		cfg.Generator.MaxSentences = 5
	}
	switch cfg.Generator.Type {
	case "openai":
		if cfg.Generator.BaseURL == "" {
			cfg.Generator.BaseURL = "https://api.groq.com/openai/v1"
		}
		if cfg.Generator.APIKeyEnv == "" {
			cfg.Generator.APIKeyEnv = "GROQ_API_KEY"
		}
		if cfg.Generator.Model == "" {
			cfg.Generator.Model = "mixtral-8x7b-32768"
		}
		if cfg.Generator.Temperature == 0 {
			cfg.Generator.Temperature = 0.7
		}
		if cfg.Generator.MaxTokens == 0 {
			cfg.Generator.MaxTokens = 1024
		}
	case "gemini":
		if cfg.Generator.APIKeyEnv == "" {
			cfg.Generator.APIKeyEnv = "GEMINI_API_KEY"
		}
		if cfg.Generator.Model == "" {
			cfg.Generator.Model = "gemini-2.0-flash"
		}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
