// Package config loads server configuration from a YAML file with
// DOCCHAT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Answer    AnswerConfig    `yaml:"answer"`
	Index     IndexConfig     `yaml:"index"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// MaxConns caps concurrent client connections on the listener.
	MaxConns int `yaml:"max_conns"`
}

type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url"`
	// Dimension is the vector length D produced by the embedding model. A
	// model change that alters D invalidates the existing collection.
	Dimension         int     `yaml:"dimension"`
	BatchSize         int     `yaml:"batch_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
}

type AnswerConfig struct {
	BaseURL     string `yaml:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type IndexConfig struct {
	// Backend selects the vector store: "sqlite" (embedded) or "qdrant".
	Backend    string       `yaml:"backend"`
	Collection string       `yaml:"collection"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
}

type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type IngestConfig struct {
	ChunkSize int    `yaml:"chunk_size"`
	UploadDir string `yaml:"upload_dir"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
	// MinScore drops search hits scoring below it; 0 disables the cutoff.
	MinScore float64 `yaml:"min_score"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:     8080,
			MaxConns: 256,
		},
		Embedding: EmbeddingConfig{
			BaseURL:           "http://127.0.0.1:8000",
			Dimension:         768,
			BatchSize:         32,
			RequestsPerSecond: 0,
			TimeoutSecs:       30,
		},
		Answer: AnswerConfig{
			BaseURL:     "http://127.0.0.1:8000",
			TimeoutSecs: 60,
		},
		Index: IndexConfig{
			Backend:    "sqlite",
			Collection: "doc_chunks",
			Qdrant: QdrantConfig{
				URL:         "http://127.0.0.1:6333",
				TimeoutSecs: 15,
			},
		},
		Ingest: IngestConfig{
			ChunkSize: 500,
			UploadDir: filepath.Join(dataDir, "uploads"),
		},
		Retrieval: RetrievalConfig{
			TopK:     5,
			MinScore: 0,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docchat"
	}
	return filepath.Join(home, ".docchat")
}

// Load reads configuration from path (or ./docchat.yaml when path is empty),
// falling back to defaults when no file exists, then applies DOCCHAT_*
// environment overrides. A .env file in the working directory is loaded
// best-effort first.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	explicit := path != ""
	if path == "" {
		path = "docchat.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No config file; defaults plus env are enough.
	default:
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setInt("DOCCHAT_PORT", &cfg.Server.Port)
	setString("DOCCHAT_EMBEDDING_URL", &cfg.Embedding.BaseURL)
	setInt("DOCCHAT_EMBEDDING_DIMENSION", &cfg.Embedding.Dimension)
	setString("DOCCHAT_ANSWER_URL", &cfg.Answer.BaseURL)
	setString("DOCCHAT_INDEX_BACKEND", &cfg.Index.Backend)
	setString("DOCCHAT_COLLECTION", &cfg.Index.Collection)
	setString("DOCCHAT_QDRANT_URL", &cfg.Index.Qdrant.URL)
	setString("DOCCHAT_QDRANT_API_KEY", &cfg.Index.Qdrant.APIKey)
	setInt("DOCCHAT_CHUNK_SIZE", &cfg.Ingest.ChunkSize)
	setString("DOCCHAT_UPLOAD_DIR", &cfg.Ingest.UploadDir)
	setInt("DOCCHAT_TOP_K", &cfg.Retrieval.TopK)
	setFloat("DOCCHAT_MIN_SCORE", &cfg.Retrieval.MinScore)
	setString("DOCCHAT_DATA_DIR", &cfg.Storage.DataDir)
	setString("DOCCHAT_LOG_LEVEL", &cfg.Log.Level)
}

func validate(cfg Config) error {
	if cfg.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", cfg.Ingest.ChunkSize)
	}
	if cfg.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", cfg.Retrieval.TopK)
	}
	switch cfg.Index.Backend {
	case "sqlite", "qdrant":
	default:
		return fmt.Errorf("index.backend must be \"sqlite\" or \"qdrant\", got %q", cfg.Index.Backend)
	}
	return nil
}
