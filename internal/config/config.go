// Package config provides configuration loading for knowledged.
//
// Configuration is read from an optional YAML file and overridden by
// environment variables. Defaults are applied for anything left unset and the
// result is validated before use.
package config

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Provider names.
const (
	KVMemory = "memory"
	KVNATS   = "nats"
	KVSQLite = "sqlite"

	IndexChromem = "chromem"
	IndexQdrant  = "qdrant"
	IndexHNSW    = "hnsw"

	EmbedRemote    = "remote"
	EmbedTEI       = "tei"
	EmbedFastEmbed = "fastembed"
)

// Config holds the complete knowledged configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	KV          KVConfig          `koanf:"kv"`
	VectorIndex VectorIndexConfig `koanf:"vectorindex"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Knowledge   KnowledgeConfig   `koanf:"knowledge"`
	Backfill    BackfillConfig    `koanf:"backfill"`
	Retry       RetryConfig       `koanf:"retry"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Address returns the listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig carries the subset of logging options exposed through the
// config file. The logging package owns the full option set.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// KVConfig selects the key-value backend holding content and metadata.
type KVConfig struct {
	Provider   string `koanf:"provider"`
	NATSURL    string `koanf:"nats_url"`
	Bucket     string `koanf:"bucket"`
	SQLitePath string `koanf:"sqlite_path"`
}

// VectorIndexConfig selects and configures the vector index.
type VectorIndexConfig struct {
	Provider   string `koanf:"provider"`
	Collection string `koanf:"collection"`
	Dimensions int    `koanf:"dimensions"`

	// Chromem: empty path keeps the index in memory.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`

	QdrantHost   string `koanf:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port"`
	QdrantAPIKey Secret `koanf:"qdrant_api_key"`
	QdrantTLS    bool   `koanf:"qdrant_tls"`

	HNSWM        int `koanf:"hnsw_m"`
	HNSWEfSearch int `koanf:"hnsw_ef_search"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Provider   string   `koanf:"provider"`
	BaseURL    string   `koanf:"base_url"`
	Model      string   `koanf:"model"`
	APIKey     Secret   `koanf:"api_key"`
	Dimensions int      `koanf:"dimensions"`
	Timeout    Duration `koanf:"timeout"`
	CacheDir   string   `koanf:"cache_dir"`
	CacheSize  int      `koanf:"cache_size"`
	CacheTTL   Duration `koanf:"cache_ttl"`
}

// KnowledgeConfig holds chunking, capacity and listing limits.
type KnowledgeConfig struct {
	ChunkSize        int `koanf:"chunk_size"`
	ChunkOverlap     int `koanf:"chunk_overlap"`
	MinChunkSize     int `koanf:"min_chunk_size"`
	MaxDocumentChars int `koanf:"max_document_chars"`
	MaxTotalChars    int `koanf:"max_total_chars"`
	MaxTitleLength   int `koanf:"max_title_length"`
	DeleteChunkBound int `koanf:"delete_chunk_bound"`
	DefaultPageSize  int `koanf:"default_page_size"`
	MaxPageSize      int `koanf:"max_page_size"`
	SearchLimit      int `koanf:"search_limit"`
	FetchConcurrency int `koanf:"fetch_concurrency"`
}

// BackfillConfig controls the reconciliation job.
type BackfillConfig struct {
	Cooldown   Duration `koanf:"cooldown"`
	EmbedRate  float64  `koanf:"embed_rate"`
	EmbedBurst int      `koanf:"embed_burst"`
}

// RetryConfig controls the outbound HTTP retry transport.
type RetryConfig struct {
	MaxAttempts     uint     `koanf:"max_attempts"`
	InitialInterval Duration `koanf:"initial_interval"`
	MaxInterval     Duration `koanf:"max_interval"`
	MaxElapsed      Duration `koanf:"max_elapsed"`
}

// TelemetryConfig controls OTLP trace, metric and log export. Export is off
// unless Enabled is set; Logs additionally bridges zap entries to the
// collector.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	TLS            bool     `koanf:"tls"`
	TLSSkipVerify  bool     `koanf:"tls_skip_verify"`
	ServiceName    string   `koanf:"service_name"`
	SampleRate     float64  `koanf:"sample_rate"`
	Metrics        bool     `koanf:"metrics"`
	Logs           bool     `koanf:"logs"`
	ExportInterval Duration `koanf:"export_interval"`
}

// NewDefaultConfig returns a Config populated with defaults.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.KV.Validate(); err != nil {
		return fmt.Errorf("kv: %w", err)
	}
	if err := c.VectorIndex.Validate(); err != nil {
		return fmt.Errorf("vectorindex: %w", err)
	}
	if err := c.Embeddings.Validate(); err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}
	if err := c.Knowledge.Validate(); err != nil {
		return fmt.Errorf("knowledge: %w", err)
	}
	if err := c.Backfill.Validate(); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if c.Embeddings.Dimensions != c.VectorIndex.Dimensions {
		return fmt.Errorf("embeddings.dimensions (%d) must match vectorindex.dimensions (%d)",
			c.Embeddings.Dimensions, c.VectorIndex.Dimensions)
	}
	return nil
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.ShutdownTimeout, validation.By(positiveDuration)),
	)
}

// Validate validates the logging configuration.
func (c *LoggingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Level, validation.In("trace", "debug", "info", "warn", "error")),
		validation.Field(&c.Format, validation.In("json", "console")),
	)
}

// Validate validates the key-value configuration.
func (c *KVConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(KVMemory, KVNATS, KVSQLite)),
		validation.Field(&c.NATSURL, validation.When(c.Provider == KVNATS, validation.Required)),
		validation.Field(&c.Bucket, validation.When(c.Provider == KVNATS, validation.Required)),
		validation.Field(&c.SQLitePath, validation.When(c.Provider == KVSQLite, validation.Required)),
	)
}

// Validate validates the vector index configuration.
func (c *VectorIndexConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(IndexChromem, IndexQdrant, IndexHNSW)),
		validation.Field(&c.Collection, validation.Required),
		validation.Field(&c.Dimensions, validation.Required, validation.Min(1)),
		validation.Field(&c.QdrantHost, validation.When(c.Provider == IndexQdrant, validation.Required)),
		validation.Field(&c.QdrantPort, validation.When(c.Provider == IndexQdrant, validation.Required, validation.Max(65535))),
	)
}

// Validate validates the embeddings configuration.
func (c *EmbeddingsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(EmbedRemote, EmbedTEI, EmbedFastEmbed)),
		validation.Field(&c.BaseURL, validation.When(c.Provider != EmbedFastEmbed, validation.Required)),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.Dimensions, validation.Required, validation.Min(1)),
		validation.Field(&c.Timeout, validation.By(positiveDuration)),
		validation.Field(&c.CacheSize, validation.Min(0)),
	)
}

// Validate validates the knowledge limits.
func (c *KnowledgeConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.ChunkSize, validation.Required, validation.Min(1)),
		validation.Field(&c.ChunkOverlap, validation.Min(0)),
		validation.Field(&c.MinChunkSize, validation.Min(0)),
		validation.Field(&c.MaxDocumentChars, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxTotalChars, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxTitleLength, validation.Required, validation.Min(1)),
		validation.Field(&c.DeleteChunkBound, validation.Required, validation.Min(1)),
		validation.Field(&c.DefaultPageSize, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxPageSize, validation.Required, validation.Min(1)),
		validation.Field(&c.SearchLimit, validation.Required, validation.Min(1)),
		validation.Field(&c.FetchConcurrency, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.MinChunkSize > c.ChunkSize {
		return fmt.Errorf("min_chunk_size (%d) must not exceed chunk_size (%d)", c.MinChunkSize, c.ChunkSize)
	}
	if c.MaxDocumentChars > c.MaxTotalChars {
		return fmt.Errorf("max_document_chars (%d) must not exceed max_total_chars (%d)", c.MaxDocumentChars, c.MaxTotalChars)
	}
	if c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("default_page_size (%d) must not exceed max_page_size (%d)", c.DefaultPageSize, c.MaxPageSize)
	}
	return nil
}

// Validate validates the backfill configuration.
func (c *BackfillConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Cooldown, validation.By(positiveDuration)),
		validation.Field(&c.EmbedRate, validation.Min(0.0)),
		validation.Field(&c.EmbedBurst, validation.Min(1)),
	)
}

// Validate validates the retry configuration.
func (c *RetryConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(uint(1))),
		validation.Field(&c.InitialInterval, validation.By(positiveDuration)),
		validation.Field(&c.MaxInterval, validation.By(positiveDuration)),
	); err != nil {
		return err
	}
	if c.InitialInterval > c.MaxInterval {
		return errors.New("initial_interval must not exceed max_interval")
	}
	return nil
}

// Validate validates the telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, validation.Required),
		validation.Field(&c.Protocol, validation.In("grpc", "http/protobuf")),
		validation.Field(&c.ServiceName, validation.Required),
		validation.Field(&c.SampleRate, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.ExportInterval, validation.By(positiveDuration)),
	)
}

func positiveDuration(value interface{}) error {
	d, ok := value.(Duration)
	if !ok {
		return errors.New("must be a duration")
	}
	if d.Duration() <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.KV.Provider == "" {
		cfg.KV.Provider = KVMemory
	}
	if cfg.KV.Bucket == "" {
		cfg.KV.Bucket = "knowledged"
	}

	// chromem is the default: embedded, no external services
	if cfg.VectorIndex.Provider == "" {
		cfg.VectorIndex.Provider = IndexChromem
	}
	if cfg.VectorIndex.Collection == "" {
		cfg.VectorIndex.Collection = "knowledge_chunks"
	}
	if cfg.VectorIndex.Dimensions == 0 {
		cfg.VectorIndex.Dimensions = 384 // bge-small-en-v1.5
	}
	if cfg.VectorIndex.QdrantHost == "" {
		cfg.VectorIndex.QdrantHost = "localhost"
	}
	if cfg.VectorIndex.QdrantPort == 0 {
		cfg.VectorIndex.QdrantPort = 6334
	}
	if cfg.VectorIndex.HNSWM == 0 {
		cfg.VectorIndex.HNSWM = 16
	}
	if cfg.VectorIndex.HNSWEfSearch == 0 {
		cfg.VectorIndex.HNSWEfSearch = 50
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = EmbedTEI
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.Dimensions == 0 {
		cfg.Embeddings.Dimensions = 384
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(30 * time.Second)
	}
	if cfg.Embeddings.CacheSize == 0 {
		cfg.Embeddings.CacheSize = 256
	}
	if cfg.Embeddings.CacheTTL == 0 {
		cfg.Embeddings.CacheTTL = Duration(5 * time.Minute)
	}

	k := &cfg.Knowledge
	if k.ChunkSize == 0 {
		k.ChunkSize = 1000
	}
	if k.ChunkOverlap == 0 {
		k.ChunkOverlap = 200
	}
	if k.MinChunkSize == 0 {
		k.MinChunkSize = 300
	}
	if k.MaxDocumentChars == 0 {
		k.MaxDocumentChars = 50000
	}
	if k.MaxTotalChars == 0 {
		k.MaxTotalChars = 200000
	}
	if k.MaxTitleLength == 0 {
		k.MaxTitleLength = 100
	}
	if k.DeleteChunkBound == 0 {
		k.DeleteChunkBound = 100
	}
	if k.DefaultPageSize == 0 {
		k.DefaultPageSize = 10
	}
	if k.MaxPageSize == 0 {
		k.MaxPageSize = 50
	}
	if k.SearchLimit == 0 {
		k.SearchLimit = 5
	}
	if k.FetchConcurrency == 0 {
		k.FetchConcurrency = 8
	}

	if cfg.Backfill.Cooldown == 0 {
		cfg.Backfill.Cooldown = Duration(time.Hour)
	}
	if cfg.Backfill.EmbedBurst == 0 {
		cfg.Backfill.EmbedBurst = 1
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialInterval == 0 {
		cfg.Retry.InitialInterval = Duration(500 * time.Millisecond)
	}
	if cfg.Retry.MaxInterval == 0 {
		cfg.Retry.MaxInterval = Duration(5 * time.Second)
	}
	if cfg.Retry.MaxElapsed == 0 {
		cfg.Retry.MaxElapsed = Duration(30 * time.Second)
	}

	t := &cfg.Telemetry
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.Protocol == "" {
		t.Protocol = "grpc"
	}
	if t.ServiceName == "" {
		t.ServiceName = "knowledged"
	}
	if t.SampleRate == 0 {
		t.SampleRate = 1.0
	}
	if t.ExportInterval == 0 {
		t.ExportInterval = Duration(15 * time.Second)
	}
}
