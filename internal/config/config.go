// Package config loads runtime configuration for the RAG query service from
// environment variables, following the env-first-then-defaults idiom used
// throughout this codebase: every value can be overridden in a .env file
// (loaded with godotenv.Overload so repo-local values win in development),
// then any gaps are filled with sane defaults after parsing completes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LLMConfig selects and configures the answer-synthesis provider.
type LLMConfig struct {
	Provider    string // openai | anthropic | vllm
	Model       string
	Endpoint    string
	APIKey      string
	TimeoutMS   int
	Streaming   bool
	Temperature float64
}

// EmbeddingConfig configures the embedding manager and adaptive chunker.
type EmbeddingConfig struct {
	Provider         string // openai | vllm | custom
	Model            string
	URL              string
	APIKey           string
	MaxTokens        int
	VectorDim        int
	ChunkingStrategy string // token-aware | paragraph-aware | character
	OverlapTokens    int
	SafetyMargin     float64
	BatchSize        int
	RateLimitRPS     float64
}

// RerankerConfig configures the optional cross-encoder reranking stage.
// Leaving URL empty disables reranking; a configured endpoint is treated as
// best-effort — failures there never fail a request.
type RerankerConfig struct {
	Enabled   bool
	URL       string
	Model     string
	TimeoutMS int
}

// PackingConfig bounds the context packer's token budget and caps.
type PackingConfig struct {
	TokenBudget         int
	PerDocCap           int
	PerSectionCap       int
	NoveltyAlpha        float64
	AnswerabilityBonus  float64
	SectionReunify      bool
}

// RateLimitConfig configures the sliding-window rate limiter.
type RateLimitConfig struct {
	PerIP            int
	PerUser          int
	PerTenant        int
	WindowMinutes    int
}

// GuardrailConfig configures the answerability engine.
type GuardrailConfig struct {
	MinConfidence     float64
	MinRetrievalScore float64
	MinCitedChunks    int
}

// DBBackendConfig names a backend and its connection string for a single store.
type DBBackendConfig struct {
	Backend string // memory | postgres | qdrant | auto | none
	DSN     string
}

// DatabasesConfig groups the keyword (FTS) and vector store backends.
type DatabasesConfig struct {
	DefaultDSN string
	Search     DBBackendConfig // keyword/FTS store (postgres tsvector)
	Vector     DBBackendConfig // vector store (qdrant or pgvector)
	Collection string          // qdrant collection / pgvector table namespace
	Metric     string          // cosine | l2 | ip
}

// RedisConfig configures the shared cache used for rate limiting and the
// embedding health-check result cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// KafkaConfig configures the audit-event stream emitted by the ingest pipeline.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// S3Config configures object storage for raw uploaded documents.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Enabled  bool
}

// ObservabilityConfig configures logging and OpenTelemetry export.
type ObservabilityConfig struct {
	LogLevel       string
	LogPath        string
	ServiceName    string
	OTelEndpoint   string
	OTelInsecure   bool
	MetricsEnabled bool
}

// Config is the fully resolved runtime configuration for the service.
type Config struct {
	Host string
	Port int

	LLM       LLMConfig
	Embedding EmbeddingConfig
	Reranker  RerankerConfig
	Packing   PackingConfig
	RateLimit RateLimitConfig
	Guardrail GuardrailConfig
	Databases DatabasesConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	S3        S3Config
	Obs       ObservabilityConfig

	IngestToken string
}

// Load reads configuration from environment variables (optionally overlaid
// with a .env file) and applies defaults for anything left unset.
func Load() (Config, error) {
	_ = godotenv.Overload()

	var cfg Config

	cfg.Host = strings.TrimSpace(os.Getenv("HOST"))
	cfg.Port = intFromEnv("PORT", 0)

	cfg.LLM.Provider = strings.TrimSpace(os.Getenv("LLM_PROVIDER"))
	cfg.LLM.Model = strings.TrimSpace(os.Getenv("LLM_MODEL"))
	cfg.LLM.Endpoint = strings.TrimSpace(os.Getenv("LLM_ENDPOINT"))
	cfg.LLM.APIKey = firstNonEmpty(os.Getenv("LLM_API_KEY"), os.Getenv("OPENAI_API_KEY"), os.Getenv("ANTHROPIC_API_KEY"))
	cfg.LLM.TimeoutMS = intFromEnv("LLM_TIMEOUT_MS", 0)
	cfg.LLM.Streaming = boolFromEnv("LLM_STREAMING", true)
	cfg.LLM.Temperature = floatFromEnv("LLM_TEMPERATURE", 0)

	cfg.Embedding.Provider = strings.TrimSpace(os.Getenv("EMBEDDING_PROVIDER"))
	cfg.Embedding.Model = strings.TrimSpace(os.Getenv("EMBEDDING_MODEL"))
	cfg.Embedding.URL = strings.TrimSpace(os.Getenv("EMBEDDING_URL"))
	cfg.Embedding.APIKey = strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY"))
	cfg.Embedding.MaxTokens = intFromEnv("EMBEDDING_MAX_TOKENS", 0)
	cfg.Embedding.VectorDim = intFromEnv("VECTOR_DIM", 0)
	cfg.Embedding.ChunkingStrategy = strings.TrimSpace(os.Getenv("EMBEDDING_CHUNKING_STRATEGY"))
	cfg.Embedding.OverlapTokens = intFromEnv("EMBEDDING_OVERLAP_TOKENS", -1)
	cfg.Embedding.SafetyMargin = floatFromEnv("EMBEDDING_SAFETY_MARGIN", -1)
	cfg.Embedding.BatchSize = intFromEnv("EMBEDDING_BATCH_SIZE", 0)
	cfg.Embedding.RateLimitRPS = floatFromEnv("EMBEDDING_RATE_LIMIT_RPS", 0)

	cfg.Reranker.URL = strings.TrimSpace(os.Getenv("RERANKER_URL"))
	cfg.Reranker.Model = strings.TrimSpace(os.Getenv("RERANKER_MODEL"))
	cfg.Reranker.TimeoutMS = intFromEnv("RERANKER_TIMEOUT_MS", 0)
	cfg.Reranker.Enabled = boolFromEnv("RERANKER_ENABLED", cfg.Reranker.URL != "")

	cfg.Packing.TokenBudget = intFromEnv("CONTEXT_TOKEN_BUDGET", 0)
	cfg.Packing.PerDocCap = intFromEnv("PACKING_PER_DOC_CAP", 0)
	cfg.Packing.PerSectionCap = intFromEnv("PACKING_PER_SECTION_CAP", 0)
	cfg.Packing.NoveltyAlpha = floatFromEnv("PACKING_NOVELTY_ALPHA", -1)
	cfg.Packing.AnswerabilityBonus = floatFromEnv("PACKING_ANSWERABILITY_BONUS", -1)
	cfg.Packing.SectionReunify = boolFromEnv("SECTION_REUNIFICATION", true)

	cfg.RateLimit.PerIP = intFromEnv("RATE_LIMIT_PER_IP", 0)
	cfg.RateLimit.PerUser = intFromEnv("RATE_LIMIT_PER_USER", 0)
	cfg.RateLimit.PerTenant = intFromEnv("RATE_LIMIT_PER_TENANT", 0)
	cfg.RateLimit.WindowMinutes = intFromEnv("RATE_LIMIT_WINDOW_MINUTES", 0)

	cfg.Guardrail.MinConfidence = floatFromEnv("GUARDRAIL_MIN_CONFIDENCE", -1)
	cfg.Guardrail.MinRetrievalScore = floatFromEnv("GUARDRAIL_MIN_RETRIEVAL_SCORE", -1)
	cfg.Guardrail.MinCitedChunks = intFromEnv("GUARDRAIL_MIN_CITED_CHUNKS", -1)

	cfg.Databases.DefaultDSN = strings.TrimSpace(os.Getenv("DATABASE_DSN"))
	cfg.Databases.Search.Backend = strings.TrimSpace(os.Getenv("SEARCH_BACKEND"))
	cfg.Databases.Search.DSN = strings.TrimSpace(os.Getenv("SEARCH_DSN"))
	cfg.Databases.Vector.Backend = strings.TrimSpace(os.Getenv("VECTOR_BACKEND"))
	cfg.Databases.Vector.DSN = strings.TrimSpace(os.Getenv("VECTOR_DSN"))
	cfg.Databases.Collection = strings.TrimSpace(os.Getenv("VECTOR_COLLECTION"))
	cfg.Databases.Metric = strings.TrimSpace(os.Getenv("VECTOR_METRIC"))

	cfg.Redis.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = intFromEnv("REDIS_DB", 0)
	cfg.Redis.Enabled = cfg.Redis.Addr != ""

	cfg.Kafka.Brokers = parseCommaSeparatedList(os.Getenv("KAFKA_BROKERS"))
	cfg.Kafka.Topic = strings.TrimSpace(os.Getenv("KAFKA_AUDIT_TOPIC"))
	cfg.Kafka.Enabled = len(cfg.Kafka.Brokers) > 0

	cfg.S3.Bucket = strings.TrimSpace(os.Getenv("S3_UPLOAD_BUCKET"))
	cfg.S3.Region = strings.TrimSpace(os.Getenv("S3_REGION"))
	cfg.S3.Endpoint = strings.TrimSpace(os.Getenv("S3_ENDPOINT"))
	cfg.S3.Enabled = cfg.S3.Bucket != ""

	cfg.Obs.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	cfg.Obs.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))
	cfg.Obs.ServiceName = strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME"))
	cfg.Obs.OTelEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.Obs.OTelInsecure = boolFromEnv("OTEL_EXPORTER_OTLP_INSECURE", true)
	cfg.Obs.MetricsEnabled = boolFromEnv("METRICS_ENABLED", cfg.Obs.OTelEndpoint != "")

	cfg.IngestToken = strings.TrimSpace(os.Getenv("INGEST_TOKEN"))

	if err := loadYAMLOverlay(&cfg); err != nil {
		return Config{}, err
	}

	applyDefaults(&cfg)
	return cfg, nil
}

// applyDefaults fills gaps left by environment/YAML parsing. Fields parsed
// with a -1 sentinel (overlap, safety margin, novelty alpha, answerability
// bonus, guardrail thresholds) keep an explicit zero from the environment;
// the other numeric fields treat zero as unset and receive their default.
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.TimeoutMS <= 0 {
		cfg.LLM.TimeoutMS = 60_000
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.URL == "" {
		cfg.Embedding.URL = "https://api.openai.com/v1/embeddings"
	}
	if cfg.Embedding.MaxTokens <= 0 {
		cfg.Embedding.MaxTokens = 512
	}
	if cfg.Embedding.VectorDim <= 0 {
		cfg.Embedding.VectorDim = 1536
	}
	if cfg.Embedding.ChunkingStrategy == "" {
		cfg.Embedding.ChunkingStrategy = "token-aware"
	}
	if cfg.Embedding.OverlapTokens < 0 {
		cfg.Embedding.OverlapTokens = 64
	}
	if cfg.Embedding.SafetyMargin < 0 {
		cfg.Embedding.SafetyMargin = 0.1
	}
	if cfg.Embedding.BatchSize <= 0 {
		cfg.Embedding.BatchSize = 16
	}
	if cfg.Embedding.RateLimitRPS <= 0 {
		cfg.Embedding.RateLimitRPS = 5
	}
	if cfg.Reranker.TimeoutMS <= 0 {
		cfg.Reranker.TimeoutMS = 5_000
	}
	if cfg.Packing.TokenBudget <= 0 {
		cfg.Packing.TokenBudget = 6000
	}
	if cfg.Packing.PerDocCap <= 0 {
		cfg.Packing.PerDocCap = 3
	}
	if cfg.Packing.PerSectionCap <= 0 {
		cfg.Packing.PerSectionCap = 2
	}
	if cfg.Packing.NoveltyAlpha < 0 {
		cfg.Packing.NoveltyAlpha = 0.3
	}
	if cfg.Packing.AnswerabilityBonus < 0 {
		cfg.Packing.AnswerabilityBonus = 0.15
	}
	if cfg.RateLimit.PerIP <= 0 {
		cfg.RateLimit.PerIP = 60
	}
	if cfg.RateLimit.PerUser <= 0 {
		cfg.RateLimit.PerUser = 120
	}
	if cfg.RateLimit.PerTenant <= 0 {
		cfg.RateLimit.PerTenant = 600
	}
	if cfg.RateLimit.WindowMinutes <= 0 {
		cfg.RateLimit.WindowMinutes = 1
	}
	if cfg.Guardrail.MinConfidence < 0 {
		cfg.Guardrail.MinConfidence = 0.55
	}
	if cfg.Guardrail.MinRetrievalScore < 0 {
		cfg.Guardrail.MinRetrievalScore = 0.05
	}
	if cfg.Guardrail.MinCitedChunks < 0 {
		cfg.Guardrail.MinCitedChunks = 1
	}
	if cfg.Databases.Search.Backend == "" {
		cfg.Databases.Search.Backend = "auto"
	}
	if cfg.Databases.Vector.Backend == "" {
		cfg.Databases.Vector.Backend = "auto"
	}
	if cfg.Databases.Collection == "" {
		cfg.Databases.Collection = "ragcore_chunks"
	}
	if cfg.Databases.Metric == "" {
		cfg.Databases.Metric = "cosine"
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "ragcore.ingest.audit"
	}
	if cfg.Obs.LogLevel == "" {
		cfg.Obs.LogLevel = "info"
	}
	if cfg.Obs.ServiceName == "" {
		cfg.Obs.ServiceName = "ragcore"
	}
}

// yamlOverlay mirrors a subset of Config for optional file-based overrides
// (useful for local development without exporting dozens of env vars).
type yamlOverlay struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	LLM  struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"llm"`
	Databases struct {
		DefaultDSN string `yaml:"default_dsn"`
		Search     struct {
			Backend string `yaml:"backend"`
			DSN     string `yaml:"dsn"`
		} `yaml:"search"`
		Vector struct {
			Backend string `yaml:"backend"`
			DSN     string `yaml:"dsn"`
		} `yaml:"vector"`
	} `yaml:"databases"`
}

// loadYAMLOverlay applies a config.yaml/config.yml in the current directory,
// or the path named by RAGCORE_CONFIG_FILE, on top of environment values.
// Only fields explicitly present in the overlay are applied; env vars win
// when both are set because this is called after env parsing but only
// touches fields that were left at their zero value.
func loadYAMLOverlay(cfg *Config) error {
	path := strings.TrimSpace(os.Getenv("RAGCORE_CONFIG_FILE"))
	if path == "" {
		for _, candidate := range []string{"config.yaml", "config.yml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config overlay %s: %w", path, err)
	}
	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config overlay %s: %w", path, err)
	}
	if cfg.Host == "" {
		cfg.Host = overlay.Host
	}
	if cfg.Port == 0 {
		cfg.Port = overlay.Port
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = overlay.LLM.Provider
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = overlay.LLM.Model
	}
	if cfg.LLM.Endpoint == "" {
		cfg.LLM.Endpoint = overlay.LLM.Endpoint
	}
	if cfg.Databases.DefaultDSN == "" {
		cfg.Databases.DefaultDSN = overlay.Databases.DefaultDSN
	}
	if cfg.Databases.Search.Backend == "" {
		cfg.Databases.Search.Backend = overlay.Databases.Search.Backend
	}
	if cfg.Databases.Search.DSN == "" {
		cfg.Databases.Search.DSN = overlay.Databases.Search.DSN
	}
	if cfg.Databases.Vector.Backend == "" {
		cfg.Databases.Vector.Backend = overlay.Databases.Vector.Backend
	}
	if cfg.Databases.Vector.DSN == "" {
		cfg.Databases.Vector.DSN = overlay.Databases.Vector.DSN
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCommaSeparatedList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func boolFromEnv(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
