// Package config loads AgentMem's runtime configuration: godotenv plus an
// upward search for a .env file, provider-keyed environment variables for
// the LLM/Embedder/VectorStore sections, and defaults for tenant resource
// limits, the lifecycle decay policy, and the retrieval fusion weights.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentmem/agentmem/pkg/agmerr"
	"github.com/agentmem/agentmem/pkg/tenant"
)

// Config is the complete configuration for an AgentMem client.
type Config struct {
	LLM         LLMConfig         `json:"llm"`
	Embedder    EmbedderConfig    `json:"embedder"`
	VectorStore VectorStoreConfig `json:"vector_store"`
	Tenant      TenantDefaults    `json:"tenant"`
	Lifecycle   LifecyclePolicy   `json:"lifecycle"`
	Retrieval   RetrievalConfig   `json:"retrieval"`
	Ingestion   IngestionConfig   `json:"ingestion"`
	CoreBlocks  CoreBlocksConfig  `json:"core_blocks"`
}

// IngestionConfig controls the Ingestion Pipeline's concurrency, timeouts,
// and which optional analysis stages run.
type IngestionConfig struct {
	// ParallelThreads bounds the Pipeline's per-fact analysis fan-out.
	ParallelThreads int `json:"parallel_threads"`
	// ProcessingTimeoutSeconds bounds a single fact's execute step.
	ProcessingTimeoutSeconds int `json:"processing_timeout_seconds"`
	// GlobalTimeoutSeconds bounds an entire Ingest call across all facts.
	GlobalTimeoutSeconds int `json:"global_timeout_seconds"`
	// EnableFactValidation gates the extractor's post-parse validation (the
	// confidence floor and category coercion); disabling it accepts facts as
	// extracted.
	EnableFactValidation bool `json:"enable_fact_validation"`
	// EnableFactMerging gates whether the Decision Engine may recommend
	// ActionMerge; disabled, conflicting facts fall back to Update/NoOp.
	EnableFactMerging bool `json:"enable_fact_merging"`
	// ConflictDetectionThreshold overrides conflict.DefaultDetectionThreshold.
	ConflictDetectionThreshold float64 `json:"conflict_detection_threshold"`
	// DefaultConflictResolution overrides the Conflict Resolver's fallback
	// suggested strategy for conflict kinds with no specific rule.
	DefaultConflictResolution string `json:"default_conflict_resolution"`
	// MaxMemoriesPerScope caps how many memories the Hierarchy Manager
	// accepts in a single scope's own bucket; 0 means unbounded.
	MaxMemoriesPerScope int `json:"max_memories_per_scope"`
}

// DefaultIngestionConfig returns the stock pipeline tuning.
func DefaultIngestionConfig() IngestionConfig {
	return IngestionConfig{
		ParallelThreads:            4,
		ProcessingTimeoutSeconds:   30,
		GlobalTimeoutSeconds:       120,
		EnableFactValidation:       true,
		EnableFactMerging:          true,
		ConflictDetectionThreshold: 0.7,
		DefaultConflictResolution:  "mark_conflict",
	}
}

// CoreBlocksConfig controls the Core Memory Blocks' capacity and
// auto-rewrite behavior.
type CoreBlocksConfig struct {
	// Capacity bounds a block's content length in bytes.
	Capacity int `json:"capacity"`
	// AutoRewriteThreshold is the fraction of Capacity that triggers
	// auto-rewrite.
	AutoRewriteThreshold float64 `json:"auto_rewrite_threshold"`
	// RewriteRetentionRatio is the fraction of Capacity content is condensed
	// to on rewrite.
	RewriteRetentionRatio float64 `json:"rewrite_retention_ratio"`
}

// DefaultCoreBlocksConfig returns the stock block sizing.
func DefaultCoreBlocksConfig() CoreBlocksConfig {
	return CoreBlocksConfig{
		Capacity:              4000,
		AutoRewriteThreshold:  0.9,
		RewriteRetentionRatio: 0.7,
	}
}

// LLMConfig configures the LLM provider used for fact extraction and
// merge-text synthesis. Supported providers: openai, qwen, anthropic,
// deepseek, ollama.
type LLMConfig struct {
	Provider   string                 `json:"provider"`
	APIKey     string                 `json:"api_key"`
	Model      string                 `json:"model"`
	BaseURL    string                 `json:"base_url,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// EmbedderConfig configures the embedding provider. Supported providers:
// openai, qwen.
type EmbedderConfig struct {
	Provider   string                 `json:"provider"`
	APIKey     string                 `json:"api_key"`
	Model      string                 `json:"model"`
	BaseURL    string                 `json:"base_url,omitempty"`
	Dimensions int                    `json:"dimensions,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// VectorStoreConfig configures the storage backend. Supported providers:
// memory, sqlite, postgres, oceanbase.
type VectorStoreConfig struct {
	Provider string                 `json:"provider"`
	Config   map[string]interface{} `json:"config"`
}

// TenantDefaults seeds tenant.Config for tenants registered without an
// explicit configuration.
type TenantDefaults struct {
	ResourceLimits  tenant.ResourceLimits  `json:"resource_limits"`
	SecurityPolicy  tenant.SecurityPolicy  `json:"security_policy"`
	IsolationLevel  string                 `json:"isolation_level"` // soft, hard, dynamic
}

// LifecyclePolicy controls the Adaptive Lifecycle component's decay and
// promotion behavior.
type LifecyclePolicy struct {
	// HalfLifeHours is the number of hours after which an unaccessed
	// memory's retention strength halves.
	HalfLifeHours float64 `json:"half_life_hours"`
	// ReinforcementFactor determines how much an access strengthens
	// retention. Typical range: 0.2-0.5.
	ReinforcementFactor float64 `json:"reinforcement_factor"`
	// ArchiveThreshold is the retention strength below which a memory is
	// archived rather than returned by default queries.
	ArchiveThreshold float64 `json:"archive_threshold"`
	// PurgeThreshold is the retention strength below which an archived
	// memory becomes eligible for hard deletion.
	PurgeThreshold float64 `json:"purge_threshold"`
	// RetentionPeriodSeconds is the window LRU archiving measures idleness
	// against (retentionPeriod in archiveByStrategy). 0 uses HalfLifeHours.
	RetentionPeriodSeconds int64 `json:"retention_period_seconds"`
	// ArchiveAgeThresholdSeconds overrides DefaultArchiveAgeThreshold.
	ArchiveAgeThresholdSeconds int64 `json:"archive_age_threshold_seconds"`
	// DeleteAgeThresholdSeconds overrides DefaultDeleteAgeThreshold.
	DeleteAgeThresholdSeconds int64 `json:"delete_age_threshold_seconds"`
	// MaxMemorySize overrides DefaultMaxMemorySize, the byte length past
	// which a memory is compressed rather than kept as-is.
	MaxMemorySize int `json:"max_memory_size"`
}

// RetrievalConfig controls the Retrieval Engine's hybrid search fusion.
type RetrievalConfig struct {
	// RRFConstant (k) dampens the influence of low ranks in reciprocal
	// rank fusion. Default 60, per standard RRF practice.
	RRFConstant int `json:"rrf_constant"`
	// CacheSize is the number of queries kept in the TTL result cache.
	CacheSize int `json:"cache_size"`
	// CacheTTLSeconds is how long a cached result set remains valid.
	CacheTTLSeconds int `json:"cache_ttl_seconds"`
}

// DefaultLifecyclePolicy returns sensible decay defaults.
func DefaultLifecyclePolicy() LifecyclePolicy {
	return LifecyclePolicy{
		HalfLifeHours:              24 * 14,
		ReinforcementFactor:        0.3,
		ArchiveThreshold:           0.2,
		PurgeThreshold:             0.05,
		ArchiveAgeThresholdSeconds: int64((7 * 24 * time.Hour).Seconds()),
		DeleteAgeThresholdSeconds:  int64((30 * 24 * time.Hour).Seconds()),
		MaxMemorySize:              10 * 1024,
	}
}

// DefaultRetrievalConfig returns the default fusion and caching parameters.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		RRFConstant:     60,
		CacheSize:       512,
		CacheTTLSeconds: 30,
	}
}

// DefaultTenantDefaults seeds tenant.Config from the same defaults
// tenant.DefaultResourceLimits/DefaultSecurityPolicy already expose.
func DefaultTenantDefaults() TenantDefaults {
	return TenantDefaults{
		ResourceLimits: tenant.DefaultResourceLimits(),
		SecurityPolicy: tenant.DefaultSecurityPolicy(),
		IsolationLevel: "hard",
	}
}

// LoadFromEnv loads configuration from environment variables, searching
// upward for a .env file starting from the working directory.
func LoadFromEnv() (*Config, error) {
	if envPath, found := FindEnvFile(); found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	vectorStoreConfig := make(map[string]interface{})

	switch provider {
	case "oceanbase":
		port, _ := strconv.Atoi(getEnvOrDefault("OCEANBASE_PORT", "2881"))
		dims, _ := strconv.Atoi(getEnvOrDefault("OCEANBASE_EMBEDDING_MODEL_DIMS", "1536"))
		vectorStoreConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			"port":                 port,
			"user":                 getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			"password":             os.Getenv("OCEANBASE_PASSWORD"),
			"db_name":              getEnvOrDefault("OCEANBASE_DATABASE", "agentmem"),
			"collection_name":      getEnvOrDefault("OCEANBASE_COLLECTION", "memories"),
			"embedding_model_dims": dims,
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		dims, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_EMBEDDING_MODEL_DIMS", "1536"))
		vectorStoreConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":                 port,
			"user":                 getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":             os.Getenv("POSTGRES_PASSWORD"),
			"db_name":              getEnvOrDefault("POSTGRES_DATABASE", "agentmem"),
			"collection_name":      getEnvOrDefault("POSTGRES_COLLECTION", "memories"),
			"embedding_model_dims": dims,
			"ssl_mode":             getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	default: // sqlite
		dims, _ := strconv.Atoi(getEnvOrDefault("SQLITE_EMBEDDING_MODEL_DIMS", "1536"))
		vectorStoreConfig = map[string]interface{}{
			"db_path":              getEnvOrDefault("SQLITE_PATH", "./agentmem.db"),
			"collection_name":      getEnvOrDefault("SQLITE_COLLECTION", "memories"),
			"embedding_model_dims": dims,
		}
	}

	llmProvider := getEnvOrDefault("LLM_PROVIDER", "openai")
	var llmBaseURL, defaultModel string
	switch llmProvider {
	case "deepseek":
		llmBaseURL = getEnvOrDefault("DEEPSEEK_LLM_BASE_URL", "https://api.deepseek.com")
		defaultModel = "deepseek-chat"
	case "qwen":
		defaultModel = "qwen-plus"
	case "ollama":
		llmBaseURL = getEnvOrDefault("OLLAMA_LLM_BASE_URL", "http://localhost:11434")
		defaultModel = "llama3.1:70b"
	case "anthropic":
		llmBaseURL = getEnvOrDefault("ANTHROPIC_LLM_BASE_URL", "https://api.anthropic.com")
		defaultModel = "claude-3-5-sonnet-20240620"
	default:
		llmBaseURL = os.Getenv("LLM_BASE_URL")
		defaultModel = "gpt-4"
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "openai")
	embedderModel := os.Getenv("EMBEDDING_MODEL")
	var embedderBaseURL string
	switch embedderProvider {
	case "qwen":
		embedderBaseURL = getEnvOrDefault("QWEN_EMBEDDING_BASE_URL", "https://dashscope.aliyuncs.com/api/v1")
		if embedderModel == "" {
			embedderModel = "text-embedding-v4"
		}
	default:
		embedderBaseURL = getEnvOrDefault("OPENAI_EMBEDDING_BASE_URL", "https://api.openai.com/v1")
		if embedderModel == "" {
			embedderModel = "text-embedding-3-small"
		}
	}
	embedDims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMENSIONS", "1536"))

	cfg := &Config{
		LLM: LLMConfig{
			Provider: llmProvider,
			APIKey:   os.Getenv("LLM_API_KEY"),
			Model:    getEnvOrDefault("LLM_MODEL", defaultModel),
			BaseURL:  llmBaseURL,
		},
		Embedder: EmbedderConfig{
			Provider:   embedderProvider,
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			Model:      embedderModel,
			BaseURL:    embedderBaseURL,
			Dimensions: embedDims,
		},
		VectorStore: VectorStoreConfig{Provider: provider, Config: vectorStoreConfig},
		Tenant:      DefaultTenantDefaults(),
		Lifecycle:   DefaultLifecyclePolicy(),
		Retrieval:   DefaultRetrievalConfig(),
		Ingestion:   DefaultIngestionConfig(),
		CoreBlocks:  DefaultCoreBlocksConfig(),
	}

	if v, _ := strconv.Atoi(os.Getenv("INGESTION_PARALLEL_THREADS")); v > 0 {
		cfg.Ingestion.ParallelThreads = v
	}
	if v, _ := strconv.Atoi(os.Getenv("INGESTION_MAX_MEMORIES_PER_SCOPE")); v > 0 {
		cfg.Ingestion.MaxMemoriesPerScope = v
	}

	return cfg, nil
}

// LoadFromEnvFile loads configuration after loading a specific .env file.
func LoadFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("config: load env file: %w", err)
	}
	return LoadFromEnv()
}

// LoadFromJSON loads configuration from a JSON file.
func LoadFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, agmerr.New("config.LoadFromJSON", agmerr.KindInvalidInput, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, agmerr.New("config.LoadFromJSON", agmerr.KindInvalidInput, err)
	}
	return &cfg, nil
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if c.LLM.Provider == "" {
		return agmerr.New("Config.Validate", agmerr.KindInvalidInput, fmt.Errorf("llm provider is required"))
	}
	if c.Embedder.Provider == "" {
		return agmerr.New("Config.Validate", agmerr.KindInvalidInput, fmt.Errorf("embedder provider is required"))
	}
	if c.VectorStore.Provider == "" {
		return agmerr.New("Config.Validate", agmerr.KindInvalidInput, fmt.Errorf("vector store provider is required"))
	}
	if c.Lifecycle.HalfLifeHours <= 0 {
		return agmerr.New("Config.Validate", agmerr.KindInvalidInput, fmt.Errorf("lifecycle half_life_hours must be positive"))
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// FindEnvFile searches the current directory and up to 5 parent
// directories for a .env or .env.example file.
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")
		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}
