package nexus

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/nexus/extract"
	"github.com/brunobiangulo/nexus/graph"
	"github.com/brunobiangulo/nexus/mirror"
)

// Config holds all configuration for the nexus engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to <StorageDir>/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir is the directory holding the database when DBPath is
	// not set. "home" uses ~/.nexus.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// Chunking
	Tokenizer      string `json:"tokenizer" yaml:"tokenizer"` // tiktoken encoding name
	MaxChunkTokens int    `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`
	ChunkOverlap   int    `json:"chunk_overlap" yaml:"chunk_overlap"`

	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`

	// Concurrency is the number of chunks extracted in parallel. 1 is
	// serial and enables context accumulation.
	Concurrency       int           `json:"concurrency" yaml:"concurrency"`
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	RequestTimeout    time.Duration `json:"request_timeout" yaml:"request_timeout"`

	Conflicts graph.Policies `json:"conflicts" yaml:"conflicts"`

	// EmbedEntities embeds every new entity into the vector index.
	EmbedEntities bool `json:"embed_entities" yaml:"embed_entities"`
	// EmbeddingDim must match the embedding model.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	Redis RedisConfig   `json:"redis" yaml:"redis"`
	Neo4j mirror.Config `json:"neo4j" yaml:"neo4j"`
	Log   LogConfig     `json:"log" yaml:"log"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider   string        `json:"provider" yaml:"provider"` // openai, openrouter, local, ollama
	Model      string        `json:"model" yaml:"model"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	APIKey     string        `json:"api_key" yaml:"api_key"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// ExtractionConfig controls the prompt and how its output is validated.
type ExtractionConfig struct {
	EntityTypes         []string `json:"entity_types" yaml:"entity_types"`
	TupleDelimiter      string   `json:"tuple_delimiter" yaml:"tuple_delimiter"`
	RecordDelimiter     string   `json:"record_delimiter" yaml:"record_delimiter"`
	CompletionDelimiter string   `json:"completion_delimiter" yaml:"completion_delimiter"`
	SystemPrompt        string   `json:"system_prompt" yaml:"system_prompt"`
	// TemplatePath replaces the built-in extraction template.
	TemplatePath string `json:"template_path" yaml:"template_path"`
	// ContextAccumulation passes names extracted from earlier chunks of the
	// same document into the prompt. Only honoured when Concurrency is 1.
	ContextAccumulation bool `json:"context_accumulation" yaml:"context_accumulation"`
	// EndpointPolicy is "store" or "strict".
	EndpointPolicy string `json:"endpoint_policy" yaml:"endpoint_policy"`
}

// Delimiters returns the configured record grammar separators.
func (e ExtractionConfig) Delimiters() extract.Delimiters {
	return extract.Delimiters{
		Tuple:      e.TupleDelimiter,
		Record:     e.RecordDelimiter,
		Completion: e.CompletionDelimiter,
	}
}

// RedisConfig enables the cross-process commit locker when Addr is set.
type RedisConfig struct {
	Addr     string        `json:"addr" yaml:"addr"`
	Password string        `json:"password" yaml:"password"`
	DB       int           `json:"db" yaml:"db"`
	Prefix   string        `json:"prefix" yaml:"prefix"`
	LockTTL  time.Duration `json:"lock_ttl" yaml:"lock_ttl"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, console
}

// DefaultConfig returns a Config for a hosted chat model and a local
// Ollama embedder. The database is stored in ./.nexus/nexus.db.
func DefaultConfig() Config {
	return Config{
		DBName:     "nexus",
		StorageDir: ".nexus",
		Chat: LLMConfig{
			Provider:   "openrouter",
			Model:      "qwen/qwen3-235b-a22b-2507",
			MaxRetries: 3,
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
		},
		Tokenizer:      "cl100k_base",
		MaxChunkTokens: 2056,
		ChunkOverlap:   205,
		Extraction: ExtractionConfig{
			EntityTypes:         append([]string(nil), extract.DefaultEntityTypes...),
			TupleDelimiter:      extract.DefaultTupleDelimiter,
			RecordDelimiter:     extract.DefaultRecordDelimiter,
			CompletionDelimiter: extract.DefaultCompletionDelimiter,
			SystemPrompt:        extract.DefaultSystemPrompt,
			ContextAccumulation: true,
			EndpointPolicy:      string(extract.EndpointStore),
		},
		Concurrency:  4,
		Conflicts:    graph.DefaultPolicies(),
		EmbeddingDim: 768,
		Redis:        RedisConfig{Prefix: "nexus:lock:", LockTTL: 30 * time.Second},
		Log:          LogConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig and applies NEXUS_*
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from NEXUS_* environment variables.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = b
		}
	}

	str("NEXUS_DB_PATH", &c.DBPath)
	str("NEXUS_CHAT_PROVIDER", &c.Chat.Provider)
	str("NEXUS_CHAT_MODEL", &c.Chat.Model)
	str("NEXUS_CHAT_BASE_URL", &c.Chat.BaseURL)
	str("NEXUS_CHAT_API_KEY", &c.Chat.APIKey)
	str("NEXUS_EMBED_PROVIDER", &c.Embedding.Provider)
	str("NEXUS_EMBED_MODEL", &c.Embedding.Model)
	str("NEXUS_EMBED_BASE_URL", &c.Embedding.BaseURL)
	str("NEXUS_EMBED_API_KEY", &c.Embedding.APIKey)
	str("NEXUS_TOKENIZER", &c.Tokenizer)
	num("NEXUS_MAX_CHUNK_TOKENS", &c.MaxChunkTokens)
	num("NEXUS_CHUNK_OVERLAP", &c.ChunkOverlap)
	num("NEXUS_CONCURRENCY", &c.Concurrency)
	num("NEXUS_EMBEDDING_DIM", &c.EmbeddingDim)
	flag("NEXUS_EMBED_ENTITIES", &c.EmbedEntities)
	flag("NEXUS_CASCADE_DELETE", &c.Conflicts.CascadeDelete)
	str("NEXUS_REDIS_ADDR", &c.Redis.Addr)
	str("NEXUS_NEO4J_URI", &c.Neo4j.URI)
	str("NEXUS_NEO4J_USER", &c.Neo4j.User)
	str("NEXUS_NEO4J_PASSWORD", &c.Neo4j.Password)
	str("NEXUS_LOG_LEVEL", &c.Log.Level)
	str("NEXUS_LOG_FORMAT", &c.Log.Format)

	if v, ok := os.LookupEnv("NEXUS_COLLISION_POLICY"); ok {
		c.Conflicts.Collision = graph.CollisionPolicy(v)
	}
	if v, ok := os.LookupEnv("NEXUS_MERGE_POLICY"); ok {
		c.Conflicts.Merge = graph.MergePolicy(v)
	}
	if v, ok := os.LookupEnv("NEXUS_ENDPOINT_POLICY"); ok {
		c.Extraction.EndpointPolicy = v
	}
	if v, ok := os.LookupEnv("NEXUS_ENTITY_TYPES"); ok {
		c.Extraction.EntityTypes = splitList(v)
	}
	if v, ok := os.LookupEnv("NEXUS_REQUESTS_PER_SECOND"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, "NEXUS_REQUESTS_PER_SECOND")
		} else {
			c.RequestsPerSecond = f
		}
	}

	// Provider-specific keys, as the hosted backends name them.
	if c.Chat.APIKey == "" {
		switch c.Chat.Provider {
		case "openai":
			c.Chat.APIKey = os.Getenv("OPENAI_API_KEY")
		case "openrouter":
			c.Chat.APIKey = os.Getenv("OPENROUTER_API_KEY")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: malformed environment values: %s", ErrInvalidConfig, strings.Join(errs, ", "))
	}
	return nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.MaxChunkTokens <= 0 {
		problems = append(problems, "max_chunk_tokens must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.MaxChunkTokens {
		problems = append(problems, "chunk_overlap must be in [0, max_chunk_tokens)")
	}
	if c.Concurrency < 1 {
		problems = append(problems, "concurrency must be at least 1")
	}
	if c.RequestsPerSecond < 0 {
		problems = append(problems, "requests_per_second must not be negative")
	}
	if c.EmbeddingDim <= 0 {
		problems = append(problems, "embedding_dim must be positive")
	}
	if len(c.Extraction.EntityTypes) == 0 {
		problems = append(problems, "extraction.entity_types must not be empty")
	}
	if err := c.Extraction.Delimiters().Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := extract.ParseEndpointPolicy(c.Extraction.EndpointPolicy); err != nil {
		problems = append(problems, err.Error())
	}
	if err := c.Conflicts.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "nexus"
	}

	switch c.StorageDir {
	case "", ".":
		return name + ".db"
	case "home":
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".nexus", name+".db")
	default:
		return filepath.Join(c.StorageDir, name+".db")
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
