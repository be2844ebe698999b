package nexus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/nexus/graph"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2056, cfg.MaxChunkTokens)
	assert.Equal(t, 205, cfg.ChunkOverlap)
	assert.Equal(t, "openrouter", cfg.Chat.Provider)
	assert.Equal(t, []string{"ORGANIZATION", "GEO", "PERSON"}, cfg.Extraction.EntityTypes)
	assert.Equal(t, graph.CollisionStoreBoth, cfg.Conflicts.Collision)
	assert.Equal(t, graph.MergeAppendDisputed, cfg.Conflicts.Merge)
	assert.False(t, cfg.Conflicts.CascadeDelete)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max tokens", func(c *Config) { c.MaxChunkTokens = 0 }},
		{"overlap not below max", func(c *Config) { c.ChunkOverlap = c.MaxChunkTokens }},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"negative rate", func(c *Config) { c.RequestsPerSecond = -1 }},
		{"no entity types", func(c *Config) { c.Extraction.EntityTypes = nil }},
		{"colliding delimiters", func(c *Config) { c.Extraction.RecordDelimiter = c.Extraction.TupleDelimiter }},
		{"empty delimiter", func(c *Config) { c.Extraction.CompletionDelimiter = "" }},
		{"unknown endpoint policy", func(c *Config) { c.Extraction.EndpointPolicy = "lenient" }},
		{"unknown collision policy", func(c *Config) { c.Conflicts.Collision = "ignore" }},
		{"unknown merge policy", func(c *Config) { c.Conflicts.Merge = "overwrite" }},
		{"zero embedding dim", func(c *Config) { c.EmbeddingDim = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /tmp/graph.db
chat:
  provider: local
  model: qwen2.5-7b
  base_url: http://localhost:1234
max_chunk_tokens: 512
chunk_overlap: 50
concurrency: 1
extraction:
  entity_types: [PERSON, PRODUCT]
  endpoint_policy: strict
conflicts:
  collision_policy: hold
  merge_policy: reject
  cascade_delete: true
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/graph.db", cfg.resolveDBPath())
	assert.Equal(t, "local", cfg.Chat.Provider)
	assert.Equal(t, 512, cfg.MaxChunkTokens)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.Equal(t, []string{"PERSON", "PRODUCT"}, cfg.Extraction.EntityTypes)
	assert.Equal(t, "strict", cfg.Extraction.EndpointPolicy)
	assert.Equal(t, graph.CollisionHold, cfg.Conflicts.Collision)
	assert.Equal(t, graph.MergeReject, cfg.Conflicts.Merge)
	assert.True(t, cfg.Conflicts.CascadeDelete)
	// Untouched fields keep their defaults.
	assert.Equal(t, "|", cfg.Extraction.TupleDelimiter)
	assert.Equal(t, "cl100k_base", cfg.Tokenizer)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_chunk_tokens: [1, 2"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	require.NoError(t, os.WriteFile(path, []byte("chunk_overlap: 5000"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NEXUS_DB_PATH", "/data/env.db")
	t.Setenv("NEXUS_CHAT_PROVIDER", "openai")
	t.Setenv("NEXUS_CHAT_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("NEXUS_CONCURRENCY", "8")
	t.Setenv("NEXUS_CASCADE_DELETE", "true")
	t.Setenv("NEXUS_COLLISION_POLICY", "hold")
	t.Setenv("NEXUS_ENTITY_TYPES", "PERSON, GEO ,")
	t.Setenv("NEXUS_REQUESTS_PER_SECOND", "2.5")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "/data/env.db", cfg.DBPath)
	assert.Equal(t, "openai", cfg.Chat.Provider)
	assert.Equal(t, "sk-test", cfg.Chat.APIKey)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.True(t, cfg.Conflicts.CascadeDelete)
	assert.Equal(t, graph.CollisionHold, cfg.Conflicts.Collision)
	assert.Equal(t, []string{"PERSON", "GEO"}, cfg.Extraction.EntityTypes)
	assert.Equal(t, 2.5, cfg.RequestsPerSecond)
}

func TestApplyEnvMalformed(t *testing.T) {
	t.Setenv("NEXUS_CONCURRENCY", "many")
	t.Setenv("NEXUS_EMBED_ENTITIES", "perhaps")

	cfg := DefaultConfig()
	err := cfg.ApplyEnv()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "NEXUS_CONCURRENCY")
	assert.Contains(t, err.Error(), "NEXUS_EMBED_ENTITIES")
}

func TestResolveDBPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit path", Config{DBPath: "/x/y.db", DBName: "ignored"}, "/x/y.db"},
		{"default dir", Config{DBName: "kb", StorageDir: ".nexus"}, filepath.Join(".nexus", "kb.db")},
		{"current dir", Config{DBName: "kb", StorageDir: "."}, "kb.db"},
		{"home", Config{DBName: "kb", StorageDir: "home"}, filepath.Join(home, ".nexus", "kb.db")},
		{"empty name", Config{StorageDir: "/var/lib/nexus"}, "/var/lib/nexus/nexus.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.resolveDBPath())
		})
	}
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger("loud", "json")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewLogger("info", "xml")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
