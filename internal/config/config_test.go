package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func Test_Load_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 200, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, "hashing", cfg.Embedder.Type)
	assert.Equal(t, 384, cfg.Embedder.Dimension)
	assert.Equal(t, "hashing-384", cfg.Embedder.Model)
	assert.Equal(t, "extractive", cfg.Generator.Type)
	assert.Equal(t, filepath.Join("data", "faiss_indexes"), cfg.Index.Dir)
	assert.Equal(t, filepath.Join("data", "book.pdf"), cfg.Document.Path)
	require.NoError(t, cfg.Validate())
}

func Test_Load_AppliesProviderDefaults(t *testing.T) {
	path := writeConfig(t, `
embedder:
  type: openai
generator:
  type: openai
retrieval:
  top_k: 3
  min_score: 0.7
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1", cfg.Embedder.BaseURL)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.APIKeyEnv)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedder.Model)
	assert.Equal(t, "https://api.groq.com/openai/v1", cfg.Generator.BaseURL)
	assert.Equal(t, "GROQ_API_KEY", cfg.Generator.APIKeyEnv)
	assert.Equal(t, "mixtral-8x7b-32768", cfg.Generator.Model)
	assert.InDelta(t, 0.7, cfg.Generator.Temperature, 1e-6)
	assert.Equal(t, 1024, cfg.Generator.MaxTokens)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.7, cfg.Retrieval.MinScore, 1e-9)
	// untouched sections keep their defaults
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
}

func Test_Load_RejectsInvalid(t *testing.T) {
	var cases = map[string]string{
		"overlap >= size":   "chunker:\n  chunk_size: 10\n  chunk_overlap: 10\n",
		"negative overlap":  "chunker:\n  chunk_overlap: -1\n",
		"negative top_k":    "retrieval:\n  top_k: -2\n",
		"min_score range":   "retrieval:\n  min_score: 1.5\n",
		"unknown embedder":  "embedder:\n  type: word2vec\n",
		"unknown generator": "generator:\n  type: markov\n",
		"bad yaml":          "chunker: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func Test_SaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Retrieval.TopK = 9
	cfg.Index.Dir = "/var/lib/bookrag"
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
