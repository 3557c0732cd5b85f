package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scholar/internal/config"
)

func TestLoadConfig(t *testing.T) {
	os.Setenv("DB_HOST", "test-host")
	defer os.Unsetenv("DB_HOST")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.MaxTokensPerChunk)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 0.6, cfg.RelevanceThreshold)
	assert.Equal(t, "gpt-4.1-mini", cfg.OpenAIModel)
	assert.Equal(t, float32(0.7), cfg.Temperature)
	assert.True(t, cfg.EnableWebSearch)
	assert.Equal(t, 10, cfg.MaxSearchResults)
	assert.Equal(t, config.IndexWeaviate, cfg.IndexBackend)
	assert.Equal(t, config.QueueNSQ, cfg.QueueMode)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	content := []byte("DB_HOST=loaded-from-file")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")
	defer os.Unsetenv("DB_HOST")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
}

func TestLoadConfig_Pipeline(t *testing.T) {
	os.Setenv("MAX_TOKENS_PER_CHUNK", "500")
	os.Setenv("CHUNK_OVERLAP", "50")
	os.Setenv("ENABLE_WEB_SEARCH", "false")
	os.Setenv("INDEX_BACKEND", "memory")
	os.Setenv("SEARCH_EXCLUSIONS", `youtube\.com,facebook\.com`)
	defer os.Unsetenv("MAX_TOKENS_PER_CHUNK")
	defer os.Unsetenv("CHUNK_OVERLAP")
	defer os.Unsetenv("ENABLE_WEB_SEARCH")
	defer os.Unsetenv("INDEX_BACKEND")
	defer os.Unsetenv("SEARCH_EXCLUSIONS")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.MaxTokensPerChunk)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.False(t, cfg.EnableWebSearch)
	assert.Equal(t, config.IndexMemory, cfg.IndexBackend)
	assert.Equal(t, []string{`youtube\.com`, `facebook\.com`}, cfg.SearchExclusions)
}

func TestLoadConfig_RejectsOverlap(t *testing.T) {
	os.Setenv("MAX_TOKENS_PER_CHUNK", "100")
	os.Setenv("CHUNK_OVERLAP", "100")
	defer os.Unsetenv("MAX_TOKENS_PER_CHUNK")
	defer os.Unsetenv("CHUNK_OVERLAP")

	cfg, err := config.Load()
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, config.ErrInvalid)
}
