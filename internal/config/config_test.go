package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpipe/docpipe/internal/chunk"
	pipeerrors "github.com/docpipe/docpipe/internal/errors"
	"github.com/docpipe/docpipe/internal/search"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docpipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ProviderOllama, cfg.Embedding.Provider)
	assert.Equal(t, chunk.StrategySentence, cfg.Chunking.Strategy)
	assert.Equal(t, search.NormalizeMinMax, cfg.Retrieval.Normalization)
	assert.False(t, cfg.Rerank.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: /tmp/docpipe-test
chunking:
  strategy: token
  target_size: 256
  overlap: 16
retrieval:
  vector_weight: 0.8
  lexical_weight: 0.2
  timeout: 10s
rerank:
  enabled: true
  top_n: 30
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/docpipe-test", cfg.Storage.DataDir)
	assert.Equal(t, chunk.StrategyToken, cfg.Chunking.Strategy)
	assert.Equal(t, 256, cfg.Chunking.TargetSize)
	assert.Equal(t, 0.8, cfg.Retrieval.VectorWeight)
	assert.Equal(t, 10*time.Second, cfg.Retrieval.TimeoutDuration())
	assert.True(t, cfg.Rerank.Enabled)
	assert.Equal(t, 30, cfg.Rerank.TopN)

	// Untouched fields keep their defaults.
	assert.Equal(t, ProviderOllama, cfg.Embedding.Provider)
	assert.Equal(t, search.DefaultTopKVector, cfg.Retrieval.TopKVector)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeConfigNotFound, pipeerrors.GetCode(err))
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	path := writeConfig(t, "storage: [not a map")
	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeConfigInvalid, pipeerrors.GetCode(err))
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
retrieval:
  vector_weight: 0.5
  lexical_weight: 0.5
`)
	t.Setenv("DOCPIPE_VECTOR_WEIGHT", "0.9")
	t.Setenv("DOCPIPE_OLLAMA_HOST", "http://embed-host:11434")
	t.Setenv("DOCPIPE_RERANK_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Retrieval.VectorWeight)
	assert.Equal(t, "http://embed-host:11434", cfg.Embedding.Host)
	assert.True(t, cfg.Rerank.Enabled)
}

func TestValidate_BothWeightsZero(t *testing.T) {
	cfg := Default()
	cfg.Retrieval.VectorWeight = 0
	cfg.Retrieval.LexicalWeight = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeInvalidWeights, pipeerrors.GetCode(err))
}

func TestValidate_BadChunking(t *testing.T) {
	cfg := Default()
	cfg.Chunking.Strategy = "semantic"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, pipeerrors.ErrCodeConfigInvalid, pipeerrors.GetCode(err))
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.Embedding.Provider = "openai"
	assert.Error(t, cfg.Validate())
}

func TestValidate_BadDuration(t *testing.T) {
	cfg := Default()
	cfg.Retrieval.Timeout = "five seconds"
	assert.Error(t, cfg.Validate())
}

func TestStoragePaths(t *testing.T) {
	s := StorageConfig{DataDir: "/data"}
	assert.Equal(t, filepath.Join("/data", "docpipe.db"), s.MetadataPath())
	assert.Equal(t, filepath.Join("/data", "vectors.hnsw"), s.VectorIndexPath())
	assert.Equal(t, filepath.Join("/data", "lexical.bleve"), s.LexicalIndexPath())
	assert.Equal(t, filepath.Join("/data", ".writer.lock"), s.LockPath())
}

func TestRetrievalDefaults_Conversion(t *testing.T) {
	cfg := Default()
	cfg.Rerank.Enabled = true

	rc := cfg.RetrievalDefaults()
	assert.Equal(t, cfg.Retrieval.TopKVector, rc.TopKVector)
	assert.Equal(t, search.DefaultWeights(), rc.Weights)
	assert.True(t, rc.Rerank)
	assert.Equal(t, 2*time.Second, rc.RerankBudget)
}
