package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_WithoutFile_ShouldUseDefaults(t *testing.T) {
	// given
	path := filepath.Join(t.TempDir(), "missing.yaml")

	// when
	config, err := loadConfigFrom(path)

	// then
	require.NoError(t, err)
	assert.Equal(t, ":8080", config.Server.Address)
	assert.Equal(t, 10*time.Second, config.Server.ShutdownTimeout)
	assert.Equal(t, "./data/uploads", config.Storage.UploadDir)
	assert.Equal(t, int64(16*1024*1024), config.Storage.MaxChunkSize)
	assert.Equal(t, 4, config.Upload.MaxConcurrentJobs)
	assert.Equal(t, 100*time.Millisecond, config.Upload.ProgressInterval)
	assert.Equal(t, 1024*1024, config.Upload.BufferSize)
	assert.Equal(t, time.Hour, config.Upload.JobRetention)
	assert.Empty(t, config.Database.URL)
	assert.Equal(t, []string{"http://localhost:*"}, config.AllowedOrigins)
}

func TestLoadConfig_WithFile_ShouldOverrideDefaults(t *testing.T) {
	// given
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  address: ":9090"
storage:
  upload_dir: /var/lib/ingest
upload:
  max_concurrent_jobs: 2
  job_retention: 30m
allowed_origins:
  - https://logs.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	// when
	config, err := loadConfigFrom(path)

	// then
	require.NoError(t, err)
	assert.Equal(t, ":9090", config.Server.Address)
	assert.Equal(t, "/var/lib/ingest", config.Storage.UploadDir)
	assert.Equal(t, 2, config.Upload.MaxConcurrentJobs)
	assert.Equal(t, 30*time.Minute, config.Upload.JobRetention)
	assert.Equal(t, 100*time.Millisecond, config.Upload.ProgressInterval)
	assert.Equal(t, []string{"https://logs.example.com"}, config.AllowedOrigins)
}

func TestLoadConfig_WithEnvironment_ShouldOverrideFile(t *testing.T) {
	// given
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  upload_dir: /from/file\n"), 0644))
	t.Setenv("INGEST_STORAGE_UPLOAD_DIR", "/from/env")
	t.Setenv("INGEST_UPLOAD_MAX_CONCURRENT_JOBS", "8")

	// when
	config, err := loadConfigFrom(path)

	// then
	require.NoError(t, err)
	assert.Equal(t, "/from/env", config.Storage.UploadDir)
	assert.Equal(t, 8, config.Upload.MaxConcurrentJobs)
}

func TestLoadConfig_WithInvalidValues_ShouldFail(t *testing.T) {
	// given
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upload:\n  buffer_size: 0\n"), 0644))

	// when
	_, err := loadConfigFrom(path)

	// then
	assert.Error(t, err)
}
