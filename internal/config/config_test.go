package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.TopImageCount)
	assert.Equal(t, 100, cfg.FetchBatchSize)
	assert.Equal(t, 4, cfg.DownloadThreads)
	assert.Equal(t, 1, cfg.ConcurrentDownloads)
	assert.True(t, cfg.DownloadModel)
	assert.True(t, cfg.DownloadImages)
	assert.False(t, cfg.DownloadNsfw)
	assert.True(t, cfg.CreateHtml)
	assert.False(t, cfg.AutoOpenHtml)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
comfy_path = "/data/comfy"
api_key = "secret"
top_image_count = 4
download_nsfw = true
download_threads = 8
create_html = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/comfy", cfg.ComfyPath)
	assert.Equal(t, "secret", cfg.ApiKey)
	assert.Equal(t, 4, cfg.TopImageCount)
	assert.True(t, cfg.DownloadNsfw)
	assert.Equal(t, 8, cfg.DownloadThreads)
	assert.False(t, cfg.CreateHtml)
	// Untouched keys keep their defaults.
	assert.Equal(t, 100, cfg.FetchBatchSize)
	assert.True(t, cfg.DownloadModel)
}

func TestLoadConfigInvalidValuesClamped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("download_threads = -2\ntop_image_count = 0\n"), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.DownloadThreads)
	assert.Equal(t, 9, cfg.TopImageCount)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("comfy_path = [broken"), 0600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
