package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
layout:
  data_dir: /tmp/kartka
  scan_dir: /tmp/kartka/scans
  credentials: /tmp/kartka/credentials.json
search:
  collection_name: kartka
  bucket_name: letters
  password: SecretPassword
store:
  root_folder: kartka-docs
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kartka.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "sonic", cfg.Search.Backend)
	assert.Equal(t, 1491, cfg.Search.Port)
	assert.Equal(t, "kartka-docs", cfg.Store.RootFolder)
	assert.Equal(t, "drive.google.com", cfg.Store.LinkHost)
	assert.Equal(t, float64(100), cfg.Hydrate.DPI)
	assert.Equal(t, 4, cfg.RetryPolicy().Attempts)
	assert.Equal(t, "/tmp/kartka/journal", cfg.JournalPath())
}

func TestLoadNamesMissingKey(t *testing.T) {
	body := `
layout:
  data_dir: /tmp/kartka
  scan_dir: /tmp/kartka/scans
  credentials: /tmp/kartka/credentials.json
search:
  bucket_name: letters
  password: SecretPassword
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)

	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "search", cerr.Section)
	assert.Equal(t, "collection_name", cerr.Key)
	assert.Contains(t, err.Error(), "search.collection_name is missing")
}

func TestElasticsearchBackendNeedsAddresses(t *testing.T) {
	body := validYAML + "\n" + `ocr:
  workers: 2
`
	path := writeConfig(t, body)
	t.Setenv("KARTKA_SEARCH_BACKEND", "elasticsearch")

	_, err := Load(path)
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "addresses", cerr.Key)

	t.Setenv("KARTKA_SEARCH_ADDRESSES", "http://localhost:9200")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.Search.Addresses)
	assert.Equal(t, 2, cfg.OCR.Workers)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KARTKA_SEARCH_PASSWORD", "from-env")
	t.Setenv("KARTKA_HYDRATE_WORKERS", "3")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Search.Password)
	assert.Equal(t, 3, cfg.Hydrate.Workers)
}

func TestBadEnvOverride(t *testing.T) {
	t.Setenv("KARTKA_OCR_WORKERS", "many")

	_, err := Load(writeConfig(t, validYAML))
	var cerr *ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "ocr", cerr.Section)
}

func TestUnreadableFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cerr *ConfigurationError
	assert.True(t, errors.As(err, &cerr))
}

func TestInvalidBackend(t *testing.T) {
	t.Setenv("KARTKA_OCR_BACKEND", "tesseract")

	_, err := Load(writeConfig(t, validYAML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr.backend must be one of [vision documentai]")
}
