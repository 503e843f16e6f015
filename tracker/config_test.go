package tracker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 540, cfg.TZOffsetMin())
	assert.Equal(t, 300, cfg.MaxResults)
	assert.Equal(t, 800*time.Millisecond, cfg.Settle)
	assert.Equal(t, 10, cfg.LoadAttempts)
	assert.Equal(t, 3, cfg.Browser.PoolSize)

	assert.Contains(t, cfg.Place.SearchURL, "%s")
	assert.NotEmpty(t, cfg.Place.Selectors.Item)
	assert.NotEmpty(t, cfg.Place.Selectors.Frame)

	assert.True(t, cfg.Blog.HTTPFirst)
	assert.Equal(t, "start", cfg.Blog.PageParam)
	assert.Equal(t, 30, cfg.Blog.PageSize)
	assert.Empty(t, cfg.Blog.Selectors.Frame)
}

func TestLoadConfigFileOverridesKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rankwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
browser:
  pool_size: 5
place:
  selectors:
    item: "li.v2024"
    name: ["span.new_name"]
max_results: 100
`), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	// Overridden values.
	assert.Equal(t, 5, cfg.Browser.PoolSize)
	assert.Equal(t, 100, cfg.MaxResults)
	assert.Equal(t, "li.v2024", cfg.Place.Selectors.Item)
	assert.Equal(t, []string{"span.new_name"}, cfg.Place.Selectors.Name)

	// Untouched sections keep their defaults.
	assert.Equal(t, 540, cfg.TZOffsetMin())
	assert.NotEmpty(t, cfg.Blog.Selectors.Item)
	assert.NotEmpty(t, cfg.Snapshot.HomeURL)
}

func TestLoadConfigFileExplicitUTCOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rankwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timezone_offset_min: 0\n"), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	// An explicit zero means UTC; it must not fall back to the default.
	assert.Equal(t, 0, cfg.TZOffsetMin())
}

func TestLoadConfigFileErrors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("browser: [not a map"), 0o644))
	_, err = LoadConfigFile(bad)
	assert.Error(t, err)
}

func TestSearchURLForEscapesKeyword(t *testing.T) {
	sc := SurfaceConfig{SearchURL: "https://search.example.test?q=%s"}
	assert.Equal(t,
		"https://search.example.test?q=%ED%95%9C%EA%B0%95+%EB%A7%9B%EC%A7%91",
		sc.SearchURLFor("한강 맛집"))
}
