package directory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.MaxVisible)
	assert.Equal(t, 8, cfg.RotateCount)
	assert.Equal(t, 30*time.Second, cfg.RotateInterval)
	assert.Equal(t, 40, cfg.RecencyHighWater)
	assert.Equal(t, 20, cfg.RecencyTrim)
	assert.Equal(t, 30, cfg.PresenceFanIn)
}

func TestConfigFromEnvOverlays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_visible: 12\nrotate_count: 4\nrotate_interval: 10s\ncollection: profiles_v2\n"), 0o600))
	t.Setenv("DIRECTORY_CONFIG", path)
	t.Setenv("DIRECTORY_ROTATE_COUNT", "6")
	t.Setenv("DIRECTORY_FETCH_TIMEOUT", "3s")
	t.Setenv("DIRECTORY_DEFAULT_LOCALE", "en")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MaxVisible)
	assert.Equal(t, 6, cfg.RotateCount)
	assert.Equal(t, 10*time.Second, cfg.RotateInterval)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "profiles_v2", cfg.Collection)
	assert.Equal(t, "en", cfg.DefaultLocale)
	assert.Equal(t, 40, cfg.RecencyHighWater)
}

func TestConfigFromEnvBadFile(t *testing.T) {
	t.Setenv("DIRECTORY_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := ConfigFromEnv()
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxVisible = 0
	cfg.RecencyTrim = 50
	cfg.RotateInterval = 0
	cfg.Collection = ""
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"max_visible", "recency_trim", "rotate_interval", "collection"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestFetchErrorUnwrap(t *testing.T) {
	err := &FetchError{Primary: ErrNoSource}
	assert.ErrorIs(t, err, ErrNoSource)
	assert.ErrorIs(t, err, ErrEmptyPool)
	assert.Contains(t, err.Error(), "secondary: empty")
}
