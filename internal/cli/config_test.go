package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MARKXIV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.False(t, cfg.Cache.DiskEnabled())
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MARKXIV_CACHE_DISK_CAP_BYTES", "1048576")
	t.Setenv("MARKXIV_SOURCE_TIMEOUT", "7s")
	t.Setenv("MARKXIV_SERVER_ADDR", "127.0.0.1:9000")

	cfg, err := loadConfig(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, int64(1048576), cfg.Cache.DiskCapBytes)
	assert.True(t, cfg.Cache.DiskEnabled())
	assert.Equal(t, 7*time.Second, cfg.Source.Timeout)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

func TestLoadConfigVerboseForcesDebug(t *testing.T) {
	v := newTestViper()
	v.Set("verbose", true)

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, writeDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# markxiv configuration file"))

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Contains(t, parsed, "server")
	assert.Contains(t, parsed, "cache")
	assert.NotContains(t, parsed, "verbose")

	src, ok := parsed["source"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "15s", src["timeout"])

	// reading it back yields the same config as the defaults
	v := newTestViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	fromFile, err := loadConfig(v)
	require.NoError(t, err)
	defaults, err := loadConfig(newTestViper())
	require.NoError(t, err)
	assert.Equal(t, defaults, fromFile)

	err = writeDefaultConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "MARKXIV_CACHE_DISK_CAP_BYTES", envName("cache.disk_cap_bytes"))
	assert.Equal(t, "MARKXIV_VERBOSE", envName("verbose"))
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.0 KiB", humanBytes(1024))
	assert.Equal(t, "1.5 MiB", humanBytes(1536*1024))
}
