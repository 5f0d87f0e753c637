package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	l := &Loader{v: viper.New()}
	l.v.AddConfigPath(t.TempDir())

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Head.NumClasses, cfg.Head.NumClasses)
	assert.Equal(t, "localhost", cfg.Server.Host)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raydet.yaml")
	data := []byte(`
log_level: debug
head:
  use_fourier: true
  num_coe: 12
  decode_coe: 6
server:
  port: 9090
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	l := &Loader{v: viper.New()}
	l.SetConfigFile(path)

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Head.UseFourier)
	assert.Equal(t, 12, cfg.Head.NumCoe)
	assert.Equal(t, 6, cfg.Head.DecodeCoe)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Untouched keys keep defaults.
	assert.Equal(t, 36, cfg.Head.ContourPoints)
}

func TestLoad_ExplicitFileWinsOverSearchPath(t *testing.T) {
	searchDir := t.TempDir()
	searchFile := filepath.Join(searchDir, "raydet.yaml")
	require.NoError(t, os.WriteFile(searchFile, []byte("server:\n  port: 1111\n"), 0o600))

	explicit := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("server:\n  port: 2222\n"), 0o600))

	l := &Loader{v: viper.New()}
	l.v.AddConfigPath(searchDir)
	l.SetConfigFile(explicit)

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 2222, cfg.Server.Port)
}

func TestLoadWithFile_MissingFile(t *testing.T) {
	l := &Loader{v: viper.New()}

	_, err := l.LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "raydet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("head:\n  contour_points: 7\n"), 0o600))

	l := &Loader{v: viper.New()}
	l.SetConfigFile(path)

	_, err := l.Load()
	require.Error(t, err)
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("RAYDET_SERVER_PORT", "4567")

	l := &Loader{v: viper.New()}
	l.v.AddConfigPath(t.TempDir())

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 4567, cfg.Server.Port)
}
