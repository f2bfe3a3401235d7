package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 4, cfg.Engine.MultiPV)
	require.Equal(t, 3*time.Second, cfg.Engine.GracePeriod)
	require.False(t, cfg.StatusUI)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Path = ""
	cfg.Engine.MultiPV = 0
	cfg.Shutdown.Timeout = 0
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"engine.path", "engine.multipv", "shutdown.timeout", "log.format"} {
		require.Contains(t, err.Error(), want)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	requireDefaults(t, cfg)
}

func requireDefaults(t *testing.T, cfg Config) {
	t.Helper()
	d := Defaults()
	require.Equal(t, d.Listen, cfg.Listen)
	require.Equal(t, d.Engine.Path, cfg.Engine.Path)
	require.Empty(t, cfg.Engine.Args)
	require.Empty(t, cfg.Engine.Options)
	require.Equal(t, d.Engine.MultiPV, cfg.Engine.MultiPV)
	require.Equal(t, d.Engine.GracePeriod, cfg.Engine.GracePeriod)
	require.Equal(t, d.Session, cfg.Session)
	require.Equal(t, d.Shutdown, cfg.Shutdown)
	require.Equal(t, d.Recall, cfg.Recall)
	require.Equal(t, d.Log, cfg.Log)
	require.Equal(t, d.Tracing, cfg.Tracing)
	require.Equal(t, d.StatusUI, cfg.StatusUI)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: "0.0.0.0:9000"
engine:
  path: /opt/engines/stockfish
  args: ["--bench-off"]
  multipv: 2
  grace_period: 1500ms
  options:
    Threads: "4"
recall:
  ttl: 0s
log:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.Listen)
	require.Equal(t, "/opt/engines/stockfish", cfg.Engine.Path)
	require.Equal(t, []string{"--bench-off"}, cfg.Engine.Args)
	require.Equal(t, 2, cfg.Engine.MultiPV)
	require.Equal(t, 1500*time.Millisecond, cfg.Engine.GracePeriod)
	// viper folds keys to lower case; UCI option names are case-insensitive.
	require.Equal(t, map[string]string{"threads": "4"}, cfg.Engine.Options)
	require.Zero(t, cfg.Recall.TTL)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, 5*time.Second, cfg.Shutdown.Timeout, "unset keys keep defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  multipv: 2\n"), 0o600))
	t.Setenv("BRIDGE_ENGINE_MULTIPV", "6")
	t.Setenv("BRIDGE_STATUS_UI", "true")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.Equal(t, 6, cfg.Engine.MultiPV)
	require.True(t, cfg.StatusUI)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BRIDGE_ENGINE_PATH=/from/dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("BRIDGE_ENGINE_PATH") })

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.Equal(t, "/from/dotenv", cfg.Engine.Path)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  multipv: 0\n"), 0o600))

	_, err := Load(viper.New(), path)
	require.ErrorContains(t, err, "engine.multipv")
}

func TestWriteDefault_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "analysis-bridge.yaml")
	require.NoError(t, WriteDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "grace_period: 3s")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	requireDefaults(t, cfg)

	require.Error(t, WriteDefault(path), "existing files are not overwritten")
}
