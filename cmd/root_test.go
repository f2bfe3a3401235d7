package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"init-config", path})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, Execute())
	require.Contains(t, out.String(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "multipv: 4")
}

func TestFlagsBoundToConfigKeys(t *testing.T) {
	require.NoError(t, rootCmd.Flags().Set("multipv", "7"))
	require.NoError(t, rootCmd.Flags().Set("engine", "/usr/games/stockfish"))
	t.Cleanup(func() {
		_ = rootCmd.Flags().Set("multipv", "0")
		_ = rootCmd.Flags().Set("engine", "")
	})

	require.Equal(t, 7, v.GetInt("engine.multipv"))
	require.Equal(t, "/usr/games/stockfish", v.GetString("engine.path"))
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3")
	require.Equal(t, "1.2.3", rootCmd.Version)
}
