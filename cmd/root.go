package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jacokyle01/analysis-bridge/internal/bridge"
	"github.com/jacokyle01/analysis-bridge/internal/config"
	"github.com/jacokyle01/analysis-bridge/internal/log"
)

var (
	version = "dev"
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "analysis-bridge",
	Short: "Stream live UCI engine analysis to a single WebSocket client",
	Long: `analysis-bridge runs a UCI chess engine and relays its multi-variation
analysis to one connected client. The client sends {"type":"analyze","fen":...}
and {"type":"stop"}; every engine update is broadcast back with scores shown
from white's point of view.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ./"+config.FileName+".yaml)")

	flags := rootCmd.Flags()
	flags.StringP("listen", "l", "", "address to serve WebSocket clients on")
	flags.StringP("engine", "e", "", "path to the UCI engine executable")
	flags.Int("multipv", 0, "number of variations the engine reports")
	flags.Bool("status-ui", false, "show the terminal status display")
	bindFlags(flags, map[string]string{
		"listen":    "listen",
		"engine":    "engine.path",
		"multipv":   "engine.multipv",
		"status-ui": "status_ui",
	})

	rootCmd.AddCommand(initConfigCmd)
}

func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}

	// The status display owns the terminal.
	var out io.Writer = os.Stderr
	if cfg.StatusUI {
		out = io.Discard
	}
	cleanup, err := log.Init(log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Output: out,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bridge.New(cfg)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	return b.Run(ctx)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(ver string) {
	version = ver
	rootCmd.Version = ver
}
