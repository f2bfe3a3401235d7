// Package config loads bridge settings from defaults, an optional YAML
// file, a .env file and BRIDGE_* environment variables, in increasing order
// of precedence. Command-line flags bound to the same viper instance win
// over all of them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jacokyle01/analysis-bridge/internal/tracing"
)

// EnvPrefix namespaces environment overrides, e.g. BRIDGE_ENGINE_PATH.
const EnvPrefix = "BRIDGE"

// FileName is the config file looked up when no path is given.
const FileName = "analysis-bridge"

// Config is the full bridge configuration.
type Config struct {
	Listen   string         `mapstructure:"listen" yaml:"listen"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Session  SessionConfig  `mapstructure:"session" yaml:"session"`
	Shutdown ShutdownConfig `mapstructure:"shutdown" yaml:"shutdown"`
	Recall   RecallConfig   `mapstructure:"recall" yaml:"recall"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Tracing  tracing.Config `mapstructure:"tracing" yaml:"tracing"`
	StatusUI bool           `mapstructure:"status_ui" yaml:"status_ui"`
}

// EngineConfig describes the engine executable and its startup options.
type EngineConfig struct {
	Path        string            `mapstructure:"path" yaml:"path"`
	Args        []string          `mapstructure:"args" yaml:"args"`
	MultiPV     int               `mapstructure:"multipv" yaml:"multipv"`
	GracePeriod time.Duration     `mapstructure:"grace_period" yaml:"grace_period"`
	Options     map[string]string `mapstructure:"options" yaml:"options"`
}

type SessionConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

type ShutdownConfig struct {
	// Timeout bounds each shutdown step separately.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type RecallConfig struct {
	// TTL of remembered snapshots; 0 disables recall.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Listen: "127.0.0.1:8080",
		Engine: EngineConfig{
			Path:        "stockfish",
			Args:        []string{},
			MultiPV:     4,
			GracePeriod: 3 * time.Second,
			Options:     map[string]string{},
		},
		Session: SessionConfig{
			SendBuffer:   64,
			WriteTimeout: 5 * time.Second,
		},
		Shutdown: ShutdownConfig{Timeout: 5 * time.Second},
		Recall:   RecallConfig{TTL: 2 * time.Minute},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// SetDefaults registers every default with v so that environment variables
// can override nested keys.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("listen", d.Listen)
	v.SetDefault("engine.path", d.Engine.Path)
	v.SetDefault("engine.args", d.Engine.Args)
	v.SetDefault("engine.multipv", d.Engine.MultiPV)
	v.SetDefault("engine.grace_period", d.Engine.GracePeriod)
	v.SetDefault("engine.options", d.Engine.Options)
	v.SetDefault("session.send_buffer", d.Session.SendBuffer)
	v.SetDefault("session.write_timeout", d.Session.WriteTimeout)
	v.SetDefault("shutdown.timeout", d.Shutdown.Timeout)
	v.SetDefault("recall.ttl", d.Recall.TTL)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("status_ui", d.StatusUI)
}

// Load reads configuration into v and decodes it. An explicit path must
// exist; otherwise FileName.yaml is looked up in the working directory and
// the user config directory, and its absence is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, FileName))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.Engine.Path == "" {
		errs = append(errs, errors.New("engine.path is required"))
	}
	if c.Engine.MultiPV < 1 {
		errs = append(errs, fmt.Errorf("engine.multipv must be at least 1, got %d", c.Engine.MultiPV))
	}
	if c.Engine.GracePeriod <= 0 {
		errs = append(errs, errors.New("engine.grace_period must be positive"))
	}
	if c.Session.SendBuffer < 1 {
		errs = append(errs, errors.New("session.send_buffer must be at least 1"))
	}
	if c.Session.WriteTimeout <= 0 {
		errs = append(errs, errors.New("session.write_timeout must be positive"))
	}
	if c.Shutdown.Timeout <= 0 {
		errs = append(errs, errors.New("shutdown.timeout must be positive"))
	}
	if c.Recall.TTL < 0 {
		errs = append(errs, errors.New("recall.ttl must not be negative"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	switch c.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("tracing.exporter must be none, stdout or otlp, got %q", c.Tracing.Exporter))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

const defaultHeader = `# analysis-bridge configuration
#
# Every key can be overridden with an environment variable, for example
# BRIDGE_ENGINE_PATH=/usr/local/bin/stockfish or BRIDGE_LOG_LEVEL=debug.
# engine.options are sent as "setoption name <key> value <value>" at startup.

`

// WriteDefault writes the default configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if _, err := f.WriteString(defaultHeader); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Close()
}
