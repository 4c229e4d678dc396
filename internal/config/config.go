package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. MAZEREPLAY_LOGGING_LEVEL
const EnvPrefix = "MAZEREPLAY"

// Config is the full application configuration
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Source   SourceConfig   `mapstructure:"source"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PlaybackConfig holds viewer playback defaults
type PlaybackConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// Speeds are the multipliers a viewer may pick from
	Speeds []float64 `mapstructure:"speeds"`
}

// SourceConfig controls where replay payloads are read from
type SourceConfig struct {
	ReplayDir       string `mapstructure:"replay_dir"`
	ValidateSchema  bool   `mapstructure:"validate_schema"`
	MaxPayloadBytes int64  `mapstructure:"max_payload_bytes"`
}

// DatabaseConfig points at the game results database. An empty URL disables game lookups.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ServerConfig groups the listeners started by the serve command
type ServerConfig struct {
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type WebSocketConfig struct {
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

type GRPCConfig struct {
	Address string `mapstructure:"address"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from path, applies environment overrides and validates the
// result. A missing file is not an error; defaults and environment are used instead.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment is present
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("playback.interval", time.Second)
	v.SetDefault("playback.speeds", []float64{0.5, 1, 2, 4})

	v.SetDefault("source.replay_dir", "replays")
	v.SetDefault("source.validate_schema", true)
	v.SetDefault("source.max_payload_bytes", int64(64<<20))

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", int32(4))

	v.SetDefault("server.websocket.address", ":8080")
	v.SetDefault("server.websocket.path", "/ws")
	v.SetDefault("server.grpc.address", ":9090")
	v.SetDefault("server.metrics.enabled", true)
	v.SetDefault("server.metrics.address", ":9100")
	v.SetDefault("server.metrics.path", "/metrics")
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}

	if c.Playback.Interval <= 0 {
		return fmt.Errorf("playback interval must be positive, got %s", c.Playback.Interval)
	}
	for _, speed := range c.Playback.Speeds {
		if speed <= 0 {
			return fmt.Errorf("playback speed must be positive, got %g", speed)
		}
	}

	if c.Source.MaxPayloadBytes <= 0 {
		return fmt.Errorf("source max_payload_bytes must be positive, got %d", c.Source.MaxPayloadBytes)
	}
	if c.Database.URL != "" && c.Database.MaxConns <= 0 {
		return fmt.Errorf("database max_conns must be positive, got %d", c.Database.MaxConns)
	}

	if c.Server.WebSocket.Path == "" || !strings.HasPrefix(c.Server.WebSocket.Path, "/") {
		return fmt.Errorf("websocket path must start with /, got %q", c.Server.WebSocket.Path)
	}
	if c.Server.Metrics.Enabled && !strings.HasPrefix(c.Server.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /, got %q", c.Server.Metrics.Path)
	}
	return nil
}

// SpeedAllowed reports whether speed is one of the configured multipliers.
// An empty list allows any positive speed.
func (c PlaybackConfig) SpeedAllowed(speed float64) bool {
	if speed <= 0 {
		return false
	}
	if len(c.Speeds) == 0 {
		return true
	}
	for _, s := range c.Speeds {
		if s == speed {
			return true
		}
	}
	return false
}
