package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplehardware/maze-replay-go/internal/config"
	"github.com/simplehardware/maze-replay-go/internal/replay"
	"github.com/simplehardware/maze-replay-go/internal/source"
)

// app carries what every subcommand needs once flags are parsed
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:          "mazereplay",
		Short:        "Decode, inspect and play back recorded maze games",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger, err := initLogger(cfg.Logging)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "config/config.yaml", "path to configuration file")

	cmd.AddCommand(
		newInspectCommand(a),
		newCompactCommand(a),
		newPlayCommand(a),
		newServeCommand(a),
	)
	return cmd
}

// loadFile decodes a replay file given on the command line. Game lookups are not
// available outside serve.
func (a *app) loadFile(ctx context.Context, path string) (*replay.Replay, error) {
	loader, err := source.NewLoader(a.cfg.Source, nil, a.logger)
	if err != nil {
		return nil, err
	}
	return loader.LoadFile(ctx, path)
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
