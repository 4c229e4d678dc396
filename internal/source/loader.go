package source

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/simplehardware/maze-replay-go/internal/config"
	"github.com/simplehardware/maze-replay-go/internal/metrics"
	"github.com/simplehardware/maze-replay-go/internal/replay"
)

var (
	// ErrInvalidPath is returned for replay names that escape the replay directory
	ErrInvalidPath = errors.New("invalid replay path")
	// ErrGamesUnavailable is returned by LoadGame when no results database is configured
	ErrGamesUnavailable = errors.New("game lookup is not configured")
)

// GameLookup resolves a game id to the location of its recorded payload
type GameLookup interface {
	ReplayPath(ctx context.Context, id int64) (string, error)
}

// Loader reads, validates and decodes replays from disk or by game id
type Loader struct {
	decoder   *replay.Decoder
	validator *Validator
	games     GameLookup
	replayDir string
	maxBytes  int64
	logger    *zap.Logger
}

// NewLoader creates a loader. games may be nil, in which case LoadGame is unavailable.
func NewLoader(cfg config.SourceConfig, games GameLookup, logger *zap.Logger) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Loader{
		decoder:   replay.NewDecoder(logger),
		games:     games,
		replayDir: cfg.ReplayDir,
		maxBytes:  cfg.MaxPayloadBytes,
		logger:    logger,
	}

	if cfg.ValidateSchema {
		v, err := NewValidator()
		if err != nil {
			return nil, err
		}
		l.validator = v
	}

	return l, nil
}

// LoadFile reads and decodes the replay at path
func (l *Loader) LoadFile(ctx context.Context, path string) (*replay.Replay, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := ReadFile(path, l.maxBytes)
	if err != nil {
		metrics.ObserveDecode(metrics.ResultError, 0, time.Since(start))
		return nil, err
	}

	rep, err := l.decode(data)
	l.observe(path, rep, err, time.Since(start))
	return rep, err
}

// LoadNamed loads a replay by its name relative to the replay directory
func (l *Loader) LoadNamed(ctx context.Context, name string) (*replay.Replay, error) {
	path, err := l.Resolve(name)
	if err != nil {
		return nil, err
	}
	return l.LoadFile(ctx, path)
}

// LoadGame looks up a game result and loads its recorded replay
func (l *Loader) LoadGame(ctx context.Context, id int64) (*replay.Replay, error) {
	if l.games == nil {
		return nil, ErrGamesUnavailable
	}

	path, err := l.games.ReplayPath(ctx, id)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.replayDir, path)
	}

	l.logger.Debug("resolved game replay", zap.Int64("game_id", id), zap.String("path", path))
	return l.LoadFile(ctx, path)
}

// Decode validates and decodes an in-memory payload
func (l *Loader) Decode(data []byte) (*replay.Replay, error) {
	start := time.Now()
	rep, err := l.decode(data)
	l.observe("", rep, err, time.Since(start))
	return rep, err
}

// Resolve maps a replay name to a path inside the replay directory
func (l *Loader) Resolve(name string) (string, error) {
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return filepath.Join(l.replayDir, name), nil
}

func (l *Loader) decode(data []byte) (*replay.Replay, error) {
	if l.validator != nil {
		if err := l.validator.Validate(data); err != nil {
			return nil, err
		}
	}
	return l.decoder.DecodePayload(data)
}

func (l *Loader) observe(path string, rep *replay.Replay, err error, elapsed time.Duration) {
	switch {
	case err == nil:
		metrics.ObserveDecode(metrics.ResultOK, rep.Timeline.Len(), elapsed)
		l.logger.Info("replay loaded",
			zap.String("path", path),
			zap.String("maze", rep.MazeName),
			zap.Int("turns", rep.Timeline.Len()),
			zap.Duration("elapsed", elapsed),
		)
	case errors.Is(err, replay.ErrMalformedReplay):
		metrics.ObserveDecode(metrics.ResultMalformed, 0, elapsed)
		l.logger.Warn("rejected malformed replay", zap.String("path", path), zap.Error(err))
	default:
		metrics.ObserveDecode(metrics.ResultError, 0, elapsed)
		l.logger.Error("failed to load replay", zap.String("path", path), zap.Error(err))
	}
}
