package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/simplehardware/maze-replay-go/internal/config"
)

// ErrGameNotFound is returned when no game result exists for an id
var ErrGameNotFound = errors.New("game not found")

// GameResult is one row of game_results
type GameResult struct {
	ID              int64
	UserID          int64
	BotID           int64
	MazeID          int64
	StepsTaken      int
	ScorePercentage float64
	Completed       bool
	GameDataPath    string
	PlayedAt        time.Time
}

// rowQuerier is the part of pgxpool.Pool the store needs
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// sqlQuerier adapts a database/sql handle to rowQuerier; *sql.Row already has Scan
type sqlQuerier struct {
	db *sql.DB
}

func (q sqlQuerier) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return q.db.QueryRowContext(ctx, query, args...)
}

// Driver identifies the database behind a results URL
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// GameStore looks up recorded games in the results database
type GameStore struct {
	db     rowQuerier
	query  string
	close  func()
	logger *zap.Logger
}

const gameResultColumns = `id, user_id, bot_id, maze_id, steps_taken, score_percentage, completed, game_data_path, played_at`

const (
	selectGameResultPostgres = `SELECT ` + gameResultColumns + `
FROM game_results WHERE id = $1`
	selectGameResultSQLite = `SELECT ` + gameResultColumns + `
FROM game_results WHERE id = ?`
)

// ParseDatabaseURL picks the driver for a results URL. postgres:// and postgresql://
// URLs go to Postgres; sqlite: URLs, file: URLs and bare paths go to SQLite. The
// returned DSN is what the driver expects.
func ParseDatabaseURL(url string) (Driver, string, error) {
	switch {
	case url == "":
		return "", "", errors.New("database url is empty")
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres, url, nil
	case strings.HasPrefix(url, "sqlite://"):
		return DriverSQLite, strings.TrimPrefix(url, "sqlite://"), nil
	case strings.HasPrefix(url, "sqlite:"):
		return DriverSQLite, strings.TrimPrefix(url, "sqlite:"), nil
	case strings.HasPrefix(url, "file:"):
		return DriverSQLite, url, nil
	case strings.Contains(url, "://"):
		return "", "", fmt.Errorf("unsupported database url scheme in %q", url)
	default:
		return DriverSQLite, url, nil
	}
}

// OpenGameStore connects to the results database and verifies the connection
func OpenGameStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*GameStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	driver, dsn, err := ParseDatabaseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if driver == DriverSQLite {
		return openSQLiteStore(ctx, dsn, cfg.MaxConns, logger)
	}
	return openPostgresStore(ctx, dsn, cfg.MaxConns, logger)
}

func openPostgresStore(ctx context.Context, dsn string, maxConns int32, logger *zap.Logger) (*GameStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to game results database",
		zap.String("driver", string(DriverPostgres)),
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.Int32("max_conns", poolCfg.MaxConns),
	)

	return &GameStore{db: pool, query: selectGameResultPostgres, close: pool.Close, logger: logger}, nil
}

func openSQLiteStore(ctx context.Context, dsn string, maxConns int32, logger *zap.Logger) (*GameStore, error) {
	if dsn == "" {
		return nil, errors.New("empty sqlite database path")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(int(maxConns))
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to game results database",
		zap.String("driver", string(DriverSQLite)),
		zap.String("path", dsn),
		zap.Int32("max_conns", maxConns),
	)

	return &GameStore{
		db:     sqlQuerier{db: db},
		query:  selectGameResultSQLite,
		close:  func() { _ = db.Close() },
		logger: logger,
	}, nil
}

// NewGameStore builds a store on top of an existing Postgres connection or pool
func NewGameStore(db rowQuerier, logger *zap.Logger) *GameStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GameStore{db: db, query: selectGameResultPostgres, logger: logger}
}

// NewSQLiteGameStore builds a store on top of an open SQLite handle. The caller keeps
// ownership of db.
func NewSQLiteGameStore(db *sql.DB, logger *zap.Logger) *GameStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GameStore{db: sqlQuerier{db: db}, query: selectGameResultSQLite, logger: logger}
}

// Game loads a game result by id
func (s *GameStore) Game(ctx context.Context, id int64) (*GameResult, error) {
	var g GameResult
	err := s.db.QueryRow(ctx, s.query, id).Scan(
		&g.ID,
		&g.UserID,
		&g.BotID,
		&g.MazeID,
		&g.StepsTaken,
		&g.ScorePercentage,
		&g.Completed,
		&g.GameDataPath,
		&timestamp{dst: &g.PlayedAt},
	)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrGameNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query game %d: %w", id, err)
	}
	return &g, nil
}

// ReplayPath returns where the recorded payload of a game is stored
func (s *GameStore) ReplayPath(ctx context.Context, id int64) (string, error) {
	g, err := s.Game(ctx, id)
	if err != nil {
		return "", err
	}
	if g.GameDataPath == "" {
		return "", fmt.Errorf("%w: game %d has no recorded replay", ErrGameNotFound, id)
	}
	return g.GameDataPath, nil
}

// Close releases the connection when the store owns one
func (s *GameStore) Close() {
	if s.close != nil {
		s.close()
	}
}

// SQLite keeps CURRENT_TIMESTAMP columns as text, Postgres hands over a time.Time
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
}

// timestamp scans played_at from either driver
type timestamp struct {
	dst *time.Time
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t.dst = time.Time{}
		return nil
	case time.Time:
		*t.dst = v
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case int64:
		*t.dst = time.Unix(v, 0).UTC()
		return nil
	default:
		return fmt.Errorf("unsupported timestamp value %T", src)
	}
}

func (t *timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t.dst = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
