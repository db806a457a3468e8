package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"draftline/internal/cache"
	"draftline/internal/config"
	"draftline/internal/db"
	"draftline/internal/engine"
	"draftline/internal/logging"
	"draftline/internal/migrate"
)

// Options select the workspace and how strictly its config is required.
type Options struct {
	Workspace string
	// RequireConfig fails when draftline.yml is missing instead of using
	// defaults.
	RequireConfig bool
	// LogLevel overrides log.level from the config when set.
	LogLevel  string
	LogWriter io.Writer
}

// App is an opened workspace: config, logger, migrated database and an
// engine wired to them.
type App struct {
	Workspace string
	Config    *config.Config
	Log       zerolog.Logger
	DB        *sql.DB
	Engine    engine.Engine
	redis     *redis.Client
}

// LoadEnv loads <workspace>/.env into the process environment. Variables
// already set win. A missing file is not an error.
func LoadEnv(workspace string) error {
	err := godotenv.Load(filepath.Join(workspace, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Open loads the workspace and builds the engine. When cache.redis_url is set
// commit log reads go through the redis cache.
func Open(ctx context.Context, opts Options) (*App, error) {
	if err := LoadEnv(opts.Workspace); err != nil {
		return nil, err
	}
	load := config.LoadOptional
	if opts.RequireConfig {
		load = config.Load
	}
	cfg, err := load(opts.Workspace)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	log, err := logging.New(cfg.Log, opts.LogWriter)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	a := &App{
		Workspace: opts.Workspace,
		Config:    cfg,
		Log:       log,
		DB:        conn,
		Engine:    engine.New(conn, cfg, log),
	}
	if cfg.Cache.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.Cache.RedisURL)
		if err != nil {
			conn.Close()
			return nil, err
		}
		a.redis = client
		ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
		a.Engine = a.Engine.WithCommitStore(cache.NewCommits(client, a.Engine.Repo, ttl, log))
		log.Debug().Dur("ttl", ttl).Msg("commit cache enabled")
	}
	return a, nil
}

// Close releases the database and the redis client.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}

// Init creates the workspace and writes a default draftline.yml. An existing
// config is left alone unless force is set.
func Init(workspace string, force bool) (string, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return "", err
	}
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		return "", err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return "", err
	}
	return path, nil
}
