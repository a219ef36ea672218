// Package app assembles a workspace: its config, database and engine. The
// CLI and the HTTP server both start from Open.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"bountyline/internal/archive"
	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/engine"
	"bountyline/internal/logging"
	"bountyline/internal/metrics"
	"bountyline/internal/migrate"
)

type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/bountyline.yml.
	ConfigPath string
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Workspace is an opened workspace. Close releases the database and, when
// opened, the archive.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine

	archive *archive.Store
}

// LoadConfig resolves the workspace config. A missing bountyline.yml yields
// the defaults, with the workspace directory name as project id.
func LoadConfig(workspace, configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.FromFile(configPath)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	return config.Default(projectName(workspace)), nil
}

func projectName(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "bountyline"
	}
	return filepath.Base(abs)
}

// Open loads config, opens and migrates the database and wires the engine.
func Open(opts Options) (*Workspace, error) {
	cfg, err := LoadConfig(opts.Workspace, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	e.Log = opts.Logger
	if e.Log == nil {
		e.Log = logging.Discard()
	}
	e.Metrics = opts.Metrics
	return &Workspace{Dir: opts.Workspace, DB: conn, Config: cfg, Engine: e}, nil
}

// Archive opens the bbolt archive on first use.
func (w *Workspace) Archive() (*archive.Store, error) {
	if w.archive != nil {
		return w.archive, nil
	}
	store, err := archive.Open(w.Config.ArchivePath(w.Dir))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	w.archive = store
	return store, nil
}

func (w *Workspace) Close() error {
	var errs []error
	if w.archive != nil {
		errs = append(errs, w.archive.Close())
	}
	errs = append(errs, w.DB.Close())
	return errors.Join(errs...)
}
